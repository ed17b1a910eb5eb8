package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"
)

// Parameter property tags the router cares about.
const (
	propLogarithmic = "logarithmic"
	propEnumeration = "enumeration"
)

// ScalePoint is one labelled value of an enumerated parameter.
type ScalePoint struct {
	Value float64 `json:"value"`
	Label string  `json:"label"`
}

// ParameterDescriptor describes one control input port of an effect definition.
// Descriptors are immutable once loaded.
type ParameterDescriptor struct {
	Name        string
	ShortName   string
	Symbol      string
	Index       int
	Minimum     float64
	Maximum     float64
	Default     float64
	HasDefault  bool
	Unit        string
	Properties  []string
	ScalePoints []ScalePoint
}

// Has reports whether the descriptor carries the property tag.
func (p *ParameterDescriptor) Has(prop string) bool {
	return slices.Contains(p.Properties, prop)
}

// Logarithmic reports whether rotations move the value on a log2 scale.
func (p *ParameterDescriptor) Logarithmic() bool { return p.Has(propLogarithmic) }

// Enumeration reports whether rotations step through ScalePoints.
func (p *ParameterDescriptor) Enumeration() bool { return p.Has(propEnumeration) }

// Clamp limits v to [Minimum, Maximum]. NaN maps to Minimum.
func (p *ParameterDescriptor) Clamp(v float64) float64 {
	if math.IsNaN(v) || v < p.Minimum {
		return p.Minimum
	}
	if v > p.Maximum {
		return p.Maximum
	}
	return v
}

// DisplayName prefers the short name.
func (p *ParameterDescriptor) DisplayName() string {
	if p.ShortName != "" {
		return p.ShortName
	}
	if p.Name != "" {
		return p.Name
	}
	return p.Symbol
}

// EffectDefinition is the static description of an effect (a plugin uri).
type EffectDefinition struct {
	URI   string
	Label string
	// Parameters are sorted by port index.
	Parameters []ParameterDescriptor
}

// Parameter looks up a descriptor by symbol.
func (d *EffectDefinition) Parameter(symbol string) (*ParameterDescriptor, bool) {
	if d == nil {
		return nil, false
	}
	for i := range d.Parameters {
		if d.Parameters[i].Symbol == symbol {
			return &d.Parameters[i], true
		}
	}
	return nil, false
}

// Symbols returns the parameter symbols in natural control order.
func (d *EffectDefinition) Symbols() []string {
	out := make([]string, 0, len(d.Parameters))
	for _, p := range d.Parameters {
		out = append(out, p.Symbol)
	}
	return out
}

// DefinitionLookup resolves an effect uri to its definition.
type DefinitionLookup interface {
	Definition(uri string) (*EffectDefinition, bool)
}

// definitionCache is a DefinitionLookup owned by the daemon loop.
type definitionCache struct {
	defs map[string]*EffectDefinition
}

func newDefinitionCache() *definitionCache {
	return &definitionCache{defs: make(map[string]*EffectDefinition)}
}

func (c *definitionCache) Definition(uri string) (*EffectDefinition, bool) {
	d, ok := c.defs[uri]
	return d, ok
}

func (c *definitionCache) Put(def *EffectDefinition) {
	if def == nil || def.URI == "" {
		return
	}
	c.defs[def.URI] = def
}

// ============================================================================
// Host REST definitions
// ============================================================================

// modPort mirrors a control port in the host's effect JSON.
type modPort struct {
	Name      string `json:"name"`
	ShortName string `json:"shortName"`
	Symbol    string `json:"symbol"`
	Index     int    `json:"index"`
	Ranges    *struct {
		Minimum *float64 `json:"minimum"`
		Maximum *float64 `json:"maximum"`
		Default *float64 `json:"default"`
	} `json:"ranges"`
	Units *struct {
		Symbol string `json:"symbol"`
	} `json:"units"`
	Properties  []string     `json:"properties"`
	ScalePoints []ScalePoint `json:"scalePoints"`
}

type modEffect struct {
	URI   string `json:"uri"`
	Label string `json:"label"`
	Name  string `json:"name"`
	Ports *struct {
		Control *struct {
			Input []modPort `json:"input"`
		} `json:"control"`
	} `json:"ports"`
}

// ParseEffectDefinition converts the host's effect JSON into an EffectDefinition.
// Control inputs are sorted by port index.
func ParseEffectDefinition(uri string, data []byte) (*EffectDefinition, error) {
	var raw modEffect
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode effect definition: %w", err)
	}

	def := &EffectDefinition{URI: uri, Label: raw.Label}
	if def.URI == "" {
		def.URI = raw.URI
	}
	if def.Label == "" {
		def.Label = raw.Name
	}

	if raw.Ports != nil && raw.Ports.Control != nil {
		for _, p := range raw.Ports.Control.Input {
			if p.Symbol == "" {
				continue
			}
			pd := ParameterDescriptor{
				Name:        p.Name,
				ShortName:   p.ShortName,
				Symbol:      p.Symbol,
				Index:       p.Index,
				Properties:  p.Properties,
				ScalePoints: p.ScalePoints,
				Minimum:     0,
				Maximum:     1,
			}
			if p.Ranges != nil {
				if p.Ranges.Minimum != nil {
					pd.Minimum = *p.Ranges.Minimum
				}
				if p.Ranges.Maximum != nil {
					pd.Maximum = *p.Ranges.Maximum
				}
				if p.Ranges.Default != nil {
					pd.Default = *p.Ranges.Default
					pd.HasDefault = true
				}
			}
			if p.Units != nil {
				pd.Unit = p.Units.Symbol
			}
			def.Parameters = append(def.Parameters, pd)
		}
	}

	slices.SortStableFunc(def.Parameters, func(a, b ParameterDescriptor) int {
		return a.Index - b.Index
	})
	return def, nil
}

// httpDefinitionSource fetches effect definitions from the host REST API.
type httpDefinitionSource struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

func newHTTPDefinitionSource(baseURL string, timeout time.Duration, logger *slog.Logger) *httpDefinitionSource {
	return &httpDefinitionSource{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

// Fetch performs GET {base}/effect/get?uri=<uri>.
func (s *httpDefinitionSource) Fetch(ctx context.Context, uri string) (*EffectDefinition, error) {
	endpoint := s.baseURL + "/effect/get?uri=" + url.QueryEscape(uri)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("get effect %s: %w", uri, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get effect %s: unexpected status %s", uri, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("read effect %s: %w", uri, err)
	}

	def, err := ParseEffectDefinition(uri, body)
	if err != nil {
		return nil, err
	}
	s.logger.Debug("effect definition loaded", "uri", uri, "label", def.Label, "parameters", len(def.Parameters))
	return def, nil
}

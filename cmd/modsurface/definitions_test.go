package main

import (
	"context"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const reverbJSON = `{
  "uri": "http://calf.sourceforge.net/plugins/Reverb",
  "label": "Reverb",
  "name": "Calf Reverb",
  "ports": {
    "control": {
      "input": [
        {"index": 4, "name": "Wet Amount", "shortName": "Wet", "symbol": "amount",
         "ranges": {"minimum": 0, "maximum": 2, "default": 0.25}, "properties": ["logarithmic"],
         "units": {"symbol": "dB"}},
        {"index": 2, "name": "Room size", "symbol": "room_size",
         "ranges": {"minimum": 0, "maximum": 5, "default": 2}, "properties": ["enumeration", "integer"],
         "scalePoints": [{"value": 0, "label": "Small"}, {"value": 1, "label": "Medium"}]},
        {"index": 3, "name": "Decay time", "symbol": "decay_time",
         "ranges": {"minimum": 0.4, "maximum": 15}},
        {"index": 5, "name": "no ranges", "symbol": "bypass"}
      ]
    }
  }
}`

func TestParseEffectDefinition(t *testing.T) {
	def, err := ParseEffectDefinition("http://calf.sourceforge.net/plugins/Reverb", []byte(reverbJSON))
	require.NoError(t, err)

	assert.Equal(t, "Reverb", def.Label)
	assert.Equal(t, []string{"room_size", "decay_time", "amount", "bypass"}, def.Symbols())

	amount, ok := def.Parameter("amount")
	require.True(t, ok)
	assert.Equal(t, "Wet", amount.DisplayName())
	assert.True(t, amount.Logarithmic())
	assert.False(t, amount.Enumeration())
	assert.Equal(t, "dB", amount.Unit)
	assert.True(t, amount.HasDefault)
	assert.Equal(t, 0.25, amount.Default)

	room, _ := def.Parameter("room_size")
	assert.True(t, room.Enumeration())
	assert.Equal(t, []ScalePoint{{Value: 0, Label: "Small"}, {Value: 1, Label: "Medium"}}, room.ScalePoints)

	decay, _ := def.Parameter("decay_time")
	assert.False(t, decay.HasDefault)
	assert.Equal(t, "Decay time", decay.DisplayName())

	bypass, _ := def.Parameter("bypass")
	assert.Equal(t, 0.0, bypass.Minimum)
	assert.Equal(t, 1.0, bypass.Maximum)

	_, ok = def.Parameter("missing")
	assert.False(t, ok)
}

func TestParseEffectDefinition_Invalid(t *testing.T) {
	_, err := ParseEffectDefinition("urn:x", []byte(`{"ports":`))
	assert.Error(t, err)

	def, err := ParseEffectDefinition("urn:x", []byte(`{"name": "Bare"}`))
	require.NoError(t, err)
	assert.Equal(t, "Bare", def.Label)
	assert.Empty(t, def.Parameters)
}

func TestParameterDescriptor_Clamp(t *testing.T) {
	p := ParameterDescriptor{Minimum: -1, Maximum: 1}
	assert.Equal(t, -1.0, p.Clamp(-3))
	assert.Equal(t, 1.0, p.Clamp(3))
	assert.Equal(t, 0.5, p.Clamp(0.5))
	assert.Equal(t, -1.0, p.Clamp(math.NaN()))
	assert.Equal(t, 1.0, p.Clamp(math.Inf(1)))
}

func TestDefinitionCache(t *testing.T) {
	c := newDefinitionCache()
	c.Put(nil)
	c.Put(&EffectDefinition{})
	_, ok := c.Definition("")
	assert.False(t, ok)

	c.Put(&EffectDefinition{URI: "urn:a"})
	_, ok = c.Definition("urn:a")
	assert.True(t, ok)
}

func TestHTTPDefinitionSource_Fetch(t *testing.T) {
	var gotURI string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/effect/get" {
			http.NotFound(w, r)
			return
		}
		gotURI = r.URL.Query().Get("uri")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(reverbJSON))
	}))
	defer srv.Close()

	src := newHTTPDefinitionSource(srv.URL+"/", time.Second, discardLogger())
	def, err := src.Fetch(context.Background(), "http://calf.sourceforge.net/plugins/Reverb")
	require.NoError(t, err)

	assert.Equal(t, "http://calf.sourceforge.net/plugins/Reverb", gotURI)
	assert.Equal(t, "http://calf.sourceforge.net/plugins/Reverb", def.URI)
	assert.Len(t, def.Parameters, 4)
}

func TestHTTPDefinitionSource_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such effect", http.StatusNotFound)
	}))
	defer srv.Close()

	src := newHTTPDefinitionSource(srv.URL, time.Second, discardLogger())
	_, err := src.Fetch(context.Background(), "urn:nope")
	assert.ErrorContains(t, err, "404")
}

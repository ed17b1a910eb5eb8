package main

// ============================================================================
// Display views
// ============================================================================
// The surface decides which logical view a display shows and with what data.
// Layout is up to the sink (console, websocket clients, an OLED driver).
// ============================================================================

// ValueView is the per-slot value display.
type ValueView struct {
	Slot    int `json:"slot"`
	Logical int `json:"logical"`

	EffectID    string `json:"effect_id,omitempty"`
	EffectLabel string `json:"effect_label,omitempty"`

	// Assigned is false when the slot maps to nothing.
	Assigned bool    `json:"assigned"`
	Symbol   string  `json:"symbol,omitempty"`
	Name     string  `json:"name,omitempty"`
	Unit     string  `json:"unit,omitempty"`
	Value    float64 `json:"value"`
	Known    bool    `json:"known"` // false until the host reported a value or we set one
	Minimum  float64 `json:"minimum"`
	Maximum  float64 `json:"maximum"`
	// Label is the scale point label for enumerated parameters.
	Label string `json:"label,omitempty"`
}

// MenuEntry is one candidate in an edit-menu or overview list.
type MenuEntry struct {
	ID    string `json:"id"` // parameter symbol or effect id; "" for unassigned
	Label string `json:"label"`
}

// ListPage is one page of a longer list with the current entry marked.
type ListPage struct {
	Entries []MenuEntry `json:"entries"`
	// Marked is the index within Entries, or -1.
	Marked   int `json:"marked"`
	Page     int `json:"page"`
	Pages    int `json:"pages"`
	PageSize int `json:"page_size"`
}

// pageList cuts items into pages of size and returns the page holding marked.
func pageList(items []MenuEntry, marked, size int) ListPage {
	if size <= 0 {
		size = defaultOverviewPageSize
	}
	pages := (len(items) + size - 1) / size
	if pages == 0 {
		pages = 1
	}
	page := 0
	if marked >= 0 && marked < len(items) {
		page = marked / size
	}
	start := page * size
	end := min(start+size, len(items))

	lp := ListPage{
		Entries:  append([]MenuEntry(nil), items[start:end]...),
		Marked:   -1,
		Page:     page,
		Pages:    pages,
		PageSize: size,
	}
	if marked >= start && marked < end {
		lp.Marked = marked - start
	}
	return lp
}

// EditMenuView lists the mapping candidates for a slot in Edit mode.
type EditMenuView struct {
	Slot    int      `json:"slot"`
	Logical int      `json:"logical"`
	Current string   `json:"current"` // symbol currently chosen, "" is unassigned
	List    ListPage `json:"list"`
}

// OverviewView lists the live effects with the selected one marked.
type OverviewView struct {
	SelectedID string   `json:"selected_id,omitempty"`
	Bank       int      `json:"bank"`
	Banks      int      `json:"banks"`
	Settled    bool     `json:"settled"`
	List       ListPage `json:"list"`
}

// DisplaySink receives refresh requests from the surface. Calls happen on the
// daemon loop and must not block.
type DisplaySink interface {
	ShowValue(v ValueView)
	ShowEditMenu(v EditMenuView)
	ShowOverview(v OverviewView)
}

// multiDisplay fans out to several sinks.
type multiDisplay []DisplaySink

func (m multiDisplay) ShowValue(v ValueView) {
	for _, d := range m {
		d.ShowValue(v)
	}
}

func (m multiDisplay) ShowEditMenu(v EditMenuView) {
	for _, d := range m {
		d.ShowEditMenu(v)
	}
}

func (m multiDisplay) ShowOverview(v OverviewView) {
	for _, d := range m {
		d.ShowOverview(v)
	}
}

// nopDisplay discards everything.
type nopDisplay struct{}

func (nopDisplay) ShowValue(ValueView)       {}
func (nopDisplay) ShowEditMenu(EditMenuView) {}
func (nopDisplay) ShowOverview(OverviewView) {}

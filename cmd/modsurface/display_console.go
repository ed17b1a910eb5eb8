package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	editBoxStyle = boxStyle.BorderForeground(lipgloss.Color("#d70"))
	titleStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#888"))
	markStyle    = lipgloss.NewStyle().Reverse(true)
)

// consoleDisplay renders views as boxes on a writer, one box per refresh.
// It is called from the daemon loop only.
type consoleDisplay struct {
	w io.Writer
}

func newConsoleDisplay(w io.Writer) *consoleDisplay {
	return &consoleDisplay{w: w}
}

func (c *consoleDisplay) ShowValue(v ValueView)       { c.write(renderValue(v)) }
func (c *consoleDisplay) ShowEditMenu(v EditMenuView) { c.write(renderEditMenu(v)) }
func (c *consoleDisplay) ShowOverview(v OverviewView) { c.write(renderOverview(v)) }

func (c *consoleDisplay) write(s string) {
	_, _ = io.WriteString(c.w, s+"\n")
}

func renderValue(v ValueView) string {
	title := titleStyle.Render(fmt.Sprintf("slot %d", v.Slot))
	if v.EffectLabel != "" {
		title += dimStyle.Render(" " + v.EffectLabel)
	}

	var body string
	switch {
	case !v.Assigned:
		body = dimStyle.Render("-")
	default:
		body = v.Name + "  " + formatViewValue(v)
	}
	return boxStyle.Render(title + "\n" + body)
}

func formatViewValue(v ValueView) string {
	if !v.Known {
		return "?"
	}
	if v.Label != "" {
		return v.Label
	}
	s := strconv.FormatFloat(v.Value, 'f', 2, 64)
	if v.Unit != "" {
		s += " " + v.Unit
	}
	return s
}

func renderList(lp ListPage) string {
	lines := make([]string, 0, len(lp.Entries)+1)
	for i, e := range lp.Entries {
		if i == lp.Marked {
			lines = append(lines, markStyle.Render("* "+e.Label))
			continue
		}
		lines = append(lines, "  "+e.Label)
	}
	if lp.Pages > 1 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("%d/%d", lp.Page+1, lp.Pages)))
	}
	return strings.Join(lines, "\n")
}

func renderEditMenu(v EditMenuView) string {
	title := titleStyle.Render(fmt.Sprintf("slot %d edit", v.Slot))
	return editBoxStyle.Render(title + "\n" + renderList(v.List))
}

func renderOverview(v OverviewView) string {
	title := titleStyle.Render("effects")
	if v.Banks > 1 {
		title += dimStyle.Render(fmt.Sprintf(" bank %d/%d", v.Bank+1, v.Banks))
	}
	if !v.Settled {
		title += dimStyle.Render(" (loading)")
	}
	body := renderList(v.List)
	if len(v.List.Entries) == 0 {
		body = dimStyle.Render("no effects")
	}
	return boxStyle.Render(title + "\n" + body)
}

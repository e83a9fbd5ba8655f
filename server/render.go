package main

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	quadrantStyle = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1)
	headingStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
	mutedStyle    = lipgloss.NewStyle().Faint(true)
	doneStyle     = lipgloss.NewStyle().Faint(true).Strikethrough(true)
)

// quadrantGrid is the on-screen arrangement: urgency grows upwards, impact to the right.
var quadrantGrid = [2][2]Quadrant{
	{HighUrgencyLowImpact, HighUrgencyHighImpact},
	{LowUrgencyLowImpact, LowUrgencyHighImpact},
}

func quadrantTitle(q Quadrant) string {
	parts := strings.Split(string(q), "-")
	return fmt.Sprintf("%s %s / %s %s", parts[0], parts[1], parts[2], parts[3])
}

func itemLine(it TodoItem) string {
	return fmt.Sprintf("%3d  %s", it.Number, it.Text)
}

// RenderMatrix draws the list as a 2x2 grid followed by the unplaced and completed
// items. width is the total width of the grid.
func RenderMatrix(l List, items []TodoItem, width int) string {
	if width < 40 {
		width = 40
	}
	cell := width/2 - 2

	byQuadrant := map[Quadrant][]TodoItem{}
	var unplaced, completed []TodoItem
	for _, it := range items {
		switch {
		case it.Completed:
			completed = append(completed, it)
		case !it.Placed():
			unplaced = append(unplaced, it)
		default:
			byQuadrant[it.Position.Quadrant] = append(byQuadrant[it.Position.Quadrant], it)
		}
	}
	byNumber := func(s []TodoItem) {
		sort.Slice(s, func(i, j int) bool { return s[i].Number < s[j].Number })
	}

	var rows []string
	for _, row := range quadrantGrid {
		var cells []string
		for _, q := range row {
			its := byQuadrant[q]
			byNumber(its)
			lines := []string{headingStyle.Render(quadrantTitle(q))}
			if len(its) == 0 {
				lines = append(lines, mutedStyle.Render("(empty)"))
			}
			for _, it := range its {
				lines = append(lines, itemLine(it))
			}
			cells = append(cells, quadrantStyle.Width(cell).Render(strings.Join(lines, "\n")))
		}
		rows = append(rows, lipgloss.JoinHorizontal(lipgloss.Top, cells...))
	}

	out := []string{
		titleStyle.Render(fmt.Sprintf("List %s", l.ListID)),
		mutedStyle.Render(fmt.Sprintf("↑ %s   → %s", l.YAxisLabel, l.XAxisLabel)),
		lipgloss.JoinVertical(lipgloss.Left, rows...),
	}
	if len(unplaced) > 0 {
		byNumber(unplaced)
		out = append(out, headingStyle.Render("Unplaced"))
		for _, it := range unplaced {
			out = append(out, itemLine(it))
		}
	}
	if len(completed) > 0 {
		out = append(out, headingStyle.Render("Completed"))
		for _, it := range completed {
			out = append(out, doneStyle.Render(itemLine(it)))
		}
	}
	return strings.Join(out, "\n")
}

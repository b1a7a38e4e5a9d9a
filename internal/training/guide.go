package training

import (
	"fmt"
	"math"

	"logistics/api/internal/store"
)

const (
	labelNext   = "Next Step"
	labelFinish = "Finish Training"
	// FinalReminder is shown on the last step of the guide.
	FinalReminder = "Remember: Dispatch is complete only after OMS and physical packing fully match!"
)

// Guide walks a step list one page at a time. The zero value is an empty
// guide.
type Guide struct {
	cursor int
	total  int
}

func NewGuide(total int) Guide {
	return GuideAt(0, total)
}

// GuideAt restores a guide at cursor, clamped into the step range.
func GuideAt(cursor, total int) Guide {
	g := Guide{cursor: cursor, total: max(total, 0)}
	g.clamp()
	return g
}

func (g *Guide) clamp() {
	if g.total == 0 || g.cursor < 0 {
		g.cursor = 0
		return
	}
	if g.cursor > g.total-1 {
		g.cursor = g.total - 1
	}
}

func (g Guide) Cursor() int { return g.cursor }

func (g Guide) Total() int { return g.total }

// Next advances one step. It stays on the last step.
func (g *Guide) Next() {
	if g.cursor < g.total-1 {
		g.cursor++
	}
}

// Prev goes back one step. It stays on the first step.
func (g *Guide) Prev() {
	if g.cursor > 0 {
		g.cursor--
	}
}

// Resize adapts the guide to a changed step list.
func (g *Guide) Resize(total int) {
	g.total = max(total, 0)
	g.clamp()
}

func (g Guide) IsFirst() bool { return g.cursor == 0 }

func (g Guide) IsLast() bool { return g.total > 0 && g.cursor == g.total-1 }

// Progress is the completion percentage including the current step.
func (g Guide) Progress() int {
	if g.total == 0 {
		return 0
	}
	return int(math.Round(float64(g.cursor+1) / float64(g.total) * 100))
}

func (g Guide) ActionLabel() string {
	if g.IsLast() {
		return labelFinish
	}
	return labelNext
}

func (g Guide) Position() string {
	if g.total == 0 {
		return "Step 0 of 0"
	}
	return fmt.Sprintf("Step %d of %d", g.cursor+1, g.total)
}

func (g Guide) Reminder() string {
	if g.IsLast() {
		return FinalReminder
	}
	return ""
}

// Page is the rendered state of the guide for one step.
type Page struct {
	Step        *store.SOPStep `json:"step"`
	Cursor      int            `json:"cursor"`
	Total       int            `json:"total"`
	Position    string         `json:"position"`
	Progress    int            `json:"progress"`
	ActionLabel string         `json:"actionLabel"`
	CanGoBack   bool           `json:"canGoBack"`
	IsLast      bool           `json:"isLast"`
	Reminder    string         `json:"reminder,omitempty"`
}

// Page renders the guide over steps, resizing it first.
func (g *Guide) Page(steps []store.SOPStep) Page {
	g.Resize(len(steps))
	page := Page{
		Cursor:      g.cursor,
		Total:       g.total,
		Position:    g.Position(),
		Progress:    g.Progress(),
		ActionLabel: g.ActionLabel(),
		CanGoBack:   !g.IsFirst(),
		IsLast:      g.IsLast(),
		Reminder:    g.Reminder(),
	}
	if g.total > 0 {
		step := steps[g.cursor].Clone()
		page.Step = &step
	}
	return page
}

// Package training implements SOP authoring and the step-by-step guide.
package training

import (
	"context"
	"errors"

	"logistics/api/internal/store"
)

var ErrStepNotFound = errors.New("sop step not found")

// previewPoints is how many instructions a grid cell shows.
const previewPoints = 2

// Steps is the part of the sync controller the grid needs.
type Steps interface {
	SOPSteps() []store.SOPStep
	CommitSOPSteps(ctx context.Context, steps []store.SOPStep) error
}

// Cell is one card of the authoring grid.
type Cell struct {
	ID        int      `json:"id"`
	Title     string   `json:"title"`
	Preview   []string `json:"preview"`
	MoreCount int      `json:"moreCount"`
	Image     string   `json:"image,omitempty"`
}

type Grid struct {
	steps Steps
}

func NewGrid(steps Steps) *Grid {
	return &Grid{steps: steps}
}

// Cells returns one cell per step in collection order.
func (g *Grid) Cells() []Cell {
	steps := g.steps.SOPSteps()
	cells := make([]Cell, 0, len(steps))
	for _, step := range steps {
		cells = append(cells, CellFor(step))
	}
	return cells
}

func CellFor(step store.SOPStep) Cell {
	n := min(len(step.Points), previewPoints)
	preview := make([]string, n)
	copy(preview, step.Points[:n])
	return Cell{
		ID:        step.ID,
		Title:     step.Title,
		Preview:   preview,
		MoreCount: len(step.Points) - n,
		Image:     step.Image,
	}
}

// SetImage replaces the image of one step. An empty image clears it.
func (g *Grid) SetImage(ctx context.Context, stepID int, image string) error {
	steps := g.steps.SOPSteps()
	idx := -1
	for i := range steps {
		if steps[i].ID == stepID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return ErrStepNotFound
	}
	steps[idx].Image = image
	return g.steps.CommitSOPSteps(ctx, steps)
}

package export

import (
	"context"
	"fmt"
	"time"

	"logistics/api/internal/store"
	"logistics/api/internal/training"
)

const guideTitle = "Dispatch SOP Training Guide"

// StepSource provides the current SOP collection.
type StepSource interface {
	SOPSteps() []store.SOPStep
}

// Service provides guide export functionality
type Service struct {
	steps StepSource
	now   func() time.Time
	pdf   func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates a new export service
func NewService(steps StepSource) *Service {
	return &Service{steps: steps, now: time.Now, pdf: printGuidePDF}
}

// Export renders the current guide in the requested format
func (s *Service) Export(ctx context.Context, format Format) (*Result, error) {
	steps := s.steps.SOPSteps()
	data := TemplateData{
		Title:       guideTitle,
		GeneratedAt: s.now(),
		Steps:       make([]TemplateStep, 0, len(steps)),
	}
	for _, step := range steps {
		data.Steps = append(data.Steps, TemplateStep{
			ID:     step.ID,
			Title:  step.Title,
			Points: step.Points,
			Image:  imageURL(step.Image),
		})
	}
	if len(steps) > 0 {
		data.Reminder = training.FinalReminder
	}

	html, err := RenderGuideHTML(data)
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	switch format {
	case FormatHTML:
		return &Result{
			Data:     []byte(html),
			Filename: guideFilename(guideTitle, "html"),
			MimeType: "text/html; charset=utf-8",
		}, nil
	case FormatPDF:
		return s.pdf(ctx, html, guideTitle)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
}

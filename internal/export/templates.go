package export

import (
	"bytes"
	"embed"
	"html/template"
	"time"

	"logistics/api/internal/util"
)

//go:embed templates/*.html
var templateFS embed.FS

var guideTemplate = template.Must(
	template.New("sop.html").Funcs(template.FuncMap{
		"formatDate": func(t time.Time, layout string) string {
			return t.Format(layout)
		},
	}).ParseFS(templateFS, "templates/sop.html"),
)

// TemplateData holds data for guide template rendering
type TemplateData struct {
	Title       string
	GeneratedAt time.Time
	Steps       []TemplateStep
	Reminder    string
}

// TemplateStep holds one SOP step for the template. Image is only set for
// well-formed data URLs.
type TemplateStep struct {
	ID     int
	Title  string
	Points []string
	Image  template.URL
}

// imageURL lets a stored data URL through the template's URL filter.
func imageURL(value string) template.URL {
	if util.CheckDataURL(value) != nil {
		return ""
	}
	return template.URL(value)
}

// RenderGuideHTML renders the guide template with provided data
func RenderGuideHTML(data TemplateData) (string, error) {
	var buf bytes.Buffer
	if err := guideTemplate.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

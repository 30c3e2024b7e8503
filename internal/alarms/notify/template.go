package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[{{.Label}}] {{.Code}} on {{.Device}}
{{- if .Message }}
{{.Message}}{{ end }}
{{- if .Value }}
Value: {{.Value}}{{ end }}
{{- if .Position }}
Position: {{.Position}}{{ end }}
Time: {{.Time}}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	Label    string
	Event    string
	Kind     string
	Code     string
	Device   string
	DeviceID string
	Message  string
	Value    string
	Position string
	Time     string
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a notification template, falling back to DefaultTemplate.
func NewTemplate(tpl string) (*Template, error) {
	if tpl == "" {
		tpl = DefaultTemplate
	}
	parsed, err := template.New("alert-notification").Parse(tpl)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("alert template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

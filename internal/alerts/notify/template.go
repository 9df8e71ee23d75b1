package notify

import (
	"bytes"
	"errors"
	"text/template"
)

const DefaultTemplate = `[Alert {{.EventLabel}}] {{.Title}}
Route: {{.Route}}
Agent: {{.Agent}}
Condition: {{.Condition}}
Metric Value: {{.MetricValue}}
Threshold: {{.Threshold}}
First Seen: {{.FirstSeen}}
Current Status: {{.Status}}
Priority: {{.Priority}}
{{ if .Description }}Detail: {{.Description}}
{{ end }}Suggestion: {{.Suggestion}}
{{ if .DashboardURL }}
Dashboard: {{.DashboardURL}}
{{ end }}`

// TemplateData provides fields for rendering notification content.
type TemplateData struct {
	AlertID      string
	Title        string
	Route        string
	Agent        string
	Condition    string
	Fingerprint  string
	MetricValue  string
	Threshold    string
	FirstSeen    string
	Status       string
	Priority     string
	Description  string
	Suggestion   string
	DashboardURL string
	Event        string
	EventLabel   string
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

package application

import (
	"bytes"
	"errors"
	"strconv"
	"text/template"
	"time"

	incidents "safety-cloud/internal/incidents/domain"
)

// TemplateData provides fields for rendering notification bodies.
type TemplateData struct {
	IncidentID string
	StreamKey  string
	Type       string
	Level      string
	Reason     string
	StartTime  string
}

func templateDataFor(incident incidents.Incident, class incidents.Classification) TemplateData {
	return TemplateData{
		IncidentID: strconv.FormatInt(incident.ID, 10),
		StreamKey:  incident.StreamKey,
		Type:       string(incident.Type),
		Level:      class.Level.String(),
		Reason:     class.Reason,
		StartTime:  incident.StartAt.UTC().Format(time.RFC3339),
	}
}

// Template renders notification content.
type Template struct {
	tpl *template.Template
}

// NewTemplate parses a content body. Plain text bodies render unchanged.
func NewTemplate(body string) (*Template, error) {
	parsed, err := template.New("notification-body").Option("missingkey=zero").Parse(body)
	if err != nil {
		return nil, err
	}
	return &Template{tpl: parsed}, nil
}

// Render applies the template to data.
func (t *Template) Render(data TemplateData) (string, error) {
	if t == nil || t.tpl == nil {
		return "", errors.New("notification template: nil")
	}
	var buf bytes.Buffer
	if err := t.tpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

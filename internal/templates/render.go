// Package templates renders notification templates against alert views.
package templates

import (
	"bytes"
	"errors"
	"fmt"
	htmltemplate "html/template"
	"strconv"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/good-yellow-bee/blazealert/internal/models"
)

const defaultTimeFormat = "2006-01-02 15:04:05 MST"

// Rendered is the channel content produced for one delivery.
type Rendered struct {
	Subject string
	Body    string
	HTML    string
	// Fallback is true when the default subject/body were used.
	Fallback bool
	// Err records why a template could not be used. It is never fatal.
	Err error
}

// RenderError describes a template that could not be rendered.
type RenderError struct {
	Template string
	Part     string
	Err      error
}

func (e *RenderError) Error() string {
	return fmt.Sprintf("render template %s (%s): %v", e.Template, e.Part, e.Err)
}

func (e *RenderError) Unwrap() error { return e.Err }

// Renderer renders templates. It has no state besides its logger and is
// safe for concurrent use.
type Renderer struct {
	logger zerolog.Logger
}

// NewRenderer creates a renderer.
func NewRenderer(logger zerolog.Logger) *Renderer {
	return &Renderer{logger: logger}
}

// Fallback returns the default content for an alert view.
func Fallback(view View) Rendered {
	return Rendered{
		Subject:  "Alert: " + view.Alert.Title,
		Body:     view.Alert.Message,
		Fallback: true,
	}
}

// Render renders tmpl against view. A nil template, a missing declared
// variable or any execution error yields the fallback content.
func (r *Renderer) Render(tmpl *models.NotificationTemplate, view View) Rendered {
	if tmpl == nil {
		return Fallback(view)
	}

	view = view.withDefaults(tmpl.Defaults)
	out, err := r.render(tmpl, view)
	if err != nil {
		r.logger.Warn().Err(err).
			Str("template", tmpl.Name).
			Str("alert_id", view.Alert.ID).
			Msg("template render failed, using fallback content")
		fb := Fallback(view)
		fb.Err = err
		return fb
	}
	return out
}

func (r *Renderer) render(tmpl *models.NotificationTemplate, view View) (Rendered, error) {
	for _, name := range tmpl.Variables {
		if _, ok := view.lookup(name); !ok {
			return Rendered{}, &RenderError{Template: tmpl.Name, Part: "variables", Err: fmt.Errorf("missing variable %q", name)}
		}
	}

	funcs := helpers(tmpl)

	subject, err := execText(tmpl.Name+".subject", tmpl.Subject, funcs, view)
	if err != nil {
		return Rendered{}, &RenderError{Template: tmpl.Name, Part: "subject", Err: err}
	}
	body, err := execText(tmpl.Name+".body", tmpl.Body, funcs, view)
	if err != nil {
		return Rendered{}, &RenderError{Template: tmpl.Name, Part: "body", Err: err}
	}

	var html string
	if tmpl.HTML != "" {
		html, err = execHTML(tmpl.Name+".html", tmpl.HTML, funcs, view)
		if err != nil {
			return Rendered{}, &RenderError{Template: tmpl.Name, Part: "html", Err: err}
		}
	}

	return Rendered{Subject: strings.TrimSpace(subject), Body: body, HTML: html}, nil
}

// ErrInvalidTemplate is wrapped by Validate failures.
var ErrInvalidTemplate = errors.New("invalid notification template")

// Validate parses every part of tmpl without executing it.
func Validate(tmpl *models.NotificationTemplate) error {
	funcs := helpers(tmpl)
	if _, err := texttemplate.New("subject").Funcs(funcs).Parse(tmpl.Subject); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, &RenderError{Template: tmpl.Name, Part: "subject", Err: err})
	}
	if _, err := texttemplate.New("body").Funcs(funcs).Parse(tmpl.Body); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTemplate, &RenderError{Template: tmpl.Name, Part: "body", Err: err})
	}
	if tmpl.HTML != "" {
		if _, err := htmltemplate.New("html").Funcs(htmltemplate.FuncMap(funcs)).Parse(tmpl.HTML); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidTemplate, &RenderError{Template: tmpl.Name, Part: "html", Err: err})
		}
	}
	return nil
}

func execText(name, src string, funcs texttemplate.FuncMap, view View) (string, error) {
	t, err := texttemplate.New(name).Funcs(funcs).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func execHTML(name, src string, funcs texttemplate.FuncMap, view View) (string, error) {
	t, err := htmltemplate.New(name).Funcs(htmltemplate.FuncMap(funcs)).Option("missingkey=error").Parse(src)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, view); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func helpers(tmpl *models.NotificationTemplate) texttemplate.FuncMap {
	tag := language.English
	if tmpl.Locale != "" {
		if parsed, err := language.Parse(tmpl.Locale); err == nil {
			tag = parsed
		}
	}
	printer := message.NewPrinter(tag)

	layout := tmpl.TimeFormat
	if layout == "" {
		layout = defaultTimeFormat
	}
	loc := time.UTC
	if tmpl.Timezone != "" {
		if l, err := time.LoadLocation(tmpl.Timezone); err == nil {
			loc = l
		}
	}

	return texttemplate.FuncMap{
		"upper": strings.ToUpper,
		"lower": strings.ToLower,
		"number": func(v any) string {
			if s, ok := v.(string); ok {
				if n, err := strconv.ParseInt(s, 10, 64); err == nil {
					v = n
				} else if f, err := strconv.ParseFloat(s, 64); err == nil {
					v = f
				} else {
					return s
				}
			}
			return printer.Sprint(number.Decimal(v))
		},
		"datetime": func(t time.Time) string {
			return t.In(loc).Format(layout)
		},
		"severity_color": func(s string) string {
			return SeverityColor(models.ParseSeverity(s))
		},
	}
}

// SeverityColor returns the display color for a severity level.
func SeverityColor(severity models.Severity) string {
	switch severity {
	case models.SeverityEmergency:
		return "#880e4f" // purple
	case models.SeverityCritical:
		return "#d32f2f" // red
	case models.SeverityHigh:
		return "#f57c00" // orange
	case models.SeverityMedium:
		return "#fbc02d" // yellow
	case models.SeverityLow:
		return "#388e3c" // green
	default:
		return "#757575" // gray
	}
}

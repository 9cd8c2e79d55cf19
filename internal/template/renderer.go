// Package template renders campaign subject and body templates with
// per-recipient context using the Liquid template language.
package template

import (
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer renders Liquid templates with caching. Missing variables render
// as empty strings (lax mode) so a sparse recipient profile never blocks a
// production send.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // source -> *liquid.Template
}

// Rendered is a fully rendered message
type Rendered struct {
	Subject string
	Body    string
}

func NewRenderer() *Renderer {
	engine := liquid.NewEngine()

	// Default value filter: {{ first_name | default: "there" }}
	engine.RegisterFilter("default", func(value any, defaultVal string) any {
		if value == nil {
			return defaultVal
		}
		s := fmt.Sprintf("%v", value)
		if s == "" || s == "<nil>" {
			return defaultVal
		}
		return value
	})

	// Capitalize first letter: {{ name | capitalize }}
	engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + s[1:]
	})

	return &Renderer{engine: engine}
}

// Render substitutes the context into subject and body
func (r *Renderer) Render(subject, body string, context map[string]any) (*Rendered, error) {
	renderedSubject, err := r.renderOne(subject, context)
	if err != nil {
		return nil, fmt.Errorf("failed to render subject: %w", err)
	}

	renderedBody, err := r.renderOne(body, context)
	if err != nil {
		return nil, fmt.Errorf("failed to render body: %w", err)
	}

	return &Rendered{Subject: renderedSubject, Body: renderedBody}, nil
}

func (r *Renderer) renderOne(source string, context map[string]any) (string, error) {
	var tpl *liquid.Template

	if cached, ok := r.cache.Load(source); ok {
		tpl = cached.(*liquid.Template)
	} else {
		parsed, err := r.engine.ParseString(source)
		if err != nil {
			return "", fmt.Errorf("parse template: %w", err)
		}
		r.cache.Store(source, parsed)
		tpl = parsed
	}

	out, err := tpl.RenderString(context)
	if err != nil {
		return "", fmt.Errorf("render template: %w", err)
	}
	return out, nil
}

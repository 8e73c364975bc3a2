// Package render turns a template snapshot and a contact's variables into
// the final message content using the Liquid template language.
package render

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/osteele/liquid"

	appErrors "github.com/unclebandit/crces-dispatch/internal/errors"
	"github.com/unclebandit/crces-dispatch/internal/model"
)

// placeholderRe matches {{ name }} and {{ name | filter }}.
var placeholderRe = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_.]*?)(?:\s*\||\s*\}\})`)

// Renderer is safe for concurrent use. Parsed templates are cached by source.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

func New() *Renderer {
	return &Renderer{engine: liquid.NewEngine()}
}

// Render checks the declared required variables, then renders subject and
// body. The same snapshot and variables always give the same content.
func (r *Renderer) Render(tpl model.TemplateSnapshot, vars map[string]string) (model.RenderedContent, error) {
	for _, name := range tpl.RequiredVariables {
		if v, ok := vars[name]; !ok || strings.TrimSpace(v) == "" {
			return model.RenderedContent{}, &appErrors.MissingVariableError{Name: name}
		}
	}

	bindings := make(map[string]any, len(vars))
	for k, v := range vars {
		bindings[k] = v
	}

	body, err := r.render(tpl.Body, bindings)
	if err != nil {
		return model.RenderedContent{}, fmt.Errorf("render body: %w", err)
	}
	out := model.RenderedContent{Body: body}
	if tpl.Subject != "" {
		subject, err := r.render(tpl.Subject, bindings)
		if err != nil {
			return model.RenderedContent{}, fmt.Errorf("render subject: %w", err)
		}
		out.Subject = subject
	}
	return out, nil
}

func (r *Renderer) render(source string, bindings map[string]any) (string, error) {
	tpl, err := r.parse(source)
	if err != nil {
		return "", err
	}
	out, serr := tpl.RenderString(bindings)
	if serr != nil {
		return "", serr
	}
	return out, nil
}

func (r *Renderer) parse(source string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(source); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, serr := r.engine.ParseString(source)
	if serr != nil {
		return nil, serr
	}
	r.cache.Store(source, tpl)
	return tpl, nil
}

// Validate reports Liquid syntax errors in source.
func (r *Renderer) Validate(source string) error {
	if _, err := r.parse(source); err != nil {
		return appErrors.NewValidation("body", err.Error())
	}
	return nil
}

// Placeholders lists the variables referenced by source, in first-use order.
func Placeholders(source string) []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range placeholderRe.FindAllStringSubmatch(source, -1) {
		name := m[1]
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	return out
}

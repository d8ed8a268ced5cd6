package render

import (
	"fmt"
	"strings"
	"sync"
	"text/template"

	"github.com/kursadbilgin/workflow-engine/internal/domain"
)

// Renderer compiles and renders step content templates. Compiled templates are
// cached by body so repeated jobs of the same step skip re-parsing.
type Renderer struct {
	mu    sync.RWMutex
	cache map[string]*template.Template
}

func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*template.Template)}
}

// Context is the variable set a content template renders against.
type Context struct {
	Subscriber *domain.Subscriber
	// Payloads holds the trigger payload; digest jobs carry one entry per
	// contributing trigger.
	Payloads []map[string]any
}

// Render executes the step content template against the merged subscriber and
// payload context. For digest jobs the last payload wins on variable lookup
// and the full list is exposed as .digest.
func (r *Renderer) Render(body string, renderCtx Context) (string, error) {
	tmpl, err := r.compile(body)
	if err != nil {
		return "", err
	}

	data := map[string]any{
		"subscriber": subscriberData(renderCtx.Subscriber),
		"payload":    mergedPayload(renderCtx.Payloads),
		"digest":     renderCtx.Payloads,
	}

	var out strings.Builder
	if err := tmpl.Execute(&out, data); err != nil {
		return "", fmt.Errorf("%w: render failed: %v", domain.ErrInvalidPayload, err)
	}
	return out.String(), nil
}

func (r *Renderer) compile(body string) (*template.Template, error) {
	r.mu.RLock()
	tmpl, ok := r.cache[body]
	r.mu.RUnlock()
	if ok {
		return tmpl, nil
	}

	parsed, err := template.New("content").Option("missingkey=error").Parse(body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse content template: %v", domain.ErrValidation, err)
	}

	r.mu.Lock()
	r.cache[body] = parsed
	r.mu.Unlock()
	return parsed, nil
}

func subscriberData(subscriber *domain.Subscriber) map[string]any {
	if subscriber == nil {
		return map[string]any{}
	}
	data := map[string]any{
		"id":        subscriber.ID,
		"firstName": subscriber.FirstName,
		"lastName":  subscriber.LastName,
		"email":     subscriber.Email,
		"phone":     subscriber.Phone,
	}
	for key, value := range subscriber.Attributes {
		data[key] = value
	}
	return data
}

func mergedPayload(payloads []map[string]any) map[string]any {
	merged := make(map[string]any)
	for _, payload := range payloads {
		for key, value := range payload {
			merged[key] = value
		}
	}
	return merged
}

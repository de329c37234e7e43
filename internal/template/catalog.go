// Package template holds the fixed message-template catalog and its
// renderer. Templates are loaded once at construction and never
// mutated at runtime.
package template

import (
	"errors"
	"fmt"
	"strings"

	"notifyd/internal/domain"
)

var ErrTemplateNotFound = errors.New("template not found")

// MissingVariableError reports a placeholder the caller did not supply.
type MissingVariableError struct {
	TemplateID string
	Variable   string
}

func (e *MissingVariableError) Error() string {
	return fmt.Sprintf("template %s: missing variable %q", e.TemplateID, e.Variable)
}

// Template is one catalog entry. Body contains {{name}} placeholders;
// Variables lists every placeholder that must be supplied. TargetRole
// scopes the default audience ("" means everyone).
type Template struct {
	ID         string
	Name       string
	Title      string
	Body       string
	Variables  []string
	TargetRole domain.Role
}

// Rendered is the channel-agnostic output of Render.
type Rendered struct {
	TemplateID string
	Title      string
	Body       string
	Variables  map[string]string
}

// Catalog is an immutable template registry.
type Catalog struct {
	byID map[string]Template
}

func NewCatalog(tmpls []Template) *Catalog {
	m := make(map[string]Template, len(tmpls))
	for _, t := range tmpls {
		m[t.ID] = t
	}
	return &Catalog{byID: m}
}

// Default returns the built-in catalog used in production. One entry
// per business event type.
func Default() *Catalog {
	return NewCatalog([]Template{
		{
			ID:        "request_created",
			Name:      "new request",
			Title:     "새 요청: {{partName}}",
			Body:      "{{requesterName}}님이 {{partName}} 요청을 등록했습니다.\n중요도: {{importance}}\n등록일: {{requestDate}}\n{{actionUrl}}",
			Variables: []string{"requesterName", "partName", "importance", "requestDate", "actionUrl"},
		},
		{
			ID:        "urgent_request",
			Name:      "urgent request",
			Title:     "[긴급] {{partName}}",
			Body:      "긴급 요청입니다: {{partName}} ({{requesterName}})\n즉시 확인이 필요합니다.\n{{actionUrl}}",
			Variables: []string{"requesterName", "partName", "actionUrl"},
		},
		{
			ID:        "status_changed",
			Name:      "status change",
			Title:     "상태 변경: {{partName}}",
			Body:      "{{partName}} 요청 상태가 {{oldStatus}}에서 {{newStatus}}(으)로 변경되었습니다.\n{{actionUrl}}",
			Variables: []string{"partName", "oldStatus", "newStatus", "actionUrl"},
		},
		{
			ID:        "overdue_warning",
			Name:      "overdue warning",
			Title:     "지연 경고: {{partName}}",
			Body:      "{{partName}} 요청이 {{daysOverdue}}일 지연되었습니다.\n담당: {{assignee}}\n{{actionUrl}}",
			Variables: []string{"partName", "daysOverdue", "assignee", "actionUrl"},
		},
		{
			ID:        "system_message",
			Name:      "system message",
			Title:     "{{subject}}",
			Body:      "{{message}}",
			Variables: []string{"subject", "message"},
		},
	})
}

// Get returns the template by ID.
func (c *Catalog) Get(id string) (Template, error) {
	t, ok := c.byID[id]
	if !ok {
		return Template{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, id)
	}
	return t, nil
}

// Render substitutes every occurrence of each declared placeholder.
// It fails if a declared variable was not supplied; extra supplied
// variables are ignored. Matching is exact-name and case-sensitive.
func (c *Catalog) Render(id string, vars map[string]string) (Rendered, error) {
	t, err := c.Get(id)
	if err != nil {
		return Rendered{}, err
	}

	title := t.Title
	body := t.Body
	for _, name := range t.Variables {
		v, ok := vars[name]
		if !ok {
			return Rendered{}, &MissingVariableError{TemplateID: id, Variable: name}
		}
		ph := "{{" + name + "}}"
		title = strings.ReplaceAll(title, ph, v)
		body = strings.ReplaceAll(body, ph, v)
	}

	// Keep only the variables the template declares; the attempt record
	// stores exactly what was rendered.
	used := make(map[string]string, len(t.Variables))
	for _, name := range t.Variables {
		used[name] = vars[name]
	}

	return Rendered{TemplateID: id, Title: title, Body: body, Variables: used}, nil
}

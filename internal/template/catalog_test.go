package template

import (
	"errors"
	"strings"
	"testing"
)

func TestRenderSubstitutesEveryOccurrence(t *testing.T) {
	t.Parallel()
	c := NewCatalog([]Template{{
		ID:        "t1",
		Title:     "{{part}}",
		Body:      "{{part}} and again {{part}}, by {{who}}",
		Variables: []string{"part", "who"},
	}})

	got, err := c.Render("t1", map[string]string{"part": "bearing", "who": "kim"})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if got.Title != "bearing" {
		t.Fatalf("Title = %q", got.Title)
	}
	if got.Body != "bearing and again bearing, by kim" {
		t.Fatalf("Body = %q", got.Body)
	}
}

func TestRenderMissingVariable(t *testing.T) {
	t.Parallel()
	c := Default()

	_, err := c.Render("request_created", map[string]string{
		"requesterName": "kim",
		"partName":      "bearing",
		// importance, requestDate, actionUrl missing
	})
	if err == nil {
		t.Fatal("expected error for missing variable")
	}
	var mv *MissingVariableError
	if !errors.As(err, &mv) {
		t.Fatalf("expected MissingVariableError, got %T: %v", err, err)
	}
	if mv.TemplateID != "request_created" {
		t.Fatalf("TemplateID = %s", mv.TemplateID)
	}
}

func TestRenderIgnoresExtraVariables(t *testing.T) {
	t.Parallel()
	c := Default()

	got, err := c.Render("system_message", map[string]string{
		"subject": "maintenance",
		"message": "tonight 22:00",
		"extra":   "unused",
	})
	if err != nil {
		t.Fatalf("Render error: %v", err)
	}
	if got.Title != "maintenance" || got.Body != "tonight 22:00" {
		t.Fatalf("unexpected render: %q / %q", got.Title, got.Body)
	}
	if _, ok := got.Variables["extra"]; ok {
		t.Fatal("undeclared variable leaked into stored variables")
	}
}

func TestRenderUnknownTemplate(t *testing.T) {
	t.Parallel()
	_, err := Default().Render("nope", nil)
	if !errors.Is(err, ErrTemplateNotFound) {
		t.Fatalf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestDefaultCatalogCoversEveryEvent(t *testing.T) {
	t.Parallel()
	c := Default()
	for _, id := range []string{"request_created", "urgent_request", "status_changed", "overdue_warning", "system_message"} {
		tmpl, err := c.Get(id)
		if err != nil {
			t.Fatalf("Get(%s): %v", id, err)
		}
		for _, v := range tmpl.Variables {
			ph := "{{" + v + "}}"
			if !strings.Contains(tmpl.Title+tmpl.Body, ph) {
				t.Fatalf("template %s declares %s but never uses it", id, v)
			}
		}
	}
}

package template

import (
	"strings"
	"testing"
)

func TestRender(t *testing.T) {
	r := NewRenderer()

	got, err := r.Render(
		"{{ first_name }}, about the {{ role }} position",
		"<p>Hi {{ first_name }},</p><p>We think you'd be a great fit for {{ role }} at {{ company }}.</p>",
		map[string]any{
			"first_name": "Jane",
			"role":       "Backend Engineer",
			"company":    "Acme",
		},
	)
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Jane, about the Backend Engineer position" {
		t.Errorf("Subject = %q", got.Subject)
	}
	if !strings.Contains(got.Body, "great fit for Backend Engineer at Acme") {
		t.Errorf("Body = %q", got.Body)
	}
}

func TestRenderMissingVariableIsEmpty(t *testing.T) {
	r := NewRenderer()

	got, err := r.Render("Hello {{ nickname }}", "<p>Hi {{ nickname }}</p>", map[string]any{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Hello " {
		t.Errorf("Subject = %q, want missing var rendered empty", got.Subject)
	}
}

func TestRenderDefaultFilter(t *testing.T) {
	r := NewRenderer()

	got, err := r.Render(`Hi {{ first_name | default: "there" }}`, "body", map[string]any{})
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if got.Subject != "Hi there" {
		t.Errorf("Subject = %q, want %q", got.Subject, "Hi there")
	}
}

func TestRenderInvalidTemplate(t *testing.T) {
	r := NewRenderer()

	if _, err := r.Render("{% broken", "body", nil); err == nil {
		t.Error("Render() expected error for invalid template")
	}
}

func TestRenderCaching(t *testing.T) {
	r := NewRenderer()

	for i := 0; i < 3; i++ {
		got, err := r.Render("{{ n }}", "{{ n }}", map[string]any{"n": i})
		if err != nil {
			t.Fatalf("Render() error = %v", err)
		}
		if got.Subject == "" {
			t.Error("expected rendered output")
		}
	}
}

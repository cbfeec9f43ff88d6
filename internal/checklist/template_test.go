package checklist

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

func TestDefaultTemplatesLoad(t *testing.T) {
	reg := DefaultTemplates()
	names := reg.Names()
	if len(names) < 2 {
		t.Fatalf("expected several embedded templates, got %v", names)
	}
	tpl, ok := reg.Get("default")
	if !ok || len(tpl.Items) == 0 {
		t.Fatal("default template missing or empty")
	}
}

func TestResolve(t *testing.T) {
	reg := DefaultTemplates()

	tpl, err := reg.Resolve("", "Property")
	if err != nil || tpl.Name != "property" {
		t.Errorf("expected property template by line of business, got %q (%v)", tpl.Name, err)
	}

	tpl, err = reg.Resolve("", "Aviation")
	if err != nil || tpl.Name != DefaultTemplateName {
		t.Errorf("expected default fallback, got %q (%v)", tpl.Name, err)
	}

	tpl, err = reg.Resolve("No Checklist", "Property")
	if err != nil || tpl.Name != "no_checklist" {
		t.Errorf("explicit template must win, got %q (%v)", tpl.Name, err)
	}

	if _, err := reg.Resolve("does-not-exist", ""); !errors.Is(err, errors.ErrCodeNotFound) {
		t.Errorf("expected NotFound for unknown explicit template, got %v", err)
	}
}

func TestParseTemplatesValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"empty", "templates: {}", "no templates"},
		{"no default", "templates:\n  x:\n    items: []\n", "default"},
		{"bad section", "templates:\n  default:\n    items:\n      - document: A\n        section: LEGAL\n", "invalid section"},
		{"missing document", "templates:\n  default:\n    items:\n      - section: FINANCE\n", "no document name"},
		{"bad yaml", "templates: [", "parse templates"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseTemplates([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTemplatesFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "templates.yaml")
	content := `
templates:
  default:
    items:
      - document: Only slip
        section: OPERATIONS
        required: true
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	reg, err := LoadTemplates(path)
	if err != nil {
		t.Fatalf("LoadTemplates: %v", err)
	}
	tpl, _ := reg.Get("default")
	if len(tpl.Items) != 1 || tpl.Items[0].Document != "Only slip" {
		t.Errorf("unexpected template %+v", tpl)
	}

	if _, err := LoadTemplates(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

package checklist

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/pesio-ai/be-re-case-workflow/internal/errors"
)

// DefaultTemplateName is used when neither an explicit template nor the line of
// business matches a known template.
const DefaultTemplateName = "default"

//go:embed templates.yaml
var defaultTemplatesYAML []byte

// TemplateItem declares one document slot.
type TemplateItem struct {
	Document string  `yaml:"document"`
	Section  Section `yaml:"section"`
	Required bool    `yaml:"required"`
}

// Template is a named, ordered list of document slots.
type Template struct {
	Name        string         `yaml:"-"`
	Description string         `yaml:"description"`
	Items       []TemplateItem `yaml:"items"`
}

type templateFile struct {
	Templates map[string]Template `yaml:"templates"`
}

// Templates is an immutable registry of checklist templates.
type Templates struct {
	byName map[string]Template
}

// DefaultTemplates returns the embedded template set.
func DefaultTemplates() *Templates {
	t, err := ParseTemplates(defaultTemplatesYAML)
	if err != nil {
		panic(fmt.Sprintf("checklist: embedded templates are invalid: %v", err))
	}
	return t
}

// LoadTemplates reads templates from path, or returns the embedded set when path is empty.
func LoadTemplates(path string) (*Templates, error) {
	if path == "" {
		return DefaultTemplates(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("checklist: read templates %s: %w", path, err)
	}
	return ParseTemplates(data)
}

// ParseTemplates decodes and validates a YAML template document.
func ParseTemplates(data []byte) (*Templates, error) {
	var f templateFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("checklist: parse templates: %w", err)
	}
	if len(f.Templates) == 0 {
		return nil, fmt.Errorf("checklist: no templates defined")
	}

	reg := &Templates{byName: make(map[string]Template, len(f.Templates))}
	for name, tpl := range f.Templates {
		key := normalizeName(name)
		if key == "" {
			return nil, fmt.Errorf("checklist: template with empty name")
		}
		for i, item := range tpl.Items {
			if strings.TrimSpace(item.Document) == "" {
				return nil, fmt.Errorf("checklist: template %q item %d has no document name", name, i+1)
			}
			if !item.Section.Valid() {
				return nil, fmt.Errorf("checklist: template %q item %q has invalid section %q", name, item.Document, item.Section)
			}
		}
		tpl.Name = key
		reg.byName[key] = tpl
	}
	if _, ok := reg.byName[DefaultTemplateName]; !ok {
		return nil, fmt.Errorf("checklist: a %q template is required", DefaultTemplateName)
	}
	return reg, nil
}

// Get returns a template by exact (normalised) name.
func (t *Templates) Get(name string) (Template, bool) {
	tpl, ok := t.byName[normalizeName(name)]
	return tpl, ok
}

// Resolve picks the template for a new case. An explicit name that does not
// exist is an error; the line of business silently falls back to the default.
func (t *Templates) Resolve(explicit, lineOfBusiness string) (Template, error) {
	if explicit != "" {
		tpl, ok := t.Get(explicit)
		if !ok {
			return Template{}, errors.NotFound("checklist template", explicit)
		}
		return tpl, nil
	}
	if tpl, ok := t.Get(lineOfBusiness); ok {
		return tpl, nil
	}
	return t.byName[DefaultTemplateName], nil
}

// Names lists template names in sorted order.
func (t *Templates) Names() []string {
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// NewCase instantiates a case from a template. Every item starts with no files.
func NewCase(id string, tpl Template, attrs Attributes, createdBy string, now time.Time, newID func() string) *Case {
	c := &Case{
		ID:                       id,
		Attributes:               attrs,
		TemplateName:             tpl.Name,
		OperationsApprovalStatus: ApprovalPending,
		Items:                    make([]*ChecklistItem, 0, len(tpl.Items)),
		Version:                  1,
		CreatedBy:                createdBy,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	for i, ti := range tpl.Items {
		c.Items = append(c.Items, &ChecklistItem{
			ID:           newID(),
			CaseID:       id,
			DocumentName: ti.Document,
			Section:      ti.Section,
			Position:     i + 1,
			IsRequired:   ti.Required,
			Files:        []*ChecklistFile{},
		})
	}
	c.Recompute()
	return c
}

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "_", "-", "_").Replace(s)
}

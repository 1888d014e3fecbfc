package notification

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// placeholderRe matches {{name}} placeholders. Anything not matching this
// shape is ignored by both validation and rendering and passes through
// verbatim.
var placeholderRe = regexp.MustCompile(`\{\{(\w+)\}\}`)

// TemplateRepository is the storage surface the template service needs.
type TemplateRepository interface {
	CreateTemplate(ctx context.Context, t *Template) error
	UpdateTemplate(ctx context.Context, t *Template) error
	DeleteTemplate(ctx context.Context, id string) error
	GetTemplateByKey(ctx context.Context, key string) (*Template, error)
	GetTemplateByID(ctx context.Context, id string) (*Template, error)
}

// TemplateInput is the payload for creating a template.
type TemplateInput struct {
	Key             string    `json:"key"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	Category        Category  `json:"category"`
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Variables       []string  `json:"variables"`
	DefaultChannels []Channel `json:"default_channels,omitempty"`
	DefaultPriority Priority  `json:"default_priority,omitempty"`
	IsActive        *bool     `json:"is_active,omitempty"`
}

// TemplateUpdate is a partial update; nil fields keep the stored value.
type TemplateUpdate struct {
	Name            *string    `json:"name,omitempty"`
	Description     *string    `json:"description,omitempty"`
	Category        *Category  `json:"category,omitempty"`
	Title           *string    `json:"title,omitempty"`
	Message         *string    `json:"message,omitempty"`
	Variables       *[]string  `json:"variables,omitempty"`
	DefaultChannels *[]Channel `json:"default_channels,omitempty"`
	DefaultPriority *Priority  `json:"default_priority,omitempty"`
	IsActive        *bool      `json:"is_active,omitempty"`
}

// TemplateService handles template CRUD and rendering.
type TemplateService struct {
	repo TemplateRepository
}

func NewTemplateService(repo TemplateRepository) *TemplateService {
	return &TemplateService{repo: repo}
}

// Create validates and stores a new template at version 1.
func (s *TemplateService) Create(ctx context.Context, in TemplateInput) (*Template, error) {
	if in.Key == "" {
		return nil, ValidationError("key", "key is required")
	}
	if !in.Category.Valid() {
		return nil, ValidationError("category", "unknown category %q", in.Category)
	}
	if in.DefaultPriority == "" {
		in.DefaultPriority = PriorityNormal
	}
	if !in.DefaultPriority.Valid() {
		return nil, ValidationError("default_priority", "unknown priority %q", in.DefaultPriority)
	}
	for _, c := range in.DefaultChannels {
		if !c.Valid() {
			return nil, ValidationError("default_channels", "unknown channel %q", c)
		}
	}
	if err := checkPlaceholders(in.Title, in.Message, in.Variables); err != nil {
		return nil, err
	}

	active := true
	if in.IsActive != nil {
		active = *in.IsActive
	}
	t := &Template{
		Key:             in.Key,
		Name:            in.Name,
		Description:     in.Description,
		Category:        in.Category,
		Title:           in.Title,
		Message:         in.Message,
		Variables:       in.Variables,
		DefaultChannels: in.DefaultChannels,
		DefaultPriority: in.DefaultPriority,
		IsActive:        active,
	}
	if err := s.repo.CreateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Update applies a partial update. Changing title, message or variables
// increments the version; updating other fields leaves it alone.
func (s *TemplateService) Update(ctx context.Context, id string, update TemplateUpdate) (*Template, error) {
	t, err := s.repo.GetTemplateByID(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged := false
	if update.Name != nil {
		t.Name = *update.Name
	}
	if update.Description != nil {
		t.Description = *update.Description
	}
	if update.Category != nil {
		if !update.Category.Valid() {
			return nil, ValidationError("category", "unknown category %q", *update.Category)
		}
		t.Category = *update.Category
	}
	if update.Title != nil && *update.Title != t.Title {
		t.Title = *update.Title
		contentChanged = true
	}
	if update.Message != nil && *update.Message != t.Message {
		t.Message = *update.Message
		contentChanged = true
	}
	if update.Variables != nil && !sameStrings(*update.Variables, t.Variables) {
		t.Variables = *update.Variables
		contentChanged = true
	}
	if update.DefaultChannels != nil {
		for _, c := range *update.DefaultChannels {
			if !c.Valid() {
				return nil, ValidationError("default_channels", "unknown channel %q", c)
			}
		}
		t.DefaultChannels = *update.DefaultChannels
	}
	if update.DefaultPriority != nil {
		if !update.DefaultPriority.Valid() {
			return nil, ValidationError("default_priority", "unknown priority %q", *update.DefaultPriority)
		}
		t.DefaultPriority = *update.DefaultPriority
	}
	if update.IsActive != nil {
		t.IsActive = *update.IsActive
	}

	if err := checkPlaceholders(t.Title, t.Message, t.Variables); err != nil {
		return nil, err
	}
	if contentChanged {
		t.Version++
	}

	if err := s.repo.UpdateTemplate(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Delete removes a template by ID.
func (s *TemplateService) Delete(ctx context.Context, id string) error {
	return s.repo.DeleteTemplate(ctx, id)
}

// FindByKey retrieves a template by its unique key.
func (s *TemplateService) FindByKey(ctx context.Context, key string) (*Template, error) {
	return s.repo.GetTemplateByKey(ctx, key)
}

// Render substitutes variables into the template identified by key. Every
// declared variable must be supplied; the error names the missing ones.
func (s *TemplateService) Render(ctx context.Context, key string, vars map[string]any) (*RenderedTemplate, error) {
	t, err := s.repo.GetTemplateByKey(ctx, key)
	if err != nil {
		return nil, err
	}
	return renderTemplate(t, vars)
}

func renderTemplate(t *Template, vars map[string]any) (*RenderedTemplate, error) {
	var missing []string
	for _, name := range t.Variables {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return nil, ValidationError("variables", "missing variables: %s", strings.Join(missing, ", "))
	}

	return &RenderedTemplate{
		Title:   substitute(t.Title, vars),
		Message: substitute(t.Message, vars),
		Version: t.Version,
	}, nil
}

// substitute replaces {{name}} with the string form of vars[name]. A nil
// value becomes the empty string; a placeholder whose name is not in vars
// is left verbatim so a partially configured template still renders
// something visible.
func substitute(text string, vars map[string]any) string {
	return placeholderRe.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderRe.FindStringSubmatch(match)[1]
		val, ok := vars[name]
		if !ok {
			return match
		}
		if val == nil {
			return ""
		}
		return fmt.Sprint(val)
	})
}

// checkPlaceholders rejects title/message placeholders absent from the
// declared variables list, naming the undeclared ones.
func checkPlaceholders(title, message string, variables []string) error {
	declared := make(map[string]bool, len(variables))
	for _, v := range variables {
		declared[v] = true
	}

	seen := make(map[string]bool)
	var undeclared []string
	for _, m := range placeholderRe.FindAllStringSubmatch(title+" "+message, -1) {
		name := m[1]
		if !declared[name] && !seen[name] {
			seen[name] = true
			undeclared = append(undeclared, name)
		}
	}
	if len(undeclared) > 0 {
		sort.Strings(undeclared)
		return ValidationError("variables", "undeclared placeholders: %s", strings.Join(undeclared, ", "))
	}
	return nil
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

package notification

import (
	"context"
	"strings"
	"testing"
)

func newTestTemplateService() (*TemplateService, *memTemplateRepo) {
	repo := newMemTemplateRepo()
	return NewTemplateService(repo), repo
}

func orderShippedInput() TemplateInput {
	return TemplateInput{
		Key:       "order_shipped",
		Name:      "Order shipped",
		Category:  CategoryOrder,
		Title:     "Order {{orderId}} shipped",
		Message:   "Your order {{orderId}} is on its way to {{city}}.",
		Variables: []string{"orderId", "city"},
	}
}

func TestTemplateCreate(t *testing.T) {
	svc, _ := newTestTemplateService()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, orderShippedInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if tpl.Version != 1 {
		t.Errorf("new template version = %d, want 1", tpl.Version)
	}
	if !tpl.IsActive {
		t.Error("new template should default to active")
	}
	if tpl.DefaultPriority != PriorityNormal {
		t.Errorf("default priority = %s, want NORMAL", tpl.DefaultPriority)
	}

	if _, err := svc.Create(ctx, orderShippedInput()); err != ErrDuplicateTemplateKey {
		t.Errorf("duplicate key error = %v, want ErrDuplicateTemplateKey", err)
	}
}

func TestTemplateCreateRejectsUndeclaredPlaceholder(t *testing.T) {
	svc, _ := newTestTemplateService()

	in := orderShippedInput()
	in.Message = "Order {{orderId}} for {{customerName}} shipped."

	_, err := svc.Create(context.Background(), in)
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "customerName") {
		t.Errorf("error should name the undeclared placeholder, got %q", err.Error())
	}
}

func TestTemplateUpdateVersioning(t *testing.T) {
	svc, _ := newTestTemplateService()
	ctx := context.Background()

	tpl, err := svc.Create(ctx, orderShippedInput())
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	// Metadata-only updates keep the version.
	name := "Order dispatched"
	inactive := false
	updated, err := svc.Update(ctx, tpl.ID, TemplateUpdate{Name: &name, IsActive: &inactive})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 1 {
		t.Errorf("version after metadata update = %d, want 1", updated.Version)
	}

	// Content change bumps it.
	msg := "Order {{orderId}} left the warehouse."
	vars := []string{"orderId"}
	updated, err = svc.Update(ctx, tpl.ID, TemplateUpdate{Message: &msg, Variables: &vars})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version after content update = %d, want 2", updated.Version)
	}

	// Writing identical content is not a change.
	updated, err = svc.Update(ctx, tpl.ID, TemplateUpdate{Message: &msg})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	if updated.Version != 2 {
		t.Errorf("version after no-op update = %d, want 2", updated.Version)
	}
}

func TestTemplateRender(t *testing.T) {
	svc, _ := newTestTemplateService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, orderShippedInput()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	rendered, err := svc.Render(ctx, "order_shipped", map[string]any{
		"orderId": 4211,
		"city":    "Lisbon",
	})
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if rendered.Title != "Order 4211 shipped" {
		t.Errorf("title = %q", rendered.Title)
	}
	if rendered.Message != "Your order 4211 is on its way to Lisbon." {
		t.Errorf("message = %q", rendered.Message)
	}
	if rendered.Version != 1 {
		t.Errorf("rendered version = %d, want 1", rendered.Version)
	}
}

func TestTemplateRenderMissingVariable(t *testing.T) {
	svc, _ := newTestTemplateService()
	ctx := context.Background()

	if _, err := svc.Create(ctx, orderShippedInput()); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	_, err := svc.Render(ctx, "order_shipped", map[string]any{"orderId": 1})
	if !IsValidation(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "city") {
		t.Errorf("error should name the missing variable, got %q", err.Error())
	}
}

func TestTemplateRenderUnknownKey(t *testing.T) {
	svc, _ := newTestTemplateService()
	if _, err := svc.Render(context.Background(), "nope", nil); err != ErrTemplateNotFound {
		t.Errorf("error = %v, want ErrTemplateNotFound", err)
	}
}

func TestSubstitute(t *testing.T) {
	tests := []struct {
		name string
		text string
		vars map[string]any
		want string
	}{
		{
			name: "nil value becomes empty",
			text: "Hello {{name}}!",
			vars: map[string]any{"name": nil},
			want: "Hello !",
		},
		{
			name: "unknown placeholder stays verbatim",
			text: "Hello {{name}}, code {{code}}",
			vars: map[string]any{"name": "Sam"},
			want: "Hello Sam, code {{code}}",
		},
		{
			name: "non-placeholder braces untouched",
			text: "literal {{ not a placeholder }} here",
			vars: map[string]any{"not": "x"},
			want: "literal {{ not a placeholder }} here",
		},
		{
			name: "numeric value",
			text: "{{count}} items",
			vars: map[string]any{"count": 3},
			want: "3 items",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := substitute(tt.text, tt.vars); got != tt.want {
				t.Errorf("substitute() = %q, want %q", got, tt.want)
			}
		})
	}
}

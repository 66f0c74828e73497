package api

import (
	"errors"
	"strings"
	"testing"
)

func validBody() map[string]any {
	return map[string]any{"title": "t", "content": "c", "author": "a", "password": "p"}
}

func TestValidateCreateTodoAccepts(t *testing.T) {
	req, err := ValidateCreateTodo(validBody())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if req != (CreateTodoRequest{Title: "t", Content: "c", Author: "a", Password: "p"}) {
		t.Fatalf("unexpected request: %#v", req)
	}
}

func TestValidateCreateTodoRules(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(map[string]any)
		wantField string
		wantRule  string
		wantMsg   string
	}{
		{
			name:      "missing",
			mutate:    func(b map[string]any) { delete(b, "author") },
			wantField: "author", wantRule: "required", wantMsg: `"author" is required`,
		},
		{
			name:      "wrong_type",
			mutate:    func(b map[string]any) { b["content"] = true },
			wantField: "content", wantRule: "string", wantMsg: `"content" must be a string`,
		},
		{
			name:      "null",
			mutate:    func(b map[string]any) { b["title"] = nil },
			wantField: "title", wantRule: "string", wantMsg: `"title" must be a string`,
		},
		{
			name:      "empty",
			mutate:    func(b map[string]any) { b["password"] = "" },
			wantField: "password", wantRule: "required", wantMsg: `"password" is not allowed to be empty`,
		},
		{
			name:      "too_long",
			mutate:    func(b map[string]any) { b["title"] = strings.Repeat("a", 51) },
			wantField: "title", wantRule: "max", wantMsg: `"title" length must be less than or equal to 50 characters long`,
		},
		{
			name: "schema_order",
			mutate: func(b map[string]any) {
				b["password"] = 1
				b["content"] = strings.Repeat("a", 60)
			},
			wantField: "content", wantRule: "max",
			wantMsg: `"content" length must be less than or equal to 50 characters long`,
		},
		{
			name: "unknown_after_known",
			mutate: func(b map[string]any) {
				b["zeta"] = 1
				b["alpha"] = 2
			},
			wantField: "alpha", wantRule: "unknown", wantMsg: `"alpha" is not allowed`,
		},
		{
			name: "known_before_unknown",
			mutate: func(b map[string]any) {
				b["extra"] = 1
				delete(b, "title")
			},
			wantField: "title", wantRule: "required", wantMsg: `"title" is required`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			body := validBody()
			tt.mutate(body)
			_, err := ValidateCreateTodo(body)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if verr.Field != tt.wantField || verr.Rule != tt.wantRule || verr.Message != tt.wantMsg {
				t.Fatalf("got %+v, want field=%s rule=%s msg=%s", verr, tt.wantField, tt.wantRule, tt.wantMsg)
			}
		})
	}
}

func TestValidateCreateTodoCountsRunes(t *testing.T) {
	body := validBody()
	body["title"] = strings.Repeat("할", 50)
	if _, err := ValidateCreateTodo(body); err != nil {
		t.Fatalf("expected 50 runes to pass, got %v", err)
	}
	body["title"] = strings.Repeat("할", 51)
	if _, err := ValidateCreateTodo(body); err == nil {
		t.Fatalf("expected 51 runes to fail")
	}
}

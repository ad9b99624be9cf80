package llm

import (
	"errors"
	"testing"
)

func TestSchema_Decode(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		wantErr bool
	}{
		{"valid", `{"ok":true}`, false},
		{"fenced", "```json\n{\"ok\":false}\n```", false},
		{"wrong type", `{"ok":"true"}`, true},
		{"missing field", `{}`, true},
		{"extra field", `{"ok":true,"note":"x"}`, true},
		{"trailing content", `{"ok":true} and more`, true},
		{"empty", `  `, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out flag
			err := flagSchema.Decode(tt.text, &out)
			if tt.wantErr {
				if !errors.Is(err, ErrSchemaViolation) {
					t.Errorf("expected schema violation, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSchema_CompileError(t *testing.T) {
	s := NewSchema("broken", `{"type": 12}`)
	if err := s.Compile(); err == nil {
		t.Fatal("expected compile error")
	}
	if err := s.Decode(`{}`, nil); err == nil || errors.Is(err, ErrSchemaViolation) {
		t.Errorf("compile errors are not violations, got %v", err)
	}
}

func TestStripCodeFence(t *testing.T) {
	tests := map[string]string{
		`{"a":1}`:              `{"a":1}`,
		"```\n{\"a\":1}\n```":  `{"a":1}`,
		"```json{\"a\":1}```":  `{"a":1}`,
		"  ```json\n[]\n```  ": `[]`,
	}
	for in, want := range tests {
		if got := StripCodeFence(in); got != want {
			t.Errorf("StripCodeFence(%q) = %q, want %q", in, got, want)
		}
	}
}

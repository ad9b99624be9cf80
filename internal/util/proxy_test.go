package util

import (
	"net/http"
	"testing"
)

func TestNewProxyFunc(t *testing.T) {
	proxy := NewProxyFunc("http://proxy.local:3128", "http://secure.local:3129", "localhost, .internal.example")

	tests := []struct {
		url  string
		want string
	}{
		{"http://api.example.com/v1", "http://proxy.local:3128"},
		{"https://api.example.com/v1", "http://secure.local:3129"},
		{"http://localhost:11434/api/generate", ""},
		{"https://kafka.internal.example:9093", ""},
		{"https://internal.example", ""},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, tt.url, nil)
			if err != nil {
				t.Fatal(err)
			}
			got, err := proxy(req)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if (got == nil && tt.want != "") || (got != nil && got.String() != tt.want) {
				t.Errorf("proxy(%s) = %v, want %q", tt.url, got, tt.want)
			}
		})
	}
}

package models

import (
	"testing"
	"time"
)

func TestConfidentialClientSecret(t *testing.T) {
	c, err := NewConfidentialClient("client-1", "s3cret", []string{"https://app.example.com/cb"}, time.Minute, time.Hour)
	if err != nil {
		t.Fatalf("NewConfidentialClient: %v", err)
	}

	if c.Public() {
		t.Error("confidential client reported as public")
	}
	if !c.AuthenticateSecret("s3cret") {
		t.Error("correct secret rejected")
	}
	if c.AuthenticateSecret("wrong") {
		t.Error("wrong secret accepted")
	}
	if c.SecretHash == "s3cret" {
		t.Error("secret stored in the clear")
	}
}

func TestPublicClientTrustsIdentifier(t *testing.T) {
	c := NewPublicClient("client-2", []string{"https://app.example.com/cb"}, 0, 0)

	if !c.Public() {
		t.Error("public client reported as confidential")
	}
	// Public clients carry no secret and authenticate on id alone.
	if !c.AuthenticateSecret("") {
		t.Error("public client rejected without secret")
	}
	if !c.AuthenticateSecret("anything") {
		t.Error("public client rejected with stray secret")
	}
}

func TestAllowsRedirectURI(t *testing.T) {
	c := NewPublicClient("client-3", []string{"https://app.example.com/cb", "https://app.example.com/alt"}, 0, 0)

	tests := []struct {
		uri  string
		want bool
	}{
		{"https://app.example.com/cb", true},
		{"https://app.example.com/alt", true},
		{"https://app.example.com/cb/", false},
		{"https://evil.example.com/cb", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := c.AllowsRedirectURI(tt.uri); got != tt.want {
			t.Errorf("AllowsRedirectURI(%q) = %v, want %v", tt.uri, got, tt.want)
		}
	}
}

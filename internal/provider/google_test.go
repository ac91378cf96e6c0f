package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestGoogle_LoginURL_ContainsRequiredParams(t *testing.T) {
	google := NewGoogle(GoogleConfig{
		ClientID:    "test-client-id",
		RedirectURL: "http://localhost:8080/auth/external/google/callback",
	})

	url := google.LoginURL("test-state-value")
	if url == "" {
		t.Fatal("expected non-empty URL")
	}

	tests := []struct {
		name     string
		contains string
	}{
		{"client_id", "client_id=test-client-id"},
		{"redirect_uri", "redirect_uri="},
		{"state", "state=test-state-value"},
		{"response_type", "response_type=code"},
		{"scope email", "email"},
		{"scope profile", "profile"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.Contains(url, tt.contains) {
				t.Errorf("URL should contain %q, got %q", tt.contains, url)
			}
		})
	}
}

func TestGoogle_Exchange_Success(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.FormValue("grant_type"); got != "authorization_code" {
			t.Errorf("grant_type = %q", got)
		}
		if got := r.FormValue("code"); got != "test-code" {
			t.Errorf("code = %q", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "test-access-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	userInfoServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Authorizationヘッダーの検証
		if got := r.Header.Get("Authorization"); got != "Bearer test-access-token" {
			t.Errorf("unexpected Authorization header: %q", got)
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]interface{}{
			"sub":   "google-sub-12345",
			"email": "user@gmail.com",
			"name":  "Google User",
		})
	}))
	defer userInfoServer.Close()

	google := NewGoogle(GoogleConfig{
		ClientID:     "test-client-id",
		ClientSecret: "test-secret",
		RedirectURL:  "http://localhost:8080/auth/external/google/callback",
		TokenURL:     tokenServer.URL,
		UserInfoURL:  userInfoServer.URL,
	})

	profile, err := google.Exchange(context.Background(), "test-code")
	if err != nil {
		t.Fatalf("Exchange returned error: %v", err)
	}
	if profile.ProviderUserID != "google-sub-12345" {
		t.Errorf("ProviderUserID = %q", profile.ProviderUserID)
	}
	if profile.Email != "user@gmail.com" {
		t.Errorf("Email = %q", profile.Email)
	}
	if profile.Name != "Google User" {
		t.Errorf("Name = %q", profile.Name)
	}
}

func TestGoogle_Exchange_TokenEndpointError(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":"invalid_grant"}`))
	}))
	defer tokenServer.Close()

	google := NewGoogle(GoogleConfig{
		TokenURL: tokenServer.URL,
	})

	if _, err := google.Exchange(context.Background(), "bad-code"); err == nil {
		t.Fatal("expected error for rejected code")
	}
}

func TestGoogle_Exchange_EmptyAccessToken(t *testing.T) {
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{}`))
	}))
	defer tokenServer.Close()

	google := NewGoogle(GoogleConfig{
		TokenURL: tokenServer.URL,
	})

	if _, err := google.Exchange(context.Background(), "test-code"); err == nil {
		t.Fatal("expected error for empty access token")
	}
}

func TestRegistry_Lookup(t *testing.T) {
	google := NewGoogle(GoogleConfig{ClientID: "id"})
	registry := NewRegistry(google)

	if p, ok := registry.Lookup("google"); !ok || p.Name() != "google" {
		t.Errorf("Lookup(google) = %v, %v", p, ok)
	}
	if _, ok := registry.Lookup("github"); ok {
		t.Error("expected Lookup(github) to fail")
	}
}

func TestSplitName(t *testing.T) {
	tests := []struct {
		input     string
		wantFirst string
		wantLast  string
	}{
		{input: "Taro Yamada", wantFirst: "Taro", wantLast: "Yamada"},
		{input: "Madonna", wantFirst: "Madonna", wantLast: ""},
		{input: "Jean Claude Van Damme", wantFirst: "Jean", wantLast: "Claude Van Damme"},
		{input: "  ", wantFirst: "", wantLast: ""},
		{input: "", wantFirst: "", wantLast: ""},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			first, last := SplitName(tt.input)
			if first != tt.wantFirst || last != tt.wantLast {
				t.Errorf("SplitName(%q) = (%q, %q), want (%q, %q)",
					tt.input, first, last, tt.wantFirst, tt.wantLast)
			}
		})
	}
}

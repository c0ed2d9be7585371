package sso_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/aiboxcloud/management/internal/config"
	"github.com/aiboxcloud/management/internal/sso"
)

func TestDirectoryListUsers(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oidc/token", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("token request method = %s, want POST", r.Method)
		}
		if err := r.ParseForm(); err != nil {
			t.Fatalf("parse token form: %v", err)
		}
		if got := r.Form.Get("resource"); got != "https://idp.example.com/api" {
			t.Errorf("resource = %q, want management API resource", got)
		}
		if got := r.Form.Get("scope"); got != "all" {
			t.Errorf("scope = %q, want all", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": "mgmt-token",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	})
	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer mgmt-token" {
			t.Errorf("Authorization = %q, want Bearer mgmt-token", got)
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode([]map[string]any{
			{
				"id":           "usr-1",
				"username":     "alice",
				"primaryEmail": "alice@example.com",
				"name":         "Alice",
				"createdAt":    1700000000000,
				"hasPassword":  true,
			},
			{
				"id":          "usr-2",
				"username":    "bob",
				"isSuspended": true,
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := sso.NewDirectory(config.SSOConfig{
		Endpoint:         srv.URL,
		MgmtClientID:     "m2m-id",
		MgmtClientSecret: "m2m-secret",
		MgmtResource:     "https://idp.example.com/api",
	})

	users, err := d.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("ListUsers: %v", err)
	}
	if len(users) != 2 {
		t.Fatalf("got %d users, want 2", len(users))
	}
	if users[0].ID != "usr-1" || users[0].Username != "alice" {
		t.Errorf("users[0] = %+v, want usr-1/alice", users[0])
	}
	if users[0].PrimaryEmail != "alice@example.com" || !users[0].HasPassword {
		t.Errorf("users[0] fields not mapped: %+v", users[0])
	}
	if users[0].CreatedAt != 1700000000000 {
		t.Errorf("CreatedAt = %d, want 1700000000000", users[0].CreatedAt)
	}
	if !users[1].IsSuspended {
		t.Errorf("users[1].IsSuspended = false, want true")
	}
}

func TestDirectoryListUsersProviderError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/oidc/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"access_token": "t", "token_type": "Bearer"})
	})
	mux.HandleFunc("/api/users", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	d := sso.NewDirectory(config.SSOConfig{Endpoint: srv.URL})
	if _, err := d.ListUsers(context.Background()); err == nil {
		t.Fatal("ListUsers on a 403 response: got nil error")
	}
}

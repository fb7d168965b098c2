package callclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
)

func TestHTTPICEProvider(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ice-servers" {
			http.NotFound(w, r)
			return
		}
		gotAuth = r.Header.Get("Authorization")
		pkg.JSON(w, http.StatusOK, models.ICEConfig{
			ICEServers: []models.ICEServer{
				{URLs: []string{"stun:stun.example.com:3478"}},
				{URLs: []string{"turn:turn.example.com:3478"}, Username: "1700000000:f1", Credential: "c2VjcmV0"},
			},
			TTLSeconds: 3600,
		})
	}))
	defer srv.Close()

	p := &HTTPICEProvider{BaseURL: srv.URL + "/", Token: "tok"}
	servers, err := p.ICEServers(context.Background())
	if err != nil {
		t.Fatalf("ICEServers: %v", err)
	}

	if gotAuth != "Bearer tok" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if len(servers) != 2 {
		t.Fatalf("servers = %+v", servers)
	}
	if servers[0].Username != "" || servers[1].Username != "1700000000:f1" || servers[1].Credential != "c2VjcmV0" {
		t.Fatalf("servers = %+v", servers)
	}
}

func TestHTTPICEProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pkg.ErrorWithMessage(w, http.StatusUnauthorized, "authorization header required")
	}))
	defer srv.Close()

	p := &HTTPICEProvider{BaseURL: srv.URL, Token: "bad"}
	if _, err := p.ICEServers(context.Background()); err == nil {
		t.Fatal("expected error for 401")
	}
}

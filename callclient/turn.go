package callclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/pion/webrtc/v4"

	"github.com/akinalp/agroconsult/models"
)

// ICEServerProvider supplies extra ICE servers, typically TURN with
// time-limited credentials.
type ICEServerProvider interface {
	ICEServers(ctx context.Context) ([]webrtc.ICEServer, error)
}

// HTTPICEProvider fetches ICE servers from the gateway's
// GET /api/ice-servers endpoint.
type HTTPICEProvider struct {
	BaseURL string // e.g. http://localhost:8080
	Token   string
	Client  *http.Client
}

func (p *HTTPICEProvider) ICEServers(ctx context.Context) ([]webrtc.ICEServer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(p.BaseURL, "/")+"/api/ice-servers", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build ICE request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.Token)

	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ICE servers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch ICE servers: status %d", resp.StatusCode)
	}

	var body struct {
		Success bool             `json:"success"`
		Data    models.ICEConfig `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode ICE servers: %w", err)
	}

	servers := make([]webrtc.ICEServer, 0, len(body.Data.ICEServers))
	for _, s := range body.Data.ICEServers {
		server := webrtc.ICEServer{URLs: s.URLs}
		if s.Username != "" {
			server.Username = s.Username
			server.Credential = s.Credential
		}
		servers = append(servers, server)
	}
	return servers, nil
}

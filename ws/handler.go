package ws

import (
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg/i18n"
	"github.com/akinalp/agroconsult/pkg/ratelimit"
)

// TokenValidator is the Authentication Provider as seen by the gateway.
type TokenValidator interface {
	ValidateAccessToken(tokenString string) (*models.TokenClaims, error)
}

// FailureLimiter throttles handshakes with bad credentials per client IP.
type FailureLimiter interface {
	Blocked(key string) bool
	RecordFailure(key string)
	Reset(key string)
	RetryAfterSeconds(key string) int
}

// Origin checks are left to the CORS policy and the bearer token; browsers
// on the mobile app shell send no stable Origin.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler upgrades authenticated HTTP requests to gateway connections.
type Handler struct {
	hub            *Hub
	tokenValidator TokenValidator
	limiter        FailureLimiter
}

// NewHandler creates the /ws handler. limiter may be nil.
func NewHandler(hub *Hub, tokenValidator TokenValidator, limiter FailureLimiter) *Handler {
	return &Handler{
		hub:            hub,
		tokenValidator: tokenValidator,
		limiter:        limiter,
	}
}

// HandleConnection authenticates before upgrading: a missing or invalid
// credential is answered with 401 and no connection is ever registered.
//
//	GET /ws?token=<jwt>[&lang=hi]
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request) {
	ip := ratelimit.ExtractIP(r)
	if h.limiter != nil && h.limiter.Blocked(ip) {
		w.Header().Set("Retry-After", strconv.Itoa(h.limiter.RetryAfterSeconds(ip)))
		http.Error(w, "too many failed attempts", http.StatusTooManyRequests)
		return
	}

	token := bearerToken(r)
	if token == "" {
		h.recordFailure(ip)
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}

	claims, err := h.tokenValidator.ValidateAccessToken(token)
	if err != nil {
		h.recordFailure(ip)
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if h.limiter != nil {
		h.limiter.Reset(ip)
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed for user %s: %v", claims.UserID, err)
		return
	}

	lang := r.URL.Query().Get("lang")
	if lang == "" {
		lang = i18n.DetectLanguage(r.Header.Get("Accept-Language"))
	}

	client := newClient(h.hub, conn, uuid.New().String(), claims.Identity(), i18n.NewLocalizer(lang))
	h.hub.Register(client)

	h.hub.SendToConnection(client.id, Event{
		Op:   OpHello,
		Data: HelloData{ConnectionID: client.id, UserID: claims.UserID},
	})

	go client.WritePump()
	client.ReadPump() // blocks until the connection closes
}

func (h *Handler) recordFailure(ip string) {
	if h.limiter != nil {
		h.limiter.RecordFailure(ip)
	}
}

// bearerToken reads the token query parameter, falling back to an
// Authorization: Bearer header for non-browser clients.
func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

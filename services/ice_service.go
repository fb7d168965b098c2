package services

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/akinalp/agroconsult/models"
)

// ICEService hands out STUN servers and, when a TURN relay is configured,
// short-lived credentials for it.
//
// Credentials follow the TURN REST convention understood by coturn's
// use-auth-secret mode:
//
//	username   = "<unix expiry>:<userId>"
//	credential = base64(HMAC-SHA1(secret, username))
type ICEService interface {
	ServersFor(userID string) models.ICEConfig
}

type iceService struct {
	stunURLs []string
	turnURLs []string
	secret   []byte
	ttl      time.Duration

	now func() time.Time
}

func NewICEService(stunURLs, turnURLs []string, turnSecret string, ttl time.Duration) ICEService {
	return &iceService{
		stunURLs: stunURLs,
		turnURLs: turnURLs,
		secret:   []byte(turnSecret),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *iceService) ServersFor(userID string) models.ICEConfig {
	cfg := models.ICEConfig{ICEServers: []models.ICEServer{}}
	if len(s.stunURLs) > 0 {
		cfg.ICEServers = append(cfg.ICEServers, models.ICEServer{URLs: s.stunURLs})
	}

	if len(s.turnURLs) == 0 || len(s.secret) == 0 {
		return cfg
	}

	username := strconv.FormatInt(s.now().Add(s.ttl).Unix(), 10) + ":" + userID
	cfg.ICEServers = append(cfg.ICEServers, models.ICEServer{
		URLs:       s.turnURLs,
		Username:   username,
		Credential: turnCredential(s.secret, username),
	})
	cfg.TTLSeconds = int(s.ttl / time.Second)
	return cfg
}

func turnCredential(secret []byte, username string) string {
	mac := hmac.New(sha1.New, secret)
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

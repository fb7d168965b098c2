package main

import (
	"github.com/akinalp/agroconsult/config"
	"github.com/akinalp/agroconsult/pkg/ratelimit"
	"github.com/akinalp/agroconsult/services"
	"github.com/akinalp/agroconsult/ws"
)

// Services groups the business layer together with the limiters that own
// background goroutines, so Close can stop them.
type Services struct {
	Auth         services.AuthService
	Consultation services.ConsultationService
	VideoRoom    services.VideoRoomService
	Chat         services.ChatService
	ICE          services.ICEService

	ChatLimiter      *ratelimit.MessageRateLimiter
	HandshakeLimiter *ratelimit.FailureLimiter
}

func initServices(cfg *config.Config, repos *Repositories, hub *ws.Hub) *Services {
	chatLimiter := ratelimit.NewMessageRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateWindow, cfg.Chat.RateCooldown)
	consultation := services.NewConsultationService(repos.Consultation, cfg.Consultation.CacheTTL)

	return &Services{
		Auth:         services.NewAuthService(cfg.JWT.Secret, cfg.JWT.AccessTokenExpiry),
		Consultation: consultation,
		VideoRoom:    services.NewVideoRoomService(consultation, hub),
		Chat: services.NewChatService(
			consultation,
			repos.ChatMessage,
			hub,
			chatLimiter,
			cfg.Chat.MaxLength,
			cfg.Chat.HistoryLimit,
		),
		ICE: services.NewICEService(cfg.ICE.STUNURLs, cfg.ICE.TURNURLs, cfg.ICE.TURNSecret, cfg.ICE.CredentialTTL),

		ChatLimiter:      chatLimiter,
		HandshakeLimiter: ratelimit.NewFailureLimiter(cfg.Call.FailedAuthLimit, cfg.Call.FailedAuthWindow),
	}
}

func (s *Services) Close() {
	s.ChatLimiter.Stop()
	s.HandshakeLimiter.Stop()
	s.Consultation.Close()
}

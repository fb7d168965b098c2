package services

import (
	"context"
	"fmt"
	"time"

	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
	"github.com/akinalp/agroconsult/pkg/cache"
)

// ConsultationGetter is the read side of the Consultation Store.
// repository.ConsultationRepository satisfies it.
type ConsultationGetter interface {
	GetByID(ctx context.Context, id string) (*models.Consultation, error)
}

// ConsultationService authorizes callers against consultation parties.
type ConsultationService interface {
	// Get returns the consultation, pkg.ErrNotFound if unknown.
	Get(ctx context.Context, consultationID string) (*models.Consultation, error)
	// Authorize returns the consultation if userID is one of its parties,
	// pkg.ErrForbidden otherwise.
	Authorize(ctx context.Context, consultationID, userID string) (*models.Consultation, error)
	Close()
}

// consultationService reads through a short TTL cache. Parties never change
// after booking, so staleness only matters for deleted bookings.
type consultationService struct {
	repo  ConsultationGetter
	cache *cache.TTLCache[string, models.Consultation]
}

func NewConsultationService(repo ConsultationGetter, ttl time.Duration) ConsultationService {
	cleanup := ttl
	if cleanup < time.Second {
		cleanup = time.Second
	}
	return &consultationService{
		repo:  repo,
		cache: cache.New[string, models.Consultation](ttl, cleanup),
	}
}

func (s *consultationService) Get(ctx context.Context, consultationID string) (*models.Consultation, error) {
	if consultationID == "" {
		return nil, fmt.Errorf("%w: consultation_id is required", pkg.ErrBadRequest)
	}

	if c, ok := s.cache.Get(consultationID); ok {
		return &c, nil
	}

	c, err := s.repo.GetByID(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	s.cache.Set(consultationID, *c)
	return c, nil
}

func (s *consultationService) Authorize(ctx context.Context, consultationID, userID string) (*models.Consultation, error) {
	c, err := s.Get(ctx, consultationID)
	if err != nil {
		return nil, err
	}
	if !c.HasParty(userID) {
		return nil, fmt.Errorf("%w: not a party of consultation %s", pkg.ErrForbidden, consultationID)
	}
	return c, nil
}

func (s *consultationService) Close() {
	s.cache.Close()
}

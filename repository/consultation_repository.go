package repository

import (
	"context"

	"github.com/akinalp/agroconsult/models"
)

// ConsultationRepository reads consultation parties. Bookings are written by
// the consultation service; this module never mutates them.
type ConsultationRepository interface {
	// GetByID returns pkg.ErrNotFound for unknown ids.
	GetByID(ctx context.Context, id string) (*models.Consultation, error)
}

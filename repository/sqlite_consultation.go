package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/akinalp/agroconsult/database"
	"github.com/akinalp/agroconsult/models"
	"github.com/akinalp/agroconsult/pkg"
)

type sqliteConsultationRepo struct {
	db database.TxQuerier
}

func NewSQLiteConsultationRepo(db database.TxQuerier) ConsultationRepository {
	return &sqliteConsultationRepo{db: db}
}

func (r *sqliteConsultationRepo) GetByID(ctx context.Context, id string) (*models.Consultation, error) {
	query := `
		SELECT id, farmer_id, expert_id, status, created_at
		FROM consultations
		WHERE id = ?`

	c := &models.Consultation{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.FarmerID, &c.ExpertID, &c.Status, &c.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: consultation %s", pkg.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get consultation: %w", err)
	}

	return c, nil
}

package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/openclub/kudos/internal/models"
)

type TenantStore struct {
	pool *pgxpool.Pool
}

func NewTenantStore(pool *pgxpool.Pool) *TenantStore {
	return &TenantStore{pool: pool}
}

func (s *TenantStore) Create(ctx context.Context, name string) (*models.Tenant, error) {
	query := `
		INSERT INTO tenants (name, created_at)
		VALUES ($1, now())
		RETURNING id, name, created_at`

	var t models.Tenant
	err := s.pool.QueryRow(ctx, query, name).Scan(
		&t.ID,
		&t.Name,
		&t.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert tenant: %w", err)
	}
	return &t, nil
}

// GetConfig returns the raw config blob. A tenant that never configured
// anything yields nil, which resolves to full defaults.
func (s *TenantStore) GetConfig(ctx context.Context, tenantID uuid.UUID) ([]byte, error) {
	query := `SELECT config FROM tenants WHERE id = $1`

	var raw []byte
	err := s.pool.QueryRow(ctx, query, tenantID).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get tenant config: %w", err)
	}
	return raw, nil
}

func (s *TenantStore) UpdateConfig(ctx context.Context, tenantID uuid.UUID, raw []byte) error {
	query := `UPDATE tenants SET config = $2 WHERE id = $1`

	if _, err := s.pool.Exec(ctx, query, tenantID, raw); err != nil {
		return fmt.Errorf("update tenant config: %w", err)
	}
	return nil
}

package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
)

type preferencesRepository struct {
	BaseRepository
}

func NewPreferencesRepository(base BaseRepository) repository.PreferencesRepository {
	return &preferencesRepository{base}
}

func (r *preferencesRepository) GetByUser(ctx context.Context, userID uuid.UUID) (*model.DelistingPreferences, error) {
	query := `SELECT * FROM delisting_preferences WHERE user_id = $1`

	var prefs model.DelistingPreferences
	err := r.db.GetContext(ctx, &prefs, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delisting preferences: %w", err)
	}
	return &prefs, nil
}

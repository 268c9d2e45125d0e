package preference

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/logger"
)

type stubPrefsRepo struct {
	calls int
	rows  map[uuid.UUID]*model.DelistingPreferences
}

func (r *stubPrefsRepo) GetByUser(_ context.Context, userID uuid.UUID) (*model.DelistingPreferences, error) {
	r.calls++
	if p, ok := r.rows[userID]; ok {
		return p, nil
	}
	return nil, repository.ErrNotFound
}

func newTestService(repo *stubPrefsRepo) *Service {
	return NewService(repo, time.Minute,
		logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, TimeFormat: time.RFC3339}))
}

func TestGetFallsBackToDefaults(t *testing.T) {
	repo := &stubPrefsRepo{rows: map[uuid.UUID]*model.DelistingPreferences{}}
	svc := newTestService(repo)
	userID := uuid.New()

	prefs, err := svc.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.True(t, prefs.AutoDelistEnabled)
	assert.Equal(t, model.TimingImmediate, prefs.DefaultTiming)
	assert.True(t, prefs.NotifyInApp)
	assert.Equal(t, userID, prefs.UserID)
}

func TestGetCachesLookups(t *testing.T) {
	userID := uuid.New()
	repo := &stubPrefsRepo{rows: map[uuid.UUID]*model.DelistingPreferences{
		userID: {UserID: userID, AutoDelistEnabled: true, DefaultTiming: model.TimingDelayed, DelayMinutes: 15},
	}}
	svc := newTestService(repo)

	for i := 0; i < 3; i++ {
		prefs, err := svc.Get(context.Background(), userID)
		require.NoError(t, err)
		assert.Equal(t, model.TimingDelayed, prefs.DefaultTiming)
	}
	assert.Equal(t, 1, repo.calls)

	svc.Invalidate(userID)
	_, err := svc.Get(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 2, repo.calls)
}

package preference

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/resellsync/crosslist/internal/model"
	"github.com/resellsync/crosslist/internal/repository"
	"github.com/resellsync/crosslist/pkg/logger"
)

// Service is a read-through cache over stored delisting preferences. A user
// without a stored row gets the defaults; the orchestrator reads preferences
// on every trigger, so lookups are cached briefly.
type Service struct {
	repo   repository.PreferencesRepository
	cache  *cache.Cache
	logger *logger.Logger
}

func NewService(repo repository.PreferencesRepository, ttl time.Duration, log *logger.Logger) *Service {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Service{
		repo:   repo,
		cache:  cache.New(ttl, 2*ttl),
		logger: log.WithComponent("preferences"),
	}
}

// Get returns the user's preferences, from cache when fresh.
func (s *Service) Get(ctx context.Context, userID uuid.UUID) (*model.DelistingPreferences, error) {
	key := userID.String()
	if cached, ok := s.cache.Get(key); ok {
		return cached.(*model.DelistingPreferences), nil
	}

	prefs, err := s.repo.GetByUser(ctx, userID)
	if errors.Is(err, repository.ErrNotFound) {
		prefs = model.DefaultPreferences(userID)
	} else if err != nil {
		return nil, err
	}

	s.cache.Set(key, prefs, cache.DefaultExpiration)
	return prefs, nil
}

// Invalidate drops the cached entry after a preference update elsewhere.
func (s *Service) Invalidate(userID uuid.UUID) {
	s.cache.Delete(userID.String())
}

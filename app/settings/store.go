package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	_ "time/tzdata"

	"github.com/go-playground/validator/v10"
	"github.com/lysyi3m/stoa/app/clock"
	"github.com/lysyi3m/stoa/app/database"
	"github.com/lysyi3m/stoa/app/model"
)

// Store reads and writes the closed settings schema. Missing keys resolve to defaults.
type Store struct {
	repo     database.SettingsRepository
	clock    clock.Clock
	validate *validator.Validate
	mu       sync.Mutex
}

func NewStore(repo database.SettingsRepository, clk clock.Clock) *Store {
	return &Store{
		repo:     repo,
		clock:    clk,
		validate: newValidator(),
	}
}

func ParseKey(raw string) (Key, error) {
	for _, k := range Keys {
		if string(k) == raw {
			return k, nil
		}
	}
	return "", fmt.Errorf("setting %q: %w", raw, model.ErrNotFound)
}

func (s *Store) Scheduler(ctx context.Context) (Scheduler, error) {
	v, err := s.load(ctx, KeyScheduler)
	if err != nil {
		return Scheduler{}, err
	}
	return *v.(*Scheduler), nil
}

func (s *Store) RateLimits(ctx context.Context) (RateLimits, error) {
	v, err := s.load(ctx, KeyRateLimits)
	if err != nil {
		return RateLimits{}, err
	}
	return *v.(*RateLimits), nil
}

func (s *Store) Generation(ctx context.Context) (Generation, error) {
	v, err := s.load(ctx, KeyGeneration)
	if err != nil {
		return Generation{}, err
	}
	return *v.(*Generation), nil
}

func (s *Store) Trending(ctx context.Context) (Trending, error) {
	v, err := s.load(ctx, KeyTrending)
	if err != nil {
		return Trending{}, err
	}
	return *v.(*Trending), nil
}

// Get returns the current value for key.
func (s *Store) Get(ctx context.Context, key Key) (any, error) {
	return s.load(ctx, key)
}

func (s *Store) All(ctx context.Context) (map[Key]any, error) {
	all := make(map[Key]any, len(Keys))
	for _, key := range Keys {
		v, err := s.load(ctx, key)
		if err != nil {
			return nil, err
		}
		all[key] = v
	}
	return all, nil
}

// Put merges the JSON object raw over the current value of key, validates
// the result and persists it. Unknown fields are rejected.
func (s *Store) Put(ctx context.Context, key Key, raw json.RawMessage) (any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.load(ctx, key)
	if err != nil {
		return nil, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(current); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", model.ErrInvalidSettings, key, err)
	}

	return current, s.save(ctx, key, current)
}

// SetSchedulerEnabled persists whether the scheduler starts at boot.
func (s *Store) SetSchedulerEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.load(ctx, KeyScheduler)
	if err != nil {
		return err
	}
	sched := v.(*Scheduler)
	sched.Enabled = enabled
	return s.save(ctx, KeyScheduler, sched)
}

func (s *Store) SetTrendingTopics(ctx context.Context, topics []string) (Trending, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	v, err := s.load(ctx, KeyTrending)
	if err != nil {
		return Trending{}, err
	}
	trending := v.(*Trending)
	trending.Topics = topics
	if err := s.save(ctx, KeyTrending, trending); err != nil {
		return Trending{}, err
	}
	return *trending, nil
}

func (s *Store) save(ctx context.Context, key Key, value any) error {
	if err := s.validate.Struct(value); err != nil {
		return validationError(key, err)
	}

	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to encode setting %s: %w", key, err)
	}
	if err := s.repo.Put(ctx, string(key), data, s.clock.Now()); err != nil {
		return err
	}

	slog.Info("Settings updated", "key", string(key))
	return nil
}

func (s *Store) load(ctx context.Context, key Key) (any, error) {
	value, err := defaultFor(key)
	if err != nil {
		return nil, err
	}

	data, err := s.repo.Get(ctx, string(key))
	if err != nil {
		return nil, err
	}
	if data == nil {
		return value, nil
	}

	if err := json.Unmarshal(data, value); err != nil {
		slog.Warn("Stored setting is unreadable, using defaults", "key", string(key), "error", err)
		value, _ = defaultFor(key)
	}
	return value, nil
}

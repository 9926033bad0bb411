package medicines

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/rxdispatch/rxdispatch-backend/pkg/logger"
)

type lookup interface {
	Suggest(ctx context.Context, partial string) ([]string, error)
}

type cache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	CacheKey(parts ...string) string
}

// Result is one lookup. Stale is set when a newer lookup for the same session
// started before this one finished; its suggestions are dropped.
type Result struct {
	Query       string   `json:"query"`
	Suggestions []string `json:"suggestions"`
	Stale       bool     `json:"stale,omitempty"`
}

// Suggester serves suggestions through the cache and discards responses that
// were overtaken by a later keystroke from the same session.
type Suggester struct {
	lookup lookup
	cache  cache
	ttl    time.Duration
	logg   *logger.Logger

	mu     sync.Mutex
	seq    uint64
	latest map[string]uint64
}

func NewSuggester(l lookup, c cache, ttl time.Duration, logg *logger.Logger) *Suggester {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Suggester{
		lookup: l,
		cache:  c,
		ttl:    ttl,
		logg:   logg,
		latest: map[string]uint64{},
	}
}

func (s *Suggester) ticket(session string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.latest[session] = s.seq
	return s.seq
}

// settle reports whether t is still the newest ticket for session and
// forgets the session once its newest lookup is done.
func (s *Suggester) settle(session string, t uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest[session] != t {
		return false
	}
	delete(s.latest, session)
	return true
}

// Suggest looks up partial on behalf of session.
func (s *Suggester) Suggest(ctx context.Context, session, partial string) (Result, error) {
	query := strings.TrimSpace(partial)
	t := s.ticket(session)

	suggestions, err := s.resolve(ctx, query)
	current := s.settle(session, t)
	if !current {
		return Result{Query: query, Suggestions: []string{}, Stale: true}, nil
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Query: query, Suggestions: suggestions}, nil
}

func (s *Suggester) resolve(ctx context.Context, query string) ([]string, error) {
	if len([]rune(query)) < MinQueryLength {
		return []string{}, nil
	}
	key := ""
	if s.cache != nil {
		key = s.cache.CacheKey("medicines", strings.ToLower(query))
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached []string
			if json.Unmarshal([]byte(raw), &cached) == nil {
				return cached, nil
			}
		}
	}

	suggestions, err := s.lookup.Suggest(ctx, query)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		if raw, err := json.Marshal(suggestions); err == nil {
			if err := s.cache.Set(ctx, key, raw, s.ttl); err != nil && s.logg != nil {
				s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "medicines.cache_write_failed")
			}
		}
	}
	return suggestions, nil
}

package medicines

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rxdispatch/rxdispatch-backend/pkg/config"
	pkgerrors "github.com/rxdispatch/rxdispatch-backend/pkg/errors"
	redisclient "github.com/rxdispatch/rxdispatch-backend/pkg/redis"
)

func rxnav(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		if r.URL.Path != "/spellingsuggestions.json" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("name") {
		case "amox":
			_, _ = w.Write([]byte(`{"suggestionGroup":{"name":"amox","suggestionList":{"suggestion":["amoxicillin","amoxapine"]}}}`))
		case "boom":
			w.WriteHeader(http.StatusBadGateway)
		default:
			_, _ = w.Write([]byte(`{"suggestionGroup":{"name":null,"suggestionList":null}}`))
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func client(url string) *Client {
	return NewClient(config.MedicinesConfig{BaseURL: url, Timeout: time.Second})
}

func TestClientSuggest(t *testing.T) {
	var hits int32
	c := client(rxnav(t, &hits).URL)
	ctx := context.Background()

	got, err := c.Suggest(ctx, "amox")
	require.NoError(t, err)
	assert.Equal(t, []string{"amoxicillin", "amoxapine"}, got)

	got, err = c.Suggest(ctx, "zzzz")
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = c.Suggest(ctx, "a")
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

func TestClientMapsFailuresToDependency(t *testing.T) {
	var hits int32
	_, err := client(rxnav(t, &hits).URL).Suggest(context.Background(), "boom")
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeDependency))
}

func TestSuggesterCachesInRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	store := redisclient.Wrap(goredis.NewClient(&goredis.Options{Addr: mr.Addr()}))
	var hits int32
	s := NewSuggester(client(rxnav(t, &hits).URL), store, time.Minute, nil)
	ctx := context.Background()

	first, err := s.Suggest(ctx, "session-1", "amox")
	require.NoError(t, err)
	second, err := s.Suggest(ctx, "session-2", "AMOX")
	require.NoError(t, err)
	assert.Equal(t, first.Suggestions, second.Suggestions)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))

	mr.FastForward(2 * time.Minute)
	_, err = s.Suggest(ctx, "session-1", "amox")
	require.NoError(t, err)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits))
}

type gatedLookup struct {
	release map[string]chan struct{}
}

func (g gatedLookup) Suggest(_ context.Context, partial string) ([]string, error) {
	if ch, ok := g.release[partial]; ok {
		<-ch
	}
	return []string{partial + "-result"}, nil
}

func TestSuggesterDiscardsOvertakenLookups(t *testing.T) {
	gate := make(chan struct{})
	s := NewSuggester(gatedLookup{release: map[string]chan struct{}{"ib": gate}}, nil, 0, nil)
	ctx := context.Background()

	slow := make(chan Result, 1)
	go func() {
		res, _ := s.Suggest(ctx, "tab", "ib")
		slow <- res
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.latest["tab"] != 0
	}, time.Second, 5*time.Millisecond)

	fast, err := s.Suggest(ctx, "tab", "ibu")
	require.NoError(t, err)
	assert.False(t, fast.Stale)
	assert.Equal(t, []string{"ibu-result"}, fast.Suggestions)

	close(gate)
	old := <-slow
	assert.True(t, old.Stale)
	assert.Empty(t, old.Suggestions)

	other, err := s.Suggest(ctx, "another-tab", "ib")
	require.NoError(t, err)
	assert.False(t, other.Stale)
}

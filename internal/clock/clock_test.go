package clock

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var local = time.UnixMilli(1_700_000_000_000)

func fixedNow() time.Time { return local }

func okSource(name string, server time.Time, calls *atomic.Int32) TimeSource {
	return SourceFunc{Label: name, Fn: func(ctx context.Context) (time.Time, error) {
		if calls != nil {
			calls.Add(1)
		}
		return server, nil
	}}
}

func failSource(name string, calls *atomic.Int32) TimeSource {
	return SourceFunc{Label: name, Fn: func(ctx context.Context) (time.Time, error) {
		if calls != nil {
			calls.Add(1)
		}
		return time.Time{}, errors.New("unreachable")
	}}
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SafetyMargin = 500 * time.Millisecond
	cfg.ConservativeMargin = time.Second
	cfg.TradingMargin = 3 * time.Second
	cfg.DefaultOffset = -2 * time.Second
	return cfg
}

func newTestSync(sources ...TimeSource) *Sync {
	logger := zerolog.Nop()
	return New(testConfig(), sources, &logger, WithNow(fixedNow))
}

func TestSynchronize_OffsetIndependentOfEarlierFailures(t *testing.T) {
	server := local.Add(1234 * time.Millisecond)
	want := int64(1234 - 500)

	tests := []struct {
		name    string
		sources []TimeSource
	}{
		{"first source succeeds", []TimeSource{okSource("primary", server, nil)}},
		{"one mirror fails", []TimeSource{failSource("primary", nil), okSource("mirror", server, nil)}},
		{"all mirrors fail, authority succeeds", []TimeSource{
			failSource("primary", nil),
			failSource("mirror-1", nil),
			failSource("mirror-2", nil),
			okSource("authority", server, nil),
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestSync(tt.sources...)
			require.NoError(t, s.Synchronize(context.Background()))
			assert.Equal(t, want, s.Offset())
			assert.True(t, s.Status().Synced)
		})
	}
}

func TestSynchronize_StopsAtFirstSuccess(t *testing.T) {
	var first, second atomic.Int32
	s := newTestSync(okSource("primary", local, &first), okSource("mirror", local, &second))

	require.NoError(t, s.Synchronize(context.Background()))
	assert.Equal(t, int32(1), first.Load())
	assert.Equal(t, int32(0), second.Load())
	assert.Equal(t, "primary", s.Status().Source)
}

func TestSynchronize_TotalFailureUsesDefault(t *testing.T) {
	s := newTestSync(failSource("primary", nil), failSource("mirror", nil))

	err := s.Synchronize(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllSourcesFailed)
	assert.Equal(t, int64(-2000), s.Offset())

	st := s.Status()
	assert.False(t, st.Synced)
	assert.Equal(t, int64(1), st.FailedRounds)
	assert.Contains(t, st.LastError, "primary")
}

func TestSynchronize_TotalFailureKeepsLastGood(t *testing.T) {
	healthy := atomic.Bool{}
	healthy.Store(true)
	src := SourceFunc{Label: "primary", Fn: func(ctx context.Context) (time.Time, error) {
		if healthy.Load() {
			return local.Add(3 * time.Second), nil
		}
		return time.Time{}, errors.New("down")
	}}
	s := newTestSync(src)

	require.NoError(t, s.Synchronize(context.Background()))
	assert.Equal(t, int64(2500), s.Offset())

	healthy.Store(false)
	require.Error(t, s.Synchronize(context.Background()))
	assert.Equal(t, int64(2500), s.Offset())
}

func TestSynchronize_NoSources(t *testing.T) {
	s := newTestSync()
	assert.ErrorIs(t, s.Synchronize(context.Background()), ErrNoSources)
}

func TestSynchronize_EndpointTimeout(t *testing.T) {
	slow := SourceFunc{Label: "slow", Fn: func(ctx context.Context) (time.Time, error) {
		<-ctx.Done()
		return time.Time{}, ctx.Err()
	}}
	logger := zerolog.Nop()
	cfg := testConfig()
	cfg.EndpointTimeout = 20 * time.Millisecond
	s := New(cfg, []TimeSource{slow, okSource("fast", local, nil)}, &logger, WithNow(fixedNow))

	start := time.Now()
	require.NoError(t, s.Synchronize(context.Background()))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, "fast", s.Status().Source)
}

func TestOffsetOverrides(t *testing.T) {
	s := newTestSync()
	assert.Equal(t, int64(-2000), s.Offset(), "default before first sync")

	s.SetOffset(-750)
	assert.Equal(t, int64(-750), s.Offset())

	s.AdjustOffset(-250)
	assert.Equal(t, int64(-1000), s.Offset())

	s.AdjustOffset(400)
	assert.Equal(t, int64(-600), s.Offset())
}

func TestTimestamps(t *testing.T) {
	s := newTestSync(okSource("primary", local.Add(time.Hour), nil))

	assert.Equal(t, local.UnixMilli()-1000, s.SafeTimestamp())
	assert.Equal(t, local.UnixMilli()-3000, s.TradingTimestamp())

	// Independent of the measured offset.
	require.NoError(t, s.Synchronize(context.Background()))
	assert.Equal(t, local.UnixMilli()-1000, s.SafeTimestamp())
	assert.Less(t, s.TradingTimestamp(), s.SafeTimestamp())

	assert.Equal(t, local.Add(time.Hour-500*time.Millisecond), s.ServerTime())
}

type recordingObserver struct {
	calls  atomic.Int32
	failed atomic.Int32
}

func (r *recordingObserver) ClockSynced(offsetMs int64, err error) {
	r.calls.Add(1)
	if err != nil {
		r.failed.Add(1)
	}
}

func TestObserver(t *testing.T) {
	obs := &recordingObserver{}
	logger := zerolog.Nop()
	s := New(testConfig(), []TimeSource{failSource("primary", nil)}, &logger, WithNow(fixedNow), WithObserver(obs))

	_ = s.Synchronize(context.Background())
	assert.Equal(t, int32(1), obs.calls.Load())
	assert.Equal(t, int32(1), obs.failed.Load())
}

func TestForceSyncNeverBlocks(t *testing.T) {
	s := newTestSync()
	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.ForceSync()
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ForceSync blocked")
	}
}

func TestStartStop_RetriesThenForce(t *testing.T) {
	var calls atomic.Int32
	src := failSource("primary", &calls)

	logger := zerolog.Nop()
	cfg := testConfig()
	cfg.ResyncInterval = time.Hour
	cfg.MaxRetries = 2
	cfg.RetryBaseDelay = 5 * time.Millisecond
	s := New(cfg, []TimeSource{src}, &logger, WithNow(fixedNow))

	require.NoError(t, s.Start(context.Background()))

	// Initial round plus two retries.
	require.Eventually(t, func() bool { return calls.Load() == 3 }, 2*time.Second, 5*time.Millisecond)

	s.ForceSync()
	require.Eventually(t, func() bool { return calls.Load() == 6 }, 2*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.Equal(t, int64(-2000), s.Offset())
}

func TestRetryDelay(t *testing.T) {
	assert.Equal(t, time.Second, retryDelay(time.Second, 0))
	assert.Equal(t, 2*time.Second, retryDelay(time.Second, 1))
	assert.Equal(t, 8*time.Second, retryDelay(time.Second, 3))
	assert.Equal(t, retryDelay(time.Second, 16), retryDelay(time.Second, 40))
}

func TestHTTPDateSource(t *testing.T) {
	stamp := time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Date", stamp.Format(http.TimeFormat))
	}))
	defer server.Close()

	src := NewHTTPDateSource(server.URL, time.Second)
	got, err := src.ServerTime(context.Background())
	require.NoError(t, err)
	assert.True(t, stamp.Equal(got), "got %v want %v", got, stamp)
	assert.Contains(t, src.Name(), server.URL)
}

func TestHTTPDateSource_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := NewHTTPDateSource(url, 200*time.Millisecond).ServerTime(context.Background())
	assert.Error(t, err)
}

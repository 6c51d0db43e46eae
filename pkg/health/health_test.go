package health

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func passingCheck() CheckFunc {
	return func(context.Context) error { return nil }
}

func failingCheck(msg string) CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

type report struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks"`
}

func probe(t *testing.T, endpoint http.HandlerFunc) (int, report) {
	t.Helper()
	w := httptest.NewRecorder()
	endpoint(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var body report
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	return w.Code, body
}

func runN(c *check, n int) {
	for range n {
		c.poll(context.Background())
	}
}

func TestLiveEndpoint(t *testing.T) {
	tests := []struct {
		name   string
		check  CheckFunc
		runs   int
		code   int
		failed string
	}{
		{name: "passing", check: passingCheck(), runs: 3, code: http.StatusOK},
		{name: "below failure threshold", check: failingCheck("temporary"), runs: 2, code: http.StatusOK},
		{name: "failing", check: failingCheck("connection refused"), runs: 3, code: http.StatusServiceUnavailable, failed: "connection refused"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := New()
			h.AddLivenessCheck("postgres", time.Second, tt.check)
			runN(h.live[0], tt.runs)

			code, body := probe(t, h.LiveEndpoint)
			assert.Equal(t, tt.code, code)
			if tt.failed != "" {
				assert.Equal(t, "unhealthy", body.Status)
				assert.Equal(t, tt.failed, body.Checks["postgres"])
			} else {
				assert.Equal(t, "ok", body.Status)
			}
		})
	}
}

func TestReadyEndpoint(t *testing.T) {
	t.Run("not marked ready", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("redis", time.Second, passingCheck())

		code, body := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "_readiness")
	})
	t.Run("ready then draining", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("redis", time.Second, passingCheck())
		h.SetReady(true)

		code, _ := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusOK, code)

		h.SetReady(false)
		code, _ = probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
	})
	t.Run("one dependency failing", func(t *testing.T) {
		h := New()
		h.AddReadinessCheck("postgres", time.Second, passingCheck())
		h.AddReadinessCheck("kafka", time.Second, failingCheck("dial kafka: refused"))
		h.SetReady(true)
		runN(h.deps[1], 3)

		code, body := probe(t, h.ReadyEndpoint)
		assert.Equal(t, http.StatusServiceUnavailable, code)
		assert.Contains(t, body.Checks, "kafka")
		assert.NotContains(t, body.Checks, "postgres")
		assert.False(t, h.IsReady())
	})
}

func TestWithThresholds(t *testing.T) {
	down := true
	h := New()
	h.AddReadinessCheck("kafka", time.Second, func(context.Context) error {
		if down {
			return errors.New("down")
		}
		return nil
	}, WithThresholds(1, 2))
	c := h.deps[0]

	runN(c, 1)
	assert.False(t, c.healthy.Load(), "one failure is enough")

	down = false
	runN(c, 1)
	assert.False(t, c.healthy.Load(), "needs two successes to recover")
	runN(c, 1)
	assert.True(t, c.healthy.Load())
}

func TestCheckLastErrorStored(t *testing.T) {
	h := New()
	h.AddLivenessCheck("postgres", time.Second, failingCheck("timeout"))
	c := h.live[0]

	assert.Nil(t, c.err())
	runN(c, 1)
	assert.EqualError(t, c.err(), "timeout")
}

func TestCheckTimeout(t *testing.T) {
	h := New()
	h.AddReadinessCheck("slow", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, WithThresholds(1, 1))
	c := h.deps[0]

	runN(c, 1)
	require.ErrorIs(t, c.err(), context.DeadlineExceeded)
	assert.False(t, c.healthy.Load())
}

func TestConcurrentAccess(t *testing.T) {
	h := New()
	h.AddLivenessCheck("goroutines", time.Second, failingCheck("err"))
	h.AddReadinessCheck("postgres", time.Second, passingCheck())
	h.SetReady(true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h.Start(ctx, 5*time.Millisecond)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				h.IsReady()
				h.LiveEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/livez", nil))
				h.ReadyEndpoint(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/readyz", nil))
			}
		}()
	}
	wg.Wait()
	h.Stop()
	h.Stop()
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestCheckers(t *testing.T) {
	assert.NoError(t, PingCheck(pinger{})(context.Background()))
	assert.Error(t, PingCheck(pinger{err: errors.New("no pool")})(context.Background()))

	assert.NoError(t, GoroutineCountCheck(100000)(context.Background()))
	err := GoroutineCountCheck(0)(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds threshold")

	assert.NoError(t, GCMaxPauseCheck(time.Hour)(context.Background()))
}

func TestKafkaCheck(t *testing.T) {
	require.Error(t, KafkaCheck(nil)(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := KafkaCheck([]string{"127.0.0.1:1"})(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "dial kafka")
}

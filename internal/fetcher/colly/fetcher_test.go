package collyfetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/hn-archive-crawler/internal/crawler"
	"github.com/JakeFAU/hn-archive-crawler/internal/policy/retry"
)

type recordingSleeper struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *recordingSleeper) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *recordingSleeper) Waits() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestFetcher(cooldown []int, sleeper retry.Sleeper) *Fetcher {
	return New(Config{
		Endpoint:  "test",
		UserAgent: "archive-crawler-test",
		Timeout:   2 * time.Second,
		Policy: retry.New(retry.Config{
			MaxAttempts:        3,
			BaseDelay:          10 * time.Millisecond,
			CooldownStatuses:   cooldown,
			CooldownMultiplier: 4,
		}),
		Sleeper: sleeper,
	}, nil)
}

func TestFetchSuccessSendsParamsAndHeaders(t *testing.T) {
	t.Parallel()

	var gotQuery url.Values
	var gotUA, gotLang string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		gotUA = r.UserAgent()
		gotLang = r.Header.Get("Accept-Language")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f := newTestFetcher(nil, &recordingSleeper{})
	resp, err := f.Fetch(context.Background(), srv.URL+"/front", url.Values{"day": {"2024-01-02"}, "p": {"2"}})
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "<html>ok</html>", string(resp.Body))
	require.Equal(t, 1, resp.Attempts)
	require.Equal(t, "2024-01-02", gotQuery.Get("day"))
	require.Equal(t, "2", gotQuery.Get("p"))
	require.Equal(t, "archive-crawler-test", gotUA)
	require.Equal(t, "en-US,en;q=0.9", gotLang)
}

func TestFetchRetriesTransientStatusThenSucceeds(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("finally"))
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := newTestFetcher(nil, sleeper)
	resp, err := f.Fetch(context.Background(), srv.URL, nil)
	require.NoError(t, err)
	require.Equal(t, "finally", string(resp.Body))
	require.Equal(t, 3, resp.Attempts)
	require.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, sleeper.Waits())
}

func TestFetchCooldownOnForbiddenThenExhausts(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	sleeper := &recordingSleeper{}
	f := newTestFetcher([]int{http.StatusForbidden}, sleeper)
	_, err := f.Fetch(context.Background(), srv.URL+"/front", nil)
	require.Error(t, err)
	require.ErrorIs(t, err, crawler.ErrExhaustedRetries)
	require.ErrorIs(t, err, crawler.ErrRateLimited)

	var fe *crawler.FetchError
	require.True(t, errors.As(err, &fe))
	require.Equal(t, crawler.ReasonExhaustedRetries, fe.Reason)
	require.Equal(t, http.StatusForbidden, fe.StatusCode)
	require.Equal(t, int32(3), calls.Load())
	require.Equal(t, []time.Duration{40 * time.Millisecond, 80 * time.Millisecond}, sleeper.Waits())
}

func TestFetchForbiddenWithoutCooldownIsNon2xx(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := newTestFetcher(nil, &recordingSleeper{})
	_, err := f.Fetch(context.Background(), srv.URL, nil)
	require.ErrorIs(t, err, crawler.ErrNon2xx)
	require.Equal(t, int32(1), calls.Load())
}

func TestFetchTransportFailureExhausts(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	target := srv.URL
	srv.Close()

	sleeper := &recordingSleeper{}
	f := newTestFetcher(nil, sleeper)
	_, err := f.Fetch(context.Background(), target, nil)
	require.ErrorIs(t, err, crawler.ErrExhaustedRetries)
	require.ErrorIs(t, err, crawler.ErrTransport)
	require.Equal(t, []time.Duration{20 * time.Millisecond, 40 * time.Millisecond}, sleeper.Waits())
}

func TestFetchRejectsRelativeURL(t *testing.T) {
	t.Parallel()

	f := newTestFetcher(nil, &recordingSleeper{})
	_, err := f.Fetch(context.Background(), "/item", nil)
	require.ErrorIs(t, err, crawler.ErrTransport)
}

func TestProbe(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	f := newTestFetcher(nil, &recordingSleeper{})
	require.NoError(t, f.Probe(context.Background(), srv.URL), "any HTTP answer proves reachability")

	dead := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	deadURL := dead.URL
	dead.Close()
	require.ErrorIs(t, f.Probe(context.Background(), deadURL), crawler.ErrTransport)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{Headers: http.Header{"X-Trace": {"yes"}}}, nil)
	var result crawler.FetchResponse
	var fetchErr error

	hooks := &stubHooks{}
	f.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onRequest)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	collyReq := &colly.Request{Headers: &http.Header{}}
	hooks.onRequest(collyReq)
	require.Equal(t, "yes", collyReq.Headers.Get("X-Trace"))

	u, err := url.Parse("https://example.com/item?id=1")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) {
	s.onRequest = cb
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}

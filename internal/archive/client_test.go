package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pagesift/pagesift/internal/metrics"
	"github.com/pagesift/pagesift/internal/scrape"
)

type recordedSubmit struct {
	mu     sync.Mutex
	url    string
	anyway string
	count  int
}

func (r *recordedSubmit) record(req *http.Request) {
	_ = req.ParseForm()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.url = req.PostFormValue("url")
	r.anyway = req.PostFormValue("anyway")
	r.count++
}

func (r *recordedSubmit) snapshot() (string, string, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.url, r.anyway, r.count
}

type stubLimiter struct {
	mu    sync.Mutex
	err   error
	waits int
}

func (l *stubLimiter) Wait(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waits++
	return l.err
}

func (l *stubLimiter) waitCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.waits
}

func newTestClient(t *testing.T, endpoint string, limiter scrape.Limiter) *Client {
	t.Helper()
	metrics.Init()
	return New(Config{Endpoint: endpoint, Timeout: 5 * time.Second}, limiter, zap.NewNop())
}

func TestSnapshotFollowsRedirect(t *testing.T) {
	t.Parallel()

	submits := &recordedSubmit{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit/":
			submits.record(r)
			http.Redirect(w, r, "/AbC12", http.StatusFound)
		case "/AbC12":
			fmt.Fprint(w, "<html><body>archived copy</body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	snap, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/AbC12", snap.URL)
	require.Contains(t, snap.HTML, "archived copy")

	url, anyway, count := submits.snapshot()
	require.Equal(t, "news.example/story", url)
	require.Empty(t, anyway)
	require.Equal(t, 1, count)
}

func TestSnapshotCanonicalFallback(t *testing.T) {
	t.Parallel()

	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit/":
			fmt.Fprintf(w, `<html><head><link rel="canonical" href="%s/xyz99"></head><body>queued</body></html>`, srv.URL)
		case "/xyz99":
			fmt.Fprint(w, "<html><body>snapshot body</body></html>")
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	snap, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.NoError(t, err)
	require.Equal(t, srv.URL+"/xyz99", snap.URL)
	require.Contains(t, snap.HTML, "snapshot body")
}

func TestSnapshotForceSendsAnyway(t *testing.T) {
	t.Parallel()

	submits := &recordedSubmit{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit/":
			submits.record(r)
			http.Redirect(w, r, "/fresh1", http.StatusFound)
		default:
			fmt.Fprint(w, "<html><body>fresh snapshot</body></html>")
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.Snapshot(context.Background(), "http://news.example/story", true)
	require.NoError(t, err)

	url, anyway, _ := submits.snapshot()
	require.Equal(t, "news.example/story", url)
	require.Equal(t, "1", anyway)
}

func TestSnapshotNoURLFails(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "<html><body>pending</body></html>")
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.ErrorIs(t, err, scrape.ErrSnapshotFailed)
	require.Contains(t, err.Error(), "no snapshot url")
}

func TestSnapshotSubmitServerError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.ErrorIs(t, err, scrape.ErrSnapshotFailed)
}

func TestSnapshotSubmitTimesOut(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	metrics.Init()
	client := New(Config{Endpoint: srv.URL, Timeout: 300 * time.Millisecond}, nil, zap.NewNop())
	_, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.ErrorIs(t, err, scrape.ErrSnapshotTimeout)
}

func TestSnapshotFetchFailure(t *testing.T) {
	t.Parallel()

	// The submit response names a snapshot that then turns out to be gone.
	// A redirect chain ending in an error would fail the submit step instead.
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit/":
			fmt.Fprintf(w, `<html><head><link rel="canonical" href="%s/gone1"></head><body>queued</body></html>`, srv.URL)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv.URL, nil)
	_, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.ErrorIs(t, err, scrape.ErrSnapshotFailed)
	require.Contains(t, err.Error(), "fetch snapshot")
}

func TestSnapshotWaitsForLimiter(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/submit/":
			http.Redirect(w, r, "/spaced", http.StatusFound)
		default:
			fmt.Fprint(w, "<html><body>spaced snapshot</body></html>")
		}
	}))
	defer srv.Close()

	limiter := &stubLimiter{}
	client := newTestClient(t, srv.URL, limiter)
	_, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.NoError(t, err)
	require.Equal(t, 1, limiter.waitCount())
}

func TestSnapshotLimiterDeadlineIsTimeout(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	limiter := &stubLimiter{err: context.DeadlineExceeded}
	client := newTestClient(t, srv.URL, limiter)
	_, err := client.Snapshot(context.Background(), "https://news.example/story", false)
	require.ErrorIs(t, err, scrape.ErrSnapshotTimeout)
	require.Zero(t, hits.Load())
}

func TestProtocolStripping(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://news.example/a": "news.example/a",
		"http://news.example/b":  "news.example/b",
		"news.example/c":         "news.example/c",
	}
	for in, want := range cases {
		require.Equal(t, want, protocolPrefix.ReplaceAllString(in, ""))
	}
}

func TestIsSnapshotURL(t *testing.T) {
	t.Parallel()

	metrics.Init()
	client := New(Config{Endpoint: "https://archive.is"}, nil, zap.NewNop())

	cases := []struct {
		raw  string
		want bool
	}{
		{"https://archive.is/AbC12", true},
		{"https://archive.ph/AbC12", true},
		{"https://archive.is/submit/", false},
		{"https://archive.is/", false},
		{"https://news.example/story", false},
		{"", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, client.isSnapshotURL(tc.raw), tc.raw)
	}
}

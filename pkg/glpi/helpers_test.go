package glpi

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-kratos/kratos/v2/log"
)

var testLogger = log.DefaultLogger

// fakeGLPI is an httptest GLPI exposing initSession, killSession and search.
type fakeGLPI struct {
	t      *testing.T
	server *httptest.Server

	initCalls   atomic.Int32
	killCalls   atomic.Int32
	searchCalls atomic.Int32

	mu        sync.Mutex
	token     string
	killed    []string
	lastQuery map[string]string
	// search answers search requests; default is Content-Range 0-0/0
	search func(w http.ResponseWriter, r *http.Request, call int32)
}

func newFakeGLPI(t *testing.T) *fakeGLPI {
	f := &fakeGLPI{t: t, token: "session-1"}
	mux := http.NewServeMux()
	mux.HandleFunc("/apirest.php/initSession", func(w http.ResponseWriter, r *http.Request) {
		n := f.initCalls.Add(1)
		if r.Header.Get("App-Token") != "app-token" || r.Header.Get("Authorization") != "user_token user-token" {
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = w.Write([]byte(`["ERROR_LOGIN_PARAMETERS_MISSING","bad credentials"]`))
			return
		}
		f.mu.Lock()
		if n > 1 {
			f.token = "session-" + string(rune('0'+n))
		}
		token := f.token
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"session_token":"` + token + `"}`))
	})
	mux.HandleFunc("/apirest.php/killSession", func(w http.ResponseWriter, r *http.Request) {
		f.killCalls.Add(1)
		f.mu.Lock()
		f.killed = append(f.killed, r.Header.Get("Session-Token"))
		f.mu.Unlock()
		_, _ = w.Write([]byte(`true`))
	})
	mux.HandleFunc("/apirest.php/search/Ticket", func(w http.ResponseWriter, r *http.Request) {
		n := f.searchCalls.Add(1)
		q := map[string]string{}
		for k, v := range r.URL.Query() {
			q[k] = v[0]
		}
		q["Session-Token"] = r.Header.Get("Session-Token")
		q["App-Token"] = r.Header.Get("App-Token")
		f.mu.Lock()
		f.lastQuery = q
		handler := f.search
		f.mu.Unlock()
		if handler == nil {
			w.Header().Set("Content-Range", "0-0/0")
			_, _ = w.Write([]byte(`{"totalcount":0,"count":0,"data":[]}`))
			return
		}
		handler(w, r, n)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeGLPI) URL() string {
	return f.server.URL + "/apirest.php/"
}

func (f *fakeGLPI) setSearch(h func(w http.ResponseWriter, r *http.Request, call int32)) {
	f.mu.Lock()
	f.search = h
	f.mu.Unlock()
}

func (f *fakeGLPI) query() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastQuery
}

func testConfig(baseURL string) Config {
	cfg := DefaultConfig()
	cfg.BaseURL = baseURL
	cfg.AppToken = "app-token"
	cfg.UserToken = "user-token"
	cfg.Retry.BaseDelay = time.Millisecond
	cfg.Retry.MaxDelay = 5 * time.Millisecond
	cfg.Breaker.Timeout = 2 * time.Second
	return cfg
}

// fakeAuth is an in-memory Authenticator.
type fakeAuth struct {
	calls atomic.Int32
	kills atomic.Int32
	delay time.Duration
	// gate, when set, blocks InitSession until closed
	gate    chan struct{}
	started chan struct{}
	err     error

	mu         sync.Mutex
	killTokens []string
}

func (a *fakeAuth) InitSession(ctx context.Context) (string, error) {
	n := a.calls.Add(1)
	if a.started != nil {
		select {
		case a.started <- struct{}{}:
		default:
		}
	}
	if a.gate != nil {
		<-a.gate
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.err != nil {
		return "", a.err
	}
	return "token-" + string(rune('0'+n)), nil
}

func (a *fakeAuth) KillSession(ctx context.Context, token string) error {
	a.kills.Add(1)
	a.mu.Lock()
	a.killTokens = append(a.killTokens, token)
	a.mu.Unlock()
	return nil
}

var errBoom = errors.New("boom")

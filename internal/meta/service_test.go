package meta

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"captiochat/pkg/config"
	"captiochat/pkg/connections"
	"captiochat/pkg/vault"
)

func testVault(t *testing.T) *vault.Vault {
	t.Helper()
	v, err := vault.New(base64.StdEncoding.EncodeToString(make([]byte, 32)))
	if err != nil {
		t.Fatalf("vault: %v", err)
	}
	return v
}

type graphCalls struct {
	exchange int32
	extend   int32
	pages    int32
}

// fakeGraph serves the three Graph API endpoints the pipeline hits. The
// pages listing deliberately puts the Instagram-linked page second, so the
// selection tie-break is observable.
func fakeGraph(t *testing.T, calls *graphCalls) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Query().Get("grant_type") == "fb_exchange_token" {
			atomic.AddInt32(&calls.extend, 1)
			if r.URL.Query().Get("fb_exchange_token") != "short-tok" {
				w.WriteHeader(http.StatusBadRequest)
				fmt.Fprint(w, `{"error":{"message":"bad exchange token"}}`)
				return
			}
			fmt.Fprint(w, `{"access_token":"long-tok","token_type":"bearer","expires_in":5184000}`)
			return
		}
		atomic.AddInt32(&calls.exchange, 1)
		if r.URL.Query().Get("code") != "good-code" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"invalid or used code"}}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"short-tok","token_type":"bearer","expires_in":3600}`)
	})
	mux.HandleFunc("/v19.0/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls.pages, 1)
		if r.URL.Query().Get("access_token") != "long-tok" {
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"bad token"}}`)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"data":[
			{"id":"page-1","name":"Plain Page","access_token":"page-1-tok"},
			{"id":"page-2","name":"IG Page","access_token":"page-2-tok","instagram_business_account":{"id":"ig-77"}},
			{"id":"page-3","name":"Another IG","access_token":"page-3-tok","instagram_business_account":{"id":"ig-88"}}
		]}`)
	})
	return httptest.NewServer(mux)
}

func newTestService(t *testing.T, graphBase string, store connections.Store) *Service {
	t.Helper()
	cfg := config.Config{
		MetaAppID:       "app-123",
		MetaAppSecret:   "sekret",
		MetaRedirectURI: "https://portal.example/auth/meta/callback",
		MetaAPIVersion:  "v19.0",
	}
	graph := NewGraphClient(GraphConfig{
		AppID:       cfg.MetaAppID,
		AppSecret:   cfg.MetaAppSecret,
		RedirectURI: cfg.MetaRedirectURI,
		APIVersion:  cfg.MetaAPIVersion,
		GraphBase:   graphBase,
		Timeout:     5 * time.Second,
	})
	return NewService(cfg, graph, testVault(t), store, zap.NewNop().Sugar())
}

func TestCompleteExchangeSuccess(t *testing.T) {
	var calls graphCalls
	srv := fakeGraph(t, &calls)
	defer srv.Close()
	store := connections.NewMemoryStore(zap.NewNop().Sugar())
	s := newTestService(t, srv.URL, store)
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	state := EncodeState(FlowState{TenantID: "acme", ReturnTo: "https://app.example/done", Channel: "messenger", IssuedAt: now})
	res := s.CompleteExchange(context.Background(), "good-code", state, "")

	if res.Outcome != OutcomeLinked {
		t.Fatalf("expected linked, got %+v", res)
	}
	if res.TenantID != "acme" || res.ReturnTo != "https://app.example/done" {
		t.Fatalf("routing context lost: %+v", res)
	}
	// Selection rule: first page with a linked IG account wins, even though
	// a plain page precedes it and another IG page follows it.
	if res.Connection.PageID != "page-2" || res.Connection.IGAccountID != "ig-77" {
		t.Fatalf("wrong page selected: %+v", res.Connection)
	}
	if want := now.Add(5184000 * time.Second); !res.Connection.UserTokenExpiresAt.Equal(want) {
		t.Fatalf("expiry: got %v want %v", res.Connection.UserTokenExpiresAt, want)
	}

	got, err := store.Get(context.Background(), "acme")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.UserToken == "long-tok" || got.PageToken == "page-2-tok" {
		t.Fatalf("plaintext credential persisted: %+v", got)
	}
	v := testVault(t)
	if plain, err := v.Open(got.UserToken); err != nil || plain != "long-tok" {
		t.Fatalf("sealed user token: %q / %v", plain, err)
	}
	if plain, err := v.Open(got.PageToken); err != nil || plain != "page-2-tok" {
		t.Fatalf("sealed page token: %q / %v", plain, err)
	}
	if calls.exchange != 1 || calls.extend != 1 || calls.pages != 1 {
		t.Fatalf("unexpected call counts: %+v", calls)
	}
}

func TestCompleteExchangeDeniedMakesNoCalls(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTeapot)
	}))
	defer srv.Close()
	store := connections.NewMemoryStore(zap.NewNop().Sugar())
	s := newTestService(t, srv.URL, store)

	state := EncodeState(FlowState{TenantID: "acme", ReturnTo: "https://app.example/retry", Channel: "messenger", IssuedAt: time.Now()})
	res := s.CompleteExchange(context.Background(), "whatever", state, "access_denied")

	if res.Outcome != OutcomeDenied {
		t.Fatalf("expected denied, got %+v", res)
	}
	if res.TenantID != "acme" || res.ReturnTo != "https://app.example/retry" {
		t.Fatalf("state not recovered: %+v", res)
	}
	if calls.Load() != 0 {
		t.Fatalf("denial path issued %d network calls", calls.Load())
	}
	if _, err := store.Get(context.Background(), "acme"); !errors.Is(err, connections.ErrNotFound) {
		t.Fatalf("denial must not persist anything, got %v", err)
	}
}

func TestCompleteExchangeMissingCode(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()
	s := newTestService(t, srv.URL, connections.NewMemoryStore(zap.NewNop().Sugar()))

	res := s.CompleteExchange(context.Background(), "", "", "")
	if res.Outcome != OutcomeFailed || res.Reason != ReasonMissingCode {
		t.Fatalf("expected missing_code failure, got %+v", res)
	}
	if res.TenantID != FallbackTenantID {
		t.Fatalf("expected fallback tenant, got %q", res.TenantID)
	}
	if calls.Load() != 0 {
		t.Fatalf("missing-code path issued %d network calls", calls.Load())
	}
}

func TestCompleteExchangeBadCode(t *testing.T) {
	var calls graphCalls
	srv := fakeGraph(t, &calls)
	defer srv.Close()
	s := newTestService(t, srv.URL, connections.NewMemoryStore(zap.NewNop().Sugar()))

	res := s.CompleteExchange(context.Background(), "replayed-code", "", "")
	if res.Outcome != OutcomeFailed || res.Reason != ReasonExchangeFailed {
		t.Fatalf("expected exchange_failed, got %+v", res)
	}
	if !strings.Contains(res.Detail, "invalid or used code") {
		t.Fatalf("expected raw provider payload in detail, got %q", res.Detail)
	}
	if calls.extend != 0 {
		t.Fatalf("chain continued past failed exchange")
	}
}

func TestCompleteExchangeExtendFailed(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") == "fb_exchange_token" {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"message":"cannot extend"}}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"short-tok","expires_in":3600}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	s := newTestService(t, srv.URL, connections.NewMemoryStore(zap.NewNop().Sugar()))

	res := s.CompleteExchange(context.Background(), "good-code", "", "")
	if res.Outcome != OutcomeFailed || res.Reason != ReasonExtendFailed {
		t.Fatalf("expected extend_failed, got %+v", res)
	}
	if !strings.Contains(res.Detail, "cannot extend") {
		t.Fatalf("expected provider payload in detail, got %q", res.Detail)
	}
}

type failingStore struct{}

func (failingStore) Upsert(context.Context, connections.TenantConnection) error {
	return errors.New("connection refused")
}
func (failingStore) Get(context.Context, string) (connections.TenantConnection, error) {
	return connections.TenantConnection{}, connections.ErrNotFound
}
func (failingStore) FindTenantByPage(context.Context, string) (string, error) {
	return "", connections.ErrNotFound
}

func TestCompleteExchangePersistFailed(t *testing.T) {
	var calls graphCalls
	srv := fakeGraph(t, &calls)
	defer srv.Close()
	s := newTestService(t, srv.URL, failingStore{})

	res := s.CompleteExchange(context.Background(), "good-code", "", "")
	if res.Outcome != OutcomeFailed || res.Reason != ReasonPersistFailed {
		t.Fatalf("expected persist_failed, got %+v", res)
	}
}

func TestCompleteExchangePageListingDegrades(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/v19.0/oauth/access_token", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") == "fb_exchange_token" {
			fmt.Fprint(w, `{"access_token":"long-tok","expires_in":5184000}`)
			return
		}
		fmt.Fprint(w, `{"access_token":"short-tok","expires_in":3600}`)
	})
	mux.HandleFunc("/v19.0/me/accounts", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		fmt.Fprint(w, `{"error":{"message":"missing pages_show_list"}}`)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	store := connections.NewMemoryStore(zap.NewNop().Sugar())
	s := newTestService(t, srv.URL, store)

	state := EncodeState(FlowState{TenantID: "acme", ReturnTo: "/", Channel: "messenger", IssuedAt: time.Now()})
	res := s.CompleteExchange(context.Background(), "good-code", state, "")
	if res.Outcome != OutcomeLinked {
		t.Fatalf("expected degraded link, got %+v", res)
	}
	if res.Connection.PageID != "" || res.Connection.PageToken != "" {
		t.Fatalf("expected unbound connection, got %+v", res.Connection)
	}
	if _, err := store.Get(context.Background(), "acme"); err != nil {
		t.Fatalf("connection not persisted: %v", err)
	}
}

func TestSelectPage(t *testing.T) {
	ig := func(id string) *struct {
		ID string `json:"id"`
	} {
		return &struct {
			ID string `json:"id"`
		}{ID: id}
	}
	cases := []struct {
		name  string
		pages []Page
		want  string
	}{
		{"none", nil, ""},
		{"first without ig", []Page{{ID: "a"}, {ID: "b"}}, "a"},
		{"second has ig", []Page{{ID: "a"}, {ID: "b", IGAccount: ig("x")}}, "b"},
		{"both have ig", []Page{{ID: "a", IGAccount: ig("x")}, {ID: "b", IGAccount: ig("y")}}, "a"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := selectPage(tc.pages)
			switch {
			case tc.want == "" && got != nil:
				t.Fatalf("expected nil, got %+v", got)
			case tc.want != "" && (got == nil || got.ID != tc.want):
				t.Fatalf("expected %q, got %+v", tc.want, got)
			}
		})
	}
}

func TestStartURL(t *testing.T) {
	s := newTestService(t, "http://unused.invalid", connections.NewMemoryStore(zap.NewNop().Sugar()))
	now := time.Date(2026, 8, 31, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	raw := s.StartURL("acme", "https://app.example/done", "messenger")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Host != "www.facebook.com" || u.Path != "/v19.0/dialog/oauth" {
		t.Fatalf("unexpected dialog target: %s", raw)
	}
	q := u.Query()
	if q.Get("client_id") != "app-123" {
		t.Fatalf("client_id: %q", q.Get("client_id"))
	}
	if q.Get("redirect_uri") != "https://portal.example/auth/meta/callback" {
		t.Fatalf("redirect_uri: %q", q.Get("redirect_uri"))
	}
	if q.Get("response_type") != "code" {
		t.Fatalf("response_type: %q", q.Get("response_type"))
	}
	if scope := q.Get("scope"); !strings.Contains(scope, "pages_show_list") || !strings.Contains(scope, ",") {
		t.Fatalf("scope not comma-joined: %q", scope)
	}
	st := DecodeState(q.Get("state"))
	if st.TenantID != "acme" || st.ReturnTo != "https://app.example/done" || st.Channel != "messenger" {
		t.Fatalf("state does not round trip: %+v", st)
	}
	if !st.IssuedAt.Equal(now) {
		t.Fatalf("issued at: got %v want %v", st.IssuedAt, now)
	}
}

func TestStartURLDefaults(t *testing.T) {
	s := newTestService(t, "http://unused.invalid", connections.NewMemoryStore(zap.NewNop().Sugar()))
	u, err := url.Parse(s.StartURL("", "", ""))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	st := DecodeState(u.Query().Get("state"))
	if st.TenantID != FallbackTenantID || st.ReturnTo != FallbackReturnTo || st.Channel != DefaultChannel {
		t.Fatalf("unexpected defaults: %+v", st)
	}
}

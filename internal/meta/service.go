// internal/meta/service.go
package meta

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"captiochat/pkg/config"
	"captiochat/pkg/connections"
	"captiochat/pkg/vault"
)

// Scopes requested at the authorization dialog: the minimal set needed to
// list owned pages and keep webhook subscriptions on them.
var defaultScopes = []string{
	"pages_show_list",
	"pages_read_engagement",
	"pages_manage_metadata",
}

// Exchange outcomes. Denied is a normal terminal outcome (user declined
// consent), distinct from Failed.
type Outcome string

const (
	OutcomeLinked Outcome = "linked"
	OutcomeDenied Outcome = "denied"
	OutcomeFailed Outcome = "failed"
)

// Failure reason codes surfaced to the caller.
const (
	ReasonMissingCode    = "missing_code"
	ReasonExchangeFailed = "exchange_failed"
	ReasonExtendFailed   = "extend_failed"
	ReasonPersistFailed  = "persist_failed"
	ReasonTimeout        = "timeout"
)

// ExchangeResult is the terminal state of one callback handling attempt.
type ExchangeResult struct {
	Outcome Outcome

	// Routing context recovered from the echoed state, set on every outcome.
	TenantID string
	ReturnTo string
	Channel  string

	// Set when Outcome is OutcomeLinked.
	Connection connections.TenantConnection

	// Set when Outcome is OutcomeFailed. Detail carries the raw provider
	// payload for diagnostics when the upstream call produced one.
	Reason string
	Detail string
}

// Service owns the Meta OAuth connection lifecycle: building the dialog
// redirect and driving the callback's token exchange chain.
type Service struct {
	graph      *GraphClient
	vault      *vault.Vault
	store      connections.Store
	log        *zap.SugaredLogger
	appID      string
	redirect   string
	version    string
	dialogBase string
	scopes     []string
	now        func() time.Time
}

func NewService(cfg config.Config, graph *GraphClient, v *vault.Vault, store connections.Store, log *zap.SugaredLogger) *Service {
	return &Service{
		graph:      graph,
		vault:      v,
		store:      store,
		log:        log,
		appID:      cfg.MetaAppID,
		redirect:   cfg.MetaRedirectURI,
		version:    cfg.MetaAPIVersion,
		dialogBase: defaultDialogBaseURL,
		scopes:     defaultScopes,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// StartURL builds the authorization dialog redirect for a tenant. The
// redirect_uri must byte-equal the value registered with Meta; a mismatch is
// only detectable on the provider's side.
func (s *Service) StartURL(tenantID, returnTo, channel string) string {
	if tenantID == "" {
		tenantID = FallbackTenantID
	}
	if returnTo == "" {
		returnTo = FallbackReturnTo
	}
	if channel == "" {
		channel = DefaultChannel
	}
	st := FlowState{TenantID: tenantID, ReturnTo: returnTo, Channel: channel, IssuedAt: s.now()}
	q := url.Values{}
	q.Set("client_id", s.appID)
	q.Set("redirect_uri", s.redirect)
	q.Set("scope", strings.Join(s.scopes, ","))
	q.Set("state", EncodeState(st))
	q.Set("response_type", "code")
	return fmt.Sprintf("%s/%s/dialog/oauth?%s", s.dialogBase, s.version, q.Encode())
}

// CompleteExchange handles the provider's redirect back. errParam is Meta's
// error query parameter; a non-empty value means the user declined consent
// and no network call is made. Safe to re-invoke with a fresh code; a
// replayed code fails the first exchange step like any other provider error.
func (s *Service) CompleteExchange(ctx context.Context, code, rawState, errParam string) ExchangeResult {
	st := DecodeState(rawState)
	res := ExchangeResult{TenantID: st.TenantID, ReturnTo: st.ReturnTo, Channel: st.Channel}

	if errParam != "" {
		res.Outcome = OutcomeDenied
		s.log.Infow("consent denied", "tenant_id", st.TenantID, "error", errParam)
		return res
	}
	if code == "" {
		res.Outcome = OutcomeFailed
		res.Reason = ReasonMissingCode
		return res
	}

	shortTok, err := s.graph.ExchangeCode(ctx, code)
	if err != nil {
		return s.failed(res, ReasonExchangeFailed, err)
	}
	longTok, err := s.graph.ExtendToken(ctx, shortTok.AccessToken)
	if err != nil {
		return s.failed(res, ReasonExtendFailed, err)
	}

	// Page enumeration is best-effort: an empty or failed listing leaves the
	// connection unbound rather than discarding the long-lived token.
	pages, err := s.graph.ListPages(ctx, longTok.AccessToken)
	if err != nil {
		s.log.Warnw("page listing failed, storing unbound connection", "tenant_id", st.TenantID, "err", err)
		pages = nil
	}
	page := selectPage(pages)

	var expires time.Time
	if longTok.ExpiresIn > 0 {
		expires = s.now().Add(time.Duration(longTok.ExpiresIn) * time.Second)
	}

	conn := connections.TenantConnection{
		TenantID:           st.TenantID,
		Provider:           connections.ProviderMeta,
		UserTokenExpiresAt: expires,
	}
	if conn.UserToken, err = s.vault.Seal(longTok.AccessToken); err != nil {
		return s.failed(res, ReasonPersistFailed, err)
	}
	if page != nil {
		conn.PageID = page.ID
		if page.IGAccount != nil {
			conn.IGAccountID = page.IGAccount.ID
		}
		if page.AccessToken != "" {
			if conn.PageToken, err = s.vault.Seal(page.AccessToken); err != nil {
				return s.failed(res, ReasonPersistFailed, err)
			}
		}
	}

	if err := s.store.Upsert(ctx, conn); err != nil {
		return s.failed(res, ReasonPersistFailed, err)
	}

	res.Outcome = OutcomeLinked
	res.Connection = conn
	s.log.Infow("tenant linked", "tenant_id", st.TenantID, "page_id", conn.PageID, "ig_account_id", conn.IGAccountID)
	return res
}

// selectPage prefers the first page with a linked Instagram business account,
// falls back to the first page, and returns nil when none were listed. The
// tie-break is order-dependent on purpose, for reproducibility.
func selectPage(pages []Page) *Page {
	for i := range pages {
		if pages[i].IGAccount != nil && pages[i].IGAccount.ID != "" {
			return &pages[i]
		}
	}
	if len(pages) > 0 {
		return &pages[0]
	}
	return nil
}

func (s *Service) failed(res ExchangeResult, reason string, err error) ExchangeResult {
	res.Outcome = OutcomeFailed
	res.Reason = reason
	if isTimeout(err) {
		res.Reason = ReasonTimeout
	}
	var xerr *exchangeError
	if errors.As(err, &xerr) {
		res.Detail = xerr.Detail()
	} else {
		res.Detail = err.Error()
	}
	s.log.Warnw("exchange failed", "tenant_id", res.TenantID, "reason", res.Reason, "err", err)
	return res
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// internal/meta/handler.go
package meta

import (
	"encoding/json"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"

	"captiochat/pkg/problems"
)

// RegisterRoutes mounts the OAuth connection endpoints.
func RegisterRoutes(r chi.Router, svc *Service) {
	h := &handler{svc: svc}
	r.Get("/auth/meta/start", h.start)
	r.Get("/auth/meta/callback", h.callback)
	r.Get("/auth/meta/debug", h.debug)
}

type handler struct {
	svc *Service
}

// start redirects the tenant's user into Meta's authorization dialog.
func (h *handler) start(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := h.svc.StartURL(q.Get("tenant_id"), q.Get("return_to"), q.Get("channel"))
	http.Redirect(w, r, target, http.StatusFound)
}

// callback handles Meta's redirect back, in all three branches: denial,
// missing code, and the normal exchange chain.
func (h *handler) callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	errParam := q.Get("error")
	if errParam == "" {
		errParam = q.Get("error_reason")
	}
	res := h.svc.CompleteExchange(r.Context(), q.Get("code"), q.Get("state"), errParam)

	switch res.Outcome {
	case OutcomeDenied:
		http.Redirect(w, r, appendQuery(res.ReturnTo, url.Values{"status": {"denied"}}), http.StatusFound)
	case OutcomeLinked:
		http.Redirect(w, r, appendQuery(res.ReturnTo, url.Values{
			"status":        {"connected"},
			"tenant_id":     {res.TenantID},
			"page_id":       {res.Connection.PageID},
			"ig_account_id": {res.Connection.IGAccountID},
		}), http.StatusFound)
	default:
		status := http.StatusBadGateway
		if res.Reason == ReasonMissingCode {
			status = http.StatusBadRequest
		}
		if res.Reason == ReasonPersistFailed {
			status = http.StatusInternalServerError
		}
		problems.Write(w, status, res.Reason, "Meta connection failed", res.Detail)
	}
}

// debug shows the dialog URL that /auth/meta/start would redirect to. The
// app secret is never included.
func (h *handler) debug(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	target := h.svc.StartURL(q.Get("tenant_id"), q.Get("return_to"), q.Get("channel"))
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"client_id":    h.svc.appID,
		"redirect_uri": h.svc.redirect,
		"url":          target,
	})
}

// appendQuery adds params to a return location, tolerating locations that do
// not parse as URLs (they are used verbatim).
func appendQuery(base string, params url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base
	}
	q := u.Query()
	for k, vs := range params {
		for _, v := range vs {
			if v != "" {
				q.Set(k, v)
			}
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// internal/webhook/handler.go
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jmes "github.com/jmespath/go-jmespath"
	"go.uber.org/zap"

	"captiochat/pkg/connections"
	"captiochat/pkg/middleware"
)

const (
	maxBodyBytes = 1 << 20 // Meta batches up to 1000 updates per delivery
	// Tenant resolution must not put the provider's delivery deadline at
	// risk; past this budget the event is recorded unresolved instead.
	resolveBudget = 2 * time.Second
	// JMESPath into Meta's delivery envelope for the subject resource.
	resourcePath = "entry[0].id"
)

// Handler serves Meta's two webhook entry points: the GET verification
// handshake and POST event deliveries.
type Handler struct {
	verifyToken string
	store       connections.Store
	events      connections.EventRecorder
	log         *zap.SugaredLogger
}

func NewHandler(verifyToken string, store connections.Store, events connections.EventRecorder, log *zap.SugaredLogger) *Handler {
	return &Handler{verifyToken: verifyToken, store: store, events: events, log: log}
}

// RegisterRoutes mounts both webhook endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhooks/meta", h.verify)
	r.Post("/webhooks/meta", h.deliver)
}

// verify answers the subscription handshake: echo the challenge verbatim on
// an exact token match, 403 otherwise. Pure comparison, no side effects,
// safe for Meta to repeat.
func (h *Handler) verify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && h.verifyToken != "" && token == h.verifyToken {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(challenge))
		return
	}
	h.log.Warnw("webhook verification rejected", "mode", mode)
	w.WriteHeader(http.StatusForbidden)
}

// deliver records an inbound event and ALWAYS acknowledges 200. Signaling
// failure here makes Meta retry-storm the endpoint, so internal errors are
// logged and swallowed at this boundary only; an unresolved tenant is a
// valid terminal state for an event, not an error.
func (h *Handler) deliver(w http.ResponseWriter, r *http.Request) {
	h.process(r)
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) process(r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.log.Warnw("webhook body read", "err", err)
		return
	}

	resourceID := extractResourceID(body)

	tenantID := ""
	if resourceID != "" {
		ctx, cancel := context.WithTimeout(r.Context(), resolveBudget)
		defer cancel()
		if id, err := h.store.FindTenantByPage(ctx, resourceID); err == nil {
			tenantID = id
		} else if !errors.Is(err, connections.ErrNotFound) {
			h.log.Warnw("tenant resolution", "resource_id", resourceID, "err", err)
		}
	}

	ev := connections.InboundEvent{
		Provider:   connections.ProviderMeta,
		TenantID:   tenantID,
		ResourceID: resourceID,
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}
	if err := h.events.Record(r.Context(), ev); err != nil {
		h.log.Errorw("event record", "resource_id", resourceID, "err", err)
		return
	}
	h.log.Infow("webhook event recorded", "resource_id", resourceID, "tenant_id", tenantID, "request_id", middleware.RequestIDFrom(r.Context()))
}

// extractResourceID pulls the subject resource id out of the delivery
// envelope; any shape surprise yields empty (unresolved), never an error.
func extractResourceID(body []byte) string {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return ""
	}
	res, err := jmes.Search(resourcePath, doc)
	if err != nil {
		return ""
	}
	if id, ok := res.(string); ok {
		return id
	}
	return ""
}

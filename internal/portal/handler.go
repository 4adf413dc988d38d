// internal/portal/handler.go
package portal

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const pageStyle = `<style>body{font-family:system-ui,Arial,sans-serif;max-width:800px;margin:40px auto;padding:0 16px;line-height:1.6}</style>`

const privacyHTML = `<!doctype html><meta charset="utf-8"><title>CaptioChat – Privacy Policy</title>` + pageStyle +
	`<h1>Privacy Policy</h1><p>CaptioChat collects and processes data strictly to provide automation services on Instagram/Facebook via Meta's APIs.</p>` +
	`<h2>What we collect</h2><ul><li>Meta profile IDs, Page IDs, Instagram Business IDs</li><li>OAuth tokens provided by Meta (stored encrypted at rest)</li><li>Inbound messages/events necessary to operate the service</li></ul>` +
	`<h2>Retention</h2><p>We retain data only while your account is active; tokens can be revoked at any time.</p>` +
	`<h2>Contact</h2><p>Email: legal@captiochat.com</p>`

const tosHTML = `<!doctype html><meta charset="utf-8"><title>CaptioChat – Terms of Service</title>` + pageStyle +
	`<h1>Terms of Service</h1><p>By using CaptioChat you agree to these Terms and Meta's Platform Policies.</p>` +
	`<ul><li>You must own/operate the Pages and Instagram accounts you connect.</li><li>No spam, harassment, or prohibited content.</li><li>You may disconnect at any time.</li></ul>` +
	`<h2>Contact</h2><p>Email: legal@captiochat.com</p>`

// RegisterRoutes mounts the presentation endpoints: home, health and legal
// text. No business logic lives here.
func RegisterRoutes(r chi.Router) {
	r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("CaptioChat portal online"))
	})
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Get("/legal/privacy", serveHTML(privacyHTML))
	r.Get("/legal/tos", serveHTML(tosHTML))
}

func serveHTML(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(body))
	}
}

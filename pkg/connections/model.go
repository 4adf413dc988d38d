package connections

import "time"

// ProviderMeta is the only identity provider currently supported.
const ProviderMeta = "meta"

// TenantConnection is one persisted link between a tenant and a Meta account.
// Token fields hold vault ciphertext, never plaintext.
type TenantConnection struct {
	TenantID string
	Provider string

	UserToken          string    // sealed long-lived user token
	UserTokenExpiresAt time.Time // advisory; zero means no stated expiry

	// Page chosen during linking. PageToken may be empty even when PageID is
	// set: page-scoped tokens need elevated consent scopes the user may have
	// declined. That is a degraded-but-valid connection, not an error.
	PageID    string
	PageToken string // sealed page-scoped token, optional

	// Instagram business account discovered through the bound page, optional.
	IGAccountID string

	UpdatedAt time.Time
}

// InboundEvent is an append-only record of one webhook delivery. TenantID is
// empty when the delivery could not be resolved to a tenant; that is a valid
// terminal state.
type InboundEvent struct {
	Provider   string
	TenantID   string
	ResourceID string
	Body       []byte
	ReceivedAt time.Time
}

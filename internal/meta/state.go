// internal/meta/state.go
package meta

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Fallback values used when an echoed state token cannot be decoded.
const (
	FallbackTenantID = "demo"
	FallbackReturnTo = "/"
	DefaultChannel   = "messenger"
)

// FlowState is the routing context carried through the Meta authorization
// redirect. It is never persisted server-side; Meta echoes the token back
// verbatim in the callback's state parameter.
//
// The token is not integrity-protected: a determined client can alter it.
// It carries no secrets and no authorization decision beyond which tenant's
// row the resulting credential is written to, which is the documented trust
// boundary of the flow.
type FlowState struct {
	TenantID string
	ReturnTo string // where the end user lands after completion, success or cancel
	Channel  string // integration surface chosen by the user (messenger, instagram, ...)
	IssuedAt time.Time
}

type wireState struct {
	TenantID string `json:"tid"`
	ReturnTo string `json:"ret"`
	Channel  string `json:"ch"`
	IssuedAt int64  `json:"iat"`
}

// EncodeState serializes st into a URL-safe unpadded token. Redirect URLs
// have length limits, so keys are kept short and padding is dropped.
func EncodeState(st FlowState) string {
	b, _ := json.Marshal(wireState{
		TenantID: st.TenantID,
		ReturnTo: st.ReturnTo,
		Channel:  st.Channel,
		IssuedAt: st.IssuedAt.Unix(),
	})
	return base64.RawURLEncoding.EncodeToString(b)
}

// DecodeState never fails: a broken or truncated token must not strand the
// user on an error page mid-flow, so malformed input yields the documented
// fallback state and the caller proceeds in degraded mode.
func DecodeState(token string) FlowState {
	fallback := FlowState{TenantID: FallbackTenantID, ReturnTo: FallbackReturnTo, Channel: DefaultChannel}
	if token == "" {
		return fallback
	}
	b, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return fallback
	}
	var w wireState
	if err := json.Unmarshal(b, &w); err != nil {
		return fallback
	}
	st := FlowState{TenantID: w.TenantID, ReturnTo: w.ReturnTo, Channel: w.Channel}
	if w.IssuedAt != 0 {
		st.IssuedAt = time.Unix(w.IssuedAt, 0).UTC()
	}
	if st.TenantID == "" {
		st.TenantID = FallbackTenantID
	}
	if st.ReturnTo == "" {
		st.ReturnTo = FallbackReturnTo
	}
	if st.Channel == "" {
		st.Channel = DefaultChannel
	}
	return st
}

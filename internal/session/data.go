// Package session keeps server-side session state: the authenticated user,
// the pending OAuth state, per-state OAuth flows, and provider profile
// suggestions.
//
// The browser only holds an opaque id. All reads and writes go through a
// Store, and every mutation is an atomic read-modify-write (Store.Update) so
// that two requests sharing one session cannot lose each other's writes.
package session

import "github.com/sakif/authlink/internal/model"

// Data is the serialized session payload. It must round-trip through JSON.
type Data struct {
	UserID     string                            `json:"_auth_user_id,omitempty"`
	OAuthState string                            `json:"oauth_state,omitempty"`
	Flows      map[string]model.Flow             `json:"oauth_flows,omitempty"`
	Suggested  map[string]model.SuggestedProfile `json:"profile_suggested,omitempty"`
}

// SuggestionKey is the key a provider's suggestion is stored under,
// e.g. "yandex_profile_suggested".
func SuggestionKey(provider string) string {
	return provider + "_profile_suggested"
}

// clone returns a deep copy so callers never alias store-owned maps.
func (d *Data) clone() *Data {
	out := &Data{UserID: d.UserID, OAuthState: d.OAuthState}
	if len(d.Flows) > 0 {
		out.Flows = make(map[string]model.Flow, len(d.Flows))
		for k, v := range d.Flows {
			out.Flows[k] = v
		}
	}
	if len(d.Suggested) > 0 {
		out.Suggested = make(map[string]model.SuggestedProfile, len(d.Suggested))
		for k, v := range d.Suggested {
			out.Suggested[k] = v
		}
	}
	return out
}

// IsEmpty reports whether the session carries nothing worth persisting.
func (d *Data) IsEmpty() bool {
	return d.UserID == "" && d.OAuthState == "" && len(d.Flows) == 0 && len(d.Suggested) == 0
}

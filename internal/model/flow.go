package model

// Flow is the context of one in-progress OAuth attempt, keyed in the session
// by its state token. The zero Flow means "no special handling".
type Flow struct {
	Next  string `json:"next,omitempty"` // validated redirect target, "" for none
	Apply bool   `json:"apply"`
	Link  bool   `json:"link"`
}

// SuggestedProfile holds the name a provider reported on the last successful
// sign-in. It is only written to the user on an explicit apply.
type SuggestedProfile struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// IsEmpty reports whether there is nothing to apply.
func (s SuggestedProfile) IsEmpty() bool {
	return s.FirstName == "" && s.LastName == ""
}

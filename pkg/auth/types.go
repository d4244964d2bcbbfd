// Package auth resolves requests to a typed Actor via JWT bearer tokens or
// API keys, and owns the users table both map onto.
package auth

// Actor is the authenticated caller identity: userId always, publicKey when
// the identity is wallet-bound. Several users may share one public key
// (multi-role), so per-actor views key on publicKey first.
type Actor struct {
	UserID    string `json:"user_id"`
	PublicKey string `json:"public_key,omitempty"`
	Role      string `json:"role,omitempty"`
}

// Key returns the per-actor view key: publicKey when present, else userId.
func (a Actor) Key() string {
	if a.PublicKey != "" {
		return a.PublicKey
	}
	return a.UserID
}

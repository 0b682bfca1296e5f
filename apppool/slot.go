package apppool

import "strings"

// Slot is one registered OAuth client with its own user quota.
type Slot struct {
	ID           string `json:"id"`
	ClientID     string `json:"-"`
	ClientSecret string `json:"-"`
	RedirectURI  string `json:"redirectUri"`
	MaxUsers     int    `json:"maxUsers"`
	CurrentUsers int    `json:"currentUsers"`
	Active       bool   `json:"active"`
}

// HasCapacity reports whether the slot can take another user without overflowing.
func (s Slot) HasCapacity() bool {
	return s.Active && s.CurrentUsers < s.MaxUsers
}

// Credentials projects the slot to what an OAuth exchange needs.
func (s Slot) Credentials() Credentials {
	return Credentials{
		ClientID:     s.ClientID,
		ClientSecret: s.ClientSecret,
		RedirectURI:  s.RedirectURI,
		SlotID:       s.ID,
	}
}

// Credentials is the client identity used for one authorization round trip.
type Credentials struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
	SlotID       string
}

// AccountPlaceholder may appear in a redirect URI and is replaced by the account name,
// e.g. "https://bridge.example.com/callback/{account}".
const AccountPlaceholder = "{account}"

// RedirectFor resolves the redirect URI for the given account.
func (c Credentials) RedirectFor(account string) string {
	return strings.ReplaceAll(c.RedirectURI, AccountPlaceholder, account)
}

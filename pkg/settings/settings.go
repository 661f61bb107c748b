// Package settings holds the API token and conversation configuration shared by every screen.
//
// The store is the only cross-component mutable state: screens read snapshots through Get and
// write through Update, and interested parties subscribe to change notifications.
package settings

import "strings"

// Storage keys, kept compatible with the browser demo's local storage layout.
const (
	KeyToken    = "tavus-token"
	KeySettings = "tavus-settings"
)

// Settings is the conversation configuration plus the bearer token used to create conversations.
type Settings struct {
	APIToken string `json:"-"`
	Persona  string `json:"persona,omitempty"`
	Replica  string `json:"replica,omitempty"`
	Greeting string `json:"greeting,omitempty"`
	Context  string `json:"context,omitempty"`
}

// HasToken reports whether a non-blank API token is present.
func (s Settings) HasToken() bool {
	return strings.TrimSpace(s.APIToken) != ""
}

// Backend is a durable string key/value store.
type Backend interface {
	Get(key string) (value string, ok bool, err error)
	Set(key, value string) error
}

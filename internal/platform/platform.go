// Package platform defines the capability contract that every chat platform
// client variant satisfies, and the factory through which the orchestrator
// constructs them.
package platform

import (
	"errors"
	"fmt"
)

// Platform identifies one external chat platform variant.
type Platform string

// Supported platform variants.
const (
	WhatsApp     Platform = "whatsapp"
	Email        Platform = "email"
	TelegramBot  Platform = "telegram-bot"
	TelegramUser Platform = "telegram-user"
	Slack        Platform = "slack"
	Discord      Platform = "discord"
)

// ErrUnsupported is returned when no client variant exists for a platform.
var ErrUnsupported = errors.New("platform: unsupported platform")

// Capabilities describes what a platform variant can do and what it needs to
// connect. Resolved once per account; callers never type-sniff the client.
type Capabilities struct {
	SupportsMedia       bool
	SupportsTyping      bool
	RequiresCredentials bool
	SessionBased        bool // reconnect eligibility gated by an on-disk session artifact
}

// capabilityTable is the static capability descriptor per platform.
var capabilityTable = map[Platform]Capabilities{
	WhatsApp:     {SupportsMedia: true, SupportsTyping: true, SessionBased: true},
	Email:        {RequiresCredentials: true},
	TelegramBot:  {SupportsMedia: true, SupportsTyping: true, RequiresCredentials: true},
	TelegramUser: {SupportsMedia: true, SupportsTyping: true, RequiresCredentials: true},
	Slack:        {RequiresCredentials: true},
	Discord:      {SupportsTyping: true, RequiresCredentials: true},
}

// Describe returns the capability descriptor for a platform.
func Describe(p Platform) (Capabilities, error) {
	caps, ok := capabilityTable[p]
	if !ok {
		return Capabilities{}, fmt.Errorf("%w: %s", ErrUnsupported, p)
	}
	return caps, nil
}

// Known reports whether p is a recognized platform value.
func Known(p Platform) bool {
	_, ok := capabilityTable[p]
	return ok
}

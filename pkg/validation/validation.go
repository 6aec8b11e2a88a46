package validation

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

var (
	// RoomIDRegex validates room names, including endpoint singleton rooms.
	RoomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

	SessionIDRegex = regexp.MustCompile(`^[1-9][0-9]{8}$`)
)

const (
	maxRoomIDLength = 64
	maxAliasLength  = 64
)

func ValidateRoomID(roomID string) error {
	if roomID == "" {
		return fmt.Errorf("room ID is required")
	}
	if len(roomID) > maxRoomIDLength {
		return fmt.Errorf("room ID is too long (max %d characters)", maxRoomIDLength)
	}
	if !RoomIDRegex.MatchString(roomID) {
		return fmt.Errorf("invalid room ID format")
	}
	return nil
}

// ValidateSessionID accepts the 9-digit IDs handed out to users, with or
// without grouping spaces.
func ValidateSessionID(sessionID string) error {
	sessionID = strings.Join(strings.Fields(sessionID), "")
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}
	if !SessionIDRegex.MatchString(sessionID) {
		return fmt.Errorf("session ID must be 9 digits")
	}
	return nil
}

func ValidateEndpointID(endpointID string) error {
	if endpointID == "" {
		return fmt.Errorf("endpoint ID is required")
	}
	if _, err := uuid.Parse(endpointID); err != nil {
		return fmt.Errorf("invalid endpoint ID: %w", err)
	}
	return nil
}

func ValidateAlias(alias string) error {
	if !utf8.ValidString(alias) {
		return fmt.Errorf("alias must be valid UTF-8")
	}
	if utf8.RuneCountInString(alias) > maxAliasLength {
		return fmt.Errorf("alias is too long (max %d characters)", maxAliasLength)
	}
	return nil
}

// ValidateRelayURL validates the websocket URL a client dials.
func ValidateRelayURL(urlStr string) error {
	if urlStr == "" {
		return fmt.Errorf("relay URL is required")
	}
	u, err := url.Parse(urlStr)
	if err != nil {
		return fmt.Errorf("invalid relay URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("relay URL must use ws or wss scheme")
	}
	if u.Host == "" {
		return fmt.Errorf("relay URL must have a host")
	}
	return nil
}

func ValidateICEServerURL(urlStr string) error {
	switch {
	case strings.HasPrefix(urlStr, "stun:"), strings.HasPrefix(urlStr, "stuns:"),
		strings.HasPrefix(urlStr, "turn:"), strings.HasPrefix(urlStr, "turns:"):
	default:
		return fmt.Errorf("ICE server URL must use stun, stuns, turn or turns scheme")
	}
	if len(urlStr) <= strings.Index(urlStr, ":")+1 {
		return fmt.Errorf("ICE server URL must have a host")
	}
	return nil
}

package validation

import (
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestValidateRoomID(t *testing.T) {
	tests := []struct {
		name    string
		roomID  string
		wantErr bool
	}{
		{"session id", "123456789", false},
		{"endpoint room", uuid.NewString(), false},
		{"with underscore", "team_desk-1", false},
		{"empty", "", true},
		{"spaces", "123 456 789", true},
		{"slash", "a/b", true},
		{"too long", strings.Repeat("a", 65), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRoomID(tt.roomID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRoomID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateSessionID(t *testing.T) {
	tests := []struct {
		name      string
		sessionID string
		wantErr   bool
	}{
		{"plain", "123456789", false},
		{"grouped", "123 456 789", false},
		{"leading zero", "012345678", true},
		{"eight digits", "12345678", true},
		{"letters", "12345678a", true},
		{"empty", "  ", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSessionID(tt.sessionID)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateSessionID() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateEndpointID(t *testing.T) {
	if err := ValidateEndpointID(uuid.NewString()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateEndpointID("not-a-uuid"); err == nil {
		t.Error("expected error for malformed endpoint ID")
	}
}

func TestValidateAlias(t *testing.T) {
	if err := ValidateAlias(""); err != nil {
		t.Errorf("empty alias should be allowed: %v", err)
	}
	if err := ValidateAlias(strings.Repeat("x", 65)); err == nil {
		t.Error("expected error for long alias")
	}
	if err := ValidateAlias(string([]byte{0xff, 0xfe})); err == nil {
		t.Error("expected error for invalid UTF-8")
	}
}

func TestValidateRelayURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"ws://localhost:8080/ws", false},
		{"wss://relay.example.com/ws", false},
		{"http://localhost:8080/ws", true},
		{"ws:///ws", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateRelayURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateRelayURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateICEServerURL(t *testing.T) {
	tests := []struct {
		url     string
		wantErr bool
	}{
		{"stun:stun.l.google.com:19302", false},
		{"turn:turn.example.com:3478?transport=udp", false},
		{"stun:", true},
		{"http://stun.example.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			err := ValidateICEServerURL(tt.url)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateICEServerURL(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

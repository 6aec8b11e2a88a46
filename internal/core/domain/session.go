package domain

import "fmt"

type Role string

const (
	RoleInitiator Role = "initiator"
	RoleReceiver  Role = "receiver"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleInitiator, RoleReceiver:
		return Role(s), nil
	case "host":
		return RoleInitiator, nil
	case "viewer":
		return RoleReceiver, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

type ConnectionState int

const (
	StateIdle ConnectionState = iota
	StateNegotiating
	StateConnected
	StateFailed
	StateClosed
)

func (s ConnectionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

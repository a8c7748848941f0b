package app

import (
	"fmt"

	"github.com/dkeye/tgcalls/internal/domain"
)

type BackpressureAction int

const (
	Disconnect BackpressureAction = iota
	DropFrame
)

// Policy decides what happens to a live connection whose send buffer is full.
// A closed connection is always dropped regardless of policy.
type Policy interface {
	OnBackPressure(uid domain.UserID) BackpressureAction
}

// SimplePolicy disconnects slow consumers.
type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(domain.UserID) BackpressureAction {
	return Disconnect
}

// DropPolicy keeps slow consumers and loses the frame.
type DropPolicy struct{}

func (DropPolicy) OnBackPressure(domain.UserID) BackpressureAction {
	return DropFrame
}

// PolicyByName maps the signal.slow_consumer setting to a Policy.
func PolicyByName(name string) (Policy, error) {
	switch name {
	case "", "disconnect":
		return SimplePolicy{}, nil
	case "drop":
		return DropPolicy{}, nil
	default:
		return nil, fmt.Errorf("unknown slow consumer policy %q", name)
	}
}

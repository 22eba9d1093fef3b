package hub

import (
	"errors"
	"fmt"

	"agenthub/internal/agent"
)

// Dispatch errors are recoverable and surfaced to the caller; they never
// abort the hub.
var (
	ErrUnknownThread = errors.New("unknown thread id")
	ErrNoAgent       = errors.New("no such agent")
)

// ErrNoCapableAgent means no enabled, connected adapter carries the
// requested capability.
type ErrNoCapableAgent struct {
	Capability agent.Capability
}

func (e *ErrNoCapableAgent) Error() string {
	return fmt.Sprintf("no agent available with capability %q", e.Capability)
}

package replication

import (
	"errors"
	"fmt"

	"github.com/swarmguard/mergekv/internal/crdt"
)

// Command failure taxonomy. Client-facing handlers fail fast with one of
// these; peer-facing handlers log and tolerate. Peer dial and RPC errors
// are logged only and never surfaced to clients.
var (
	// ErrNotFound means the command requires a pre-existing key.
	ErrNotFound = errors.New("key not found")
	// ErrInvalidArgument covers bad payloads, unknown verbs, and stored
	// variant mismatches. Local state is left unchanged.
	ErrInvalidArgument = errors.New("invalid argument")
)

func invalidArgf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

func typeMismatch(key string, want, got crdt.Kind) error {
	return invalidArgf("key %q holds a %s, not a %s", key, got, want)
}

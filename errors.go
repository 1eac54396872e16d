package twoskip

import (
	"errors"
	"fmt"

	"github.com/aalhour/twoskipdb/internal/checkpoint"
	"github.com/aalhour/twoskipdb/internal/engine"
)

// Error kinds from spec §7: ErrNotFound and ErrExists are the engine's own
// sentinels, re-exported so callers never need to import internal
// packages; ErrInternal is checkpoint's consistency-check sentinel;
// ErrIO wraps any other underlying I/O, CRC, or format failure.
var (
	ErrNotFound = engine.ErrNotFound
	ErrExists   = engine.ErrExists
	ErrInternal = checkpoint.ErrInconsistent
	ErrIO       = errors.New("twoskip: io error")
	ErrClosed   = errors.New("twoskip: handle closed")
)

func wrapIO(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrExists) || errors.Is(err, ErrInternal) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrIO, err)
}

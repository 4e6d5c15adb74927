// Package scan defines the contract between the presence monitor and whatever
// delivers BLE scan results: a platform scanner bridge, a Redis feed or a
// replay file.
package scan

import (
	"context"
	"errors"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/beacon"
	"github.com/alem-hub/beacon-presence/internal/domain/shared"
)

// StatusKind is the health of the scan source.
type StatusKind string

const (
	StatusReady            StatusKind = "ready"
	StatusAdapterOff       StatusKind = "adapter_off"
	StatusPermissionDenied StatusKind = "permission_denied"
	StatusTransportError   StatusKind = "transport_error"
)

// IsValid checks if the status kind is known.
func (k StatusKind) IsValid() bool {
	switch k {
	case StatusReady, StatusAdapterOff, StatusPermissionDenied, StatusTransportError:
		return true
	default:
		return false
	}
}

// Status is a health report from the source.
type Status struct {
	Kind   StatusKind `json:"kind"`
	Reason string     `json:"reason,omitempty"`
	At     time.Time  `json:"at"`
}

// BlocksEntry reports whether the source cannot possibly see the beacon.
// While it does, the monitor never moves Outside → Inside.
func (s Status) BlocksEntry() bool {
	return s.Kind == StatusAdapterOff || s.Kind == StatusPermissionDenied
}

// Err returns the error matching an unhealthy status, or nil when ready.
func (s Status) Err() error {
	var base *shared.DomainError
	switch s.Kind {
	case StatusReady:
		return nil
	case StatusAdapterOff:
		base = shared.ErrScannerAdapterOff
	case StatusPermissionDenied:
		base = shared.ErrScannerPermissionDenied
	default:
		return shared.WrapError("scan", "Subscribe", shared.ErrServiceUnavailable, "scan transport error", errors.New(s.Reason))
	}
	if s.Reason == "" {
		return base
	}
	return shared.WrapError(base.Domain, base.Op, base.Kind, base.Message, errors.New(s.Reason))
}

// Batch is one delivery of scan results. It may be empty.
type Batch struct {
	Observations []beacon.Observation
	ReceivedAt   time.Time
}

// Source delivers scan batches and status changes. Both channels are closed
// when the source stops; Close is idempotent.
type Source interface {
	Subscribe(ctx context.Context) (<-chan Batch, <-chan Status, error)
	Close() error
}

// Package beacon contains the iBeacon frame codec and the matcher that decides
// whether a BLE advertisement was emitted by the configured study-room beacon.
// This is a pure domain package: no I/O, no clocks, no goroutines.
package beacon

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain errors for beacon package.
var (
	ErrInvalidUUID  = errors.New("beacon: invalid proximity UUID")
	ErrInvalidMajor = errors.New("beacon: major must be within 0..65535")
	ErrInvalidMinor = errors.New("beacon: minor must be within 0..65535")
)

// AppleCompanyID is the Bluetooth SIG company identifier under which iBeacon
// frames are carried in the manufacturer-specific data field.
const AppleCompanyID uint16 = 0x004C

// TargetIdentity identifies the single beacon installed in the study room.
// It is configured once at startup and never changes.
type TargetIdentity struct {
	UUID  uuid.UUID
	Major uint16
	Minor uint16
}

// ParseTargetIdentity builds a TargetIdentity from configuration values.
// The UUID is accepted in any letter case, with or without hyphens.
func ParseTargetIdentity(rawUUID string, major, minor int) (TargetIdentity, error) {
	id, err := uuid.Parse(strings.TrimSpace(rawUUID))
	if err != nil {
		return TargetIdentity{}, fmt.Errorf("%w: %q: %v", ErrInvalidUUID, rawUUID, err)
	}
	if major < 0 || major > math.MaxUint16 {
		return TargetIdentity{}, fmt.Errorf("%w: %d", ErrInvalidMajor, major)
	}
	if minor < 0 || minor > math.MaxUint16 {
		return TargetIdentity{}, fmt.Errorf("%w: %d", ErrInvalidMinor, minor)
	}

	return TargetIdentity{
		UUID:  id,
		Major: uint16(major),
		Minor: uint16(minor),
	}, nil
}

// String returns "uuid/major/minor".
func (t TargetIdentity) String() string {
	return fmt.Sprintf("%s/%d/%d", t.UUID, t.Major, t.Minor)
}

// Observation is a single advertisement reported by the scan source.
// It is consumed immediately and never retained.
type Observation struct {
	// ManufacturerData maps a company identifier to its raw payload.
	ManufacturerData map[uint16][]byte

	// RSSI is the received signal strength in dBm, if the scanner reports it.
	RSSI int

	// ObservedAt is when the scanner received the advertisement.
	ObservedAt time.Time
}

// NewObservation builds an observation carrying a single manufacturer payload.
func NewObservation(manufacturerID uint16, payload []byte, observedAt time.Time) Observation {
	return Observation{
		ManufacturerData: map[uint16][]byte{manufacturerID: payload},
		ObservedAt:       observedAt,
	}
}

// Payload returns the payload under the given manufacturer ID.
func (o Observation) Payload(manufacturerID uint16) ([]byte, bool) {
	if o.ManufacturerData == nil {
		return nil, false
	}
	p, ok := o.ManufacturerData[manufacturerID]
	return p, ok
}

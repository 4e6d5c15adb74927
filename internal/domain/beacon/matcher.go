package beacon

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// iBeacon frame layout inside the Apple manufacturer payload.
const (
	frameType   byte = 0x02
	frameLength byte = 0x15

	// FrameSize is the minimum payload length of a valid iBeacon frame:
	// type, length, 16-byte UUID, major, minor, measured power.
	FrameSize = 23

	uuidOffset  = 2
	majorOffset = 18
	minorOffset = 20
	powerOffset = 22
)

// Advertisement is a decoded iBeacon frame.
type Advertisement struct {
	UUID          uuid.UUID
	Major         uint16
	Minor         uint16
	MeasuredPower int8
}

// Identity returns the identity triple carried by the frame.
func (a Advertisement) Identity() TargetIdentity {
	return TargetIdentity{UUID: a.UUID, Major: a.Major, Minor: a.Minor}
}

// Decode parses an Apple manufacturer payload as an iBeacon frame.
// It reports false for any structural anomaly instead of returning an error.
func Decode(payload []byte) (Advertisement, bool) {
	if len(payload) < FrameSize {
		return Advertisement{}, false
	}
	if payload[0] != frameType || payload[1] != frameLength {
		return Advertisement{}, false
	}

	var adv Advertisement
	copy(adv.UUID[:], payload[uuidOffset:majorOffset])
	adv.Major = binary.BigEndian.Uint16(payload[majorOffset:minorOffset])
	adv.Minor = binary.BigEndian.Uint16(payload[minorOffset:powerOffset])
	adv.MeasuredPower = int8(payload[powerOffset])

	return adv, true
}

// Encode builds the manufacturer payload an iBeacon with the given identity
// would advertise.
func Encode(target TargetIdentity, measuredPower int8) []byte {
	payload := make([]byte, FrameSize)
	payload[0] = frameType
	payload[1] = frameLength
	copy(payload[uuidOffset:majorOffset], target.UUID[:])
	binary.BigEndian.PutUint16(payload[majorOffset:minorOffset], target.Major)
	binary.BigEndian.PutUint16(payload[minorOffset:powerOffset], target.Minor)
	payload[powerOffset] = byte(measuredPower)
	return payload
}

// Match reports whether the observation was emitted by the target beacon.
// UUID comparison is on raw bytes, so the textual case of the configured
// UUID is irrelevant. There is no partial or fuzzy matching.
func Match(obs Observation, target TargetIdentity) bool {
	payload, ok := obs.Payload(AppleCompanyID)
	if !ok {
		return false
	}

	adv, ok := Decode(payload)
	if !ok {
		return false
	}

	return adv.UUID == target.UUID &&
		adv.Major == target.Major &&
		adv.Minor == target.Minor
}

// MatchAny reports whether any observation in the batch matches the target.
func MatchAny(batch []Observation, target TargetIdentity) bool {
	for _, obs := range batch {
		if Match(obs, target) {
			return true
		}
	}
	return false
}

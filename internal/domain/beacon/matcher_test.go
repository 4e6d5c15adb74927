package beacon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testUUID = "E2C56DB5-DFFB-48D2-B060-D0F5A71096E0"

func testTarget(t *testing.T) TargetIdentity {
	t.Helper()
	target, err := ParseTargetIdentity(testUUID, 1, 42)
	require.NoError(t, err)
	return target
}

func TestParseTargetIdentity(t *testing.T) {
	upper, err := ParseTargetIdentity(testUUID, 1, 42)
	require.NoError(t, err)

	lower, err := ParseTargetIdentity("e2c56db5-dffb-48d2-b060-d0f5a71096e0", 1, 42)
	require.NoError(t, err)
	assert.Equal(t, upper, lower)

	_, err = ParseTargetIdentity("not-a-uuid", 1, 1)
	assert.ErrorIs(t, err, ErrInvalidUUID)

	_, err = ParseTargetIdentity(testUUID, 70000, 1)
	assert.ErrorIs(t, err, ErrInvalidMajor)

	_, err = ParseTargetIdentity(testUUID, 1, -1)
	assert.ErrorIs(t, err, ErrInvalidMinor)
}

func TestMatch_ExactTarget(t *testing.T) {
	target := testTarget(t)
	obs := NewObservation(AppleCompanyID, Encode(target, -59), time.Now())

	assert.True(t, Match(obs, target))
}

func TestMatch_RejectsStructuralAnomalies(t *testing.T) {
	target := testTarget(t)
	valid := Encode(target, -59)

	wrongHeader := append([]byte(nil), valid...)
	wrongHeader[0] = 0x03

	wrongLength := append([]byte(nil), valid...)
	wrongLength[1] = 0x16

	tests := []struct {
		name string
		obs  Observation
	}{
		{"no manufacturer data", Observation{}},
		{"other manufacturer", NewObservation(0x0059, valid, time.Now())},
		{"empty payload", NewObservation(AppleCompanyID, nil, time.Now())},
		{"short payload", NewObservation(AppleCompanyID, valid[:FrameSize-1], time.Now())},
		{"wrong type byte", NewObservation(AppleCompanyID, wrongHeader, time.Now())},
		{"wrong length byte", NewObservation(AppleCompanyID, wrongLength, time.Now())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.False(t, Match(tt.obs, target))
		})
	}
}

func TestMatch_AnySingleIdentityByteAltered(t *testing.T) {
	target := testTarget(t)
	valid := Encode(target, -59)

	// Bytes 2..21 carry UUID, major and minor.
	for i := uuidOffset; i < powerOffset; i++ {
		altered := append([]byte(nil), valid...)
		altered[i] ^= 0xFF

		obs := NewObservation(AppleCompanyID, altered, time.Now())
		assert.False(t, Match(obs, target), "byte %d altered must not match", i)
	}
}

func TestMatch_IgnoresMeasuredPowerAndTrailingBytes(t *testing.T) {
	target := testTarget(t)
	payload := append(Encode(target, -70), 0xAA, 0xBB)

	assert.True(t, Match(NewObservation(AppleCompanyID, payload, time.Now()), target))
}

func TestDecode(t *testing.T) {
	target := testTarget(t)

	adv, ok := Decode(Encode(target, -59))
	require.True(t, ok)
	assert.Equal(t, target, adv.Identity())
	assert.Equal(t, int8(-59), adv.MeasuredPower)

	_, ok = Decode([]byte{0x02, 0x15})
	assert.False(t, ok)
}

func TestMatchAny(t *testing.T) {
	target := testTarget(t)
	noise := NewObservation(0x0006, []byte{1, 2, 3}, time.Now())
	hit := NewObservation(AppleCompanyID, Encode(target, -59), time.Now())

	assert.False(t, MatchAny(nil, target))
	assert.False(t, MatchAny([]Observation{noise}, target))
	assert.True(t, MatchAny([]Observation{noise, hit}, target))
}

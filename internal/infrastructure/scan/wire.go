// Package scan provides scan.Source implementations fed from outside the
// process: a Redis list written by the platform scanner bridge and a
// JSON-lines replay source for bench testing.
package scan

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/alem-hub/beacon-presence/internal/domain/beacon"
	domainscan "github.com/alem-hub/beacon-presence/internal/domain/scan"
)

// ══════════════════════════════════════════════════════════════════════════════
// WIRE FORMAT
// ══════════════════════════════════════════════════════════════════════════════

// Message types carried in an Envelope.
const (
	TypeBatch  = "batch"
	TypeStatus = "status"
)

var (
	// ErrBadMessage is returned for messages that cannot be decoded.
	ErrBadMessage = errors.New("scan: malformed message")
)

// WireAdvertisement is one advertisement as written by the scanner bridge.
// Data is the hex-encoded manufacturer payload without the company ID.
type WireAdvertisement struct {
	ManufacturerID uint16     `json:"manufacturer_id"`
	Data           string     `json:"data"`
	RSSI           int        `json:"rssi,omitempty"`
	SeenAt         *time.Time `json:"seen_at,omitempty"`
}

// WireBatch is one scan result delivery.
type WireBatch struct {
	ReceivedAt     *time.Time          `json:"received_at,omitempty"`
	Advertisements []WireAdvertisement `json:"advertisements"`
}

// WireStatus is a scanner health report.
type WireStatus struct {
	Status string     `json:"status"`
	Reason string     `json:"reason,omitempty"`
	At     *time.Time `json:"at,omitempty"`
}

// Envelope wraps either message type. The replay file is one Envelope per line.
type Envelope struct {
	Type   string      `json:"type"`
	Batch  *WireBatch  `json:"batch,omitempty"`
	Status *WireStatus `json:"status,omitempty"`
}

// Message is a decoded Envelope. Batch is set for TypeBatch, Status for
// TypeStatus. Skipped counts advertisements dropped from the batch.
type Message struct {
	Type    string
	Batch   domainscan.Batch
	Status  domainscan.Status
	Skipped int
}

// DecodeBatch parses a WireBatch payload. Advertisements whose data is not
// valid hex are left out and counted in skipped; the rest of the batch is kept.
func DecodeBatch(data []byte) (batch domainscan.Batch, skipped int, err error) {
	var wb WireBatch
	if err := json.Unmarshal(data, &wb); err != nil {
		return domainscan.Batch{}, 0, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	batch, skipped = wb.toDomain()
	return batch, skipped, nil
}

// DecodeStatus parses a WireStatus payload.
func DecodeStatus(data []byte) (domainscan.Status, error) {
	var ws WireStatus
	if err := json.Unmarshal(data, &ws); err != nil {
		return domainscan.Status{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}
	return ws.toDomain()
}

// DecodeEnvelope parses one replay line.
func DecodeEnvelope(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrBadMessage, err)
	}

	switch env.Type {
	case TypeBatch:
		if env.Batch == nil {
			return Message{}, fmt.Errorf("%w: batch envelope without batch", ErrBadMessage)
		}
		b, skipped := env.Batch.toDomain()
		return Message{Type: TypeBatch, Batch: b, Skipped: skipped}, nil
	case TypeStatus:
		if env.Status == nil {
			return Message{}, fmt.Errorf("%w: status envelope without status", ErrBadMessage)
		}
		s, err := env.Status.toDomain()
		if err != nil {
			return Message{}, err
		}
		return Message{Type: TypeStatus, Status: s}, nil
	default:
		return Message{}, fmt.Errorf("%w: unknown type %q", ErrBadMessage, env.Type)
	}
}

// EncodeBatch converts a domain batch to its wire form. Payloads keyed by
// several company IDs become several advertisements. Zero times are omitted.
func EncodeBatch(b domainscan.Batch) WireBatch {
	wb := WireBatch{ReceivedAt: timePtr(b.ReceivedAt), Advertisements: make([]WireAdvertisement, 0, len(b.Observations))}
	for _, obs := range b.Observations {
		ids := make([]int, 0, len(obs.ManufacturerData))
		for id := range obs.ManufacturerData {
			ids = append(ids, int(id))
		}
		sort.Ints(ids)

		for _, id := range ids {
			wb.Advertisements = append(wb.Advertisements, WireAdvertisement{
				ManufacturerID: uint16(id),
				Data:           hex.EncodeToString(obs.ManufacturerData[uint16(id)]),
				RSSI:           obs.RSSI,
				SeenAt:         timePtr(obs.ObservedAt),
			})
		}
	}
	return wb
}

// NewWireStatus builds a status report stamped at t.
func NewWireStatus(kind domainscan.StatusKind, reason string, t time.Time) WireStatus {
	return WireStatus{Status: string(kind), Reason: reason, At: timePtr(t)}
}

func (wb WireBatch) toDomain() (domainscan.Batch, int) {
	received := timeOf(wb.ReceivedAt)
	b := domainscan.Batch{
		ReceivedAt:   received,
		Observations: make([]beacon.Observation, 0, len(wb.Advertisements)),
	}
	skipped := 0
	for _, adv := range wb.Advertisements {
		payload, err := hex.DecodeString(adv.Data)
		if err != nil {
			skipped++
			continue
		}
		seen := timeOf(adv.SeenAt)
		if seen.IsZero() {
			seen = received
		}
		obs := beacon.NewObservation(adv.ManufacturerID, payload, seen)
		obs.RSSI = adv.RSSI
		b.Observations = append(b.Observations, obs)
	}
	return b, skipped
}

func (ws WireStatus) toDomain() (domainscan.Status, error) {
	s := domainscan.Status{
		Kind:   domainscan.StatusKind(ws.Status),
		Reason: ws.Reason,
		At:     timeOf(ws.At),
	}
	if !s.Kind.IsValid() {
		return domainscan.Status{}, fmt.Errorf("%w: unknown status %q", ErrBadMessage, ws.Status)
	}
	return s, nil
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func timeOf(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

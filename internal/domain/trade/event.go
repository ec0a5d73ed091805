package trade

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// EventType describes a timeline entry.
type EventType string

const (
	EventTypeCreated                EventType = "TRADE_CREATED"
	EventTypeFieldSet               EventType = "FIELD_SET"
	EventTypeStageChanged           EventType = "STAGE_CHANGED"
	EventTypeEscrowLockSubmitted    EventType = "ESCROW_LOCK_SUBMITTED"
	EventTypeEscrowReleaseSubmitted EventType = "ESCROW_RELEASE_SUBMITTED"
)

// Event is an append-only, hash-chained record of one committed mutation.
type Event struct {
	ID        int64           `json:"id"`
	EventID   uuid.UUID       `json:"eventId"`
	SessionID uuid.UUID       `json:"sessionId"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	FromStage *Stage          `json:"fromStage,omitempty"`
	ToStage   *Stage          `json:"toStage,omitempty"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	PrevHash  string          `json:"prevHash,omitempty"`
	Hash      string          `json:"hash"`
	CreatedAt time.Time       `json:"createdAt"`
}

// NewEvent builds an unsealed event.
func NewEvent(sessionID uuid.UUID, typ EventType, actor string, payload map[string]interface{}, at time.Time) (*Event, error) {
	ev := &Event{
		EventID:   uuid.New(),
		SessionID: sessionID,
		Type:      typ,
		Actor:     actor,
		CreatedAt: at.UTC().Truncate(time.Microsecond),
	}
	if len(payload) > 0 {
		b, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal event payload: %w", err)
		}
		ev.Payload = b
	}
	return ev, nil
}

// WithStages records a stage change on the event.
func (e *Event) WithStages(from, to Stage) *Event {
	e.FromStage = &from
	e.ToStage = &to
	return e
}

type hashInput struct {
	EventID   string          `json:"eventId"`
	SessionID string          `json:"sessionId"`
	Seq       int64           `json:"seq"`
	Type      EventType       `json:"type"`
	FromStage *Stage          `json:"fromStage,omitempty"`
	ToStage   *Stage          `json:"toStage,omitempty"`
	Actor     string          `json:"actor"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	PrevHash  string          `json:"prevHash"`
	CreatedAt string          `json:"createdAt"`
}

// ComputeHash returns the BLAKE2b-256 digest over the event content and the
// previous link.
func (e *Event) ComputeHash() (string, error) {
	in := hashInput{
		EventID:   e.EventID.String(),
		SessionID: e.SessionID.String(),
		Seq:       e.Seq,
		Type:      e.Type,
		FromStage: e.FromStage,
		ToStage:   e.ToStage,
		Actor:     e.Actor,
		Payload:   compactJSON(e.Payload),
		PrevHash:  e.PrevHash,
		CreatedAt: e.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	data, err := json.Marshal(in)
	if err != nil {
		return "", err
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// Seal links the event after prev (nil for the first event) and sets its hash.
func (e *Event) Seal(prev *Event) error {
	if prev == nil {
		e.Seq = 1
		e.PrevHash = ""
	} else {
		e.Seq = prev.Seq + 1
		e.PrevHash = prev.Hash
	}
	h, err := e.ComputeHash()
	if err != nil {
		return err
	}
	e.Hash = h
	return nil
}

// VerifyChain checks a session's events, ordered by Seq, starting at Seq 1.
func VerifyChain(events []*Event) error {
	var prev *Event
	for _, ev := range events {
		if prev == nil && ev.Seq != 1 {
			return fmt.Errorf("timeline starts at seq %d", ev.Seq)
		}
		if prev != nil {
			if ev.Seq != prev.Seq+1 {
				return fmt.Errorf("timeline gap after seq %d", prev.Seq)
			}
			if ev.PrevHash != prev.Hash {
				return fmt.Errorf("timeline link broken at seq %d", ev.Seq)
			}
		}
		h, err := ev.ComputeHash()
		if err != nil {
			return err
		}
		if h != ev.Hash {
			return fmt.Errorf("timeline hash mismatch at seq %d", ev.Seq)
		}
		prev = ev
	}
	return nil
}

// Postgres jsonb reorders keys, so hashing works on a canonical form.
func compactJSON(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		return raw
	}
	return b
}

// CreatedEvent is the first timeline entry of a session.
func CreatedEvent(s *Session, actor string) (*Event, error) {
	ev, err := NewEvent(s.SessionID, EventTypeCreated, actor, map[string]interface{}{
		"listingId":  s.ListingID.String(),
		"vendorId":   s.VendorID.String(),
		"customerId": s.CustomerID.String(),
		"onChain":    s.OnChain,
	}, s.CreatedAt)
	if err != nil {
		return nil, err
	}
	st := s.Stage
	ev.ToStage = &st
	return ev, nil
}

// StageChangedEvent records a committed transition.
func StageChangedEvent(sessionID uuid.UUID, from, to Stage, change StageChange) (*Event, error) {
	payload := map[string]interface{}{"trigger": string(change.Trigger)}
	if change.Details != nil {
		for k, v := range change.Details.Payload() {
			payload[k] = v
		}
	}
	ev, err := NewEvent(sessionID, EventTypeStageChanged, change.Actor, payload, change.At)
	if err != nil {
		return nil, err
	}
	return ev.WithStages(from, to), nil
}

// FieldSetEvent records a committed field write.
func FieldSetEvent(sessionID uuid.UUID, w FieldWrite, actor string, at time.Time) (*Event, error) {
	return NewEvent(sessionID, EventTypeFieldSet, actor, w.Payload(), at)
}

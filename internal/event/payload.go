package event

import (
	"encoding/json"
	"fmt"

	"github.com/trialware/diarysync/internal/common"
)

// Payload is a typed event payload. Validate is called after decoding and
// before any payload is accepted for append or projection.
type Payload interface {
	Validate() error
}

// EntryCreatedV1 is the original diary entry shape. Severity is on the
// 1–5 scale that was retired with schema version 2.
type EntryCreatedV1 struct {
	EntryDate string `json:"entry_date"`
	Symptom   string `json:"symptom"`
	Severity  int    `json:"severity"`
	Notes     string `json:"notes,omitempty"`
}

func (p *EntryCreatedV1) Validate() error {
	if p.EntryDate == "" || p.Symptom == "" {
		return fmt.Errorf("%w: entry_date and symptom are required", common.ErrValidation)
	}
	if p.Severity < 1 || p.Severity > 5 {
		return fmt.Errorf("%w: severity %d outside 1..5", common.ErrValidation, p.Severity)
	}
	return nil
}

// EntryCreatedV2 widens the severity scale to 0–10.
type EntryCreatedV2 struct {
	EntryDate string `json:"entry_date"`
	Symptom   string `json:"symptom"`
	Severity  int    `json:"severity"`
	Notes     string `json:"notes,omitempty"`
}

func (p *EntryCreatedV2) Validate() error {
	if p.EntryDate == "" || p.Symptom == "" {
		return fmt.Errorf("%w: entry_date and symptom are required", common.ErrValidation)
	}
	if p.Severity < 0 || p.Severity > 10 {
		return fmt.Errorf("%w: severity %d outside 0..10", common.ErrValidation, p.Severity)
	}
	return nil
}

// EntryAmendedV1 changes selected fields of an existing entry. Nil pointers
// leave the field untouched. Reason documents why the entry was amended.
type EntryAmendedV1 struct {
	Symptom  *string `json:"symptom,omitempty"`
	Severity *int    `json:"severity,omitempty"`
	Notes    *string `json:"notes,omitempty"`
	Reason   string  `json:"reason"`
}

func (p *EntryAmendedV1) Validate() error {
	if p.Symptom == nil && p.Severity == nil && p.Notes == nil {
		return fmt.Errorf("%w: amendment changes nothing", common.ErrValidation)
	}
	if p.Severity != nil && (*p.Severity < 0 || *p.Severity > 10) {
		return fmt.Errorf("%w: severity %d outside 0..10", common.ErrValidation, *p.Severity)
	}
	if p.Reason == "" {
		return fmt.Errorf("%w: amendment reason is required", common.ErrValidation)
	}
	return nil
}

// EntrySupersededV1 retains a rejected conflict branch. The superseded
// event stays in the log forever; this event records which branch won.
type EntrySupersededV1 struct {
	SupersededEventID string          `json:"superseded_event_id"`
	ChosenEventID     string          `json:"chosen_event_id"`
	RejectedPayload   json.RawMessage `json:"rejected_payload,omitempty"`
	Reason            string          `json:"reason,omitempty"`
}

func (p *EntrySupersededV1) Validate() error {
	if p.SupersededEventID == "" || p.ChosenEventID == "" {
		return fmt.Errorf("%w: superseded and chosen event ids are required", common.ErrValidation)
	}
	return nil
}

// RecordLockedV1 freezes a record against further patient edits.
type RecordLockedV1 struct {
	Reason string `json:"reason"`
}

func (p *RecordLockedV1) Validate() error {
	if p.Reason == "" {
		return fmt.Errorf("%w: lock reason is required", common.ErrValidation)
	}
	return nil
}

// RecordUnlockedV1 reopens a locked record after investigator review.
type RecordUnlockedV1 struct {
	Reason string `json:"reason"`
}

func (p *RecordUnlockedV1) Validate() error {
	if p.Reason == "" {
		return fmt.Errorf("%w: unlock reason is required", common.ErrValidation)
	}
	return nil
}

// AnnotationAddedV1 is a non-patient note attached to a record. Applying it
// sets the pending-acknowledgment flag on the record state.
type AnnotationAddedV1 struct {
	Text string `json:"text"`
}

func (p *AnnotationAddedV1) Validate() error {
	if p.Text == "" {
		return fmt.Errorf("%w: annotation text is required", common.ErrValidation)
	}
	return nil
}

// AnnotationAckedV1 is the patient's dismissal of an annotation
// notification. It is its own event so the acknowledgment is auditable.
type AnnotationAckedV1 struct {
	AnnotationEventID string `json:"annotation_event_id"`
}

func (p *AnnotationAckedV1) Validate() error {
	if p.AnnotationEventID == "" {
		return fmt.Errorf("%w: annotation_event_id is required", common.ErrValidation)
	}
	return nil
}

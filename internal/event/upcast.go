package event

import "fmt"

// UpcastFunc transforms a payload from one schema version to the next.
// Transforms are registered per (type, fromVersion) and chained by
// Registry.DecodeCurrent, so adding version N+1 only requires one new
// function from N.
type UpcastFunc func(Payload) (Payload, error)

// UpcastEntryCreatedV1 maps the retired 1–5 severity scale onto 0–10 by
// doubling, which preserves relative ordering and the scale maximum.
func UpcastEntryCreatedV1(p Payload) (Payload, error) {
	v1, ok := p.(*EntryCreatedV1)
	if !ok {
		return nil, fmt.Errorf("unexpected payload type %T", p)
	}
	return &EntryCreatedV2{
		EntryDate: v1.EntryDate,
		Symptom:   v1.Symptom,
		Severity:  v1.Severity * 2,
		Notes:     v1.Notes,
	}, nil
}

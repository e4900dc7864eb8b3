package conflict

import (
	"bytes"

	"github.com/trialware/diarysync/internal/event"
	"github.com/trialware/diarysync/internal/projection"
)

// Detector classifies inbound remote events against local state. It is
// pure: all inputs are arguments and the only output is a classification,
// so the policy table is testable without stores or networks.
type Detector struct{}

func NewDetector() *Detector {
	return &Detector{}
}

// Classify decides how an inbound remote event relates to the local
// replica. localVersion is the last sequence folded into local state (0 for
// a brand-new replica: a fresh device is just the degenerate fast-forward
// from zero). pendingLocal reports whether unsynced local edits exist for
// the aggregate.
func (d *Detector) Classify(localVersion int64, pendingLocal bool, remote *event.Event) Classification {
	if pendingLocal {
		return NonFastForward
	}
	if remote.ActorRole != event.RolePatient {
		return InvestigatorPush
	}
	return FastForward
}

// LockedMismatch reports whether two replicas of a locked record hold
// different data at the same version. Metadata (pending-ack flag, last
// event id bookkeeping) is excluded; only the payload-derived data counts.
// A true result is an integrity alert: the divergence has no explaining
// event, so it must not be merged silently.
func (d *Detector) LockedMismatch(local, remote *projection.RecordState) bool {
	if local == nil || remote == nil {
		return false
	}
	if local.Status != projection.StatusLocked {
		return false
	}
	if local.Version != remote.Version {
		return false
	}
	localData, err := canonicalData(local)
	if err != nil {
		return true
	}
	remoteData, err := canonicalData(remote)
	if err != nil {
		return true
	}
	return !bytes.Equal(localData, remoteData)
}

func canonicalData(s *projection.RecordState) ([]byte, error) {
	c := s.Clone()
	c.PendingAck = false
	c.LastEventID = ""
	return c.CanonicalBytes()
}

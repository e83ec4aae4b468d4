// Package session defines the linked-device session aggregate.
//
// There is exactly one Session per process. It tracks whether the chat
// transport is linked and ready, and the pairing code currently waiting to
// be scanned. The aggregate itself is not safe for concurrent use; the
// application layer serializes every transition.
package session

import (
	"time"

	"github.com/DanielVega-Smll94/whatsapp-service/pkg/domain"
)

// State is the lifecycle state of the session.
type State string

const (
	StateUnlinked      State = "unlinked"
	StateAwaitingScan  State = "awaiting_scan"
	StateAuthenticated State = "authenticated"
	StateReady         State = "ready"
	StateDisconnected  State = "disconnected"
)

func (s State) String() string { return string(s) }

// Readiness triggers. All of them converge on the same transition.
const (
	TriggerReadyEvent   = "ready_event"
	TriggerStateChanged = "state_changed"
	TriggerWatchdog     = "watchdog"
)

// Status is a point-in-time snapshot of the session.
//
// IsReady and PendingPairingCode are mutually exclusive in steady state but
// may briefly overlap while the transport races a reconnect.
type Status struct {
	State              State     `json:"state"`
	IsReady            bool      `json:"is_ready"`
	PendingPairingCode string    `json:"pending_pairing_code,omitempty"`
	LastUpdated        time.Time `json:"last_updated"`
}

// HasPairingCode reports whether a pairing code is waiting to be scanned.
func (s Status) HasPairingCode() bool { return s.PendingPairingCode != "" }

// ---------------------------------------------------------------------------
// Session aggregate root
// ---------------------------------------------------------------------------

// Session is the aggregate root for the linked-device lifecycle.
type Session struct {
	domain.AggregateRoot

	state       State
	ready       bool
	pairingCode string
	updatedAt   domain.Timestamp
}

// New creates a session in the Unlinked state.
func New() *Session {
	s := &Session{
		state:     StateUnlinked,
		updatedAt: domain.Now(),
	}
	s.SetID(domain.NewID())
	return s
}

// Status returns a copy of the current state.
func (s *Session) Status() Status {
	return Status{
		State:              s.state,
		IsReady:            s.ready,
		PendingPairingCode: s.pairingCode,
		LastUpdated:        s.updatedAt.Time,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// IsReady reports whether sends are permitted.
func (s *Session) IsReady() bool { return s.ready }

// IssuePairingCode stores a freshly issued pairing code. Valid from any state.
func (s *Session) IssuePairingCode(code string) {
	s.state = StateAwaitingScan
	s.pairingCode = code
	s.ready = false
	s.touch()
	s.RecordEvent(domain.NewEvent(domain.EventPairingCodeIssued, s.ID(), map[string]string{
		"qr": code,
	}))
}

// Authenticate records that credentials were accepted. It returns false when
// the session is already Ready, in which case nothing changes and no
// recovery watchdog is needed.
func (s *Session) Authenticate() bool {
	if s.state == StateReady {
		return false
	}
	s.state = StateAuthenticated
	s.touch()
	s.RecordEvent(domain.NewEvent(domain.EventAuthenticated, s.ID(), nil))
	return true
}

// MarkReady moves the session to Ready. It returns true when the session was
// not ready before; repeated corroborating signals are absorbed silently.
func (s *Session) MarkReady(trigger string) bool {
	changed := !s.ready || s.state != StateReady
	s.state = StateReady
	s.ready = true
	s.pairingCode = ""
	s.touch()
	if changed {
		s.RecordEvent(domain.NewEvent(domain.EventSessionReady, s.ID(), map[string]string{
			"trigger": trigger,
		}))
	}
	return changed
}

// MarkDisconnected drops readiness and any pending pairing code.
func (s *Session) MarkDisconnected(reason string) {
	s.state = StateDisconnected
	s.ready = false
	s.pairingCode = ""
	s.touch()
	s.RecordEvent(domain.NewEvent(domain.EventDisconnected, s.ID(), map[string]string{
		"reason": reason,
	}))
}

// FailAuth returns the session to Unlinked after the transport rejected its
// credentials. A pending pairing code is kept, it may still be scannable.
func (s *Session) FailAuth(reason string) {
	s.state = StateUnlinked
	s.ready = false
	s.touch()
	s.RecordEvent(domain.NewEvent(domain.EventAuthFailed, s.ID(), map[string]string{
		"reason": reason,
	}))
}

func (s *Session) touch() {
	s.updatedAt = domain.Now()
}

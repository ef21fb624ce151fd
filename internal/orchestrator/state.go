package orchestrator

import "github.com/ppiankov/proofpack/internal/model"

// State is one step of the per-entity capture state machine
type State int

const (
	StateStart State = iota
	StateNavigateHome
	StateCaptureAttendance
	StateCaptureContact
	StateResolveConfirmation
	StateResolveInvoice
	StateCaptureTicketEmail
	StateCaptureQR
	StateDone
)

var stateNames = [...]string{
	StateStart:               "start",
	StateNavigateHome:        "navigate_home",
	StateCaptureAttendance:   "capture_attendance",
	StateCaptureContact:      "capture_contact",
	StateResolveConfirmation: "resolve_confirmation",
	StateResolveInvoice:      "resolve_invoice",
	StateCaptureTicketEmail:  "capture_ticket_email",
	StateCaptureQR:           "capture_qr",
	StateDone:                "done",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// Next returns the unconditional successor of s
func (s State) Next() State {
	if s >= StateDone {
		return StateDone
	}
	return s + 1
}

// Kind returns the evidence kind captured in s
func (s State) Kind() (model.EvidenceKind, bool) {
	switch s {
	case StateCaptureAttendance:
		return model.KindAttendance, true
	case StateCaptureContact:
		return model.KindContact, true
	case StateResolveConfirmation:
		return model.KindConfirmation, true
	case StateResolveInvoice:
		return model.KindInvoice, true
	case StateCaptureTicketEmail:
		return model.KindTicketEmail, true
	case StateCaptureQR:
		return model.KindQRCode, true
	default:
		return "", false
	}
}

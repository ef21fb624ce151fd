package model

import "fmt"

// EvidenceKind is one of the six fixed evidence categories
type EvidenceKind string

const (
	KindAttendance   EvidenceKind = "attendance"
	KindContact      EvidenceKind = "contact"
	KindConfirmation EvidenceKind = "confirmation"
	KindInvoice      EvidenceKind = "invoice"
	KindTicketEmail  EvidenceKind = "ticket_email"
	KindQRCode       EvidenceKind = "qr_code"
)

// CaptureOrder is the order in which kinds are attempted
var CaptureOrder = []EvidenceKind{
	KindAttendance,
	KindContact,
	KindConfirmation,
	KindInvoice,
	KindTicketEmail,
	KindQRCode,
}

// Ordinal is the fixed two-digit file prefix for the kind
func (k EvidenceKind) Ordinal() int {
	switch k {
	case KindAttendance:
		return 1
	case KindContact:
		return 2
	case KindTicketEmail:
		return 3
	case KindQRCode:
		return 4
	case KindConfirmation:
		return 5
	case KindInvoice:
		return 6
	default:
		return 0
	}
}

// Label is the file-name label for the kind
func (k EvidenceKind) Label() string {
	switch k {
	case KindAttendance:
		return "Attendance"
	case KindContact:
		return "Contact"
	case KindTicketEmail:
		return "TicketEmail"
	case KindQRCode:
		return "QRCode"
	case KindConfirmation:
		return "Confirmation"
	case KindInvoice:
		return "Invoice"
	default:
		return "Unknown"
	}
}

// FileBase returns "<id>__<NN>_<Label>", the artifact name without extension
func (k EvidenceKind) FileBase(entityID string) string {
	return fmt.Sprintf("%s__%02d_%s", entityID, k.Ordinal(), k.Label())
}

// ArtifactStatus is the outcome of one evidence capture
type ArtifactStatus string

const (
	StatusCaptured ArtifactStatus = "captured" // Primary targeted method succeeded
	StatusDegraded ArtifactStatus = "degraded" // A fallback strategy produced the file
	StatusMissing  ArtifactStatus = "missing"  // Nothing could be captured
)

// EvidenceArtifact is one captured file. Never mutated after creation.
type EvidenceArtifact struct {
	Kind         EvidenceKind   `json:"kind"`
	Status       ArtifactStatus `json:"status"`
	FilePath     string         `json:"file_path,omitempty"`
	DocumentPath string         `json:"document_path,omitempty"` // Paginated (PDF) sibling
	Strategy     string         `json:"strategy,omitempty"`      // Fallback step that produced the file
	Note         string         `json:"note,omitempty"`
}

// Missing builds a missing artifact record with a reason
func Missing(kind EvidenceKind, note string) EvidenceArtifact {
	return EvidenceArtifact{
		Kind:   kind,
		Status: StatusMissing,
		Note:   note,
	}
}

// Degrade returns a copy of the artifact marked degraded. Missing stays missing.
func (a EvidenceArtifact) Degrade(note string) EvidenceArtifact {
	if a.Status == StatusMissing {
		return a
	}
	a.Status = StatusDegraded
	if note != "" {
		if a.Note != "" {
			a.Note = a.Note + "; " + note
		} else {
			a.Note = note
		}
	}
	return a
}

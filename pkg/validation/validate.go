package validation

import (
	"fmt"

	"chatsync/pkg/models"
)

// ValidationError marks a malformed record or rule set. It is rejected
// locally and never surfaced to the user.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s %s", e.Field, e.Reason)
}

var validKinds = map[models.Kind]struct{}{
	models.KindText:   {},
	models.KindImage:  {},
	models.KindVoice:  {},
	models.KindVideo:  {},
	models.KindSystem: {},
}

// ValidateRecord checks the minimal well-formedness the canonical store
// requires before a record may mutate state.
func ValidateRecord(m models.MessageRecord) error {
	if m.ID == "" {
		return &ValidationError{Field: "id", Reason: "missing"}
	}
	if m.ChatID == "" {
		return &ValidationError{Field: "chat_id", Reason: "missing"}
	}
	if m.Kind != "" {
		if _, ok := validKinds[m.Kind]; !ok {
			return &ValidationError{Field: "kind", Reason: fmt.Sprintf("unknown %q", m.Kind)}
		}
	}
	if m.CreatedAt < 0 {
		return &ValidationError{Field: "created_at", Reason: "negative"}
	}
	return nil
}

// ValidateDraft checks an outgoing draft before a tentative record is
// synthesized from it.
func ValidateDraft(d models.Draft) error {
	if d.ChatID == "" {
		return &ValidationError{Field: "chat_id", Reason: "missing"}
	}
	if d.SenderID == "" {
		return &ValidationError{Field: "sender_id", Reason: "missing"}
	}
	if d.Kind == models.KindText && d.Content == "" {
		return &ValidationError{Field: "content", Reason: "empty text"}
	}
	return nil
}

// ValidateEvent checks a raw change notification before classification.
func ValidateEvent(ev models.ChangeEvent) error {
	if ev.ChatID == "" {
		return &ValidationError{Field: "chat_id", Reason: "missing"}
	}
	if ev.RecordID == "" {
		return &ValidationError{Field: "record_id", Reason: "missing"}
	}
	switch ev.Table {
	case models.TableMessage, models.TableReaction:
	default:
		return &ValidationError{Field: "table", Reason: fmt.Sprintf("unknown %q", ev.Table)}
	}
	switch ev.Op {
	case models.OpInsert, models.OpUpdate, models.OpDelete:
	default:
		return &ValidationError{Field: "op", Reason: fmt.Sprintf("unknown %q", ev.Op)}
	}
	return nil
}

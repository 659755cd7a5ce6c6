package models

import "strings"

// Kind enumerates the payload kinds a message record can carry.
type Kind string

const (
	KindText   Kind = "text"
	KindImage  Kind = "image"
	KindVoice  Kind = "voice"
	KindVideo  Kind = "video"
	KindSystem Kind = "system"
)

// TentativeIDPrefix marks client-issued ids for not-yet-confirmed writes.
// Server-issued ids never carry this prefix, so a tentative id cannot
// collide with a confirmed one.
const TentativeIDPrefix = "optimistic-"

// Reaction is a single emoji reaction attached to a message.
type Reaction struct {
	ID        string `json:"id"`
	Emoji     string `json:"emoji"`
	ReactorID string `json:"reactor_id"`
}

// TagKind classifies an AI-derived tag.
type TagKind string

const (
	TagTopic     TagKind = "topic"
	TagEntity    TagKind = "entity"
	TagSentiment TagKind = "sentiment"
)

// Tag is a classification label attached by an external classifier.
type Tag struct {
	Kind  TagKind `json:"kind"`
	Value string  `json:"value"`
}

// MessageRecord is the canonical shape of one timeline entry. SenderID is
// empty and AgentID set when the message came from an automated sender.
type MessageRecord struct {
	ID           string            `json:"id"`
	ChatID       string            `json:"chat_id"`
	SenderID     string            `json:"sender_id,omitempty"`
	AgentID      string            `json:"agent_id,omitempty"`
	Kind         Kind              `json:"kind"`
	Content      string            `json:"content,omitempty"`
	CreatedAt    int64             `json:"created_at"` // unix nanos, authoritative ordering key
	EditedAt     int64             `json:"edited_at,omitempty"`
	Retracted    bool              `json:"retracted,omitempty"`
	Reactions    []Reaction        `json:"reactions,omitempty"`
	ReplyToID    string            `json:"reply_to_id,omitempty"`
	MentionedIDs []string          `json:"mentioned_ids,omitempty"`
	Tags         []Tag             `json:"tags,omitempty"`
	Attachment   map[string]string `json:"attachment,omitempty"`
	// ThreadHint is a cosmetic mood tag; never used for ordering or
	// filtering.
	ThreadHint string `json:"thread_hint,omitempty"`
}

// Tentative reports whether the record is a client-synthesized entry
// awaiting server confirmation.
func (m MessageRecord) Tentative() bool {
	return strings.HasPrefix(m.ID, TentativeIDPrefix)
}

// FromAgent reports whether the record is attributable to an automated
// sender.
func (m MessageRecord) FromAgent() bool {
	return m.SenderID == "" && m.AgentID != ""
}

// Before reports whether m precedes other in the newest-first timeline
// order: CreatedAt descending, ties broken by id so the order is stable.
func (m MessageRecord) Before(other MessageRecord) bool {
	if m.CreatedAt != other.CreatedAt {
		return m.CreatedAt > other.CreatedAt
	}
	return m.ID < other.ID
}

// Clone returns a deep copy so callers can patch a record without
// aliasing slices held by the canonical store.
func (m MessageRecord) Clone() MessageRecord {
	out := m
	if m.Reactions != nil {
		out.Reactions = append([]Reaction(nil), m.Reactions...)
	}
	if m.MentionedIDs != nil {
		out.MentionedIDs = append([]string(nil), m.MentionedIDs...)
	}
	if m.Tags != nil {
		out.Tags = append([]Tag(nil), m.Tags...)
	}
	if m.Attachment != nil {
		out.Attachment = make(map[string]string, len(m.Attachment))
		for k, v := range m.Attachment {
			out.Attachment[k] = v
		}
	}
	return out
}

// Page is the shape the backend returns for one history window.
type Page struct {
	Messages   []MessageRecord `json:"messages"`
	HasMore    bool            `json:"has_more"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Draft holds the user-supplied fields of an outgoing message.
type Draft struct {
	ChatID     string            `json:"chat_id"`
	SenderID   string            `json:"sender_id"`
	Kind       Kind              `json:"kind"`
	Content    string            `json:"content,omitempty"`
	ReplyToID  string            `json:"reply_to_id,omitempty"`
	Attachment map[string]string `json:"attachment,omitempty"`
}

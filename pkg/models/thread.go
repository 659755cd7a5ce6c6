package models

// Thread is a named, rule-defined filtered view over one chat's timeline.
type Thread struct {
	ID     string      `json:"id"`
	ChatID string      `json:"chat_id"`
	Title  string      `json:"title,omitempty"`
	Rules  ThreadRules `json:"rules"`
	// Created timestamp (ns)
	CreatedTS int64 `json:"created_ts,omitempty"`
}

// ThreadRules is a set of optional predicate groups. Absent groups impose
// no constraint; configured groups are AND-ed together.
type ThreadRules struct {
	// Keywords match case-insensitively as substrings of content;
	// any single match satisfies the group.
	Keywords []string `json:"keywords,omitempty"`
	// ParticipantIDs restricts the sender.
	ParticipantIDs []string `json:"participant_ids,omitempty"`
	// DateRange bounds CreatedAt, inclusive. Zero means unbounded.
	After  int64 `json:"after,omitempty"`
	Before int64 `json:"before,omitempty"`
	// AI-tag predicates: a record must carry at least one tag satisfying
	// each configured group. Records with no tags are excluded whenever
	// any of these is configured.
	Topics    []string `json:"topics,omitempty"`
	Entities  []string `json:"entities,omitempty"`
	Sentiment []string `json:"sentiment,omitempty"`
}

// Empty reports whether no predicate group is configured.
func (r ThreadRules) Empty() bool {
	return len(r.Keywords) == 0 && len(r.ParticipantIDs) == 0 &&
		r.After == 0 && r.Before == 0 &&
		len(r.Topics) == 0 && len(r.Entities) == 0 && len(r.Sentiment) == 0
}

// ChangeTable identifies which backend table a change event refers to.
type ChangeTable string

const (
	TableMessage  ChangeTable = "message"
	TableReaction ChangeTable = "reaction"
)

// ChangeOp identifies the row-level operation of a change event.
type ChangeOp string

const (
	OpInsert ChangeOp = "insert"
	OpUpdate ChangeOp = "update"
	OpDelete ChangeOp = "delete"
)

// ChangeEvent is a raw push notification describing a row-level change.
// Payloads are not assumed to carry denormalized fields; consumers
// re-fetch the full record by id.
type ChangeEvent struct {
	Table    ChangeTable `json:"table"`
	Op       ChangeOp    `json:"op"`
	ChatID   string      `json:"chat_id"`
	RecordID string      `json:"record_id"`
	// MessageID is set on reaction events and names the owning message.
	MessageID string `json:"message_id,omitempty"`
	// AgentID is set when the change was produced by an automated sender.
	AgentID string `json:"agent_id,omitempty"`
}

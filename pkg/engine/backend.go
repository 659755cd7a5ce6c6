package engine

import (
	"context"

	"chatsync/pkg/models"
)

// Backend is the remote collaborator contract the engine consumes.
// pkg/client implements it over HTTP; tests substitute fakes.
type Backend interface {
	// FetchPage returns one history window. An empty cursor means the
	// newest page; otherwise cursor must come from the previous call.
	FetchPage(ctx context.Context, chatID, userID, cursor string) (*models.Page, error)
	// FetchMessage hydrates a full record by id.
	FetchMessage(ctx context.Context, id string) (models.MessageRecord, error)
	// SendMessage confirms a draft with a server-issued id.
	SendMessage(ctx context.Context, draft models.Draft) (models.MessageRecord, error)
	// EditMessage replaces content and returns the refreshed record.
	EditMessage(ctx context.Context, id, content string) (models.MessageRecord, error)
	// DeleteMessage retracts a message.
	DeleteMessage(ctx context.Context, id string) error
	// AddReaction attaches a reaction and returns the refreshed record.
	AddReaction(ctx context.Context, messageID, emoji, reactorID string) (models.MessageRecord, error)
	// RemoveReaction detaches a reaction and returns the refreshed record.
	RemoveReaction(ctx context.Context, messageID, reactionID string) (models.MessageRecord, error)
}

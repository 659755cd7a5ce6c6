package utils

import (
	"github.com/google/uuid"

	"chatsync/pkg/models"
)

// GenMessageID returns a server-style message id.
func GenMessageID() string {
	return "m-" + uuid.NewString()
}

// GenReactionID returns a server-style reaction id.
func GenReactionID() string {
	return "r-" + uuid.NewString()
}

// GenTentativeID returns a client-issued id for an optimistic write. The
// prefix keeps it disjoint from every server-issued id.
func GenTentativeID() string {
	return models.TentativeIDPrefix + uuid.NewString()
}

package threads

import (
	"encoding/json"

	"chatsync/pkg/logger"
	"chatsync/pkg/models"
)

// ParseRules decodes a persisted rule set. Malformed rules degrade to "no
// filtering": excluding a thread's content entirely is a worse failure
// than over-inclusion.
func ParseRules(raw []byte) models.ThreadRules {
	if len(raw) == 0 {
		return models.ThreadRules{}
	}
	var rules models.ThreadRules
	if err := json.Unmarshal(raw, &rules); err != nil {
		logger.Warn("thread_rules_unparsable", "error", err)
		return models.ThreadRules{}
	}
	if rules.After != 0 && rules.Before != 0 && rules.After > rules.Before {
		logger.Warn("thread_rules_inverted_range", "after", rules.After, "before", rules.Before)
		return models.ThreadRules{}
	}
	return rules
}

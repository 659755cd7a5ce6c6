// Package threads derives rule-defined sub-views ("topic threads") of a
// chat's canonical timeline. Filtering is a pure projection: it never
// mutates its input and never synthesizes records of its own.
package threads

import (
	"strings"

	"chatsync/pkg/models"
)

// Filter returns the subset of records satisfying every configured
// predicate group of rules, preserving input order. Absent groups impose
// no constraint; an empty rule set returns a copy of the input.
func Filter(records []models.MessageRecord, rules models.ThreadRules) []models.MessageRecord {
	out := make([]models.MessageRecord, 0, len(records))
	for _, r := range records {
		if Matches(r, rules) {
			out = append(out, r)
		}
	}
	return out
}

// Matches reports whether a single record satisfies the rule set.
func Matches(r models.MessageRecord, rules models.ThreadRules) bool {
	if len(rules.Keywords) > 0 && !matchKeywords(r, rules.Keywords) {
		return false
	}
	if len(rules.ParticipantIDs) > 0 && !containsFold(rules.ParticipantIDs, r.SenderID) {
		return false
	}
	if rules.After != 0 && r.CreatedAt < rules.After {
		return false
	}
	if rules.Before != 0 && r.CreatedAt > rules.Before {
		return false
	}
	if len(rules.Topics) > 0 && !matchTags(r.Tags, models.TagTopic, rules.Topics) {
		return false
	}
	if len(rules.Entities) > 0 && !matchTags(r.Tags, models.TagEntity, rules.Entities) {
		return false
	}
	if len(rules.Sentiment) > 0 && !matchTags(r.Tags, models.TagSentiment, rules.Sentiment) {
		return false
	}
	return true
}

// matchKeywords is an any-match over case-insensitive substrings of
// content. Records without content never match.
func matchKeywords(r models.MessageRecord, kws []string) bool {
	if r.Content == "" {
		return false
	}
	content := strings.ToLower(r.Content)
	for _, kw := range kws {
		if kw == "" {
			continue
		}
		if strings.Contains(content, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

// matchTags requires at least one tag of the given kind whose value is in
// wanted. A record with no tags is excluded whenever a tag predicate is
// configured.
func matchTags(tags []models.Tag, kind models.TagKind, wanted []string) bool {
	if len(tags) == 0 {
		return false
	}
	for _, tg := range tags {
		if tg.Kind != kind {
			continue
		}
		if containsFold(wanted, tg.Value) {
			return true
		}
	}
	return false
}

func containsFold(set []string, v string) bool {
	for _, s := range set {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

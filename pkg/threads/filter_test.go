package threads

import (
	"reflect"
	"testing"

	"chatsync/pkg/models"
)

func msg(id, sender, content string, ts int64, tags ...models.Tag) models.MessageRecord {
	return models.MessageRecord{
		ID: id, ChatID: "c1", SenderID: sender, Kind: models.KindText,
		Content: content, CreatedAt: ts, Tags: tags,
	}
}

func ids(recs []models.MessageRecord) []string {
	out := make([]string, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.ID)
	}
	return out
}

func TestFilterKeywordAndParticipant(t *testing.T) {
	records := []models.MessageRecord{
		msg("m1", "alice", "the deployment failed", 400),
		msg("m2", "bob", "Deployment is green", 300),
		msg("m3", "alice", "lunch?", 200),
		msg("m4", "alice", "rolling back the deployment", 100),
	}
	rules := models.ThreadRules{
		Keywords:       []string{"deployment"},
		ParticipantIDs: []string{"alice"},
	}
	got := ids(Filter(records, rules))
	want := []string{"m1", "m4"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestFilterKeywordsAreCaseInsensitiveAnyMatch(t *testing.T) {
	records := []models.MessageRecord{
		msg("m1", "a", "URGENT: disk full", 300),
		msg("m2", "a", "all quiet", 200),
		msg("m3", "a", "please review", 100),
	}
	rules := models.ThreadRules{Keywords: []string{"urgent", "review"}}
	got := ids(Filter(records, rules))
	if !reflect.DeepEqual(got, []string{"m1", "m3"}) {
		t.Fatalf("unexpected keyword matches: %v", got)
	}
}

func TestFilterContentlessRecordsNeverMatchKeywords(t *testing.T) {
	img := msg("m1", "a", "", 100)
	img.Kind = models.KindImage
	if Matches(img, models.ThreadRules{Keywords: []string{"photo"}}) {
		t.Fatalf("record without content matched a keyword rule")
	}
}

func TestFilterDateRangeInclusive(t *testing.T) {
	records := []models.MessageRecord{
		msg("m1", "a", "x", 400),
		msg("m2", "a", "x", 300),
		msg("m3", "a", "x", 200),
		msg("m4", "a", "x", 100),
	}
	got := ids(Filter(records, models.ThreadRules{After: 200, Before: 300}))
	if !reflect.DeepEqual(got, []string{"m2", "m3"}) {
		t.Fatalf("expected inclusive bounds [m2 m3], got %v", got)
	}
}

func TestFilterTagPredicates(t *testing.T) {
	records := []models.MessageRecord{
		msg("m1", "a", "x", 300, models.Tag{Kind: models.TagTopic, Value: "infra"}),
		msg("m2", "a", "x", 200, models.Tag{Kind: models.TagSentiment, Value: "infra"}),
		msg("m3", "a", "x", 100), // untagged
	}
	got := ids(Filter(records, models.ThreadRules{Topics: []string{"infra"}}))
	if !reflect.DeepEqual(got, []string{"m1"}) {
		t.Fatalf("tag kind must be honored; got %v", got)
	}
}

func TestFilterUntaggedExcludedByTagRules(t *testing.T) {
	plain := msg("m1", "a", "x", 100)
	if Matches(plain, models.ThreadRules{Sentiment: []string{"positive"}}) {
		t.Fatalf("untagged record matched a tag predicate")
	}
}

func TestFilterEmptyRulesPassEverything(t *testing.T) {
	records := []models.MessageRecord{
		msg("m1", "a", "x", 300),
		msg("m2", "b", "", 200),
	}
	got := Filter(records, models.ThreadRules{})
	if len(got) != 2 {
		t.Fatalf("empty rules should pass all records, got %d", len(got))
	}
}

func TestFilterPreservesOrderAndInput(t *testing.T) {
	records := []models.MessageRecord{
		msg("m1", "a", "keep one", 300),
		msg("m2", "b", "drop", 200),
		msg("m3", "a", "keep two", 100),
	}
	before := ids(records)
	got := ids(Filter(records, models.ThreadRules{Keywords: []string{"keep"}}))
	if !reflect.DeepEqual(got, []string{"m1", "m3"}) {
		t.Fatalf("order not preserved: %v", got)
	}
	if !reflect.DeepEqual(ids(records), before) {
		t.Fatalf("input mutated by filtering")
	}
}

func TestParseRulesMalformedDegradesToNoFilter(t *testing.T) {
	rules := ParseRules([]byte(`{not json`))
	if !rules.Empty() {
		t.Fatalf("malformed rules should degrade to empty, got %+v", rules)
	}
}

func TestParseRulesInvertedRangeDegradesToNoFilter(t *testing.T) {
	rules := ParseRules([]byte(`{"after": 500, "before": 100}`))
	if !rules.Empty() {
		t.Fatalf("inverted date range should degrade to empty, got %+v", rules)
	}
}

func TestParseRulesRoundTrip(t *testing.T) {
	rules := ParseRules([]byte(`{"keywords":["a"],"participant_ids":["u1"],"after":1,"before":9}`))
	if rules.Empty() || len(rules.Keywords) != 1 || rules.After != 1 || rules.Before != 9 {
		t.Fatalf("well-formed rules mangled: %+v", rules)
	}
}

package search

import (
	"testing"
	"time"

	"github.com/codebuildervaibhav/meeting-insights/internal/meeting"
)

func rec(id, filename, transcript string, createdAt time.Time) *meeting.Record {
	r := &meeting.Record{
		ID:        id,
		Filename:  filename,
		CreatedAt: createdAt,
	}
	if transcript != "" {
		r.Transcript = &transcript
	}
	return r
}

func ids(records []*meeting.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID
	}
	return out
}

func TestRank_EmptyQuery(t *testing.T) {
	records := []*meeting.Record{
		rec("m-1", "budget.wav", "quarterly budget review", time.Now()),
	}

	for _, q := range []string{"", "   ", "\t\n"} {
		if got := Rank(records, q); got != nil {
			t.Errorf("Rank(%q) = %v, want nil", q, ids(got))
		}
	}
}

func TestRank_MatchesTranscript(t *testing.T) {
	now := time.Now()
	records := []*meeting.Record{
		rec("m-budget", "standup.wav", "we went over the quarterly budget numbers", now),
		rec("m-hiring", "sync.wav", "pipeline for the two open engineering roles", now),
	}

	got := Rank(records, "budget")
	if len(got) != 1 || got[0].ID != "m-budget" {
		t.Fatalf("Rank(budget) = %v, want [m-budget]", ids(got))
	}
}

func TestRank_MatchesFilenameAndSummary(t *testing.T) {
	now := time.Now()
	byName := rec("m-name", "roadmap-review.mp3", "", now)
	bySummary := rec("m-summary", "rec001.wav", "", now)
	summary := "- agreed on the roadmap for Q3"
	bySummary.Summary = &summary

	got := Rank([]*meeting.Record{byName, bySummary}, "roadmap")
	if len(got) != 2 {
		t.Fatalf("Rank(roadmap) matched %d records, want 2", len(got))
	}
}

func TestRank_RelevanceOrder(t *testing.T) {
	now := time.Now()
	records := []*meeting.Record{
		rec("m-weak", "notes.wav", "budget mentioned once among many other unrelated topics covering planning hiring onboarding and infrastructure", now),
		rec("m-strong", "notes.wav", "budget budget budget", now),
	}

	got := Rank(records, "budget")
	if len(got) != 2 {
		t.Fatalf("matched %d records, want 2", len(got))
	}
	if got[0].ID != "m-strong" {
		t.Errorf("order = %v, want m-strong first", ids(got))
	}
}

func TestRank_TieBrokenByCreatedAtDesc(t *testing.T) {
	base := time.Now()
	older := rec("m-older", "budget.wav", "", base.Add(-time.Hour))
	newer := rec("m-newer", "budget.wav", "", base)

	got := Rank([]*meeting.Record{older, newer}, "budget")
	if len(got) != 2 {
		t.Fatalf("matched %d records, want 2", len(got))
	}
	if got[0].ID != "m-newer" || got[1].ID != "m-older" {
		t.Errorf("order = %v, want [m-newer m-older]", ids(got))
	}
}

func TestRank_SubstringTolerant(t *testing.T) {
	records := []*meeting.Record{
		rec("m-1", "standup.wav", "discussed the budgeting process", time.Now()),
	}

	// Trigram overlap lets a stem match an inflected form.
	got := Rank(records, "budget")
	if len(got) != 1 {
		t.Errorf("Rank(budget) against 'budgeting' matched %d, want 1", len(got))
	}
}

func TestRank_NoMatch(t *testing.T) {
	records := []*meeting.Record{
		rec("m-1", "standup.wav", "daily status updates", time.Now()),
	}

	if got := Rank(records, "zzzzqq"); len(got) != 0 {
		t.Errorf("Rank(zzzzqq) = %v, want empty", ids(got))
	}
}

func TestTrigrams_WordPadding(t *testing.T) {
	set := trigrams("cat")
	for _, g := range []string{"  c", " ca", "cat", "at "} {
		if !set[g] {
			t.Errorf("trigrams(cat) missing %q", g)
		}
	}
	if len(set) != 4 {
		t.Errorf("trigrams(cat) has %d grams, want 4", len(set))
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	a := trigrams("budget")
	if got := similarity(a, a); got != 1 {
		t.Errorf("similarity(a, a) = %v, want 1", got)
	}
	if got := similarity(a, trigrams("xyzzy")); got != 0 {
		t.Errorf("similarity of disjoint sets = %v, want 0", got)
	}
	if got := similarity(a, map[string]bool{}); got != 0 {
		t.Errorf("similarity with empty set = %v, want 0", got)
	}
}

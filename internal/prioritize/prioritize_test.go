package prioritize

import (
	"strings"
	"testing"
	"time"

	"github.com/TobiSchelling/ftdigest/internal/news"
	"github.com/TobiSchelling/ftdigest/internal/rules"
)

func ptr(s string) *string { return &s }

func tradeRules(t *testing.T) *rules.Set {
	t.Helper()
	set, err := rules.Parse([]byte(`
version: 1
rules:
  - {keyword: tariff, weight: 0.9, category: trade}
  - {keyword: eu, weight: 0.6, category: diplomacy}
  - {keyword: apple, weight: 0.3, category: technology}
`))
	if err != nil {
		t.Fatalf("parsing rules: %v", err)
	}
	return set
}

func TestScoreIsDeterministic(t *testing.T) {
	set := tradeRules(t)
	a := news.Article{
		Headline:   "EU tariff fight escalates",
		Standfirst: "Brussels weighs a response",
		FullText:   ptr("The tariff package surprised EU officials. Another tariff may follow."),
		Available:  true,
	}
	first := Score(a, set)
	for i := 0; i < 10; i++ {
		if got := Score(a, set); got != first {
			t.Fatalf("score changed on call %d: %v vs %v", i, got, first)
		}
	}
	if first <= 0 || first >= 1 {
		t.Errorf("expected score in (0,1), got %v", first)
	}
}

func TestScoreRangeAndZero(t *testing.T) {
	set := tradeRules(t)
	empty := news.Article{Headline: "Gardening tips for spring"}
	if got := Score(empty, set); got != 0 {
		t.Errorf("expected 0 for no matches, got %v", got)
	}

	// A body saturated with keywords stays below 1.
	loaded := news.Article{
		Headline: "tariff tariff tariff",
		FullText: ptr(strings.Repeat("tariff eu apple ", 500)),
	}
	if got := Score(loaded, set); got >= 1 {
		t.Errorf("expected score < 1, got %v", got)
	}
}

func TestScoreCountsWholeWordsCaseInsensitive(t *testing.T) {
	set := tradeRules(t)
	// "europe" and "pineapple" must not count for "eu" / "apple".
	a := news.Article{Headline: "Europe enjoys pineapple season"}
	if got := Score(a, set); got != 0 {
		t.Errorf("expected substrings not to match, got %v", got)
	}

	b := news.Article{Headline: "EU's Apple ruling lands"}
	if got := Score(b, set); got == 0 {
		t.Error("expected case-insensitive whole-word matches to count")
	}
}

// The weighted example from the scoring design: heavy tariff+EU coverage
// must outrank lighter tariff coverage padded with a low-weight keyword.
func TestTariffEUOutranksAppleTariff(t *testing.T) {
	set := tradeRules(t)
	a := news.Article{
		URL:      "https://news.example.com/content/a",
		Headline: "Trump 'not looking for deal' as he threatens EU with 50% tariff",
		FullText: ptr(strings.Repeat("tariff ", 5) + strings.Repeat("EU ", 4)),
	}
	b := news.Article{
		URL:      "https://news.example.com/content/b",
		Headline: "Trump threatens Apple and Samsung with 25% tariff",
		FullText: ptr(strings.Repeat("tariff ", 2) + strings.Repeat("Apple ", 5)),
	}

	scoreA, scoreB := Score(a, set), Score(b, set)
	if scoreA <= scoreB {
		t.Fatalf("expected A (%v) to score strictly higher than B (%v)", scoreA, scoreB)
	}

	ranked := Rank([]news.Article{b, a}, set)
	if ranked[0].URL != a.URL {
		t.Errorf("expected A ranked first, got %s", ranked[0].URL)
	}
}

func TestRankTieBreaksByDateThenURL(t *testing.T) {
	set := tradeRules(t)
	newer := time.Date(2025, 5, 23, 0, 0, 0, 0, time.UTC)
	older := time.Date(2025, 5, 20, 0, 0, 0, 0, time.UTC)

	articles := []news.Article{
		{URL: "https://n.example.com/c", Headline: "quiet day", Date: older},
		{URL: "https://n.example.com/a", Headline: "quiet day", Date: older},
		{URL: "https://n.example.com/b", Headline: "quiet day", Date: newer},
	}

	ranked := Rank(articles, set)
	want := []string{
		"https://n.example.com/b", // newest first
		"https://n.example.com/a", // then URL ascending
		"https://n.example.com/c",
	}
	for i, url := range want {
		if ranked[i].URL != url {
			t.Errorf("position %d: expected %s, got %s", i, url, ranked[i].URL)
		}
	}

	// Re-running on the same input yields the identical sequence.
	again := Rank(articles, set)
	for i := range ranked {
		if ranked[i].URL != again[i].URL {
			t.Fatalf("ranking not reproducible at position %d", i)
		}
	}
}

func TestRankPopulatesScoresWithoutMutatingInput(t *testing.T) {
	set := tradeRules(t)
	articles := []news.Article{{URL: "https://n.example.com/a", Headline: "EU tariff news"}}

	ranked := Rank(articles, set)
	if ranked[0].PriorityScore == nil {
		t.Fatal("expected ranked article to carry a score")
	}
	if articles[0].PriorityScore != nil {
		t.Error("input slice must not be mutated")
	}
}

func TestPaywalledArticleScoresOnMetadata(t *testing.T) {
	set := tradeRules(t)
	partial := news.Article{
		Headline:   "EU hits back with tariff list",
		Standfirst: "Brussels drafts tariff response",
		Available:  false,
	}
	if got := Score(partial, set); got == 0 {
		t.Error("expected partial record to score on headline and standfirst")
	}
}

func TestPhraseKeywordsMatchAsUnits(t *testing.T) {
	set, err := rules.Parse([]byte(`
version: 1
rules:
  - {keyword: "trade war", weight: 1.0, category: trade}
`))
	if err != nil {
		t.Fatal(err)
	}
	hit := news.Article{Headline: "Fears of a trade war resurface"}
	miss := news.Article{Headline: "Trade talks continue as war ends elsewhere"}
	if Score(hit, set) == 0 {
		t.Error("expected phrase match to score")
	}
	if Score(miss, set) != 0 {
		t.Error("expected split words not to match the phrase")
	}
}

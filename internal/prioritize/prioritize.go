// Package prioritize ranks articles by weighted keyword relevance.
//
// Scoring is pure: the same article and rule set always produce the same
// score, with no dependency on sessions, network, or storage.
package prioritize

import (
	"regexp"
	"sort"
	"strings"

	"github.com/TobiSchelling/ftdigest/internal/news"
	"github.com/TobiSchelling/ftdigest/internal/rules"
)

// Per-field occurrence multipliers. The headline is the strongest signal
// per occurrence; the body contributes least per occurrence but most by
// volume.
const (
	HeadlineMultiplier   = 3.0
	StandfirstMultiplier = 2.0
	BodyMultiplier       = 1.0
)

// squashScale sets the knee of the normalization curve: a raw weighted
// sum equal to it maps to 0.5.
const squashScale = 10.0

type compiledRule struct {
	re     *regexp.Regexp
	weight float64
}

// compile builds the case-insensitive whole-word matcher for each rule.
func compile(set *rules.Set) []compiledRule {
	compiled := make([]compiledRule, len(set.Rules))
	for i, rule := range set.Rules {
		compiled[i] = compiledRule{
			re:     regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(strings.TrimSpace(rule.Keyword)) + `\b`),
			weight: rule.Weight,
		}
	}
	return compiled
}

// Score computes the priority score for one article.
//
// The raw score is the sum over rules of weight times the
// field-multiplied count of case-insensitive whole-word keyword
// occurrences. It is squashed into [0,1) by raw/(raw+squashScale), a
// fixed monotonic function, so scores stay comparable across articles
// and batches of any length.
func Score(article news.Article, set *rules.Set) float64 {
	return score(article, compile(set))
}

func score(article news.Article, compiled []compiledRule) float64 {
	raw := 0.0
	for _, rule := range compiled {
		count := occurrences(rule.re, article.Headline)*HeadlineMultiplier +
			occurrences(rule.re, article.Standfirst)*StandfirstMultiplier +
			occurrences(rule.re, article.Body())*BodyMultiplier
		raw += rule.weight * count
	}
	return raw / (raw + squashScale)
}

func occurrences(re *regexp.Regexp, text string) float64 {
	if text == "" {
		return 0
	}
	return float64(len(re.FindAllStringIndex(text, -1)))
}

// Rank returns the articles ordered by priority score descending, with
// PriorityScore populated. Ties break by publication date descending,
// then URL ascending, so equal inputs always produce the same sequence.
func Rank(articles []news.Article, set *rules.Set) []news.Article {
	compiled := compile(set)
	ranked := make([]news.Article, len(articles))
	copy(ranked, articles)
	for i := range ranked {
		s := score(ranked[i], compiled)
		ranked[i].PriorityScore = &s
	}

	sort.Slice(ranked, func(i, j int) bool {
		si, sj := *ranked[i].PriorityScore, *ranked[j].PriorityScore
		if si != sj {
			return si > sj
		}
		if !ranked[i].Date.Equal(ranked[j].Date) {
			return ranked[i].Date.After(ranked[j].Date)
		}
		return ranked[i].URL < ranked[j].URL
	})
	return ranked
}

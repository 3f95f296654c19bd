// Package digest renders the ranked article list into a Markdown
// briefing and stores it.
package digest

import (
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/TobiSchelling/ftdigest/internal/database"
	"github.com/TobiSchelling/ftdigest/internal/news"
)

const brieflyNotedLabel = "Briefly Noted"

// defaultTopCount is how many articles get a full section before the
// rest fall into the briefly-noted list.
const defaultTopCount = 5

// excerptLimit caps the body excerpt shown per top article.
const excerptLimit = 400

// Composer renders and stores digests.
type Composer struct {
	db       *database.DB
	topCount int
}

// NewComposer creates a digest composer. topCount <= 0 uses the default.
func NewComposer(db *database.DB, topCount int) *Composer {
	if topCount <= 0 {
		topCount = defaultTopCount
	}
	return &Composer{db: db, topCount: topCount}
}

// ComposeDigest renders the current ranked articles to Markdown and
// stores the result.
func (c *Composer) ComposeDigest() (*database.Digest, error) {
	ranked, err := c.db.ListRanked(0)
	if err != nil {
		return nil, err
	}

	markdown := Render(ranked, c.topCount, time.Now())
	if _, err := c.db.InsertDigest(markdown, len(ranked)); err != nil {
		return nil, fmt.Errorf("storing digest: %w", err)
	}

	log.Printf("digest composed: %d articles, %d featured", len(ranked), min(c.topCount, len(ranked)))
	return c.db.GetLatestDigest()
}

// Render produces the Markdown digest for a ranked article list. The
// first topCount articles get full sections; the remainder are listed
// under a briefly-noted heading.
func Render(ranked []news.Article, topCount int, now time.Time) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Front Page Digest — %s\n\n", now.Format("Monday, 2 January 2006"))

	if len(ranked) == 0 {
		b.WriteString("No scored articles to report.\n")
		return b.String()
	}

	top := ranked
	if len(top) > topCount {
		top = top[:topCount]
	}

	b.WriteString("## TL;DR\n\n")
	for _, a := range top {
		fmt.Fprintf(&b, "- %s\n", a.Headline)
	}
	b.WriteString("\n")

	for _, a := range top {
		b.WriteString("---\n\n")
		fmt.Fprintf(&b, "## %s\n\n", a.Headline)
		if a.Standfirst != "" {
			fmt.Fprintf(&b, "*%s*\n\n", a.Standfirst)
		}
		b.WriteString(metaLine(a))
		if excerpt := bodyExcerpt(a); excerpt != "" {
			fmt.Fprintf(&b, "%s\n\n", excerpt)
		} else if !a.Available {
			b.WriteString("Full text behind the paywall.\n\n")
		}
		fmt.Fprintf(&b, "[Read the full article](%s)\n\n", a.URL)
	}

	if len(ranked) > len(top) {
		b.WriteString("---\n\n")
		fmt.Fprintf(&b, "## %s\n\n", brieflyNotedLabel)
		for _, a := range ranked[len(top):] {
			line := fmt.Sprintf("- [%s](%s)", a.Headline, a.URL)
			if a.Standfirst != "" {
				line += " — " + a.Standfirst
			}
			b.WriteString(line + "\n")
		}
	}

	return b.String()
}

func metaLine(a news.Article) string {
	var parts []string
	if a.Author != nil {
		parts = append(parts, *a.Author)
	}
	if !a.Date.IsZero() {
		parts = append(parts, a.Date.Format("2 Jan 2006"))
	}
	if a.Section != "" {
		parts = append(parts, a.Section)
	}
	if a.PriorityScore != nil {
		parts = append(parts, fmt.Sprintf("score %.2f", *a.PriorityScore))
	}
	if len(parts) == 0 {
		return ""
	}
	return "**" + strings.Join(parts, " · ") + "**\n\n"
}

// bodyExcerpt returns the first paragraph of the body, truncated at a
// word boundary when it runs long.
func bodyExcerpt(a news.Article) string {
	body := a.Body()
	if body == "" {
		return ""
	}
	paragraph, _, _ := strings.Cut(body, "\n\n")
	paragraph = strings.TrimSpace(paragraph)
	if len(paragraph) <= excerptLimit {
		return paragraph
	}
	cut := strings.LastIndex(paragraph[:excerptLimit], " ")
	if cut <= 0 {
		cut = excerptLimit
	}
	return paragraph[:cut] + "…"
}

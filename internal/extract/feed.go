package extract

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/ftdigest/internal/news"
)

var tagStripper = regexp.MustCompile(`<[^>]+>`)

// listFromFeed seeds a listing from a section's public teaser feed.
// Feeds carry the whole window in one document, so the listing is a
// single page with no continuation token.
func (e *Extractor) listFromFeed(ctx context.Context, sec Section) (*Listing, error) {
	feedURL := e.absoluteURL(sec.FeedPath)
	// Fetch through the shared client so the feed honors the same UA,
	// timeout, retry policy and concurrency ceiling as page fetches.
	page, err := e.fetchPage(ctx, feedURL)
	if err != nil {
		return nil, fmt.Errorf("fetching feed %s: %w", feedURL, err)
	}
	feed, err := gofeed.NewParser().ParseString(page.HTML)
	if err != nil {
		return nil, fmt.Errorf("%w: feed %s: %v", ErrParse, feedURL, err)
	}

	listing := &Listing{Section: sec.Name}
	seen := make(map[string]struct{})
	for _, item := range feed.Items {
		if item.Link == "" || item.Title == "" {
			continue
		}
		link := e.absoluteURL(item.Link)
		if _, dup := seen[link]; dup {
			continue
		}
		seen[link] = struct{}{}
		listing.Summaries = append(listing.Summaries, news.Summary{
			Headline:   strings.TrimSpace(item.Title),
			URL:        link,
			Standfirst: stripMarkup(item.Description),
		})
	}
	if len(listing.Summaries) == 0 {
		return nil, fmt.Errorf("%w: feed %s has no entries", ErrParse, feedURL)
	}
	return listing, nil
}

// stripMarkup flattens a feed description to plain text.
func stripMarkup(s string) string {
	return strings.TrimSpace(tagStripper.ReplaceAllString(s, ""))
}

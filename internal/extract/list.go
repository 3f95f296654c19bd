package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/ftdigest/internal/news"
)

var (
	teaserSelectors = []string{
		"a.js-teaser-heading-link",
		"a[data-trackable='heading-link']",
		".o-teaser__heading a",
	}
	nextPageSelectors = []string{
		"a[rel='next']",
		"a[aria-label='Next page']",
	}
)

// Listing is one page of article summaries. An empty NextPage marks the
// final page; a non-empty one restarts the listing from that point.
type Listing struct {
	Section   string
	Summaries []news.Summary
	NextPage  string
}

// ListArticles returns one page of summaries for a section. The whole
// page reuses a single validated session; a login wall mid-listing
// triggers one re-authentication and one retry of this page only.
func (e *Extractor) ListArticles(ctx context.Context, section, pageToken string) (*Listing, error) {
	sec, err := e.sectionByName(section)
	if err != nil {
		return nil, err
	}

	// A public teaser feed needs no session at all.
	if sec.FeedPath != "" {
		return e.listFromFeed(ctx, sec)
	}

	pageNum := 1
	if pageToken != "" {
		pageNum, err = strconv.Atoi(pageToken)
		if err != nil || pageNum < 1 {
			return nil, fmt.Errorf("invalid page token %q", pageToken)
		}
	}

	sess, err := e.sessions.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	listing, err := e.listPage(ctx, sec, pageNum)
	if errors.Is(err, ErrSessionExpired) {
		log.Printf("login wall while listing %s, re-authenticating once", section)
		e.sessions.Invalidate(sess.Epoch)
		if _, err := e.sessions.EnsureAuthenticated(ctx); err != nil {
			return nil, err
		}
		listing, err = e.listPage(ctx, sec, pageNum)
	}
	return listing, err
}

func (e *Extractor) listPage(ctx context.Context, sec Section, pageNum int) (*Listing, error) {
	pageURL := e.absoluteURL(sec.Path)
	if pageNum > 1 {
		pageURL += "?page=" + strconv.Itoa(pageNum)
	}

	doc, err := e.awaitReady(ctx, pageURL, listingReady)
	if err != nil {
		return nil, err
	}

	listing := &Listing{Section: sec.Name}
	seen := make(map[string]struct{})
	for _, sel := range teaserSelectors {
		doc.Find(sel).Each(func(_ int, link *goquery.Selection) {
			summary, ok := e.parseTeaser(link)
			if !ok {
				return
			}
			if _, dup := seen[summary.URL]; dup {
				return
			}
			seen[summary.URL] = struct{}{}
			listing.Summaries = append(listing.Summaries, summary)
		})
	}
	if len(listing.Summaries) == 0 {
		return nil, fmt.Errorf("%w: no teasers on %s", ErrParse, pageURL)
	}

	if hasAny(doc, nextPageSelectors) {
		listing.NextPage = strconv.Itoa(pageNum + 1)
	}
	return listing, nil
}

// parseTeaser turns one heading link into a summary, resolving the URL
// against the site and pulling the standfirst from the enclosing teaser.
func (e *Extractor) parseTeaser(link *goquery.Selection) (news.Summary, bool) {
	href, ok := link.Attr("href")
	if !ok || href == "" {
		return news.Summary{}, false
	}
	headline := strings.TrimSpace(link.Text())
	if headline == "" {
		return news.Summary{}, false
	}

	abs := e.absoluteURL(href)
	if !e.onSite(abs) {
		return news.Summary{}, false
	}

	summary := news.Summary{Headline: headline, URL: abs}
	if teaser := link.Closest(".o-teaser, article"); teaser.Length() > 0 {
		summary.Standfirst = strings.TrimSpace(teaser.Find(".o-teaser__standfirst").First().Text())
	}
	return summary, true
}

// onSite filters out external links that share the teaser markup.
func (e *Extractor) onSite(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	base, err := url.Parse(e.opts.BaseURL)
	if err != nil {
		return false
	}
	return u.Host == base.Host
}

// listingReady reports whether a section page has populated its teasers.
func listingReady(doc *goquery.Document) bool {
	return hasAny(doc, teaserSelectors)
}

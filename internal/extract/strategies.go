package extract

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/araddon/dateparse"
	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/ftdigest/internal/news"
)

// The site's markup drifts; each concern carries a chain of selectors
// tried in order, primary structural selector first.
var (
	headlineSelectors = []string{
		"h1.o-topper__headline",
		"article h1",
		"h1",
	}
	standfirstSelectors = []string{
		".o-topper__standfirst",
		"div[data-trackable='standfirst']",
	}
	authorSelectors = []string{
		".o-topper__author",
		"a[data-trackable='author']",
	}
	tagSelectors = []string{
		".o-topper__topic a",
		"a.n-content-tag",
	}
	bodySelectors = []string{
		"article.n-content-body",
		"#article-body",
		".article__content",
		".article__body",
	}
	paywallSelectors = []string{
		".o-topper__paywall",
		".o-topper__premium",
		".o-topper__locked",
		"#barrier-page",
		"[data-trackable='barrier']",
	}
	loginWallSelectors = []string{
		"input#enter-email",
		"form[action*='login'] input[type='email']",
	}
)

// articleReady reports whether an article page has finished populating:
// either the body landed or the paywall barrier rendered.
func articleReady(doc *goquery.Document) bool {
	if firstText(doc, headlineSelectors) == "" {
		return false
	}
	if hasAny(doc, paywallSelectors) {
		return true
	}
	return hasAny(doc, bodySelectors)
}

// isLoginWall reports whether the page is a login form instead of content.
func isLoginWall(doc *goquery.Document) bool {
	return hasAny(doc, loginWallSelectors)
}

// parseArticle extracts a structured record from a ready article page.
// A paywalled page yields a partial record, not an error.
func parseArticle(doc *goquery.Document, articleURL string) (*news.Article, error) {
	headline := firstText(doc, headlineSelectors)
	if headline == "" {
		return nil, fmt.Errorf("%w: no headline at %s", ErrParse, articleURL)
	}

	article := &news.Article{
		URL:        articleURL,
		Headline:   headline,
		Standfirst: firstText(doc, standfirstSelectors),
	}
	if article.Standfirst == "" {
		article.Standfirst = metaContent(doc, "description")
	}

	if author := firstText(doc, authorSelectors); author != "" {
		article.Author = &author
	}
	article.Date = parseDate(doc)
	for _, sel := range tagSelectors {
		doc.Find(sel).Each(func(_ int, s *goquery.Selection) {
			article.AddTag(strings.TrimSpace(s.Text()))
		})
	}

	if hasAny(doc, paywallSelectors) {
		article.Available = false
		return article, nil
	}

	body, ok := extractBody(doc, articleURL)
	if !ok {
		return nil, fmt.Errorf("%w: no article body at %s", ErrParse, articleURL)
	}
	article.Available = true
	article.FullText = &body
	return article, nil
}

// extractBody walks the strategy chain: structural selectors first,
// readability as the last resort.
func extractBody(doc *goquery.Document, articleURL string) (string, bool) {
	for _, sel := range bodySelectors {
		container := doc.Find(sel).First()
		if container.Length() == 0 {
			continue
		}
		var paragraphs []string
		container.Find("p").Each(func(_ int, p *goquery.Selection) {
			if text := strings.TrimSpace(p.Text()); text != "" {
				paragraphs = append(paragraphs, text)
			}
		})
		if len(paragraphs) > 0 {
			return strings.Join(paragraphs, "\n\n"), true
		}
		// A present-but-empty container can legitimately mean a very
		// short piece; fall through to the next strategy.
	}

	html, err := doc.Html()
	if err != nil {
		return "", false
	}
	parsed, err := readability.FromReader(strings.NewReader(html), mustParseURL(articleURL))
	if err != nil {
		return "", false
	}
	text := strings.TrimSpace(parsed.TextContent)
	if text == "" {
		return "", false
	}
	return text, true
}

// parseDate reads the publication timestamp, tolerating format drift.
func parseDate(doc *goquery.Document) time.Time {
	timeEl := doc.Find("time").First()
	if timeEl.Length() == 0 {
		return time.Time{}
	}
	raw, ok := timeEl.Attr("datetime")
	if !ok || raw == "" {
		raw = strings.TrimSpace(timeEl.Text())
	}
	if raw == "" {
		return time.Time{}
	}
	t, err := dateparse.ParseAny(raw)
	if err != nil {
		return time.Time{}
	}
	return t
}

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if s := doc.Find(sel).First(); s.Length() > 0 {
			if text := strings.TrimSpace(s.Text()); text != "" {
				return text
			}
		}
	}
	return ""
}

func hasAny(doc *goquery.Document, selectors []string) bool {
	for _, sel := range selectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

func metaContent(doc *goquery.Document, name string) string {
	content, _ := doc.Find("meta[name='" + name + "']").Attr("content")
	return strings.TrimSpace(content)
}

func mustParseURL(raw string) *url.URL {
	u, err := url.Parse(raw)
	if err != nil {
		return &url.URL{}
	}
	return u
}

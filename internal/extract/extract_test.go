package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/TobiSchelling/ftdigest/internal/render"
	"github.com/TobiSchelling/ftdigest/internal/retry"
	"github.com/TobiSchelling/ftdigest/internal/session"
)

// staticAuth is an Authenticator that always succeeds.
type staticAuth struct {
	logins int32
}

func (a *staticAuth) Login(context.Context, session.Credential) ([]byte, error) {
	atomic.AddInt32(&a.logins, 1)
	return []byte("cookies"), nil
}

func (a *staticAuth) Validate(context.Context, []byte) (bool, error) { return true, nil }

// fakeFetcher serves scripted HTML per URL. Multiple entries for one URL
// are served in order; the last repeats.
type fakeFetcher struct {
	mu       sync.Mutex
	pages    map[string][]string
	calls    map[string]int
	notFound map[string]bool
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		pages:    make(map[string][]string),
		calls:    make(map[string]int),
		notFound: make(map[string]bool),
	}
}

func (f *fakeFetcher) add(url string, html ...string) { f.pages[url] = html }

func (f *fakeFetcher) Fetch(_ context.Context, url string) (*render.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	if f.notFound[url] {
		return nil, fmt.Errorf("%w: %s", render.ErrNotFound, url)
	}
	seq, ok := f.pages[url]
	if !ok {
		return nil, &render.NetworkError{URL: url, Err: errors.New("no such fixture")}
	}
	i := f.calls[url] - 1
	if i >= len(seq) {
		i = len(seq) - 1
	}
	return &render.Page{URL: url, HTML: seq[i], StatusCode: http.StatusOK, FetchedAt: time.Now()}, nil
}

func (f *fakeFetcher) callCount(url string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[url]
}

const baseURL = "https://news.example.com"

func testExtractor(t *testing.T, fetcher render.Fetcher, sections ...Section) (*Extractor, *staticAuth) {
	t.Helper()
	auth := &staticAuth{}
	mgr := session.NewManager(
		session.NewCredential("reader@example.edu", "u1", "pw"),
		auth, nil,
		session.Config{
			MaxRetries:   3,
			Backoff:      retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 2},
			ValidFor:     time.Hour,
			LoginTimeout: 5 * time.Second,
		},
	)
	e := New(mgr, fetcher, Options{
		BaseURL:       baseURL,
		Sections:      sections,
		ReadyTimeout:  50 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
		MaxConcurrent: 2,
	})
	return e, auth
}

const fullArticleHTML = `<html><body>
<h1 class="o-topper__headline">Trump threatens EU with 50% tariff</h1>
<div class="o-topper__standfirst">Markets slide as trade tensions rise</div>
<a data-trackable="author" class="o-topper__author">Jane Writer</a>
<time datetime="2025-05-23T10:30:00Z">May 23</time>
<div class="o-topper__topic"><a>Trade</a><a>EU</a></div>
<article class="n-content-body">
<p>First paragraph about the tariff.</p>
<p>Second paragraph about the EU.</p>
<p>   </p>
</article>
</body></html>`

func TestFetchArticleFull(t *testing.T) {
	fetcher := newFakeFetcher()
	url := baseURL + "/content/abc"
	fetcher.add(url, fullArticleHTML)
	e, _ := testExtractor(t, fetcher)

	a, err := e.FetchArticle(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Headline != "Trump threatens EU with 50% tariff" {
		t.Errorf("unexpected headline %q", a.Headline)
	}
	if a.Standfirst != "Markets slide as trade tensions rise" {
		t.Errorf("unexpected standfirst %q", a.Standfirst)
	}
	if !a.Available {
		t.Error("expected available article")
	}
	if a.Body() != "First paragraph about the tariff.\n\nSecond paragraph about the EU." {
		t.Errorf("unexpected body %q", a.Body())
	}
	if a.Author == nil || *a.Author != "Jane Writer" {
		t.Errorf("unexpected author %v", a.Author)
	}
	if a.Date.IsZero() || a.Date.Day() != 23 {
		t.Errorf("unexpected date %v", a.Date)
	}
	if _, ok := a.Tags["Trade"]; !ok {
		t.Errorf("expected Trade tag, got %v", a.TagList())
	}
}

func TestFetchArticleSecondarySelector(t *testing.T) {
	fetcher := newFakeFetcher()
	url := baseURL + "/content/fallback"
	fetcher.add(url, `<html><body><h1>Legacy layout</h1>
		<div id="article-body"><p>Body via fallback.</p></div></body></html>`)
	e, _ := testExtractor(t, fetcher)

	a, err := e.FetchArticle(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Body() != "Body via fallback." {
		t.Errorf("unexpected body %q", a.Body())
	}
}

func TestFetchArticlePaywalledIsPartialRecord(t *testing.T) {
	fetcher := newFakeFetcher()
	url := baseURL + "/content/premium"
	fetcher.add(url, `<html><body>
		<h1>Premium insight</h1>
		<div class="o-topper__standfirst">Subscriber-only analysis</div>
		<div class="o-topper__paywall">Subscribe to keep reading</div>
		</body></html>`)
	e, _ := testExtractor(t, fetcher)

	a, err := e.FetchArticle(context.Background(), url)
	if err != nil {
		t.Fatalf("paywalled page must not be an error, got %v", err)
	}
	if a.Available {
		t.Error("expected available=false")
	}
	if a.FullText != nil {
		t.Errorf("expected nil full text, got %q", *a.FullText)
	}
	if a.Headline != "Premium insight" || a.Standfirst != "Subscriber-only analysis" {
		t.Errorf("metadata not preserved: %q / %q", a.Headline, a.Standfirst)
	}
}

func TestFetchArticleNotFound(t *testing.T) {
	fetcher := newFakeFetcher()
	url := baseURL + "/content/gone"
	fetcher.notFound[url] = true
	e, _ := testExtractor(t, fetcher)

	if _, err := e.FetchArticle(context.Background(), url); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestFetchArticleReadinessPolling(t *testing.T) {
	fetcher := newFakeFetcher()
	url := baseURL + "/content/slow"
	fetcher.add(url, `<html><body><div class="skeleton">loading</div></body></html>`, fullArticleHTML)
	e, _ := testExtractor(t, fetcher)

	a, err := e.FetchArticle(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Available {
		t.Error("expected available article after readiness wait")
	}
	if n := fetcher.callCount(url); n < 2 {
		t.Errorf("expected at least 2 fetches while polling, got %d", n)
	}
}

func TestFetchArticleReadinessTimeoutIsParseError(t *testing.T) {
	fetcher := newFakeFetcher()
	url := baseURL + "/content/never-ready"
	fetcher.add(url, `<html><body><div class="skeleton">loading</div></body></html>`)
	e, _ := testExtractor(t, fetcher)

	if _, err := e.FetchArticle(context.Background(), url); !errors.Is(err, ErrParse) {
		t.Fatalf("expected ErrParse, got %v", err)
	}
}

func TestFetchArticleLoginWallTriggersOneRelogin(t *testing.T) {
	fetcher := newFakeFetcher()
	url := baseURL + "/content/walled"
	fetcher.add(url,
		`<html><body><form action="/login"><input id="enter-email" type="email"></form></body></html>`,
		fullArticleHTML,
	)
	e, auth := testExtractor(t, fetcher)

	a, err := e.FetchArticle(context.Background(), url)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !a.Available {
		t.Error("expected article after re-login")
	}
	if n := atomic.LoadInt32(&auth.logins); n != 2 {
		t.Errorf("expected initial login + one re-login, got %d", n)
	}
	if n := fetcher.callCount(url); n != 2 {
		t.Errorf("expected the single failed fetch retried once, got %d fetches", n)
	}
}

const sectionPage1 = `<html><body>
<div class="o-teaser"><div class="o-teaser__heading"><a href="/content/one">Story One</a></div>
<div class="o-teaser__standfirst">First standfirst</div></div>
<div class="o-teaser"><div class="o-teaser__heading"><a href="/content/two">Story Two</a></div></div>
<div class="o-teaser"><div class="o-teaser__heading"><a href="/content/one">Story One</a></div></div>
<div class="o-teaser"><div class="o-teaser__heading"><a href="https://elsewhere.example.org/x">Offsite</a></div></div>
<a rel="next" href="?page=2">Next</a>
</body></html>`

const sectionPage2 = `<html><body>
<div class="o-teaser"><div class="o-teaser__heading"><a href="/content/three">Story Three</a></div></div>
</body></html>`

func TestListArticlesPaginates(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(baseURL+"/world", sectionPage1)
	fetcher.add(baseURL+"/world?page=2", sectionPage2)
	e, _ := testExtractor(t, fetcher, Section{Name: "world", Path: "/world"})

	page1, err := e.ListArticles(context.Background(), "world", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page1.Summaries) != 2 {
		t.Fatalf("expected 2 summaries (deduped, on-site only), got %d", len(page1.Summaries))
	}
	if page1.Summaries[0].URL != baseURL+"/content/one" {
		t.Errorf("unexpected first URL %q", page1.Summaries[0].URL)
	}
	if page1.Summaries[0].Standfirst != "First standfirst" {
		t.Errorf("unexpected standfirst %q", page1.Summaries[0].Standfirst)
	}
	if page1.NextPage != "2" {
		t.Fatalf("expected next page token 2, got %q", page1.NextPage)
	}

	page2, err := e.ListArticles(context.Background(), "world", page1.NextPage)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(page2.Summaries) != 1 {
		t.Errorf("expected 1 summary, got %d", len(page2.Summaries))
	}
	if page2.NextPage != "" {
		t.Errorf("expected empty token on last page, got %q", page2.NextPage)
	}
}

func TestListArticlesReusesOneSession(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(baseURL+"/world", sectionPage1)
	e, auth := testExtractor(t, fetcher, Section{Name: "world", Path: "/world"})

	if _, err := e.ListArticles(context.Background(), "world", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := atomic.LoadInt32(&auth.logins); n != 1 {
		t.Errorf("expected a single login for the whole page, got %d", n)
	}
}

func TestListArticlesUnknownSection(t *testing.T) {
	e, _ := testExtractor(t, newFakeFetcher(), Section{Name: "world", Path: "/world"})
	if _, err := e.ListArticles(context.Background(), "sports", ""); err == nil {
		t.Fatal("expected error for unknown section")
	}
}

func TestListArticlesInvalidToken(t *testing.T) {
	e, _ := testExtractor(t, newFakeFetcher(), Section{Name: "world", Path: "/world"})
	if _, err := e.ListArticles(context.Background(), "world", "banana"); err == nil {
		t.Fatal("expected error for invalid page token")
	}
}

const worldFeedXML = `<?xml version="1.0"?><rss version="2.0"><channel>
<title>World</title>
<item><title>Feed Story</title><link>https://news.example.com/content/feed-1</link>
<description>&lt;p&gt;Teaser text&lt;/p&gt;</description></item>
<item><title>Feed Story Two</title><link>https://news.example.com/content/feed-2</link></item>
</channel></rss>`

func TestListArticlesFromFeed(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.add(baseURL+"/rss/world", worldFeedXML)
	e, auth := testExtractor(t, fetcher, Section{Name: "world", Path: "/world", FeedPath: "/rss/world"})

	listing, err := e.ListArticles(context.Background(), "world", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(listing.Summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(listing.Summaries))
	}
	if listing.Summaries[0].Standfirst != "Teaser text" {
		t.Errorf("expected markup stripped, got %q", listing.Summaries[0].Standfirst)
	}
	if listing.NextPage != "" {
		t.Errorf("feed listing is a single page, got token %q", listing.NextPage)
	}
	// The feed goes through the same fetcher as everything else, and
	// feeds are public: no session needed.
	if n := fetcher.callCount(baseURL + "/rss/world"); n != 1 {
		t.Errorf("expected the feed fetched through the shared client, got %d calls", n)
	}
	if n := atomic.LoadInt32(&auth.logins); n != 0 {
		t.Errorf("expected no logins for feed listing, got %d", n)
	}
}

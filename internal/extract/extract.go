// Package extract turns rendered pages into structured article records.
//
// Every operation obtains a valid session from the session manager first.
// A login wall detected mid-fetch triggers exactly one re-authentication
// and one retry of the single failed operation, never of a whole batch.
package extract

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/TobiSchelling/ftdigest/internal/news"
	"github.com/TobiSchelling/ftdigest/internal/render"
	"github.com/TobiSchelling/ftdigest/internal/session"
)

var (
	// ErrNotFound means the requested article does not exist.
	ErrNotFound = errors.New("article not found")
	// ErrParse means the page structure was unrecognized or the render
	// never became ready within the timeout.
	ErrParse = errors.New("page structure unrecognized")
	// ErrSessionExpired means the page came back as a login wall.
	ErrSessionExpired = errors.New("session expired")
)

// Section maps a section name onto the site. FeedPath, when set, points
// at a public teaser feed that can seed listings without rendering.
type Section struct {
	Name     string
	Path     string
	FeedPath string
}

// Options configures the extractor.
type Options struct {
	BaseURL  string
	Sections []Section
	// ReadyTimeout bounds how long to wait for asynchronously populated
	// content before giving up with ErrParse.
	ReadyTimeout time.Duration
	// PollInterval paces readiness re-fetches.
	PollInterval time.Duration
	// MaxConcurrent caps simultaneous in-flight page fetches.
	MaxConcurrent int
}

// Extractor fetches and parses pages into article records.
type Extractor struct {
	sessions *session.Manager
	fetcher  render.Fetcher
	opts     Options
	sections map[string]Section
	sem      chan struct{}
}

// New creates an Extractor.
func New(sessions *session.Manager, fetcher render.Fetcher, opts Options) *Extractor {
	if opts.ReadyTimeout <= 0 {
		opts.ReadyTimeout = 20 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 3
	}
	sections := make(map[string]Section, len(opts.Sections))
	for _, s := range opts.Sections {
		sections[s.Name] = s
	}
	return &Extractor{
		sessions: sessions,
		fetcher:  fetcher,
		opts:     opts,
		sections: sections,
		sem:      make(chan struct{}, opts.MaxConcurrent),
	}
}

// Sections returns the configured section names in configuration order.
func (e *Extractor) Sections() []string {
	names := make([]string, 0, len(e.opts.Sections))
	for _, s := range e.opts.Sections {
		names = append(names, s.Name)
	}
	return names
}

// FetchArticle fetches and parses a single article. Paywalled teasers
// are a success: they come back with Available=false and their metadata
// preserved.
func (e *Extractor) FetchArticle(ctx context.Context, articleURL string) (*news.Article, error) {
	sess, err := e.sessions.EnsureAuthenticated(ctx)
	if err != nil {
		return nil, err
	}

	article, err := e.fetchWithSession(ctx, articleURL)
	if errors.Is(err, ErrSessionExpired) {
		log.Printf("login wall at %s, re-authenticating once", articleURL)
		e.sessions.Invalidate(sess.Epoch)
		if _, err := e.sessions.EnsureAuthenticated(ctx); err != nil {
			return nil, err
		}
		article, err = e.fetchWithSession(ctx, articleURL)
	}
	return article, err
}

// fetchWithSession performs one fetch-and-parse pass, polling until the
// page's content is ready or the readiness budget runs out.
func (e *Extractor) fetchWithSession(ctx context.Context, articleURL string) (*news.Article, error) {
	doc, err := e.awaitReady(ctx, articleURL, articleReady)
	if err != nil {
		return nil, err
	}
	return parseArticle(doc, articleURL)
}

// awaitReady fetches a page repeatedly until ready reports the content
// has been populated. The timeout surfaces as ErrParse: the page existed
// but never became parseable.
func (e *Extractor) awaitReady(ctx context.Context, pageURL string, ready func(*goquery.Document) bool) (*goquery.Document, error) {
	deadline := time.Now().Add(e.opts.ReadyTimeout)
	for {
		page, err := e.fetchPage(ctx, pageURL)
		if err != nil {
			if errors.Is(err, render.ErrNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, pageURL)
			}
			return nil, err
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(page.HTML))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if isLoginWall(doc) {
			return nil, fmt.Errorf("%w: %s", ErrSessionExpired, pageURL)
		}
		if ready(doc) {
			return doc, nil
		}

		if !time.Now().Before(deadline) {
			return nil, fmt.Errorf("%w: content at %s not ready within %s", ErrParse, pageURL, e.opts.ReadyTimeout)
		}
		timer := time.NewTimer(e.opts.PollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// fetchPage gates in-flight fetches behind the concurrency ceiling.
func (e *Extractor) fetchPage(ctx context.Context, pageURL string) (*render.Page, error) {
	select {
	case e.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.sem }()
	return e.fetcher.Fetch(ctx, pageURL)
}

func (e *Extractor) sectionByName(name string) (Section, error) {
	s, ok := e.sections[name]
	if !ok {
		return Section{}, fmt.Errorf("unknown section %q", name)
	}
	return s, nil
}

func (e *Extractor) absoluteURL(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	return strings.TrimRight(e.opts.BaseURL, "/") + path
}

// Package pipeline wires the scraper end to end: list the configured
// sections, fetch and store each article, rank the stored set and
// render a digest.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/ftdigest/internal/config"
	"github.com/TobiSchelling/ftdigest/internal/database"
	"github.com/TobiSchelling/ftdigest/internal/digest"
	"github.com/TobiSchelling/ftdigest/internal/extract"
	"github.com/TobiSchelling/ftdigest/internal/prioritize"
	"github.com/TobiSchelling/ftdigest/internal/render"
	"github.com/TobiSchelling/ftdigest/internal/rules"
	"github.com/TobiSchelling/ftdigest/internal/session"
)

// StepResult holds the result of a single pipeline step.
type StepResult struct {
	Name    string
	Summary string
	Err     error
}

// Result holds the results of a full pipeline run.
type Result struct {
	Steps []StepResult
}

// Failed reports whether any step errored.
func (r *Result) Failed() bool {
	for _, s := range r.Steps {
		if s.Err != nil {
			return true
		}
	}
	return false
}

// Options control one pipeline run.
type Options struct {
	// Sections restricts the run to the named sections; empty runs all
	// configured sections.
	Sections []string
	// MaxPages caps listing pagination per section. <= 0 means one page.
	MaxPages int
	// Refetch re-fetches URLs that are already stored.
	Refetch bool
}

// Pipeline orchestrates the 4-step digest pipeline.
type Pipeline struct {
	cfg       *config.Config
	db        *database.DB
	sessions  *session.Manager
	extractor *extract.Extractor
	rules     *rules.Set
	composer  *digest.Composer
}

// New builds a pipeline from config: HTTP client, session manager,
// extractor, scoring rules and digest composer. Credentials come from
// the environment variables named in the config.
func New(cfg *config.Config, db *database.DB) (*Pipeline, error) {
	username, institution, secret, err := cfg.Credentials.Resolve()
	if err != nil {
		return nil, err
	}
	cred := session.NewCredential(username, institution, secret)

	clientOpts := render.DefaultOptions(cfg.Site.BaseURL)
	if cfg.Site.LoginPath != "" {
		clientOpts.LoginPath = cfg.Site.LoginPath
	}
	if cfg.Site.ProbePath != "" {
		clientOpts.ProbePath = cfg.Site.ProbePath
	}
	if cfg.Site.UserAgent != "" {
		clientOpts.UserAgent = cfg.Site.UserAgent
	}
	if cfg.Fetch.RequestTimeout.Std() > 0 {
		clientOpts.Timeout = cfg.Fetch.RequestTimeout.Std()
	}
	client, err := render.NewClient(clientOpts)
	if err != nil {
		return nil, err
	}

	sessCfg := session.DefaultConfig()
	if cfg.Session.MaxRetries > 0 {
		sessCfg.MaxRetries = cfg.Session.MaxRetries
	}
	if cfg.Session.ValidFor.Std() > 0 {
		sessCfg.ValidFor = cfg.Session.ValidFor.Std()
	}
	if cfg.Session.LoginTimeout.Std() > 0 {
		sessCfg.LoginTimeout = cfg.Session.LoginTimeout.Std()
	}
	sessions := session.NewManager(cred, client, db, sessCfg)

	sections := make([]extract.Section, 0, len(cfg.Site.Sections))
	for _, s := range cfg.Site.Sections {
		sections = append(sections, extract.Section{
			Name:     s.Name,
			Path:     s.Path,
			FeedPath: s.FeedPath,
		})
	}
	extractor := extract.New(sessions, client, extract.Options{
		BaseURL:       cfg.Site.BaseURL,
		Sections:      sections,
		ReadyTimeout:  cfg.Fetch.ReadyTimeout.Std(),
		PollInterval:  cfg.Fetch.PollInterval.Std(),
		MaxConcurrent: cfg.Fetch.MaxConcurrent,
	})

	ruleSet, err := loadRules(cfg.Rules.Path)
	if err != nil {
		return nil, err
	}

	return &Pipeline{
		cfg:       cfg,
		db:        db,
		sessions:  sessions,
		extractor: extractor,
		rules:     ruleSet,
		composer:  digest.NewComposer(db, cfg.Digest.TopCount),
	}, nil
}

func loadRules(path string) (*rules.Set, error) {
	if path == "" {
		return rules.Default(), nil
	}
	return rules.Load(path)
}

// Extractor exposes the extractor for one-off listing and fetching.
func (p *Pipeline) Extractor() *extract.Extractor {
	return p.extractor
}

// Sessions exposes the session manager for status display and resets.
func (p *Pipeline) Sessions() *session.Manager {
	return p.sessions
}

// Close persists the session blob for the next run.
func (p *Pipeline) Close() error {
	return p.sessions.Close()
}

// Run executes the full 4-step pipeline.
func (p *Pipeline) Run(ctx context.Context, opts Options) *Result {
	r := &Result{}

	items, step := p.runList(ctx, opts)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step = p.runFetch(ctx, items)
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	step = p.runRank()
	r.Steps = append(r.Steps, step)
	if step.Err != nil {
		return r
	}

	r.Steps = append(r.Steps, p.runCompose())
	return r
}

type fetchItem struct {
	url     string
	section string
}

func (p *Pipeline) runList(ctx context.Context, opts Options) ([]fetchItem, StepResult) {
	log.Println("Step 1/4: Listing sections...")

	names := opts.Sections
	if len(names) == 0 {
		names = p.extractor.Sections()
	}
	maxPages := opts.MaxPages
	if maxPages <= 0 {
		maxPages = 1
	}

	var (
		items []fetchItem
		seen  = make(map[string]struct{})
		known int
	)
	for _, name := range names {
		token := ""
		for page := 0; page < maxPages; page++ {
			listing, err := p.extractor.ListArticles(ctx, name, token)
			if err != nil {
				if fatalAuth(err) {
					return nil, StepResult{Name: "List", Err: err}
				}
				log.Printf("listing %s: %v", name, err)
				break
			}
			for _, s := range listing.Summaries {
				if _, dup := seen[s.URL]; dup {
					continue
				}
				seen[s.URL] = struct{}{}
				if !opts.Refetch {
					stored, err := p.db.HasArticle(s.URL)
					if err != nil {
						return nil, StepResult{Name: "List", Err: err}
					}
					if stored {
						known++
						continue
					}
				}
				items = append(items, fetchItem{url: s.URL, section: name})
			}
			token = listing.NextPage
			if token == "" {
				break
			}
		}
	}

	return items, StepResult{
		Name:    "List",
		Summary: fmt.Sprintf("Found %d new articles across %d sections (%d already stored)", len(items), len(names), known),
	}
}

func (p *Pipeline) runFetch(ctx context.Context, items []fetchItem) StepResult {
	log.Println("Step 2/4: Fetching articles...")

	var (
		mu        sync.Mutex
		fetched   int
		paywalled int
		failed    int
	)

	g, gctx := errgroup.WithContext(ctx)
	limit := p.cfg.Fetch.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for _, it := range items {
		g.Go(func() error {
			article, err := p.extractor.FetchArticle(gctx, it.url)
			if err != nil {
				// A lockout or exhausted login aborts the whole batch;
				// anything else just fails this one article.
				if fatalAuth(err) || gctx.Err() != nil {
					return err
				}
				log.Printf("fetching %s: %v", it.url, err)
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			article.Section = it.section
			if err := p.db.UpsertArticle(*article); err != nil {
				return err
			}
			mu.Lock()
			fetched++
			if !article.Available {
				paywalled++
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return StepResult{Name: "Fetch", Err: err}
	}

	return StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("Fetched %d articles (%d paywalled teasers), %d failed", fetched, paywalled, failed),
	}
}

func (p *Pipeline) runRank() StepResult {
	log.Println("Step 3/4: Ranking articles...")

	articles, err := p.db.ListArticles("")
	if err != nil {
		return StepResult{Name: "Rank", Err: err}
	}
	ranked := prioritize.Rank(articles, p.rules)
	if err := p.db.SaveScores(ranked); err != nil {
		return StepResult{Name: "Rank", Err: err}
	}

	return StepResult{
		Name:    "Rank",
		Summary: fmt.Sprintf("Ranked %d articles against %d rules", len(ranked), len(p.rules.Rules)),
	}
}

func (p *Pipeline) runCompose() StepResult {
	log.Println("Step 4/4: Composing digest...")

	d, err := p.composer.ComposeDigest()
	if err != nil {
		return StepResult{Name: "Compose", Err: err}
	}
	return StepResult{
		Name:    "Compose",
		Summary: fmt.Sprintf("Digest composed from %d ranked articles", d.ArticleCount),
	}
}

// DryRun reports what a run would do without touching the site.
func (p *Pipeline) DryRun(opts Options) *Result {
	r := &Result{}

	names := opts.Sections
	if len(names) == 0 {
		names = p.extractor.Sections()
	}
	r.Steps = append(r.Steps, StepResult{
		Name:    "List",
		Summary: fmt.Sprintf("[dry-run] would list sections: %v", names),
	})

	stored, _ := p.db.CountArticles()
	r.Steps = append(r.Steps, StepResult{
		Name:    "Fetch",
		Summary: fmt.Sprintf("[dry-run] %d articles already stored", stored),
	})

	r.Steps = append(r.Steps, StepResult{
		Name:    "Rank",
		Summary: fmt.Sprintf("[dry-run] would rank against %d rules", len(p.rules.Rules)),
	})

	d, _ := p.db.GetLatestDigest()
	if d != nil {
		r.Steps = append(r.Steps, StepResult{
			Name:    "Compose",
			Summary: fmt.Sprintf("[dry-run] latest digest has %d articles", d.ArticleCount),
		})
	} else {
		r.Steps = append(r.Steps, StepResult{
			Name:    "Compose",
			Summary: "[dry-run] no digest yet",
		})
	}

	return r
}

// fatalAuth reports errors that no per-article retry can fix.
func fatalAuth(err error) bool {
	return errors.Is(err, session.ErrLocked) || errors.Is(err, session.ErrAuth)
}

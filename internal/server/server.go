// Package server exposes the stored digest and articles over a local
// HTTP interface.
package server

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/ftdigest/internal/database"
	"github.com/TobiSchelling/ftdigest/internal/news"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for serving digests.
type Server struct {
	db   *database.DB
	tmpl *template.Template
	mux  *http.ServeMux
}

// New creates a new Server.
func New(db *database.DB) (*Server, error) {
	tmpl, err := template.New("digest.html").ParseFS(templateFS, "templates/digest.html")
	if err != nil {
		return nil, fmt.Errorf("parsing digest template: %w", err)
	}

	s := &Server{db: db, tmpl: tmpl, mux: http.NewServeMux()}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	s.mux.HandleFunc("/", s.handleDigest)
	s.mux.HandleFunc("/api/digest", s.handleAPIDigest)
	s.mux.HandleFunc("/api/articles", s.handleAPIArticles)
	s.mux.HandleFunc("/api/articles/ranked", s.handleAPIRanked)
	s.mux.HandleFunc("/healthz", s.handleHealth)
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	d, err := s.db.GetLatestDigest()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := map[string]any{"HasDigest": d != nil}
	if d != nil {
		data["Content"] = renderMarkdown(d.Markdown)
		data["ArticleCount"] = d.ArticleCount
		data["GeneratedAt"] = d.GeneratedAt
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.tmpl.Execute(w, data); err != nil {
		log.Printf("rendering digest page: %v", err)
	}
}

func (s *Server) handleAPIDigest(w http.ResponseWriter, r *http.Request) {
	d, err := s.db.GetLatestDigest()
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if d == nil {
		http.Error(w, "no digest yet", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{
		"markdown":      d.Markdown,
		"article_count": d.ArticleCount,
		"generated_at":  d.GeneratedAt,
	})
}

func (s *Server) handleAPIArticles(w http.ResponseWriter, r *http.Request) {
	articles, err := s.db.ListArticles(r.URL.Query().Get("section"))
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toAPIArticles(articles))
}

func (s *Server) handleAPIRanked(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	articles, err := s.db.ListRanked(limit)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, toAPIArticles(articles))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintln(w, "ok")
}

// apiArticle is the JSON shape of a stored article.
type apiArticle struct {
	URL           string   `json:"url"`
	Section       string   `json:"section,omitempty"`
	Headline      string   `json:"headline"`
	Standfirst    string   `json:"standfirst,omitempty"`
	FullText      *string  `json:"full_text"`
	Author        *string  `json:"author,omitempty"`
	Published     *string  `json:"published,omitempty"`
	Tags          []string `json:"tags,omitempty"`
	Available     bool     `json:"available"`
	PriorityScore *float64 `json:"priority_score,omitempty"`
}

func toAPIArticles(articles []news.Article) []apiArticle {
	out := make([]apiArticle, 0, len(articles))
	for _, a := range articles {
		item := apiArticle{
			URL:           a.URL,
			Section:       a.Section,
			Headline:      a.Headline,
			Standfirst:    a.Standfirst,
			FullText:      a.FullText,
			Author:        a.Author,
			Available:     a.Available,
			PriorityScore: a.PriorityScore,
		}
		if !a.Date.IsZero() {
			published := a.Date.UTC().Format(time.RFC3339)
			item.Published = &published
		}
		if len(a.Tags) > 0 {
			item.Tags = a.TagList()
			sort.Strings(item.Tags)
		}
		out = append(out, item)
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

// Serve starts the HTTP server on the given port.
func Serve(db *database.DB, port int) error {
	srv, err := New(db)
	if err != nil {
		return err
	}

	addr := fmt.Sprintf("127.0.0.1:%d", port)
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}

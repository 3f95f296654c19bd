package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/TobiSchelling/ftdigest/internal/news"
)

// articleRow mirrors the articles table with SQL-nullable columns.
type articleRow struct {
	URL        string
	Section    sql.NullString
	Headline   string
	Standfirst sql.NullString
	FullText   sql.NullString
	Author     sql.NullString
	Published  sql.NullString
	Tags       sql.NullString
	Available  int
	Score      sql.NullFloat64
}

const articleColumns = `url, section, headline, standfirst, full_text, author, published, tags, available, priority_score`

func rowFromArticle(a news.Article) (articleRow, error) {
	row := articleRow{
		URL:      a.URL,
		Headline: a.Headline,
	}
	if a.Section != "" {
		row.Section = sql.NullString{String: a.Section, Valid: true}
	}
	if a.Standfirst != "" {
		row.Standfirst = sql.NullString{String: a.Standfirst, Valid: true}
	}
	if a.FullText != nil {
		row.FullText = sql.NullString{String: *a.FullText, Valid: true}
	}
	if a.Author != nil {
		row.Author = sql.NullString{String: *a.Author, Valid: true}
	}
	if !a.Date.IsZero() {
		row.Published = sql.NullString{String: a.Date.UTC().Format(time.RFC3339), Valid: true}
	}
	if len(a.Tags) > 0 {
		tags := a.TagList()
		sort.Strings(tags)
		encoded, err := json.Marshal(tags)
		if err != nil {
			return articleRow{}, fmt.Errorf("encoding tags: %w", err)
		}
		row.Tags = sql.NullString{String: string(encoded), Valid: true}
	}
	if a.Available {
		row.Available = 1
	}
	if a.PriorityScore != nil {
		row.Score = sql.NullFloat64{Float64: *a.PriorityScore, Valid: true}
	}
	return row, nil
}

func (r articleRow) toArticle() (news.Article, error) {
	a := news.Article{
		URL:        r.URL,
		Section:    r.Section.String,
		Headline:   r.Headline,
		Standfirst: r.Standfirst.String,
		Available:  r.Available != 0,
	}
	if r.FullText.Valid {
		text := r.FullText.String
		a.FullText = &text
	}
	if r.Author.Valid {
		author := r.Author.String
		a.Author = &author
	}
	if r.Published.Valid {
		date, err := time.Parse(time.RFC3339, r.Published.String)
		if err != nil {
			return news.Article{}, fmt.Errorf("parsing published date for %s: %w", r.URL, err)
		}
		a.Date = date
	}
	if r.Tags.Valid {
		var tags []string
		if err := json.Unmarshal([]byte(r.Tags.String), &tags); err != nil {
			return news.Article{}, fmt.Errorf("decoding tags for %s: %w", r.URL, err)
		}
		for _, t := range tags {
			a.AddTag(t)
		}
	}
	if r.Score.Valid {
		score := r.Score.Float64
		a.PriorityScore = &score
	}
	return a, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanArticle(s rowScanner) (news.Article, error) {
	var r articleRow
	if err := s.Scan(&r.URL, &r.Section, &r.Headline, &r.Standfirst, &r.FullText,
		&r.Author, &r.Published, &r.Tags, &r.Available, &r.Score); err != nil {
		return news.Article{}, err
	}
	return r.toArticle()
}

func scanArticles(rows *sql.Rows) ([]news.Article, error) {
	var articles []news.Article
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		articles = append(articles, a)
	}
	return articles, rows.Err()
}

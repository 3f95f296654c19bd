package database

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/TobiSchelling/ftdigest/internal/news"
)

// UpsertArticle inserts an article or overwrites the existing record for
// the same URL. A re-fetch always wins: the stored row reflects the most
// recent successful extraction.
func (db *DB) UpsertArticle(a news.Article) error {
	row, err := rowFromArticle(a)
	if err != nil {
		return err
	}
	_, err = db.conn.Exec(
		`INSERT INTO articles (`+articleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(url) DO UPDATE SET
			section = excluded.section,
			headline = excluded.headline,
			standfirst = excluded.standfirst,
			full_text = excluded.full_text,
			author = excluded.author,
			published = excluded.published,
			tags = excluded.tags,
			available = excluded.available,
			priority_score = excluded.priority_score,
			fetched_at = datetime('now')`,
		row.URL, row.Section, row.Headline, row.Standfirst, row.FullText,
		row.Author, row.Published, row.Tags, row.Available, row.Score,
	)
	if err != nil {
		return fmt.Errorf("upserting article %s: %w", a.URL, err)
	}
	return nil
}

// GetArticle returns the stored article for a URL, or nil if absent.
func (db *DB) GetArticle(url string) (*news.Article, error) {
	row := db.conn.QueryRow(
		`SELECT `+articleColumns+` FROM articles WHERE url = ?`, url,
	)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// HasArticle reports whether a URL was already fetched and stored.
func (db *DB) HasArticle(url string) (bool, error) {
	var count int
	if err := db.conn.QueryRow(
		"SELECT COUNT(*) FROM articles WHERE url = ?", url,
	).Scan(&count); err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListArticles returns stored articles, newest fetch first. An empty
// section returns every section.
func (db *DB) ListArticles(section string) ([]news.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles`
	var args []any
	if section != "" {
		query += " WHERE section = ?"
		args = append(args, section)
	}
	query += " ORDER BY fetched_at DESC, url ASC"

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// ListRanked returns scored articles in priority order: score descending,
// then published date descending, then URL ascending. Unscored articles
// are excluded. limit <= 0 returns all.
func (db *DB) ListRanked(limit int) ([]news.Article, error) {
	query := `SELECT ` + articleColumns + ` FROM articles
		WHERE priority_score IS NOT NULL
		ORDER BY priority_score DESC, published DESC, url ASC`
	var args []any
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArticles(rows)
}

// SaveScores writes the priority score of each ranked article back to
// its stored row.
func (db *DB) SaveScores(articles []news.Article) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	for _, a := range articles {
		if a.PriorityScore == nil {
			continue
		}
		if _, err := tx.Exec(
			"UPDATE articles SET priority_score = ? WHERE url = ?",
			*a.PriorityScore, a.URL,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("saving score for %s: %w", a.URL, err)
		}
	}
	return tx.Commit()
}

// CountArticles returns the total number of stored articles.
func (db *DB) CountArticles() (int, error) {
	var count int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM articles").Scan(&count)
	return count, err
}

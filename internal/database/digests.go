package database

import (
	"database/sql"
	"errors"
)

// Digest is a stored rendering of the ranked article list.
type Digest struct {
	ID           int64
	Markdown     string
	ArticleCount int
	GeneratedAt  string
}

// InsertDigest stores a rendered digest and returns its ID.
func (db *DB) InsertDigest(markdown string, articleCount int) (int64, error) {
	result, err := db.conn.Exec(
		"INSERT INTO digests (markdown, article_count) VALUES (?, ?)",
		markdown, articleCount,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetLatestDigest returns the most recent digest, or nil if none exist.
func (db *DB) GetLatestDigest() (*Digest, error) {
	row := db.conn.QueryRow(
		`SELECT id, markdown, article_count, generated_at
		FROM digests ORDER BY id DESC LIMIT 1`,
	)

	var d Digest
	if err := row.Scan(&d.ID, &d.Markdown, &d.ArticleCount, &d.GeneratedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &d, nil
}

// Stats holds aggregate database counts for the status command.
type Stats struct {
	TotalArticles    int
	ScoredArticles   int
	PaywalledTeasers int
	Digests          int
	SavedSessions    int
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	s := &Stats{}

	queries := []struct {
		sql  string
		dest *int
	}{
		{"SELECT COUNT(*) FROM articles", &s.TotalArticles},
		{"SELECT COUNT(*) FROM articles WHERE priority_score IS NOT NULL", &s.ScoredArticles},
		{"SELECT COUNT(*) FROM articles WHERE available = 0", &s.PaywalledTeasers},
		{"SELECT COUNT(*) FROM digests", &s.Digests},
		{"SELECT COUNT(*) FROM sessions", &s.SavedSessions},
	}

	for _, q := range queries {
		if err := db.conn.QueryRow(q.sql).Scan(q.dest); err != nil {
			return nil, err
		}
	}

	return s, nil
}

package index

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Source identifies which retrieval pass produced a result.
type Source string

const (
	// SourceRanked marks results from the full-text ranked pass.
	SourceRanked Source = "ranked"
	// SourceSubstring marks results from the LIKE fallback pass.
	SourceSubstring Source = "substring"
)

// SearchResult is a projection of an entry returned by a query.
type SearchResult struct {
	Path     string    `json:"path"`
	Filename string    `json:"filename"`
	Modified time.Time `json:"modified"`
	Size     int64     `json:"size"`
	IsDir    bool      `json:"is_dir"`
	Rank     float64   `json:"rank"`
	Source   Source    `json:"source,omitempty"`
}

// InvalidPatternError reports a regex pattern that failed to compile.
type InvalidPatternError struct {
	Pattern string
	Err     error
}

func (e *InvalidPatternError) Error() string {
	return fmt.Sprintf("index: invalid regex pattern %q: %v", e.Pattern, e.Err)
}

func (e *InvalidPatternError) Unwrap() error { return e.Err }

// tokenize splits a query on whitespace and lowercases each token.
func tokenize(query string) []string {
	fields := strings.Fields(query)
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		tokens = append(tokens, strings.ToLower(f))
	}
	return tokens
}

// buildMatchExpr builds an FTS5 MATCH expression requiring every token.
// Tokens are quoted so engine metacharacters are treated literally.
func buildMatchExpr(tokens []string) string {
	quoted := make([]string, len(tokens))
	for i, tok := range tokens {
		quoted[i] = `"` + strings.ReplaceAll(tok, `"`, `""`) + `"`
	}
	return strings.Join(quoted, " AND ")
}

// escapeLike escapes LIKE metacharacters in a token; queries using the
// result must declare ESCAPE '\'.
func escapeLike(token string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(token)
}

// rankedOutcome is the typed result of the ranked pass: either rows, or
// a rejection by the full-text engine (which yields zero rows rather
// than failing the search).
type rankedOutcome struct {
	rows     []SearchResult
	rejected bool
}

// rankedPass runs the full-text query. Any engine failure is absorbed as
// a rejection; the substring fallback still runs.
func (s *Store) rankedPass(ctx context.Context, matchExpr string, limit int) rankedOutcome {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.path, e.filename, e.modified, e.size, e.is_dir, bm25(entries_fts) AS rank
		FROM entries_fts
		JOIN entries e ON e.id = entries_fts.rowid
		WHERE entries_fts MATCH ?
		ORDER BY rank ASC, e.is_dir ASC, e.path ASC
		LIMIT ?`,
		matchExpr, limit,
	)
	if err != nil {
		s.logger.Debug("ranked pass rejected", "match", matchExpr, "error", err)
		return rankedOutcome{rejected: true}
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			r        SearchResult
			modified float64
			isDir    int
		)
		if err := rows.Scan(&r.Path, &r.Filename, &modified, &r.Size, &isDir, &r.Rank); err != nil {
			s.logger.Debug("ranked pass rejected", "match", matchExpr, "error", err)
			return rankedOutcome{rejected: true}
		}
		r.Modified = timeFromSeconds(modified)
		r.IsDir = isDir != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		s.logger.Debug("ranked pass rejected", "match", matchExpr, "error", err)
		return rankedOutcome{rejected: true}
	}
	return rankedOutcome{rows: out}
}

// Search answers a tokenized query with a ranked, deduplicated result
// list capped at maxResults.
//
// The ranked full-text pass runs first and fully determines the order of
// its hits. If capacity remains, a conjunctive case-insensitive substring
// pass fills it. Results are admitted once per lowercased path, so a
// ranked hit always wins over a substring hit for the same entry.
func (s *Store) Search(ctx context.Context, query string, maxResults int) ([]SearchResult, error) {
	tokens := tokenize(query)
	if len(tokens) == 0 || maxResults <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	start := time.Now()

	results := make([]SearchResult, 0, maxResults)
	seen := make(map[string]bool)
	admit := func(r SearchResult, src Source) {
		key := strings.ToLower(r.Path)
		if key == "" || seen[key] {
			return
		}
		seen[key] = true
		r.Source = src
		results = append(results, r)
	}

	outcome := s.rankedPass(ctx, buildMatchExpr(tokens), maxResults)
	for _, r := range outcome.rows {
		if len(results) >= maxResults {
			break
		}
		admit(r, SourceRanked)
	}

	if len(results) < maxResults {
		fallback, err := s.substringPass(ctx, tokens, maxResults)
		if err != nil {
			return nil, err
		}
		for _, r := range fallback {
			if len(results) >= maxResults {
				break
			}
			admit(r, SourceSubstring)
		}
	}

	s.logger.SearchEvent("tokenized", len(results), time.Since(start))
	return results, nil
}

// substringPass requires every token to appear as a case-insensitive
// substring of the path or the filename.
func (s *Store) substringPass(ctx context.Context, tokens []string, limit int) ([]SearchResult, error) {
	var (
		preds []string
		args  []any
	)
	for _, tok := range tokens {
		preds = append(preds, `(path_lower LIKE ? ESCAPE '\' OR lower(filename) LIKE ? ESCAPE '\')`)
		like := "%" + escapeLike(tok) + "%"
		args = append(args, like, like)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, filename, modified, size, is_dir, 0.0 AS rank
		FROM entries
		WHERE `+strings.Join(preds, " AND ")+`
		ORDER BY is_dir ASC, path ASC
		LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("substring pass: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			r        SearchResult
			modified float64
			isDir    int
		)
		if err := rows.Scan(&r.Path, &r.Filename, &modified, &r.Size, &isDir, &r.Rank); err != nil {
			return nil, fmt.Errorf("substring pass: %w", err)
		}
		r.Modified = timeFromSeconds(modified)
		r.IsDir = isDir != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("substring pass: %w", err)
	}
	return out, nil
}

// RegexSearch returns entries whose lowercased path or filename matches
// pattern, case-insensitively, ordered by path. The pattern is compiled
// before any store access so an invalid pattern fails fast with an
// *InvalidPatternError. This is a linear scan; the full-text structure is
// not consulted.
func (s *Store) RegexSearch(ctx context.Context, pattern string, maxResults int) ([]SearchResult, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, &InvalidPatternError{Pattern: pattern, Err: err}
	}
	if maxResults <= 0 {
		return nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil, ErrClosed
	}
	start := time.Now()

	rows, err := s.db.QueryContext(ctx, `
		SELECT path, path_lower, filename, modified, size, is_dir
		FROM entries
		ORDER BY path ASC`)
	if err != nil {
		return nil, fmt.Errorf("regex scan: %w", err)
	}
	defer rows.Close()

	var out []SearchResult
	for rows.Next() {
		var (
			r         SearchResult
			pathLower string
			modified  float64
			isDir     int
		)
		if err := rows.Scan(&r.Path, &pathLower, &r.Filename, &modified, &r.Size, &isDir); err != nil {
			return nil, fmt.Errorf("regex scan: %w", err)
		}
		if !re.MatchString(pathLower) && !re.MatchString(r.Filename) {
			continue
		}
		r.Modified = timeFromSeconds(modified)
		r.IsDir = isDir != 0
		out = append(out, r)
		if len(out) >= maxResults {
			break
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("regex scan: %w", err)
	}

	s.logger.SearchEvent("regex", len(out), time.Since(start))
	return out, nil
}

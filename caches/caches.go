// Copyright (c) 2025 The NeuroStore Project and its Contributors
//
// Permission is hereby granted, free of charge, to any person obtaining a copy of
// this software and associated documentation files (the "Software"), to deal in
// the Software without restriction, including without limitation the rights to
// use, copy, modify, merge, publish, distribute, sublicense, and/or sell copies
// of the Software, and to permit persons to whom the Software is furnished to do
// so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// The caches package implements the per-(stage, source) on-disk cache: a
// SQLite index file with identifier alias columns, a sibling lock file that
// serializes writers across processes, and idempotent hit/miss partitioning
// over identifier sets. Readers take no lock and rely on WAL.
package caches

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/neurostuff/nsingest/identifiers"
)

const (
	IndexFileName = "index.sqlite"
	LockFileName  = "index.lock"
	// subdirectory for payload artifacts too large for the index itself
	ArtifactsDirName = "artifacts"
)

// alias columns present in every namespace, in lookup order
var identifierAliasColumns = []string{"pmid", "doi", "pmcid"}

var tableNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]*$`)

// Spec describes a cache namespace: where it lives, the SQL table it keeps
// its rows in, any extra indexable columns, and how to pull alias values out
// of a payload.
type Spec[P any] struct {
	Dir          string            // namespace directory (created if needed)
	Table        string            // SQL table name, e.g. the stage name
	ExtraColumns []string          // namespace-specific alias columns
	Aliases      func(P) AliasValues // extracts indexable values from a payload
}

// Cache is a single namespace's index. All methods are safe for concurrent
// use; writes additionally take the namespace's file lock so that separate
// processes never interleave.
type Cache[P any] struct {
	dir          string
	table        string
	extraColumns []string
	aliases      func(P) AliasValues
	lock         *flock.Flock
	mutex        sync.Mutex
	conn         *sqlite.Conn
	upsertSql    string
}

// Open creates the namespace directory if needed, opens (or creates) its
// index, applies the connection pragmas, and additively migrates the schema.
func Open[P any](spec Spec[P]) (*Cache[P], error) {
	if !tableNamePattern.MatchString(spec.Table) {
		return nil, &InvalidTableNameError{Table: spec.Table}
	}
	if err := os.MkdirAll(spec.Dir, 0755); err != nil {
		return nil, err
	}
	conn, err := sqlite.OpenConn(filepath.Join(spec.Dir, IndexFileName))
	if err != nil {
		return nil, err
	}

	cache := &Cache[P]{
		dir:          spec.Dir,
		table:        spec.Table,
		extraColumns: spec.ExtraColumns,
		aliases:      spec.Aliases,
		lock:         flock.New(filepath.Join(spec.Dir, LockFileName)),
		conn:         conn,
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	} {
		if err := cache.exec(pragma, nil); err != nil {
			conn.Close()
			return nil, err
		}
	}
	if err := cache.migrate(); err != nil {
		conn.Close()
		return nil, err
	}
	cache.upsertSql = cache.buildUpsertSql()
	return cache, nil
}

func (c *Cache[P]) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.conn.Close()
}

// the namespace directory (home of index.sqlite and artifacts/)
func (c *Cache[P]) Dir() string {
	return c.dir
}

// returns the artifacts directory for this namespace, creating it if needed
func (c *Cache[P]) ArtifactsDir() (string, error) {
	dir := filepath.Join(c.dir, ArtifactsDirName)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	return dir, nil
}

// AddEntries upserts the given envelopes by slug within a single immediate
// transaction, holding the namespace's exclusive file lock for the duration.
// A failure rolls the whole batch back.
func (c *Cache[P]) AddEntries(entries []*Envelope[P]) error {
	if len(entries) == 0 {
		return nil
	}
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", c.lock.Path(), err)
	}
	defer c.lock.Unlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()

	if err := c.execTransient("BEGIN IMMEDIATE;", nil); err != nil {
		return err
	}
	for _, entry := range entries {
		if err := c.upsertLocked(entry); err != nil {
			c.execTransient("ROLLBACK;", nil)
			return err
		}
	}
	return c.execTransient("COMMIT;", nil)
}

// Get fetches the envelope stored under the given slug. A row whose payload
// no longer decodes is logged and reported as a miss so the slug gets
// reprocessed.
func (c *Cache[P]) Get(slug string) (*Envelope[P], bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.getLocked("slug", slug)
}

// GetByIdentifier looks an entry up by slug first, then by each identifier
// alias column in order (pmid, doi, pmcid), returning the first match. This
// recovers entries cached under a different slug when only part of the
// identifier was known at caching time.
func (c *Cache[P]) GetByIdentifier(id *identifiers.Identifier) (*Envelope[P], bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	entry, found, err := c.getLocked("slug", id.Slug())
	if err != nil || found {
		return entry, found, err
	}
	for _, column := range identifierAliasColumns {
		value := id.Get(column)
		if value == "" {
			continue
		}
		entry, found, err = c.getLocked(column, value)
		if err != nil || found {
			return entry, found, err
		}
	}
	return nil, false, nil
}

// removes the entry with the given slug (a no-op if absent)
func (c *Cache[P]) Remove(slug string) error {
	if err := c.lock.Lock(); err != nil {
		return fmt.Errorf("locking %s: %w", c.lock.Path(), err)
	}
	defer c.lock.Unlock()

	c.mutex.Lock()
	defer c.mutex.Unlock()
	sql := fmt.Sprintf("DELETE FROM %s WHERE slug = ?;", c.table)
	return c.exec(sql, &sqlitex.ExecOptions{Args: []any{slug}})
}

func (c *Cache[P]) Has(slug string) (bool, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	found := false
	sql := fmt.Sprintf("SELECT 1 FROM %s WHERE slug = ? LIMIT 1;", c.table)
	err := c.exec(sql, &sqlitex.ExecOptions{
		Args: []any{slug},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			found = true
			return nil
		},
	})
	return found, err
}

func (c *Cache[P]) Count() (int, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	count := 0
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s;", c.table)
	err := c.exec(sql, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	return count, err
}

// Entries returns every decodable envelope in the namespace. Corrupt rows
// are logged and skipped.
func (c *Cache[P]) Entries() ([]*Envelope[P], error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	var entries []*Envelope[P]
	sql := fmt.Sprintf("SELECT slug, payload_json, cached_at, metadata_json FROM %s;", c.table)
	err := c.exec(sql, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			if entry := c.decodeRow(stmt); entry != nil {
				entries = append(entries, entry)
			}
			return nil
		},
	})
	return entries, err
}

// IdentifierSets reports the distinct identifier values currently present in
// the namespace, used by bulk importers to avoid duplicate insertions.
type IdentifierSets struct {
	Slugs  map[string]bool
	Pmids  map[string]bool
	Dois   map[string]bool
	Pmcids map[string]bool
}

func (c *Cache[P]) IdentifierSets() (*IdentifierSets, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	sets := &IdentifierSets{
		Slugs:  make(map[string]bool),
		Pmids:  make(map[string]bool),
		Dois:   make(map[string]bool),
		Pmcids: make(map[string]bool),
	}
	sql := fmt.Sprintf("SELECT slug, pmid, doi, pmcid FROM %s;", c.table)
	err := c.exec(sql, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			sets.Slugs[stmt.ColumnText(0)] = true
			if pmid := stmt.ColumnText(1); pmid != "" {
				sets.Pmids[pmid] = true
			}
			if doi := stmt.ColumnText(2); doi != "" {
				sets.Dois[doi] = true
			}
			if pmcid := stmt.ColumnText(3); pmcid != "" {
				sets.Pmcids[pmcid] = true
			}
			return nil
		},
	})
	return sets, err
}

//----------------------
// Internals
//----------------------

func (c *Cache[P]) getLocked(column, value string) (*Envelope[P], bool, error) {
	var entry *Envelope[P]
	sql := fmt.Sprintf(
		"SELECT slug, payload_json, cached_at, metadata_json FROM %s WHERE %s = ? LIMIT 1;",
		c.table, column)
	err := c.exec(sql, &sqlitex.ExecOptions{
		Args: []any{value},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			entry = c.decodeRow(stmt)
			return nil
		},
	})
	if err != nil {
		return nil, false, err
	}
	return entry, entry != nil, nil
}

// decodes one index row; corrupt rows are logged and yield nil (a miss)
func (c *Cache[P]) decodeRow(stmt *sqlite.Stmt) *Envelope[P] {
	slug := stmt.ColumnText(0)
	entry := &Envelope[P]{Slug: slug}

	if err := json.Unmarshal([]byte(stmt.ColumnText(1)), &entry.Payload); err != nil {
		slog.Error("discarding corrupt cache payload",
			"table", c.table, "slug", slug, "error", err.Error())
		return nil
	}
	cachedAt, err := time.Parse(time.RFC3339Nano, stmt.ColumnText(2))
	if err != nil {
		slog.Error("discarding cache row with corrupt timestamp",
			"table", c.table, "slug", slug, "error", err.Error())
		return nil
	}
	entry.CachedAt = cachedAt

	if metadataJson := stmt.ColumnText(3); metadataJson != "" {
		if err := json.Unmarshal([]byte(metadataJson), &entry.Metadata); err != nil {
			slog.Error("discarding corrupt cache metadata",
				"table", c.table, "slug", slug, "error", err.Error())
			return nil
		}
	}
	return entry
}

func (c *Cache[P]) upsertLocked(entry *Envelope[P]) error {
	payloadJson, err := json.Marshal(entry.Payload)
	if err != nil {
		return err
	}
	metadataJson := ""
	if len(entry.Metadata) > 0 {
		encoded, err := json.Marshal(entry.Metadata)
		if err != nil {
			return err
		}
		metadataJson = string(encoded)
	}

	args := []any{
		entry.Slug,
		string(payloadJson),
		entry.CachedAt.UTC().Format(time.RFC3339Nano),
		metadataJson,
	}
	var aliases AliasValues
	if c.aliases != nil {
		aliases = c.aliases(entry.Payload)
	}
	args = append(args, aliases.Pmid, aliases.Doi, aliases.Pmcid)
	for _, column := range c.extraColumns {
		args = append(args, aliases.Extra[column])
	}
	return c.exec(c.upsertSql, &sqlitex.ExecOptions{Args: args})
}

func (c *Cache[P]) buildUpsertSql() string {
	columns := append([]string{"slug", "payload_json", "cached_at", "metadata_json"},
		identifierAliasColumns...)
	columns = append(columns, c.extraColumns...)

	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	assignments := make([]string, 0, len(columns)-1)
	for _, column := range columns[1:] {
		assignments = append(assignments, fmt.Sprintf("%s = excluded.%s", column, column))
	}
	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT(slug) DO UPDATE SET %s;",
		c.table, strings.Join(columns, ", "), placeholders, strings.Join(assignments, ", "))
}

// creates the namespace table if needed and additively migrates it: any
// missing alias column is added and indexed, so older indexes keep working
func (c *Cache[P]) migrate() error {
	createSql := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
  slug TEXT PRIMARY KEY,
  payload_json BLOB NOT NULL,
  cached_at TEXT NOT NULL,
  metadata_json BLOB
);`, c.table)
	if err := c.execTransient(createSql, nil); err != nil {
		return err
	}

	existing := make(map[string]bool)
	infoSql := fmt.Sprintf("PRAGMA table_info(%s);", c.table)
	err := c.execTransient(infoSql, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			existing[stmt.GetText("name")] = true
			return nil
		},
	})
	if err != nil {
		return err
	}

	wanted := append(append([]string{}, identifierAliasColumns...), c.extraColumns...)
	for _, column := range wanted {
		if !tableNamePattern.MatchString(column) {
			return &InvalidTableNameError{Table: column}
		}
		if !existing[column] {
			alterSql := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s TEXT;", c.table, column)
			if err := c.execTransient(alterSql, nil); err != nil {
				return err
			}
		}
		indexSql := fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s_%s_idx ON %s(%s);",
			c.table, column, c.table, column)
		if err := c.execTransient(indexSql, nil); err != nil {
			return err
		}
	}
	return nil
}

func (c *Cache[P]) exec(sql string, options *sqlitex.ExecOptions) error {
	if options == nil {
		options = &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error { return nil },
		}
	} else if options.ResultFunc == nil {
		options.ResultFunc = func(stmt *sqlite.Stmt) error { return nil }
	}
	return sqlitex.Execute(c.conn, sql, options)
}

// like exec, but skips the connection's prepared statement cache (used for
// DDL and transaction control, which run once)
func (c *Cache[P]) execTransient(sql string, options *sqlitex.ExecOptions) error {
	if options == nil {
		options = &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error { return nil },
		}
	} else if options.ResultFunc == nil {
		options.ResultFunc = func(stmt *sqlite.Stmt) error { return nil }
	}
	return sqlitex.ExecuteTransient(c.conn, sql, options)
}

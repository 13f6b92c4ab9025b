package commands

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// Dialect is a supported SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

var schemas = map[Dialect]string{
	DialectSQLite: `
	CREATE TABLE IF NOT EXISTS relay_commands (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		command TEXT NOT NULL,
		args TEXT NOT NULL,
		enqueued_at INTEGER NOT NULL
	);`,
	DialectPostgres: `
	CREATE TABLE IF NOT EXISTS relay_commands (
		id BIGSERIAL PRIMARY KEY,
		command TEXT NOT NULL,
		args TEXT NOT NULL,
		enqueued_at BIGINT NOT NULL
	);`,
}

// SQLStore keeps the queue in a relay_commands table.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// OpenSQLStore connects, applies the schema and returns the store.
func OpenSQLStore(dialect Dialect, dsn string) (*SQLStore, error) {
	schema, ok := schemas[dialect]
	if !ok {
		return nil, fmt.Errorf("unsupported dialect %q", dialect)
	}
	if dsn == "" {
		return nil, fmt.Errorf("%s command store needs a DSN", dialect)
	}

	db, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialect, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect %s: %w", dialect, err)
	}

	if dialect == DialectSQLite {
		// One writer keeps sqlite from returning SQLITE_BUSY under load.
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("enable WAL: %w", err)
		}
		if _, err := db.Exec("PRAGMA synchronous=FULL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("set synchronous: %w", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLStore{db: db, dialect: dialect}, nil
}

// Append inserts cmd. The insert is committed before Append returns.
func (s *SQLStore) Append(cmd Command) error {
	args, err := json.Marshal(normalizeArgs(cmd.Args))
	if err != nil {
		return fmt.Errorf("encode args: %w", err)
	}
	_, err = s.db.Exec(
		s.rebind("INSERT INTO relay_commands (command, args, enqueued_at) VALUES (?, ?, ?)"),
		cmd.Command, string(args), cmd.EnqueuedAt,
	)
	if err != nil {
		return fmt.Errorf("insert command: %w", err)
	}
	return nil
}

// Drain deletes every row and returns them in insertion order. A single
// DELETE ... RETURNING never hands out a row inserted after it started.
func (s *SQLStore) Drain() ([]Command, error) {
	rows, err := s.db.Query("DELETE FROM relay_commands RETURNING id, command, args, enqueued_at")
	if err != nil {
		return nil, fmt.Errorf("drain commands: %w", err)
	}
	defer rows.Close()

	type row struct {
		id  int64
		cmd Command
	}
	var drained []row
	for rows.Next() {
		var (
			r    row
			args string
		)
		if err := rows.Scan(&r.id, &r.cmd.Command, &args, &r.cmd.EnqueuedAt); err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		if err := json.Unmarshal([]byte(args), &r.cmd.Args); err != nil {
			return nil, fmt.Errorf("decode args of command %d: %w", r.id, err)
		}
		r.cmd.Args = normalizeArgs(r.cmd.Args)
		drained = append(drained, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("drain commands: %w", err)
	}

	sort.Slice(drained, func(i, j int) bool { return drained[i].id < drained[j].id })
	out := make([]Command, len(drained))
	for i, r := range drained {
		out[i] = r.cmd
	}
	return out, nil
}

// Len counts queued rows.
func (s *SQLStore) Len() (int, error) {
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM relay_commands").Scan(&n); err != nil {
		return 0, fmt.Errorf("count commands: %w", err)
	}
	return n, nil
}

// Close closes the database handle.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $1, $2, ... for postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Command is one queued operator instruction.
type Command struct {
	Command    string            `json:"command"`
	Args       []json.RawMessage `json:"args"`
	EnqueuedAt int64             `json:"enqueuedAt"` // Unix ms
}

// Store persists the queue. Append must not return until the command is
// durable; Drain must empty the store and return what it held as one step.
type Store interface {
	Append(cmd Command) error
	Drain() ([]Command, error)
	Len() (int, error)
	Close() error
}

// ErrInvalidCommand is returned for an empty or oversized command.
var ErrInvalidCommand = errors.New("invalid command")

// Options selects and configures a Store.
type Options struct {
	Backend string // file, sqlite or postgres
	Path    string // file path for the file and sqlite backends
	DSN     string // connection string; overrides Path for sqlite
}

// Open creates the Store described by opts and loads whatever it already holds.
func Open(opts Options) (Store, error) {
	switch strings.ToLower(opts.Backend) {
	case "", "file":
		return OpenFileStore(opts.Path)
	case "sqlite", "sqlite3":
		dsn := opts.DSN
		if dsn == "" {
			dsn = opts.Path
		}
		return OpenSQLStore(DialectSQLite, dsn)
	case "postgres", "postgresql":
		return OpenSQLStore(DialectPostgres, opts.DSN)
	default:
		return nil, fmt.Errorf("unknown command store backend %q", opts.Backend)
	}
}

// normalizeArgs makes sure an empty argument list encodes as [] rather than null.
func normalizeArgs(args []json.RawMessage) []json.RawMessage {
	if args == nil {
		return []json.RawMessage{}
	}
	return args
}

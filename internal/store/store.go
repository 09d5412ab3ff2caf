// Package store defines the canonical interpreter store: the agency's
// durable source of truth for "is this person registered". Backends register
// themselves with the factory under a kind string ("sqlite", "postgres",
// "mssql"); callers construct a repository via New and stay
// backend-agnostic.
package store

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Interpreter is the durable canonical record. Created by the import
// pipeline on first sight of an unknown name/email, updated in place when an
// existing unregistered record matches. Never deleted by this engine.
type Interpreter struct {
	ID            uuid.UUID
	Name          string
	Email         string
	PhoneHome     string
	PhoneBusiness string
	PhoneMobile   string
	Certification string
	Languages     string
	Notes         string
	Registered    bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Tx is the minimal mutation surface the reconciliation pipeline needs.
// Find methods return (nil, nil) when no record matches.
//
// FindByName matches by exact name equality; FindByEmail matches
// case-insensitively. No fuzzy matching: false merges are more costly than
// duplicates.
type Tx interface {
	FindByName(ctx context.Context, name string) (*Interpreter, error)
	FindByEmail(ctx context.Context, email string) (*Interpreter, error)
	Insert(ctx context.Context, it *Interpreter) error
	Update(ctx context.Context, it *Interpreter) error
}

// Repository is a backend-agnostic canonical store handle.
//
// Direct Tx methods run in autocommit mode (used for single-record
// imports). InBatch runs fn inside one transaction so a whole batch commits
// or rolls back as a unit.
type Repository interface {
	Tx

	// EnsureSchema creates the interpreter table when missing. Idempotent;
	// safe to run on every invocation.
	EnsureSchema(ctx context.Context) error

	// InBatch executes fn inside a single store transaction. The
	// transaction commits when fn returns nil and rolls back otherwise.
	InBatch(ctx context.Context, fn func(tx Tx) error) error

	// Close releases backend resources. Call once at end of invocation.
	Close()
}

// Config selects and configures a backend.
type Config struct {
	Kind string
	DSN  string
}

type factory func(ctx context.Context, cfg Config) (Repository, error)

var (
	mu        sync.RWMutex
	factories = map[string]factory{}
)

// Register registers a backend under a kind. Called from backend package
// init functions. Registering the same kind twice panics: failing fast beats
// ambiguous backend selection.
func Register(kind string, f factory) {
	if kind == "" {
		panic("store: Register called with empty kind")
	}
	if f == nil {
		panic("store: Register called with nil factory")
	}
	mu.Lock()
	defer mu.Unlock()
	if _, dup := factories[kind]; dup {
		panic("store: Register called twice for kind " + kind)
	}
	factories[kind] = f
}

// New constructs a repository for the configured backend kind.
func New(ctx context.Context, cfg Config) (Repository, error) {
	mu.RLock()
	f, ok := factories[cfg.Kind]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("store: unsupported backend kind %q", cfg.Kind)
	}
	return f(ctx, cfg)
}

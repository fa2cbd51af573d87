// Package history persists finished generation runs. Backed by Postgres
// when HISTORY_PG_DSN is set, otherwise an in-memory store so the app
// works without infrastructure.
package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"log"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	_ "github.com/jackc/pgx/v5/stdlib"
)

var ErrNotFound = errors.New("history: entry not found")

// Entry is one finished document.
type Entry struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Depth     string    `json:"depth"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

// Summary is an Entry without its content, for listings.
type Summary struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Provider  string    `json:"provider"`
	Model     string    `json:"model"`
	Depth     string    `json:"depth"`
	Tokens    int       `json:"tokens"`
	CreatedAt time.Time `json:"created_at"`
}

type Store struct {
	db *sql.DB

	mu   sync.RWMutex
	byID map[string]Entry

	schemaOnce sync.Once
	schemaErr  error

	cache *lru.Cache[string, Entry]
}

func New() *Store {
	cache, _ := lru.New[string, Entry](128)
	return &Store{byID: make(map[string]Entry), cache: cache}
}

func NewPostgres(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", strings.TrimSpace(dsn))
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	cache, err := lru.New[string, Entry](128)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, cache: cache}, nil
}

// NewFromEnv picks the Postgres backend when a DSN is configured and
// falls back to memory when it is absent or unreachable.
func NewFromEnv() *Store {
	dsn := strings.TrimSpace(os.Getenv("HISTORY_PG_DSN"))
	if dsn == "" {
		return New()
	}
	s, err := NewPostgres(dsn)
	if err != nil {
		log.Printf("history: postgres unavailable, using memory store: %v", err)
		return New()
	}
	return s
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) ensureSchema() error {
	if s.db == nil {
		return nil
	}
	s.schemaOnce.Do(func() {
		_, s.schemaErr = s.db.Exec(`
CREATE TABLE IF NOT EXISTS strategy_history (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  content TEXT NOT NULL DEFAULT '',
  provider TEXT NOT NULL DEFAULT '',
  model TEXT NOT NULL DEFAULT '',
  depth TEXT NOT NULL DEFAULT '',
  tokens INTEGER NOT NULL DEFAULT 0,
  created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_strategy_history_created_at ON strategy_history (created_at);
`)
	})
	return s.schemaErr
}

// Add stores the entry, assigning ID and CreatedAt when unset, and
// returns the stored value.
func (s *Store) Add(ctx context.Context, e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if s.db != nil {
		if err := s.ensureSchema(); err != nil {
			return Entry{}, err
		}
		_, err := s.db.ExecContext(ctx, `
INSERT INTO strategy_history (id, title, content, provider, model, depth, tokens, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (id)
DO UPDATE SET title=EXCLUDED.title, content=EXCLUDED.content`,
			e.ID, e.Title, e.Content, e.Provider, e.Model, e.Depth, e.Tokens, e.CreatedAt)
		if err != nil {
			return Entry{}, err
		}
		s.cache.Add(e.ID, e)
		return e, nil
	}

	s.mu.Lock()
	s.byID[e.ID] = e
	s.mu.Unlock()
	return e, nil
}

func (s *Store) Get(ctx context.Context, id string) (Entry, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return Entry{}, ErrNotFound
	}
	if e, ok := s.cache.Get(id); ok {
		return e, nil
	}
	if s.db != nil {
		if err := s.ensureSchema(); err != nil {
			return Entry{}, err
		}
		row := s.db.QueryRowContext(ctx, `
SELECT id, title, content, provider, model, depth, tokens, created_at
FROM strategy_history WHERE id = $1`, id)
		var e Entry
		err := row.Scan(&e.ID, &e.Title, &e.Content, &e.Provider, &e.Model, &e.Depth, &e.Tokens, &e.CreatedAt)
		if errors.Is(err, sql.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		if err != nil {
			return Entry{}, err
		}
		s.cache.Add(e.ID, e)
		return e, nil
	}

	s.mu.RLock()
	e, ok := s.byID[id]
	s.mu.RUnlock()
	if !ok {
		return Entry{}, ErrNotFound
	}
	return e, nil
}

// List returns summaries newest first.
func (s *Store) List(ctx context.Context) ([]Summary, error) {
	if s.db != nil {
		if err := s.ensureSchema(); err != nil {
			return nil, err
		}
		rows, err := s.db.QueryContext(ctx, `
SELECT id, title, provider, model, depth, tokens, created_at
FROM strategy_history ORDER BY created_at DESC`)
		if err != nil {
			return nil, err
		}
		defer rows.Close()
		var out []Summary
		for rows.Next() {
			var m Summary
			if err := rows.Scan(&m.ID, &m.Title, &m.Provider, &m.Model, &m.Depth, &m.Tokens, &m.CreatedAt); err != nil {
				return nil, err
			}
			out = append(out, m)
		}
		return out, rows.Err()
	}

	s.mu.RLock()
	out := make([]Summary, 0, len(s.byID))
	for _, e := range s.byID {
		out = append(out, Summary{
			ID: e.ID, Title: e.Title, Provider: e.Provider, Model: e.Model,
			Depth: e.Depth, Tokens: e.Tokens, CreatedAt: e.CreatedAt,
		})
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return ErrNotFound
	}
	s.cache.Remove(id)
	if s.db != nil {
		if err := s.ensureSchema(); err != nil {
			return err
		}
		res, err := s.db.ExecContext(ctx, `DELETE FROM strategy_history WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byID[id]; !ok {
		return ErrNotFound
	}
	delete(s.byID, id)
	return nil
}

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

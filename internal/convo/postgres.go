package convo

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hydrosense/hydrochat/internal/state"
)

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
)

const ddlConversations = `
CREATE TABLE IF NOT EXISTS hydrochat_conversations (
    id         TEXT         PRIMARY KEY,
    state      JSONB        NOT NULL,
    updated_at TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_hydrochat_conversations_updated_at
    ON hydrochat_conversations (updated_at);
`

// PostgresStore persists conversation state as one JSONB row per
// conversation, so state survives process restarts. Turn exclusivity is
// still enforced in-process with a per-id lock; the store assumes a single
// serving process per conversation id.
type PostgresStore struct {
	pool      *pgxpool.Pool
	ttl       time.Duration
	newState  func() *state.ConversationState
	evictions atomic.Int64

	mu    sync.Mutex
	locks map[string]*convoLock
}

type convoLock struct {
	mu   sync.Mutex
	refs int
}

// NewPostgres connects to the database at dsn, verifies connectivity, and
// ensures the conversation table exists.
func NewPostgres(ctx context.Context, dsn string, ttl time.Duration, newState func() *state.ConversationState) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("convo postgres: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("convo postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("convo postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, ddlConversations); err != nil {
		pool.Close()
		return nil, fmt.Errorf("convo postgres: migrate: %w", err)
	}
	return &PostgresStore{
		pool:     pool,
		ttl:      ttl,
		newState: newState,
		locks:    map[string]*convoLock{},
	}, nil
}

// Acquire implements [Store]: lock the id, load the stored state (expired
// rows count as absent), and hand it out for the turn.
func (p *PostgresStore) Acquire(ctx context.Context, id string) (*Handle, error) {
	lock := p.checkout(id)
	lock.mu.Lock()

	st, err := p.load(ctx, id)
	if err != nil {
		lock.mu.Unlock()
		p.checkin(id, lock)
		return nil, err
	}

	return &Handle{
		ID:    id,
		State: st,
		release: func(rctx context.Context) error {
			defer func() {
				lock.mu.Unlock()
				p.checkin(id, lock)
			}()
			return p.save(rctx, id, st)
		},
	}, nil
}

// Stats implements [Store]: sweep expired rows, then count what remains.
func (p *PostgresStore) Stats(ctx context.Context) (Stats, error) {
	if err := p.sweep(ctx); err != nil {
		return Stats{}, err
	}
	var active int
	err := p.pool.QueryRow(ctx, `SELECT count(*) FROM hydrochat_conversations`).Scan(&active)
	if err != nil {
		return Stats{}, fmt.Errorf("convo postgres: count: %w", err)
	}
	return Stats{Active: active, Evictions: p.evictions.Load()}, nil
}

// Close implements [Store].
func (p *PostgresStore) Close(ctx context.Context) error {
	p.pool.Close()
	return nil
}

func (p *PostgresStore) load(ctx context.Context, id string) (*state.ConversationState, error) {
	var (
		raw       []byte
		updatedAt time.Time
	)
	err := p.pool.QueryRow(ctx,
		`SELECT state, updated_at FROM hydrochat_conversations WHERE id = $1`, id,
	).Scan(&raw, &updatedAt)
	switch {
	case err == pgx.ErrNoRows:
		return p.newState(), nil
	case err != nil:
		return nil, fmt.Errorf("convo postgres: load %s: %w", id, err)
	}
	if p.ttl > 0 && time.Since(updatedAt) > p.ttl {
		return p.newState(), nil
	}
	st := p.newState()
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("convo postgres: decode %s: %w", id, err)
	}
	return st, nil
}

func (p *PostgresStore) save(ctx context.Context, id string, st *state.ConversationState) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("convo postgres: encode %s: %w", id, err)
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO hydrochat_conversations (id, state, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (id) DO UPDATE SET state = EXCLUDED.state, updated_at = now()`,
		id, raw)
	if err != nil {
		return fmt.Errorf("convo postgres: save %s: %w", id, err)
	}
	return nil
}

func (p *PostgresStore) sweep(ctx context.Context) error {
	if p.ttl <= 0 {
		return nil
	}
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM hydrochat_conversations WHERE updated_at < now() - $1::interval`,
		fmt.Sprintf("%f seconds", p.ttl.Seconds()))
	if err != nil {
		return fmt.Errorf("convo postgres: sweep: %w", err)
	}
	p.evictions.Add(tag.RowsAffected())
	return nil
}

// checkout returns the per-conversation lock, creating it on first use.
func (p *PostgresStore) checkout(id string) *convoLock {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.locks[id]
	if !ok {
		l = &convoLock{}
		p.locks[id] = l
	}
	l.refs++
	return l
}

// checkin drops a lock reference, discarding the lock when unused.
func (p *PostgresStore) checkin(id string, l *convoLock) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(p.locks, id)
	}
}

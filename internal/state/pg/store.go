// Package pg implements the Postgres-backed state store used in hosted
// deployments. Documents keep the same JSON layout as the file backend,
// stored in jsonb columns keyed by address / conversation ID.
package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/launchfleet/launchbot/internal/state"
)

// Store is a Postgres-backed state.Store.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ state.Store = (*Store)(nil)

// OpenDB opens a pgx stdlib connection pool for the given DSN.
func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return db, nil
}

// New wraps an open connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Participant returns the stored record for addr, or nil if never seen.
func (s *Store) Participant(ctx context.Context, addr common.Address) (*state.ParticipantState, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM participants WHERE address = $1`, state.Key(addr)).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select participant: %w", err)
	}
	return state.DecodeParticipant(doc)
}

// PutParticipant upserts a participant document.
func (s *Store) PutParticipant(ctx context.Context, p *state.ParticipantState) error {
	doc, err := state.EncodeParticipant(p)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO participants (address, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (address) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		state.Key(p.Address), doc)
	if err != nil {
		return fmt.Errorf("upsert participant: %w", err)
	}
	return nil
}

// UpdateParticipant runs mutate inside a transaction holding a row lock, so
// concurrent updates to the same address serialize.
func (s *Store) UpdateParticipant(ctx context.Context, addr common.Address, mutate func(*state.ParticipantState) error) (*state.ParticipantState, error) {
	var out *state.ParticipantState
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var doc []byte
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM participants WHERE address = $1 FOR UPDATE`, state.Key(addr)).Scan(&doc)

		var p *state.ParticipantState
		switch {
		case errors.Is(err, sql.ErrNoRows):
			p = state.NewParticipant(addr, s.now())
		case err != nil:
			return fmt.Errorf("select participant for update: %w", err)
		default:
			if p, err = state.DecodeParticipant(doc); err != nil {
				return err
			}
		}

		if err := mutate(p); err != nil {
			return err
		}
		p.UpdatedAt = s.now()

		encoded, err := state.EncodeParticipant(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO participants (address, doc, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (address) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
			state.Key(addr), encoded); err != nil {
			return fmt.Errorf("upsert participant: %w", err)
		}
		out = p
		return nil
	})
	return out, err
}

// Group returns the stored group record, or nil if absent.
func (s *Store) Group(ctx context.Context, id string) (*state.GroupRecord, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT doc FROM groups WHERE id = $1`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("select group: %w", err)
	}
	return state.DecodeGroup(doc)
}

// PutGroup upserts a group document.
func (s *Store) PutGroup(ctx context.Context, g *state.GroupRecord) error {
	doc, err := state.EncodeGroup(g)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO groups (id, doc, updated_at) VALUES ($1, $2, now())
		 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
		g.ID, doc)
	if err != nil {
		return fmt.Errorf("upsert group: %w", err)
	}
	return nil
}

// UpdateGroup runs mutate inside a transaction with a row lock. A mutate
// error rolls back, leaving the stored document untouched.
func (s *Store) UpdateGroup(ctx context.Context, id string, mutate func(*state.GroupRecord) error) (*state.GroupRecord, error) {
	var out *state.GroupRecord
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var doc []byte
		err := tx.QueryRowContext(ctx,
			`SELECT doc FROM groups WHERE id = $1 FOR UPDATE`, id).Scan(&doc)

		var g *state.GroupRecord
		switch {
		case errors.Is(err, sql.ErrNoRows):
			g = state.NewGroup(id, s.now())
		case err != nil:
			return fmt.Errorf("select group for update: %w", err)
		default:
			if g, err = state.DecodeGroup(doc); err != nil {
				return err
			}
		}

		if err := mutate(g); err != nil {
			return err
		}
		g.UpdatedAt = s.now()

		encoded, err := state.EncodeGroup(g)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO groups (id, doc, updated_at) VALUES ($1, $2, now())
			 ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc, updated_at = now()`,
			id, encoded); err != nil {
			return fmt.Errorf("upsert group: %w", err)
		}
		out = g
		return nil
	})
	return out, err
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) inTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

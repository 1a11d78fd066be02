// Package file implements the standalone-mode state store: one JSON document
// per participant and per group, loaded into memory at startup and written
// back atomically on every update.
package file

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/launchfleet/launchbot/internal/state"
)

// Store is a file-backed state.Store. All documents live under
// {dir}/participants and {dir}/groups.
type Store struct {
	mu           sync.Mutex
	dir          string
	participants map[string]*state.ParticipantState // key: state.Key(addr)
	groups       map[string]*state.GroupRecord      // key: conversation ID
	now          func() time.Time
}

var _ state.Store = (*Store)(nil)

// New opens (creating if needed) a file store rooted at dir and loads all
// existing documents.
func New(dir string) (*Store, error) {
	s := &Store{
		dir:          dir,
		participants: make(map[string]*state.ParticipantState),
		groups:       make(map[string]*state.GroupRecord),
		now:          time.Now,
	}
	for _, sub := range []string{s.participantDir(), s.groupDir()} {
		if err := os.MkdirAll(sub, 0o755); err != nil {
			return nil, err
		}
	}
	s.loadAll()
	return s, nil
}

func (s *Store) participantDir() string { return filepath.Join(s.dir, "participants") }
func (s *Store) groupDir() string       { return filepath.Join(s.dir, "groups") }

func (s *Store) loadAll() {
	loadDir(s.participantDir(), func(data []byte) {
		p, err := state.DecodeParticipant(data)
		if err != nil {
			slog.Warn("state: skipping unreadable participant document", "error", err)
			return
		}
		s.participants[state.Key(p.Address)] = p
	})
	loadDir(s.groupDir(), func(data []byte) {
		g, err := state.DecodeGroup(data)
		if err != nil {
			slog.Warn("state: skipping unreadable group document", "error", err)
			return
		}
		s.groups[g.ID] = g
	})
}

func loadDir(dir string, apply func([]byte)) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			continue
		}
		apply(data)
	}
}

// Participant returns a copy of the stored record, or nil if never seen.
func (s *Store) Participant(_ context.Context, addr common.Address) (*state.ParticipantState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.participants[state.Key(addr)]
	if !ok {
		return nil, nil
	}
	return clone(p, state.EncodeParticipant, state.DecodeParticipant)
}

// PutParticipant writes a participant document.
func (s *Store) PutParticipant(_ context.Context, p *state.ParticipantState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.participants[state.Key(p.Address)] = p
	return s.saveParticipantLocked(p)
}

// PutGroup writes a group document.
func (s *Store) PutGroup(_ context.Context, g *state.GroupRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.groups[g.ID] = g
	return s.saveGroupLocked(g)
}

// Group returns a copy of the stored group record, or nil if absent.
func (s *Store) Group(_ context.Context, id string) (*state.GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[id]
	if !ok {
		return nil, nil
	}
	return clone(g, state.EncodeGroup, state.DecodeGroup)
}

// UpdateParticipant applies mutate under the store lock and persists. A
// mutate error aborts the update without writing.
func (s *Store) UpdateParticipant(ctx context.Context, addr common.Address, mutate func(*state.ParticipantState) error) (*state.ParticipantState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := state.Key(addr)
	p, ok := s.participants[k]
	if !ok {
		p = state.NewParticipant(addr, s.now())
	}
	// Mutate a copy so an aborted update leaves the cached record untouched.
	work, err := clone(p, state.EncodeParticipant, state.DecodeParticipant)
	if err != nil {
		return nil, err
	}
	if err := mutate(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = s.now()
	s.participants[k] = work
	if err := s.saveParticipantLocked(work); err != nil {
		return nil, err
	}
	return clone(work, state.EncodeParticipant, state.DecodeParticipant)
}

// UpdateGroup applies mutate under the store lock and persists. A mutate
// error aborts the update without writing.
func (s *Store) UpdateGroup(ctx context.Context, id string, mutate func(*state.GroupRecord) error) (*state.GroupRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.groups[id]
	if !ok {
		g = state.NewGroup(id, s.now())
	}
	// Mutate a copy so an aborted update leaves the cached record untouched.
	work, err := clone(g, state.EncodeGroup, state.DecodeGroup)
	if err != nil {
		return nil, err
	}
	if err := mutate(work); err != nil {
		return nil, err
	}
	work.UpdatedAt = s.now()
	s.groups[id] = work
	if err := s.saveGroupLocked(work); err != nil {
		return nil, err
	}
	return clone(work, state.EncodeGroup, state.DecodeGroup)
}

func (s *Store) saveParticipantLocked(p *state.ParticipantState) error {
	data, err := state.EncodeParticipant(p)
	if err != nil {
		return err
	}
	return atomicWrite(s.participantDir(), sanitizeFilename(state.Key(p.Address)), data)
}

func (s *Store) saveGroupLocked(g *state.GroupRecord) error {
	data, err := state.EncodeGroup(g)
	if err != nil {
		return err
	}
	return atomicWrite(s.groupDir(), sanitizeFilename(g.ID), data)
}

// Close flushes nothing (writes are synchronous) and releases nothing.
func (s *Store) Close() error { return nil }

// atomicWrite writes data via temp file + rename so readers never observe a
// torn document.
func atomicWrite(dir, name string, data []byte) error {
	if name == "" || !filepath.IsLocal(name) || strings.ContainsAny(name, `/\`) {
		return os.ErrInvalid
	}
	tmp, err := os.CreateTemp(dir, "doc-*.tmp")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	tmp.Close()

	if err := os.Rename(tmpPath, filepath.Join(dir, name+".json")); err != nil {
		return err
	}
	cleanup = false
	return nil
}

func sanitizeFilename(key string) string {
	return strings.ReplaceAll(key, ":", "_")
}

func clone[T any](v *T, enc func(*T) ([]byte, error), dec func([]byte) (*T, error)) (*T, error) {
	data, err := enc(v)
	if err != nil {
		return nil, err
	}
	return dec(data)
}

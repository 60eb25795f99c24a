// Package memstore is an in-process subathon store. Each streamer has its own
// mutex held for the whole transaction, and writes are staged on the
// transaction and applied together on commit.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mcdev12/subathon/go/internal/models"
	"github.com/mcdev12/subathon/go/internal/subathon/events"
	"github.com/mcdev12/subathon/go/internal/subathon/store"
)

// ErrDuplicateExternalID is returned on commit when another streamer's
// transaction claimed the same external event id first
var ErrDuplicateExternalID = errors.New("external event id already recorded")

type Store struct {
	mu          sync.Mutex
	streamers   map[uuid.UUID]models.Streamer
	subathons   map[uuid.UUID]*models.Subathon
	additions   map[uuid.UUID][]models.TimeAddition
	externalIDs map[string]struct{}
	clicks      map[uuid.UUID]map[string]time.Time
	unresolved  []models.UnresolvedEvent
	outbox      []events.Envelope
	locks       map[uuid.UUID]*sync.Mutex
	commitErr   error
}

func New() *Store {
	return &Store{
		streamers:   make(map[uuid.UUID]models.Streamer),
		subathons:   make(map[uuid.UUID]*models.Subathon),
		additions:   make(map[uuid.UUID][]models.TimeAddition),
		externalIDs: make(map[string]struct{}),
		clicks:      make(map[uuid.UUID]map[string]time.Time),
		locks:       make(map[uuid.UUID]*sync.Mutex),
	}
}

// FailCommits makes every following commit fail with err. Pass nil to clear.
func (s *Store) FailCommits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commitErr = err
}

// AddStreamer inserts or replaces a streamer
func (s *Store) AddStreamer(st models.Streamer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streamers[st.ID] = st
}

func (s *Store) GetStreamer(ctx context.Context, id uuid.UUID) (*models.Streamer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.streamers[id]
	if !ok {
		return nil, fmt.Errorf("streamer %s: %w", id, store.ErrNotFound)
	}
	return &st, nil
}

func (s *Store) FindStreamerByPlatformUser(ctx context.Context, platform, platformUserID string) (*models.Streamer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, st := range s.streamers {
		if st.Platform == platform && st.PlatformUserID == platformUserID {
			found := st
			return &found, nil
		}
	}
	return nil, fmt.Errorf("streamer %s/%s: %w", platform, platformUserID, store.ErrNotFound)
}

func (s *Store) CreateSubathon(ctx context.Context, sub *models.Subathon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subathons[sub.StreamerID]; ok {
		return fmt.Errorf("subathon %s: %w", sub.StreamerID, store.ErrAlreadyExists)
	}
	s.subathons[sub.StreamerID] = sub.Clone()
	return nil
}

func (s *Store) GetSubathon(ctx context.Context, streamerID uuid.UUID) (*models.Subathon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subathons[streamerID]
	if !ok {
		return nil, fmt.Errorf("subathon %s: %w", streamerID, store.ErrNotFound)
	}
	return sub.Clone(), nil
}

func (s *Store) ListSubathonsByStatus(ctx context.Context, status models.SubathonStatus) ([]models.Subathon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Subathon
	for _, sub := range s.subathons {
		if sub.Status == status {
			out = append(out, *sub.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].StreamerID.String() < out[j].StreamerID.String()
	})
	return out, nil
}

// ListTimeAdditions returns the newest rows first
func (s *Store) ListTimeAdditions(ctx context.Context, streamerID uuid.UUID, limit int) ([]models.TimeAddition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.newestAdditions(streamerID, limit), nil
}

// newestAdditions expects s.mu to be held
func (s *Store) newestAdditions(streamerID uuid.UUID, limit int) []models.TimeAddition {
	rows := s.additions[streamerID]
	out := make([]models.TimeAddition, 0, min(limit, len(rows)))
	for i := len(rows) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, rows[i])
	}
	return out
}

// ReadSnapshot returns the subathon and its newest ledger rows as of one commit
func (s *Store) ReadSnapshot(ctx context.Context, streamerID uuid.UUID, limit int) (*models.Subathon, []models.TimeAddition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sub, ok := s.subathons[streamerID]
	if !ok {
		return nil, nil, fmt.Errorf("subathon %s: %w", streamerID, store.ErrNotFound)
	}
	return sub.Clone(), s.newestAdditions(streamerID, limit), nil
}

func (s *Store) SumTimeAdditions(ctx context.Context, streamerID uuid.UUID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, row := range s.additions[streamerID] {
		total += row.TimeSeconds
	}
	return total, nil
}

func (s *Store) RecordUnresolvedEvent(ctx context.Context, ev models.UnresolvedEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, pending := range s.unresolved {
		if pending.Platform == ev.Platform && pending.EventID == ev.EventID {
			return nil
		}
	}
	s.unresolved = append(s.unresolved, ev)
	return nil
}

// ListUnresolvedEvents returns the newest events first
func (s *Store) ListUnresolvedEvents(ctx context.Context, limit int) ([]models.UnresolvedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.UnresolvedEvent, 0, min(limit, len(s.unresolved)))
	for i := len(s.unresolved) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.unresolved[i])
	}
	return out, nil
}

// Outbox returns every committed envelope in commit order
func (s *Store) Outbox() []events.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Envelope(nil), s.outbox...)
}

func (s *Store) streamerLock(streamerID uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[streamerID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[streamerID] = l
	}
	return l
}

func (s *Store) WithSubathonLock(ctx context.Context, streamerID uuid.UUID, fn func(tx store.SubathonTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l := s.streamerLock(streamerID)
	l.Lock()
	defer l.Unlock()

	sub, err := s.GetSubathon(ctx, streamerID)
	if err != nil {
		return err
	}

	t := &tx{store: s, streamerID: streamerID, sub: sub, clicks: make(map[string]time.Time)}
	if err := fn(t); err != nil {
		return err
	}
	return s.commit(t)
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.commitErr != nil {
		return s.commitErr
	}
	for _, id := range t.externalIDs() {
		if _, ok := s.externalIDs[id]; ok {
			return fmt.Errorf("%s: %w", id, ErrDuplicateExternalID)
		}
	}

	if t.saved != nil {
		s.subathons[t.streamerID] = t.saved
	}
	for _, id := range t.externalIDs() {
		s.externalIDs[id] = struct{}{}
	}
	s.additions[t.streamerID] = append(s.additions[t.streamerID], t.additions...)
	if len(t.clicks) > 0 {
		perPlayer, ok := s.clicks[t.streamerID]
		if !ok {
			perPlayer = make(map[string]time.Time)
			s.clicks[t.streamerID] = perPlayer
		}
		for player, at := range t.clicks {
			perPlayer[player] = at
		}
	}
	s.outbox = append(s.outbox, t.outbox...)
	return nil
}

type tx struct {
	store      *Store
	streamerID uuid.UUID
	sub        *models.Subathon

	saved     *models.Subathon
	additions []models.TimeAddition
	processed []string
	clicks    map[string]time.Time
	outbox    []events.Envelope
}

// externalIDs lists every platform event id staged on the transaction
func (t *tx) externalIDs() []string {
	ids := append([]string(nil), t.processed...)
	for _, a := range t.additions {
		if a.ExternalEventID != nil {
			ids = append(ids, *a.ExternalEventID)
		}
	}
	return ids
}

func (t *tx) Subathon() *models.Subathon {
	return t.sub
}

func (t *tx) SaveSubathon(ctx context.Context, sub *models.Subathon) error {
	t.saved = sub.Clone()
	return nil
}

func (t *tx) InsertTimeAddition(ctx context.Context, a models.TimeAddition) (bool, error) {
	if a.ExternalEventID != nil {
		seen, _ := t.HasExternalEvent(ctx, *a.ExternalEventID)
		if seen {
			return false, nil
		}
	}
	t.additions = append(t.additions, a)
	return true, nil
}

func (t *tx) HasExternalEvent(ctx context.Context, eventID string) (bool, error) {
	for _, id := range t.externalIDs() {
		if id == eventID {
			return true, nil
		}
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	_, seen := t.store.externalIDs[eventID]
	return seen, nil
}

func (t *tx) MarkEventProcessed(ctx context.Context, eventID, eventType string, at time.Time) (bool, error) {
	seen, _ := t.HasExternalEvent(ctx, eventID)
	if seen {
		return false, nil
	}
	t.processed = append(t.processed, eventID)
	return true, nil
}

func (t *tx) LastClickAt(ctx context.Context, playerIdentity string) (*time.Time, error) {
	if at, ok := t.clicks[playerIdentity]; ok {
		return &at, nil
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	at, ok := t.store.clicks[t.streamerID][playerIdentity]
	if !ok {
		return nil, nil
	}
	return &at, nil
}

func (t *tx) SaveClick(ctx context.Context, playerIdentity string, at time.Time) error {
	t.clicks[playerIdentity] = at
	return nil
}

func (t *tx) InsertOutbox(ctx context.Context, envs []events.Envelope) error {
	t.outbox = append(t.outbox, envs...)
	return nil
}

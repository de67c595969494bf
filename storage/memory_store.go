package storage

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"olx-watcher/models"
	"olx-watcher/utils"
)

// MemoryStore keeps listings in process. With a file path it also persists
// every committed batch as a JSON document and reloads it on open.
//
// Writers build a new snapshot, persist it, and only then publish it, so a
// failed write leaves both memory and disk at the previous state.
type MemoryStore struct {
	writeMu sync.Mutex

	mu      sync.RWMutex
	records map[string]models.Listing

	path   string
	now    func() time.Time
	logger *utils.Logger
}

// MemoryOption customises a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the clock used for scraped_at.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// WithFile enables JSON persistence at path.
func WithFile(path string) MemoryOption {
	return func(s *MemoryStore) { s.path = path }
}

// NewMemoryStore creates a MemoryStore, loading existing records when a file
// is configured and present.
func NewMemoryStore(logger *utils.Logger, opts ...MemoryOption) (*MemoryStore, error) {
	s := &MemoryStore{
		records: make(map[string]models.Listing),
		now:     time.Now,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *MemoryStore) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Info("[store] No data file at %s, starting empty", s.path)
		return nil
	}
	if err != nil {
		return eris.Wrapf(err, "store: read %s", s.path)
	}

	var listings []models.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return eris.Wrapf(err, "store: decode %s", s.path)
	}
	for _, l := range listings {
		if l.ID == "" {
			continue
		}
		if _, dup := s.records[l.ID]; dup {
			continue
		}
		s.records[l.ID] = l
	}
	s.logger.Info("[store] Loaded %d listings from %s", len(s.records), s.path)
	return nil
}

func (s *MemoryStore) Reconcile(ctx context.Context, candidates []models.Listing) (models.ReconcileResult, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current := s.records
	s.mu.RUnlock()

	var res models.ReconcileResult
	var next map[string]models.Listing
	now := s.now().UTC()

	for _, c := range candidates {
		if c.ID == "" {
			continue
		}
		if _, known := current[c.ID]; known {
			res.Duplicates++
			continue
		}
		if _, added := next[c.ID]; added {
			res.Duplicates++
			continue
		}
		if next == nil {
			next = make(map[string]models.Listing, len(candidates))
		}
		c.ScrapedAt = now
		c.Seen = false
		next[c.ID] = c
		res.NewlyAdded++
	}

	if res.NewlyAdded > 0 {
		merged := make(map[string]models.Listing, len(current)+len(next))
		for id, l := range current {
			merged[id] = l
		}
		for id, l := range next {
			merged[id] = l
		}
		if err := s.commit(merged); err != nil {
			return models.ReconcileResult{}, err
		}
		current = merged
	}

	res.Total, res.Unseen = countStats(current)
	return res, nil
}

func (s *MemoryStore) MarkSeen(ctx context.Context, ids []string) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.mu.RLock()
	current := s.records
	s.mu.RUnlock()

	matched := 0
	changed := false
	for _, id := range utils.Unique(ids) {
		l, ok := current[id]
		if !ok {
			continue
		}
		matched++
		if !l.Seen {
			changed = true
		}
	}
	if !changed {
		return matched, nil
	}

	next := make(map[string]models.Listing, len(current))
	for id, l := range current {
		next[id] = l
	}
	for _, id := range ids {
		if l, ok := next[id]; ok {
			l.Seen = true
			next[id] = l
		}
	}
	if err := s.commit(next); err != nil {
		return 0, err
	}
	return matched, nil
}

func (s *MemoryStore) List(ctx context.Context, filter models.ListFilter) ([]models.Listing, error) {
	s.mu.RLock()
	snapshot := s.records
	s.mu.RUnlock()

	out := make([]models.Listing, 0, len(snapshot))
	for _, l := range snapshot {
		if !filter.IncludeSeen && l.Seen {
			continue
		}
		out = append(out, l)
	}
	SortRecentFirst(out)
	return out, nil
}

func (s *MemoryStore) Stats(ctx context.Context) (models.Stats, error) {
	s.mu.RLock()
	snapshot := s.records
	s.mu.RUnlock()

	total, unseen := countStats(snapshot)
	return models.Stats{Total: total, Unseen: unseen}, nil
}

func (s *MemoryStore) Close() error { return nil }

// commit persists next (when file-backed) and publishes it. Caller holds writeMu.
func (s *MemoryStore) commit(next map[string]models.Listing) error {
	if s.path != "" {
		if err := s.save(next); err != nil {
			return err
		}
	}
	s.mu.Lock()
	s.records = next
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) save(records map[string]models.Listing) error {
	listings := make([]models.Listing, 0, len(records))
	for _, l := range records {
		listings = append(listings, l)
	}
	SortRecentFirst(listings)

	data, err := json.MarshalIndent(listings, "", "  ")
	if err != nil {
		return eris.Wrap(err, "store: encode")
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return eris.Wrap(err, "store: create data dir")
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".listings-*.json")
	if err != nil {
		return eris.Wrap(err, "store: create temp file")
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return eris.Wrap(err, "store: write temp file")
	}
	if err := tmp.Close(); err != nil {
		return eris.Wrap(err, "store: close temp file")
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return eris.Wrapf(err, "store: replace %s", s.path)
	}
	return nil
}

func countStats(records map[string]models.Listing) (total, unseen int) {
	for _, l := range records {
		total++
		if !l.Seen {
			unseen++
		}
	}
	return total, unseen
}

// SortRecentFirst orders listings by scraped_at descending, then id.
func SortRecentFirst(listings []models.Listing) {
	sort.SliceStable(listings, func(i, j int) bool {
		if !listings[i].ScrapedAt.Equal(listings[j].ScrapedAt) {
			return listings[i].ScrapedAt.After(listings[j].ScrapedAt)
		}
		return listings[i].ID < listings[j].ID
	})
}

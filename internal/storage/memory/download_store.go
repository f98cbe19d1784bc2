package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/JakeFAU/sipeto/internal/media"
)

// DownloadStore is an in-memory media.DownloadLedger.
type DownloadStore struct {
	mu      sync.RWMutex
	records map[string]media.DownloadRecord
}

// NewDownloadStore creates an empty ledger.
func NewDownloadStore() *DownloadStore {
	return &DownloadStore{records: make(map[string]media.DownloadRecord)}
}

// RecordDownload stores rec, rejecting duplicate ids.
func (s *DownloadStore) RecordDownload(_ context.Context, rec media.DownloadRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.records[rec.ID]; exists {
		return fmt.Errorf("download %s already recorded", rec.ID)
	}
	s.records[rec.ID] = rec
	return nil
}

// ListDownloads returns records newest first.
func (s *DownloadStore) ListDownloads(_ context.Context, q media.DownloadQuery) ([]media.DownloadRecord, error) {
	s.mu.RLock()
	out := make([]media.DownloadRecord, 0, len(s.records))
	for _, rec := range s.records {
		if q.Platform == "" || rec.Platform == q.Platform {
			out = append(out, rec)
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].DownloadedAt.Equal(out[j].DownloadedAt) {
			return out[i].DownloadedAt.After(out[j].DownloadedAt)
		}
		return out[i].ID > out[j].ID
	})
	if q.Offset >= len(out) {
		return nil, nil
	}
	out = out[q.Offset:]
	if q.Limit > 0 && q.Limit < len(out) {
		out = out[:q.Limit]
	}
	return out, nil
}

// GetDownload returns the record with id.
func (s *DownloadStore) GetDownload(_ context.Context, id string) (media.DownloadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return media.DownloadRecord{}, fmt.Errorf("download %s: %w", id, media.ErrNotFound)
	}
	return rec, nil
}

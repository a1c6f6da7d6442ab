package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"loopcast/internal/models"
)

// Snapshot captures a complete JSON-serialisable view of the datastore so it
// can be exported for backup or replayed into another backing store.
type Snapshot struct {
	Videos       map[string]models.Video    `json:"videos"`
	StreamConfig *models.StreamConfig       `json:"streamConfig,omitempty"`
	StreamStatus *models.StreamStatus       `json:"streamStatus,omitempty"`
	SystemConfig *models.SystemConfig       `json:"systemConfig,omitempty"`
	Operators    map[string]models.Operator `json:"operators"`
}

// SnapshotCounts summarises the size of each collection stored in a Snapshot
// so operators can see how much data an import touched.
type SnapshotCounts struct {
	Videos       int  `json:"videos"`
	Operators    int  `json:"operators"`
	StreamConfig bool `json:"streamConfig"`
	StreamStatus bool `json:"streamStatus"`
	SystemConfig bool `json:"systemConfig"`
}

// Counts reports collection sizes for the snapshot.
func (s *Snapshot) Counts() SnapshotCounts {
	if s == nil {
		return SnapshotCounts{}
	}
	return SnapshotCounts{
		Videos:       len(s.Videos),
		Operators:    len(s.Operators),
		StreamConfig: s.StreamConfig != nil,
		StreamStatus: s.StreamStatus != nil,
		SystemConfig: s.SystemConfig != nil,
	}
}

// LoadSnapshotFromJSON reads a previously exported Snapshot from disk.
func LoadSnapshotFromJSON(path string) (*Snapshot, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open snapshot %s: %w", path, err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	var snapshot Snapshot
	if err := decoder.Decode(&snapshot); err != nil {
		if err == io.EOF {
			snapshot.ensureInitialized()
			return &snapshot, nil
		}
		return nil, fmt.Errorf("decode snapshot %s: %w", path, err)
	}
	snapshot.ensureInitialized()
	return &snapshot, nil
}

func (s *Snapshot) ensureInitialized() {
	if s.Videos == nil {
		s.Videos = make(map[string]models.Video)
	}
	if s.Operators == nil {
		s.Operators = make(map[string]models.Operator)
	}
}

// ExportSnapshot returns a deep copy of the datastore contents.
func (s *Storage) ExportSnapshot(ctx context.Context) (*Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	data := cloneDataset(s.data)
	snapshot := &Snapshot{
		Videos:       data.Videos,
		StreamConfig: data.StreamConfig,
		StreamStatus: data.StreamStatus,
		SystemConfig: data.SystemConfig,
		Operators:    data.Operators,
	}
	snapshot.ensureInitialized()
	return snapshot, nil
}

// ImportSnapshot replaces the datastore contents with the snapshot and
// persists the result atomically.
func (s *Storage) ImportSnapshot(ctx context.Context, snapshot *Snapshot) (SnapshotCounts, error) {
	if snapshot == nil {
		return SnapshotCounts{}, fmt.Errorf("snapshot is required")
	}
	if err := ctx.Err(); err != nil {
		return SnapshotCounts{}, err
	}
	snapshot.ensureInitialized()

	s.mu.Lock()
	defer s.mu.Unlock()

	updatedData := newDataset()
	for id, video := range snapshot.Videos {
		updatedData.Videos[id] = video
	}
	for username, operator := range snapshot.Operators {
		updatedData.Operators[username] = operator
	}
	if snapshot.StreamConfig != nil {
		cfg := *snapshot.StreamConfig
		updatedData.StreamConfig = &cfg
	}
	if snapshot.StreamStatus != nil {
		status := *snapshot.StreamStatus
		updatedData.StreamStatus = &status
	}
	if snapshot.SystemConfig != nil {
		cfg := *snapshot.SystemConfig
		updatedData.SystemConfig = &cfg
	}

	if err := s.persistDataset(updatedData); err != nil {
		return SnapshotCounts{}, err
	}
	s.data = updatedData
	return snapshot.Counts(), nil
}

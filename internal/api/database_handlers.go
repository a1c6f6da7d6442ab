package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"loopcast/internal/storage"
)

const snapshotSuffix = ".json"

var snapshotNamePattern = regexp.MustCompile(`^backup_[0-9]{8}_[0-9]{6}\.json$`)

type backupInfo struct {
	Name      string    `json:"name"`
	SizeBytes int64     `json:"sizeBytes"`
	CreatedAt time.Time `json:"createdAt"`
}

// DatabaseBackup exports the datastore to a timestamped snapshot file.
func (h *Handler) DatabaseBackup(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	snapshot, err := h.Store.ExportSnapshot(r.Context())
	if err != nil {
		h.logger().Error("snapshot export failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to export snapshot")
		return
	}

	dir := h.backupsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		h.logger().Error("backup directory creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to prepare backup directory")
		return
	}

	name := fmt.Sprintf("backup_%s%s", time.Now().UTC().Format("20060102_150405"), snapshotSuffix)
	path := filepath.Join(dir, name)
	if err := writeSnapshotFile(path, snapshot); err != nil {
		h.logger().Error("snapshot write failed", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to write snapshot")
		return
	}

	info, err := os.Stat(path)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to stat snapshot")
		return
	}
	h.logger().Info("database backup created", "file", name, "size_bytes", info.Size())
	writeJSON(w, http.StatusCreated, backupInfo{
		Name:      name,
		SizeBytes: info.Size(),
		CreatedAt: info.ModTime().UTC(),
	})
}

func writeSnapshotFile(path string, snapshot *storage.Snapshot) error {
	tmp := path + ".tmp"
	file, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(snapshot); err != nil {
		file.Close()
		os.Remove(tmp)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// DatabaseBackups lists available snapshot files, newest first.
func (h *Handler) DatabaseBackups(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r)
		return
	}
	entries, err := os.ReadDir(h.backupsDir())
	if err != nil {
		if os.IsNotExist(err) {
			writeJSON(w, http.StatusOK, []backupInfo{})
			return
		}
		h.logger().Error("backup listing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list backups")
		return
	}

	backups := make([]backupInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !snapshotNamePattern.MatchString(entry.Name()) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		backups = append(backups, backupInfo{
			Name:      entry.Name(),
			SizeBytes: info.Size(),
			CreatedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	writeJSON(w, http.StatusOK, backups)
}

// DatabaseBackupByName deletes a snapshot file. The name must match the
// pattern produced by DatabaseBackup so path traversal cannot reach other
// files.
func (h *Handler) DatabaseBackupByName(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r)
		return
	}
	name := strings.TrimPrefix(r.URL.Path, "/api/database/backups/")
	if !snapshotNamePattern.MatchString(name) {
		writeError(w, http.StatusBadRequest, "invalid backup name")
		return
	}
	path := filepath.Join(h.backupsDir(), name)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			writeError(w, http.StatusNotFound, "backup not found")
			return
		}
		h.logger().Error("backup delete failed", "file", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete backup")
		return
	}
	h.logger().Info("database backup deleted", "file", name)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// DatabaseRestore imports an uploaded snapshot, replacing the current data.
func (h *Handler) DatabaseRestore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	if h.Engine != nil && h.Engine.IsStreamActive() {
		writeError(w, http.StatusConflict, "stop the stream before restoring a snapshot")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 64<<20)
	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}

	var snapshot *storage.Snapshot
	for snapshot == nil {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		if part.FormName() != "snapshot" && part.FormName() != "backup" {
			part.Close()
			continue
		}
		decoded, err := decodeSnapshot(part)
		part.Close()
		if err != nil {
			writeError(w, http.StatusBadRequest, "snapshot is not valid JSON")
			return
		}
		snapshot = decoded
	}
	if snapshot == nil {
		writeError(w, http.StatusBadRequest, "missing snapshot file field")
		return
	}

	counts, err := h.Store.ImportSnapshot(r.Context(), snapshot)
	if err != nil {
		h.logger().Error("snapshot import failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to import snapshot")
		return
	}
	h.logger().Info("database snapshot restored",
		"videos", counts.Videos,
		"operators", counts.Operators)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"restored": counts,
	})
}

func decodeSnapshot(r io.Reader) (*storage.Snapshot, error) {
	var snapshot storage.Snapshot
	decoder := json.NewDecoder(r)
	if err := decoder.Decode(&snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

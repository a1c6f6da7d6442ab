package api

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"

	"loopcast/internal/storage"
)

var allowedVideoExtensions = map[string]string{
	".mp4": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
}

var allowedVideoMIMETypes = map[string]struct{}{
	"video/mp4":                {},
	"video/x-msvideo":          {},
	"video/avi":                {},
	"video/quicktime":          {},
	"application/octet-stream": {},
}

// Videos lists the playlist or accepts a multipart upload.
func (h *Handler) Videos(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, h.Store.ListVideos())
	case http.MethodPost:
		h.uploadVideo(w, r)
	default:
		methodNotAllowed(w, r)
	}
}

func (h *Handler) uploadVideo(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes())

	reader, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, "expected multipart form data")
		return
	}

	var (
		title      string
		storedName string
		fileSize   int64
		haveFile   bool
	)
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			h.discardUpload(storedName)
			writeError(w, http.StatusBadRequest, "malformed multipart body")
			return
		}
		switch part.FormName() {
		case "title":
			raw, err := io.ReadAll(io.LimitReader(part, 1024))
			part.Close()
			if err != nil {
				h.discardUpload(storedName)
				writeError(w, http.StatusBadRequest, "failed to read title field")
				return
			}
			title = norm.NFC.String(strings.TrimSpace(string(raw)))
		case "video":
			if haveFile {
				part.Close()
				continue
			}
			storedName, fileSize, err = h.saveUploadPart(part)
			part.Close()
			if err != nil {
				var reqErr RequestError
				if errors.As(err, &reqErr) {
					WriteRequestError(w, reqErr)
				} else {
					h.logger().Error("upload write failed", "error", err)
					writeError(w, http.StatusInternalServerError, "failed to store upload")
				}
				return
			}
			haveFile = true
		default:
			part.Close()
		}
	}

	if !haveFile {
		writeError(w, http.StatusBadRequest, "missing video file field")
		return
	}
	if title == "" {
		base := strings.TrimSuffix(path.Base(storedName), filepath.Ext(storedName))
		if idx := strings.Index(base, "_"); idx > 0 && idx < len(base)-1 {
			base = base[idx+1:]
		}
		title = base
	}

	video, err := h.Store.CreateVideo(storage.CreateVideoParams{
		Title:    title,
		Filename: storedName,
		FileSize: fileSize,
	})
	if err != nil {
		h.discardUpload(storedName)
		h.logger().Error("video record creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to save video")
		return
	}

	if h.Processor != nil {
		h.Processor.Enqueue(video.ID)
	}
	if h.Metrics != nil {
		h.Metrics.ObserveUpload("accepted")
	}
	h.logger().Info("video uploaded",
		"video_id", video.ID,
		"filename", storedName,
		"size_bytes", fileSize)
	writeJSON(w, http.StatusCreated, video)
}

// saveUploadPart streams one multipart file part to the uploads directory and
// returns the stored filename.
func (h *Handler) saveUploadPart(part *multipart.Part) (string, int64, error) {
	original := filepath.Base(part.FileName())
	if original == "" || original == "." {
		return "", 0, ValidationError("upload is missing a filename")
	}
	ext := strings.ToLower(filepath.Ext(original))
	if _, ok := allowedVideoExtensions[ext]; !ok {
		return "", 0, ValidationError("unsupported video format, expected mp4, avi, or mov")
	}
	if declared := part.Header.Get("Content-Type"); declared != "" {
		mediaType, _, err := mime.ParseMediaType(declared)
		if err == nil {
			if _, ok := allowedVideoMIMETypes[mediaType]; !ok {
				return "", 0, ValidationError("unsupported video content type")
			}
		}
	}

	dir := h.uploadsDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create uploads directory: %w", err)
	}

	base := strings.TrimSuffix(original, filepath.Ext(original))
	storedName := fmt.Sprintf("%d_%s%s", time.Now().UnixNano(), sanitizeFilename(base), ext)
	dstPath := filepath.Join(dir, storedName)

	dst, err := os.Create(dstPath)
	if err != nil {
		return "", 0, fmt.Errorf("create upload file: %w", err)
	}
	written, err := io.Copy(dst, part)
	closeErr := dst.Close()
	if err != nil {
		os.Remove(dstPath)
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return "", 0, RequestError{Status: http.StatusRequestEntityTooLarge, Message: "upload exceeds the size limit"}
		}
		return "", 0, fmt.Errorf("write upload: %w", err)
	}
	if closeErr != nil {
		os.Remove(dstPath)
		return "", 0, fmt.Errorf("flush upload: %w", closeErr)
	}
	if written == 0 {
		os.Remove(dstPath)
		return "", 0, ValidationError("uploaded file is empty")
	}
	return storedName, written, nil
}

func (h *Handler) discardUpload(storedName string) {
	if storedName == "" {
		return
	}
	os.Remove(filepath.Join(h.uploadsDir(), storedName))
}

func sanitizeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if out == "" {
		out = "video"
	}
	return out
}

type videoUpdateRequest struct {
	Title *string `json:"title"`
}

// VideoByID updates or deletes a single video.
func (h *Handler) VideoByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/api/videos/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "video not found")
		return
	}

	switch r.Method {
	case http.MethodPut, http.MethodPatch:
		var req videoUpdateRequest
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		update := storage.VideoUpdate{}
		if req.Title != nil {
			title := norm.NFC.String(strings.TrimSpace(*req.Title))
			if title == "" {
				writeError(w, http.StatusBadRequest, "title cannot be empty")
				return
			}
			update.Title = &title
		}
		video, err := h.Store.UpdateVideo(id, update)
		if err != nil {
			if errors.Is(err, storage.ErrVideoNotFound) {
				writeError(w, http.StatusNotFound, "video not found")
				return
			}
			h.logger().Error("video update failed", "video_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update video")
			return
		}
		writeJSON(w, http.StatusOK, video)

	case http.MethodDelete:
		status := h.Engine.Status()
		if status.CurrentVideoID != nil && *status.CurrentVideoID == id && h.Engine.IsStreamActive() {
			writeError(w, http.StatusConflict, "cannot delete the video that is currently streaming")
			return
		}
		video, ok := h.Store.GetVideo(id)
		if !ok {
			writeError(w, http.StatusNotFound, "video not found")
			return
		}
		if err := h.Store.DeleteVideo(id); err != nil {
			if errors.Is(err, storage.ErrVideoNotFound) {
				writeError(w, http.StatusNotFound, "video not found")
				return
			}
			h.logger().Error("video delete failed", "video_id", id, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete video")
			return
		}
		h.discardUpload(video.Filename)
		h.logger().Info("video deleted", "video_id", id, "filename", video.Filename)
		writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})

	default:
		methodNotAllowed(w, r)
	}
}

type reorderRequest struct {
	VideoIDs []string `json:"videoIds"`
}

// PlaylistReorder applies a new playlist order.
func (h *Handler) PlaylistReorder(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r)
		return
	}
	var req reorderRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if len(req.VideoIDs) == 0 {
		writeError(w, http.StatusBadRequest, "videoIds is required")
		return
	}
	videos, err := h.Store.ReorderPlaylist(req.VideoIDs)
	if err != nil {
		if errors.Is(err, storage.ErrVideoNotFound) {
			writeError(w, http.StatusBadRequest, "videoIds references an unknown video")
			return
		}
		h.logger().Warn("playlist reorder rejected", "error", err)
		writeError(w, http.StatusBadRequest, "invalid playlist order")
		return
	}
	writeJSON(w, http.StatusOK, videos)
}

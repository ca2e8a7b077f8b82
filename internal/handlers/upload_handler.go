package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
)

// maxUploadSize caps slide uploads at 2 GiB.
const maxUploadSize = 2 << 30

// allowedSlideExtensions lists the accepted whole-slide image formats.
var allowedSlideExtensions = map[string]bool{
	".svs":  true,
	".tif":  true,
	".tiff": true,
	".ndpi": true,
	".mrxs": true,
}

// UploadHandler stores slide files and lists what has been uploaded.
type UploadHandler struct {
	uploadsDir string
	logger     arbor.ILogger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(uploadsDir string, logger arbor.ILogger) *UploadHandler {
	return &UploadHandler{
		uploadsDir: uploadsDir,
		logger:     logger,
	}
}

// UploadFileHandler handles POST /api/uploads (multipart form, field "file")
func (h *UploadHandler) UploadFileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}
	if userID := RequireUser(w, r); userID == "" {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	file, header, err := r.FormFile("file")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "missing multipart field \"file\": "+err.Error())
		return
	}
	defer file.Close()

	name := filepath.Base(header.Filename)
	ext := strings.ToLower(filepath.Ext(name))
	if !allowedSlideExtensions[ext] {
		WriteError(w, http.StatusBadRequest, fmt.Sprintf("unsupported slide format %q", ext))
		return
	}

	if err := os.MkdirAll(h.uploadsDir, 0755); err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to prepare uploads directory")
		return
	}

	destPath := filepath.Join(h.uploadsDir, name)
	dest, err := os.Create(destPath)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "failed to store file")
		return
	}
	defer dest.Close()

	written, err := io.Copy(dest, file)
	if err != nil {
		os.Remove(destPath)
		WriteError(w, http.StatusInternalServerError, "failed to store file: "+err.Error())
		return
	}

	h.logger.Info().
		Str("filename", name).
		Int64("size_bytes", written).
		Msg("Slide uploaded")

	WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"filename":   name,
		"path":       destPath,
		"size_bytes": written,
	})
}

// CheckFileHandler handles POST /api/uploads/check, reporting whether a
// previously uploaded slide exists. Used before workflow submission.
func (h *UploadHandler) CheckFileHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodPost) {
		return
	}

	var payload struct {
		Filename string `json:"filename"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil || payload.Filename == "" {
		WriteError(w, http.StatusBadRequest, "missing filename")
		return
	}

	name := filepath.Base(payload.Filename)
	_, err := os.Stat(filepath.Join(h.uploadsDir, name))

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"filename": name,
		"exists":   err == nil,
	})
}

// ListFilesHandler handles GET /api/uploads
func (h *UploadHandler) ListFilesHandler(w http.ResponseWriter, r *http.Request) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	entries, err := os.ReadDir(h.uploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			WriteJSON(w, http.StatusOK, map[string]interface{}{"files": []interface{}{}, "count": 0})
			return
		}
		WriteError(w, http.StatusInternalServerError, "failed to read uploads directory")
		return
	}

	type fileInfo struct {
		Filename   string    `json:"filename"`
		SizeBytes  int64     `json:"size_bytes"`
		ModifiedAt time.Time `json:"modified_at"`
	}

	files := make([]fileInfo, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		files = append(files, fileInfo{
			Filename:   entry.Name(),
			SizeBytes:  info.Size(),
			ModifiedAt: info.ModTime().UTC(),
		})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Filename < files[j].Filename })

	WriteJSON(w, http.StatusOK, map[string]interface{}{
		"files": files,
		"count": len(files),
	})
}

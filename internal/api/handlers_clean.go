package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgallion1/debrand/internal/cleaner"
	"github.com/dgallion1/debrand/internal/store"
	"github.com/go-chi/chi/v5"
)

// upload is a validated multipart file upload.
type upload struct {
	filename string
	format   cleaner.Format
	data     []byte
}

func (s *Server) handleClean(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	c, err := cleaner.ForFormat(string(up.format))
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	res, err := c.Clean(up.data)
	if err != nil {
		s.metrics.RecordFailure(string(up.format))
		s.cleanError(w, up, err)
		return
	}
	s.metrics.RecordClean(string(up.format), res.Found, res.Removed)

	// Results are content-addressed: re-uploading the same document lands
	// on the same ID.
	id := store.ContentHashHex(res.Output)[:16]
	outName := "processed_" + up.filename
	s.results.Put(&store.Result{
		ID:        id,
		Filename:  outName,
		Format:    string(up.format),
		Data:      res.Output,
		Found:     res.Found,
		Removed:   res.Removed,
		CreatedAt: time.Now(),
	})

	s.log.Info("cleaned document",
		"filename", up.filename,
		"format", up.format,
		"watermark_found", res.Found,
		"removed", res.Removed,
		"skipped", len(res.Skipped),
	)

	body := map[string]any{
		"result_id":        id,
		"filename":         outName,
		"format":           up.format,
		"watermark_found":  res.Found,
		"elements_removed": res.Removed,
		"stats": map[string]int{
			"images_removed":     res.ImagesRemoved,
			"links_removed":      res.LinksRemoved,
			"containers_cleaned": res.ContainersCleaned,
		},
		"download_url": fmt.Sprintf("/api/results/%s/download", id),
	}
	if !res.Found {
		// The stored result is the original document, unchanged.
		body["outcome"] = string(cleaner.KindNoMatchFound)
	}
	if len(res.Skipped) > 0 {
		body["skipped"] = res.Skipped
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (s *Server) handleDetect(w http.ResponseWriter, r *http.Request) {
	up, ok := s.readUpload(w, r)
	if !ok {
		return
	}

	c, err := cleaner.ForFormat(string(up.format))
	if err != nil {
		jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
		return
	}

	report, err := c.Detect(up.data)
	if err != nil {
		s.cleanError(w, up, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(report)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "resultID")
	res := s.results.Get(id)
	if res == nil {
		jsonError(w, "result not found or expired", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", cleaner.Format(res.Format).ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Filename))
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(res.Data)))
	w.Write(res.Data)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.metrics.Snapshot())
}

// readUpload parses the multipart form and returns the file bytes plus the
// resolved format. The format comes from an explicit form field when
// present, otherwise from the filename extension.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request) (upload, bool) {
	// Limit total request size.
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1024*1024) // extra 1MB for form overhead

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		jsonError(w, "invalid multipart form: "+err.Error(), http.StatusBadRequest)
		return upload{}, false
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		jsonError(w, "file is required: "+err.Error(), http.StatusBadRequest)
		return upload{}, false
	}
	defer file.Close()

	filename := sanitizeFilename(header.Filename)

	var format cleaner.Format
	if tag := r.FormValue("format"); tag != "" {
		format = cleaner.Format(strings.ToLower(tag))
	} else {
		format, err = cleaner.FormatForFile(filename)
		if err != nil {
			jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
			return upload{}, false
		}
	}

	data, err := io.ReadAll(io.LimitReader(file, s.cfg.MaxUploadBytes+1))
	if err != nil {
		jsonError(w, "failed to read file", http.StatusInternalServerError)
		return upload{}, false
	}
	if int64(len(data)) > s.cfg.MaxUploadBytes {
		jsonError(w, fmt.Sprintf("file exceeds max size (%d bytes)", s.cfg.MaxUploadBytes), http.StatusRequestEntityTooLarge)
		return upload{}, false
	}

	return upload{filename: filename, format: format, data: data}, true
}

// cleanError maps a pipeline failure to an HTTP status.
func (s *Server) cleanError(w http.ResponseWriter, up upload, err error) {
	s.log.Error("processing failed", "filename", up.filename, "format", up.format, "error", err)
	switch cleaner.ErrKind(err) {
	case cleaner.KindUnsupportedFormat:
		jsonError(w, err.Error(), http.StatusUnsupportedMediaType)
	case cleaner.KindCorruptDocument:
		jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	default:
		jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func sanitizeFilename(name string) string {
	// Strip path components, keep only the base name.
	name = filepath.Base(name)
	// Remove any path separators that might have survived.
	name = strings.ReplaceAll(name, "/", "_")
	name = strings.ReplaceAll(name, "\\", "_")
	name = strings.ReplaceAll(name, "..", "_")
	if name == "" || name == "." {
		name = "unnamed"
	}
	return name
}

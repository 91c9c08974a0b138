package server

import (
	"encoding/json"
	"errors"
	"mime"
	"net/http"
	"path/filepath"
	"strings"

	"vidfetch/internal"
)

type infoRequest struct {
	URL string `json:"url"`
}

type downloadRequest struct {
	URL    string `json:"url"`
	Format string `json:"format"`
	Title  string `json:"title"`
}

type downloadResponse struct {
	DownloadID string `json:"download_id"`
	Status     string `json:"status"`
}

type progressResponse struct {
	Progress  int    `json:"progress"`
	Status    string `json:"status"`
	Completed bool   `json:"completed"`
	Filename  string `json:"filename,omitempty"`
	FileSize  int64  `json:"file_size,omitempty"`
	Title     string `json:"title,omitempty"`
}

type healthResponse struct {
	Status          string `json:"status"`
	ActiveDownloads int    `json:"active_downloads"`
	StoredFiles     int    `json:"stored_files"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	var req infoRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	internal.LogInfo("Analyzing URL: %s", req.URL)
	info, err := s.deps.Resolver.List(r.Context(), req.URL)
	if err != nil {
		internal.LogWarn("Could not extract video information for %s: %v", req.URL, err)
		writeErr(w, err)
		return
	}

	internal.LogInfo("Found %d formats for video: %s", len(info.Formats), info.Title)
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	var req downloadRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		writeError(w, http.StatusBadRequest, "URL is required")
		return
	}

	id, err := s.deps.Orchestrator.Start(req.URL, req.Format, req.Title)
	if err != nil {
		writeErr(w, err)
		return
	}

	writeJSON(w, http.StatusAccepted, downloadResponse{DownloadID: id, Status: "Download started"})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.deps.Orchestrator.Cancel(id); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, downloadResponse{DownloadID: id, Status: "Cancellation requested"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	state, ok := s.deps.Progress.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "Download not found")
		return
	}

	if state.State == internal.StateFailed {
		writeError(w, http.StatusBadRequest, state.Error)
		return
	}

	resp := progressResponse{
		Progress:  state.Progress,
		Status:    state.Status,
		Completed: state.State == internal.StateCompleted,
	}
	if resp.Completed {
		if artifact, ok := s.deps.Registry.Get(id); ok {
			resp.Filename = artifact.Filename
			resp.FileSize = artifact.Size
			resp.Title = artifact.Title
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleFile(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	delivery, err := s.deps.Gate.Open(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	defer delivery.Close()

	name := delivery.Artifact.Filename
	w.Header().Set("Content-Type", contentTypeFor(name))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))

	internal.ForSession(id).Info("serving %s", name)
	http.ServeContent(w, r, name, delivery.ModTime, delivery.File)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:          "healthy",
		ActiveDownloads: s.deps.Orchestrator.Active(),
		StoredFiles:     s.deps.Registry.Len(),
	})
}

// mediaTypes covers containers the host mime table often lacks
var mediaTypes = map[string]string{
	".mp4":  "video/mp4",
	".m4v":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".m4a":  "audio/mp4",
	".mp3":  "audio/mpeg",
	".ogg":  "audio/ogg",
	".opus": "audio/ogg",
	".wav":  "audio/wav",
}

func contentTypeFor(name string) string {
	ext := strings.ToLower(filepath.Ext(name))
	if ct, ok := mediaTypes[ext]; ok {
		return ct
	}
	if ct := mime.TypeByExtension(ext); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// decodeBody reads a JSON body into v, answering 400 itself on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return false
	}
	return true
}

// writeErr answers with the status matching err. Not-found errors carry
// their bare message, everything else the full error text.
func writeErr(w http.ResponseWriter, err error) {
	status := internal.HTTPStatus(err)
	msg := err.Error()
	if me, ok := internal.AsMediaError(err); ok && me.Type == internal.ErrNotFound {
		msg = me.Message
	}
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		internal.LogError("Request failed: %v", err)
	}
	writeError(w, status, msg)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		internal.LogDebug("Failed to write response: %v", err)
	}
}

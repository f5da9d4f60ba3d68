package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"soniqfm/cache"
	"soniqfm/config"
	"soniqfm/logger"
	"soniqfm/model"
	"soniqfm/queue"
	"soniqfm/repository"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

// maxUploadBytes caps a single uploaded audio file.
const maxUploadBytes = 512 << 20

// APIHandler carries the collaborators the track endpoints need.
type APIHandler struct {
	cfg         *config.Config
	trackRepo   repository.TrackRepository
	dispatcher  *queue.Dispatcher
	statusCache *cache.StatusCache
}

// NewAPIHandler creates an APIHandler.
func NewAPIHandler(cfg *config.Config, trackRepo repository.TrackRepository, dispatcher *queue.Dispatcher, statusCache *cache.StatusCache) *APIHandler {
	return &APIHandler{cfg: cfg, trackRepo: trackRepo, dispatcher: dispatcher, statusCache: statusCache}
}

// userID reads the caller identity injected by the upstream auth layer.
// Session issuance and verification live outside this service.
func userID(r *http.Request) (int64, error) {
	raw := r.Header.Get("X-User-ID")
	if raw == "" {
		return 0, fmt.Errorf("missing X-User-ID header")
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid X-User-ID header")
	}
	return id, nil
}

// UploadTrackHandler accepts a multipart audio upload, creates the PENDING
// track record, stashes the file under a unique temp name and enqueues the
// ingestion job.
func (h *APIHandler) UploadTrackHandler(w http.ResponseWriter, r *http.Request) {
	if !h.cfg.ProcessingEnabled {
		writeError(w, http.StatusForbidden, "File uploads and processing are currently disabled.")
		return
	}

	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "Failed to parse multipart form")
		return
	}

	file, header, err := r.FormFile("audio_file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Missing 'audio_file' part in the request")
		return
	}
	defer file.Close()

	outputFormat := strings.ToUpper(strings.TrimSpace(r.FormValue("output_format")))
	if outputFormat == "" {
		outputFormat = string(model.ManifestHLS)
	}
	if _, ok := model.ParseManifestType(outputFormat); !ok || !h.cfg.FormatAllowed(outputFormat) {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("Unsupported output_format. Allowed formats: %s", strings.Join(h.cfg.AllowedFormats, ", ")))
		return
	}

	track := &model.Track{
		UserID:      uid,
		Title:       formString(r, "title"),
		Artist:      formString(r, "artist"),
		Album:       formString(r, "album"),
		TrackNumber: formInt(r, "track_number"),
		Status:      model.StatusPending,
	}

	tempPath, err := h.saveTempUpload(file, header.Filename)
	if err != nil {
		logger.Error("failed to save uploaded file", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Failed to save uploaded file")
		return
	}

	if err := h.trackRepo.Create(r.Context(), track); err != nil {
		logger.Error("failed to create track record", logger.ErrorField(err))
		os.Remove(tempPath)
		writeError(w, http.StatusInternalServerError, "Could not create track")
		return
	}

	job := model.IngestJob{
		TrackID:      track.ID,
		InputPath:    tempPath,
		OutputFormat: outputFormat,
	}
	// Enqueue after the record commit so the worker always finds the row.
	// Use a detached context: the job must survive the request ending.
	if err := h.dispatcher.Enqueue(context.Background(), job); err != nil {
		logger.Error("failed to enqueue ingestion job",
			logger.Int64("trackId", track.ID),
			logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Could not schedule processing")
		return
	}

	logger.Info("upload accepted",
		logger.Int64("trackId", track.ID),
		logger.Int64("userId", uid),
		logger.String("format", outputFormat))
	writeJSON(w, http.StatusAccepted, track)
}

// saveTempUpload writes the uploaded stream to the temp dir under a unique
// name, returning the absolute path handed to the pipeline.
func (h *APIHandler) saveTempUpload(src io.Reader, originalName string) (string, error) {
	ext := filepath.Ext(originalName)
	name := uuid.New().String() + ext
	path := filepath.Join(h.cfg.UploadTempDir, name)

	dst, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create temp file %s: %w", path, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("failed to write temp file %s: %w", path, err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return path, nil
	}
	return abs, nil
}

type addByURLRequest struct {
	Title        string  `json:"title"`
	Artist       *string `json:"artist"`
	Album        *string `json:"album"`
	TrackNumber  *int    `json:"trackNumber"`
	DurationMS   *int64  `json:"durationMs"`
	ManifestURL  string  `json:"manifestUrl"`
	ManifestType string  `json:"manifestType"`
}

// AddTrackByURLHandler registers a track whose manifest already exists
// somewhere. The track is READY immediately; the pipeline is never invoked.
func (h *APIHandler) AddTrackByURLHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	var req addByURLRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if req.Title == "" || req.ManifestURL == "" {
		writeError(w, http.StatusBadRequest, "title and manifestUrl are required")
		return
	}
	manifestType, ok := model.ParseManifestType(strings.ToUpper(req.ManifestType))
	if !ok {
		writeError(w, http.StatusBadRequest, "manifestType must be HLS or DASH")
		return
	}

	track := &model.Track{
		UserID:       uid,
		Title:        &req.Title,
		Artist:       req.Artist,
		Album:        req.Album,
		TrackNumber:  req.TrackNumber,
		DurationMS:   req.DurationMS,
		ManifestURL:  &req.ManifestURL,
		ManifestType: &manifestType,
		Status:       model.StatusReady,
	}

	if err := h.trackRepo.Create(r.Context(), track); err != nil {
		logger.Error("failed to add track by URL", logger.ErrorField(err))
		writeError(w, http.StatusInternalServerError, "Could not add track")
		return
	}

	writeJSON(w, http.StatusCreated, track)
}

// GetTrackHandler returns the full track representation.
func (h *APIHandler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid track id")
		return
	}

	track, err := h.trackRepo.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not load track")
		return
	}
	if track == nil {
		writeError(w, http.StatusNotFound, "Track not found")
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// ListTracksHandler returns the caller's tracks.
func (h *APIHandler) ListTracksHandler(w http.ResponseWriter, r *http.Request) {
	uid, err := userID(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}

	tracks, err := h.trackRepo.ListByUser(r.Context(), uid)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not list tracks")
		return
	}
	writeJSON(w, http.StatusOK, tracks)
}

// TrackStatusHandler serves the minimal polling shape, read through the
// status cache.
func (h *APIHandler) TrackStatusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid track id")
		return
	}

	if h.statusCache != nil {
		if cached, err := h.statusCache.Get(r.Context(), id); err == nil && cached != nil {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	info, err := h.trackRepo.StatusByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Could not load track status")
		return
	}
	if info == nil {
		writeError(w, http.StatusNotFound, "Track not found")
		return
	}

	if h.statusCache != nil {
		h.statusCache.Set(r.Context(), info)
	}
	writeJSON(w, http.StatusOK, info)
}

// DeleteTrackHandler removes a track. Deletion is refused with 409 while the
// track is mid-processing.
func (h *APIHandler) DeleteTrackHandler(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid track id")
		return
	}

	if err := h.trackRepo.Delete(r.Context(), id); err != nil {
		if errors.Is(err, repository.ErrTrackBusy) {
			writeError(w, http.StatusConflict, "Track is currently processing; retry once it settles")
			return
		}
		writeError(w, http.StatusInternalServerError, "Could not delete track")
		return
	}

	if h.statusCache != nil {
		h.statusCache.Invalidate(r.Context(), id)
	}
	writeJSON(w, http.StatusNoContent, nil)
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
}

func formString(r *http.Request, key string) *string {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil
	}
	return &v
}

func formInt(r *http.Request, key string) *int {
	v := strings.TrimSpace(r.FormValue(key))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return nil
	}
	return &n
}

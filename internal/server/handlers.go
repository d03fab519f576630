package server

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/hyperjump/koe/internal/apperr"
	"github.com/hyperjump/koe/internal/config"
	"github.com/hyperjump/koe/internal/models"
	"github.com/hyperjump/koe/internal/pipeline"
	"go.uber.org/zap"
)

// multipart parts above this size are spooled to disk by ParseMultipartForm
const multipartMemory = 32 << 20

func (s *Server) handleEnroll(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r, "audio")
	if !ok {
		return
	}
	defer file.Close()
	name := r.FormValue("name")
	if strings.TrimSpace(name) == "" {
		s.respondError(w, http.StatusBadRequest, "name is required")
		return
	}
	s.logger.Debug("enroll request", zap.String("name", name), zap.String("file", header.Filename))
	id, err := s.pipeline.EnrollReader(r.Context(), name, file, filepath.Ext(header.Filename))
	if err != nil {
		s.respondErr(w, "enroll", err)
		return
	}
	s.respondJSON(w, http.StatusCreated, id)
}

func (s *Server) handleListVoices(w http.ResponseWriter, r *http.Request) {
	voices := s.pipeline.Identities()
	if voices == nil {
		voices = []models.Identity{}
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"voices": voices})
}

type analyzeResponse struct {
	Text       string                   `json:"text"`
	Segments   []models.ResolvedSegment `json:"segments"`
	Speakers   []models.Resolution      `json:"speakers"`
	Relabelled bool                     `json:"relabelled,omitempty"`
}

// handleAnalyze diarizes the uploaded recording. With a "transcript" form field the
// given transcript is relabelled against the recording instead.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	file, header, ok := s.formFile(w, r, "audio")
	if !ok {
		return
	}
	defer file.Close()
	ext := filepath.Ext(header.Filename)

	if existing := r.FormValue("transcript"); existing != "" {
		text, resolved, err := s.pipeline.RelabelReader(r.Context(), existing, file, ext)
		if err != nil {
			s.respondErr(w, "relabel", err)
			return
		}
		s.respondJSON(w, http.StatusOK, analyzeResponse{
			Text:       text,
			Segments:   resolved.Segments,
			Speakers:   resolved.Resolutions,
			Relabelled: true,
		})
		return
	}

	resolved, text, err := s.pipeline.AnalyzeReader(r.Context(), file, ext)
	if err != nil {
		s.respondErr(w, "analyze", err)
		return
	}
	s.respondJSON(w, http.StatusOK, analyzeResponse{
		Text:     text,
		Segments: resolved.Segments,
		Speakers: resolved.Resolutions,
	})
}

type ingestRequest struct {
	Text     string `json:"text"`
	Filename string `json:"filename"`
	Build    bool   `json:"build,omitempty"`
}

type ingestResponse struct {
	*pipeline.IngestResult
	Built bool `json:"built"`
}

// handleIngest accepts a transcript as a multipart "file" upload (any supported document
// format) or as JSON text. build=true rebuilds the retrieval index afterwards.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var (
		res   *pipeline.IngestResult
		build bool
		err   error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		file, header, ok := s.formFile(w, r, "file")
		if !ok {
			return
		}
		defer file.Close()
		content, readErr := io.ReadAll(file)
		if readErr != nil {
			s.respondError(w, http.StatusBadRequest, "failed to read upload")
			return
		}
		build, _ = strconv.ParseBool(r.FormValue("build"))
		s.logger.Debug("ingest upload", zap.String("file", header.Filename), zap.Int("bytes", len(content)))
		res, err = s.pipeline.IngestDocument(r.Context(), content, header.Filename)
	} else {
		var req ingestRequest
		if decodeErr := json.NewDecoder(http.MaxBytesReader(w, r.Body, s.maxUploadBytes())).Decode(&req); decodeErr != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			s.respondError(w, http.StatusBadRequest, "text is required")
			return
		}
		build = req.Build
		res, err = s.pipeline.Ingest(r.Context(), req.Text, req.Filename)
	}
	if err != nil {
		s.respondErr(w, "ingest", err)
		return
	}
	if build {
		if err := s.pipeline.Build(r.Context()); err != nil {
			s.respondErr(w, "build", err)
			return
		}
	}
	s.respondJSON(w, http.StatusCreated, ingestResponse{IngestResult: res, Built: build})
}

func (s *Server) handleBuild(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if err := s.pipeline.Build(r.Context()); err != nil {
		s.respondErr(w, "build", err)
		return
	}
	st, err := s.pipeline.Status(r.Context())
	if err != nil {
		s.respondErr(w, "status", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "built",
		"size":          st.Index.Size,
		"build_time_ms": time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.Validate(); err != nil {
		s.respondErr(w, "query", err)
		return
	}
	s.logger.Debug("query request", zap.String("query", req.Query), zap.Int("top_k", req.TopK))
	start := time.Now()
	hits, err := s.pipeline.Query(r.Context(), req.Query, req.TopK, req.RecallK)
	if err != nil {
		s.respondErr(w, "query", err)
		return
	}
	s.respondJSON(w, http.StatusOK, models.QueryResponse{
		Query:     req.Query,
		Results:   hits,
		QueryTime: time.Since(start).Milliseconds(),
	})
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Question string `json:"question"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	resp, err := s.pipeline.Answer(r.Context(), req.Question)
	if err != nil {
		s.respondErr(w, "answer", err)
		return
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.pipeline.Status(r.Context())
	if err != nil {
		s.respondErr(w, "status", err)
		return
	}
	resp := map[string]interface{}{"status": st}
	if s.watch != nil {
		resp["watch_directories"] = s.watch.Directories()
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	dirs := s.watch.Directories()
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": dirs})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil && body.Path != "" {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

// persistWatchDirectories writes the current watch list back to the config file.
func (s *Server) persistWatchDirectories() {
	if s.configPath == "" || s.fullConfig == nil {
		return
	}
	s.configMu.Lock()
	s.fullConfig.Watch.Directories = s.watch.Directories()
	err := config.Save(s.configPath, s.fullConfig)
	s.configMu.Unlock()
	if err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// formFile parses a multipart upload bounded by the configured size and returns the named
// file part. On failure it writes the error response and returns ok=false.
func (s *Server) formFile(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes())
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.respondError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return nil, nil, false
		}
		s.respondError(w, http.StatusBadRequest, "invalid multipart form")
		return nil, nil, false
	}
	file, header, err := r.FormFile(field)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, field+" file is required")
		return nil, nil, false
	}
	return file, header, true
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps a pipeline error to its HTTP status and reports the failing stage.
func (s *Server) respondErr(w http.ResponseWriter, op string, err error) {
	status := apperr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(op+" failed", zap.Error(err))
	} else {
		s.logger.Debug(op+" rejected", zap.Error(err))
	}
	body := map[string]string{"error": err.Error()}
	if stage := apperr.StageOf(err); stage != "" {
		body["stage"] = string(stage)
	}
	s.respondJSON(w, status, body)
}

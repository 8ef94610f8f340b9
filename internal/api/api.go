// Package api exposes the parsing pipeline and the deck encoder over plain
// HTTP, mirroring the tool surface for clients that aren't agent runtimes.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/SaschaKiebler/ankiBot/internal/anki"
	"github.com/SaschaKiebler/ankiBot/internal/parsing"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultMaxUploadSize caps PDF uploads at 100MB.
	DefaultMaxUploadSize = int64(100 * 1024 * 1024)
	MaxUploadSizeEnvVar  = "ANKIBOT_MAX_UPLOAD_SIZE"
)

// Server wires the HTTP handlers to the parsing driver and the deck encoder.
type Server struct {
	driver  *parsing.Driver
	store   parsing.Store
	encoder anki.Encoder
	logger  *logrus.Logger
}

// NewServer creates the API server.
func NewServer(driver *parsing.Driver, store parsing.Store, encoder anki.Encoder, logger *logrus.Logger) *Server {
	return &Server{driver: driver, store: store, encoder: encoder, logger: logger}
}

// Register mounts all API routes on the mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/parsing/upload", s.handleUpload)
	mux.HandleFunc("GET /api/v1/parsing/job/{id}", s.handleJobStatus)
	mux.HandleFunc("GET /api/v1/parsing/job/{id}/result/markdown", s.handleJobMarkdown)
	mux.HandleFunc("POST /api/v1/decks", s.handleGenerateDeck)
	mux.HandleFunc("GET /health", s.handleHealth)
}

// jobResponse is the wire shape for job queries. Result keeps the nested
// {"markdown": ...} object the frontend already consumes.
type jobResponse struct {
	ID        string            `json:"id"`
	Status    parsing.JobStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
	Result    *jobResult        `json:"result,omitempty"`
	Error     string            `json:"error,omitempty"`
}

type jobResult struct {
	Markdown string `json:"markdown"`
}

type uploadResponse struct {
	ID        string            `json:"id"`
	Status    parsing.JobStatus `json:"status"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	// Deck generation stays available without a vision model; only the
	// parsing surface goes dark.
	if s.driver == nil {
		s.writeError(w, http.StatusServiceUnavailable, "PDF parsing is not configured")
		return
	}

	maxSize := maxUploadSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(maxSize); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid multipart request: %v", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "missing required form field: file")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("failed to read upload: %v", err))
		return
	}

	job, err := s.driver.Submit(r.Context(), parsing.Submission{
		Data:        data,
		SourceName:  header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		PagePrefix:  r.FormValue("page_prefix"),
		PageSuffix:  r.FormValue("page_suffix"),
	})
	if err != nil {
		if errors.Is(err, parsing.ErrValidation) {
			s.writeError(w, http.StatusBadRequest, "uploaded file is empty")
			return
		}
		s.logger.WithError(err).Error("Failed to create parsing job")
		s.writeError(w, http.StatusInternalServerError, "failed to create job")
		return
	}

	s.writeJSON(w, http.StatusOK, uploadResponse{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
	})
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, parsing.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.WithError(err).Error("Failed to load job")
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	response := jobResponse{
		ID:        job.ID,
		Status:    job.Status,
		CreatedAt: job.CreatedAt,
		UpdatedAt: job.UpdatedAt,
		Error:     job.Error,
	}
	if job.Status == parsing.StatusSuccess {
		response.Result = &jobResult{Markdown: job.Result}
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleJobMarkdown(w http.ResponseWriter, r *http.Request) {
	job, err := s.store.Get(r.PathValue("id"))
	if err != nil {
		if errors.Is(err, parsing.ErrNotFound) {
			s.writeError(w, http.StatusNotFound, "Job not found")
			return
		}
		s.logger.WithError(err).Error("Failed to load job")
		s.writeError(w, http.StatusInternalServerError, "failed to load job")
		return
	}

	// A job that exists but hasn't succeeded is a client error, not a 404:
	// the caller polled too early or the job failed.
	if job.Status != parsing.StatusSuccess {
		message := fmt.Sprintf("Job status is %s.", job.Status)
		if job.Error != "" {
			message += " Error: " + job.Error
		}
		s.writeError(w, http.StatusBadRequest, message)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, job.Result)
}

// deckRequest mirrors the generate-deck JSON body.
type deckRequest struct {
	Title  string        `json:"title"`
	QAList []anki.QAPair `json:"qa_list"`
	DeckID int64         `json:"deck_id,omitempty"`
}

func (s *Server) handleGenerateDeck(w http.ResponseWriter, r *http.Request) {
	var request deckRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if strings.TrimSpace(request.Title) == "" {
		s.writeError(w, http.StatusBadRequest, "title must not be empty")
		return
	}
	if len(request.QAList) == 0 {
		s.writeError(w, http.StatusBadRequest, "qa_list must not be empty")
		return
	}

	pkg, err := s.encoder.Encode(request.Title, request.QAList, request.DeckID)
	if err != nil {
		s.logger.WithError(err).WithField("title", request.Title).Error("Deck generation failed")
		s.writeError(w, http.StatusInternalServerError, fmt.Sprintf("deck generation failed: %v", err))
		return
	}

	filename := strings.ReplaceAll(request.Title, " ", "_") + ".apkg"
	w.Header().Set("Content-Type", "application/apkg")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s", filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(pkg)

	s.logger.WithFields(logrus.Fields{
		"title": request.Title,
		"cards": len(request.QAList),
		"bytes": len(pkg),
	}).Info("Generated Anki deck")
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.WithError(err).Error("Failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

func maxUploadSize() int64 {
	if value := os.Getenv(MaxUploadSizeEnvVar); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil && parsed > 0 {
			return parsed
		}
	}
	return DefaultMaxUploadSize
}

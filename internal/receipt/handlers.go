package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/catalog"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/embedding"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/extraction"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/indexing"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/vectorindex"
)

// maxUploadSize bounds receipt uploads (high-resolution phone photos)
const maxUploadSize = int64(50 << 20) // 50MB

// corsError writes an error response with CORS headers set
func corsError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	http.Error(w, message, code)
}

// setCORSHeaders sets CORS headers on a response
func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
	w.Header().Set("Access-Control-Max-Age", "3600")
}

// jsonError writes a JSON error body with CORS headers set
func jsonError(w http.ResponseWriter, message string, code int) {
	setCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON encodes a JSON response body
func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// readUploadedFile extracts the receipt file from a multipart form. It writes
// the error response itself and returns ok=false when the upload is unusable.
func readUploadedFile(w http.ResponseWriter, r *http.Request) (data []byte, contentType string, ok bool) {
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		if err.Error() == "http: request body too large" {
			msg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		jsonError(w, msg, http.StatusBadRequest)
		return nil, "", false
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		msg := "No file provided"
		if err.Error() == "http: no such file" {
			msg = "No file was selected. Please choose a file to upload."
		}
		jsonError(w, msg, http.StatusBadRequest)
		return nil, "", false
	}
	defer f.Close()

	if header.Size > maxUploadSize {
		jsonError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusBadRequest)
		return nil, "", false
	}

	data, err = io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		jsonError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return nil, "", false
	}

	contentType = header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		switch strings.ToLower(filepath.Ext(header.Filename)) {
		case ".jpg", ".jpeg":
			contentType = "image/jpeg"
		case ".png":
			contentType = "image/png"
		case ".pdf":
			contentType = "application/pdf"
		case ".heic":
			contentType = "image/heic"
		case ".heif":
			contentType = "image/heif"
		default:
			contentType = "application/octet-stream"
		}
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))

	return data, contentType, true
}

// handleScanReceipt processes an uploaded receipt with the primary
// extraction backend
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := readUploadedFile(w, r)
	if !ok {
		return
	}

	result, err := s.service.ExtractAndMatch(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "error", err)
		jsonError(w, err.Error(), processingStatus(err))
		return
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, result)
}

// handleScanReceiptAlternate processes an uploaded receipt with the
// alternate extraction backend
func (s *Server) handleScanReceiptAlternate(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := readUploadedFile(w, r)
	if !ok {
		return
	}

	result, err := s.service.ExtractAndMatchAlternate(r.Context(), data, contentType)
	if err != nil {
		slog.Error("Error processing receipt", "error", err)
		jsonError(w, err.Error(), processingStatus(err))
		return
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, result)
}

// processingStatus maps a pipeline error to an HTTP status. Failures of the
// model, embedding or index backends surface as 502 so callers can tell them
// apart from local errors.
func processingStatus(err error) int {
	if errors.Is(err, extraction.ErrUpstream) ||
		errors.Is(err, embedding.ErrUpstream) ||
		errors.Is(err, vectorindex.ErrUpstream) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

// handleListProducts returns a page of the product catalog
func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.GetAllProducts()
	if err != nil {
		slog.Error("Error loading catalog", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	page := queryInt(r, "page", 1)
	pageSize := queryInt(r, "page_size", 50)
	if page < 1 {
		page = 1
	}
	if pageSize < 1 || pageSize > 500 {
		pageSize = 50
	}

	// Pages past the end are empty. The bound is checked before the
	// multiplication so a huge page value cannot overflow into a
	// negative slice index.
	start := len(products)
	if page-1 <= len(products)/pageSize {
		start = (page - 1) * pageSize
	}
	end := start + pageSize
	if end > len(products) {
		end = len(products)
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"products":  products[start:end],
		"page":      page,
		"page_size": pageSize,
		"total":     len(products),
	})
}

// handleListCategories returns the distinct catalog categories
func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.GetAllProducts()
	if err != nil {
		slog.Error("Error loading catalog", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, map[string]any{
		"categories": catalog.Categories(products),
	})
}

// handleReindex starts a full catalog reindex job
func (s *Server) handleReindex(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, s.runner.StartReindex)
}

// handlePatchPrices starts a price patch job
func (s *Server) handlePatchPrices(w http.ResponseWriter, r *http.Request) {
	s.startJob(w, s.runner.StartPatchPrices)
}

func (s *Server) startJob(w http.ResponseWriter, start func() (*indexing.Job, error)) {
	job, err := start()
	if err != nil {
		if errors.Is(err, indexing.ErrJobRunning) {
			jsonError(w, err.Error(), http.StatusConflict)
			return
		}
		slog.Error("Error starting indexing job", "error", err)
		corsError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	slog.Info("Started indexing job", "id", job.ID, "name", job.Name)
	setCORSHeaders(w)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.ID,
		"name":   job.Name,
		"status": job.Status(),
	})
}

// handleGetJob returns the state of an indexing job
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	job, ok := s.runner.Job(id)
	if !ok {
		corsError(w, "Job not found", http.StatusNotFound)
		return
	}

	body := map[string]string{
		"job_id": job.ID,
		"name":   job.Name,
		"status": job.Status(),
	}
	if err := job.Err(); err != nil {
		body["error"] = err.Error()
	}

	setCORSHeaders(w)
	writeJSON(w, http.StatusOK, body)
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

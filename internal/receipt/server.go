package receipt

import (
	"encoding/base64"
	"log/slog"
	"net/http"
	"strings"

	"github.com/AbdulMuqeet05/ReceiptManager/internal/catalog"
	"github.com/AbdulMuqeet05/ReceiptManager/internal/indexing"
)

// JobRunner starts and looks up background indexing jobs.
type JobRunner interface {
	StartReindex() (*indexing.Job, error)
	StartPatchPrices() (*indexing.Job, error)
	Job(id string) (*indexing.Job, bool)
}

// Server handles HTTP requests for receipts, products and indexing jobs
type Server struct {
	service   *Service
	runner    JobRunner
	catalog   catalog.Source
	basicAuth BasicAuth
	mux       *http.ServeMux
}

// BasicAuth holds basic authentication credentials
type BasicAuth struct {
	Username string
	Password string
}

// NewServer creates a new Server with default mux
func NewServer(service *Service, runner JobRunner, source catalog.Source, basicAuth BasicAuth) *Server {
	return NewServerWithMux(service, runner, source, basicAuth, http.NewServeMux())
}

// NewServerWithMux creates a new Server with a custom mux for testing
func NewServerWithMux(service *Service, runner JobRunner, source catalog.Source, basicAuth BasicAuth, mux *http.ServeMux) *Server {
	s := &Server{
		service:   service,
		runner:    runner,
		catalog:   source,
		basicAuth: basicAuth,
		mux:       mux,
	}
	s.registerRoutes()
	return s
}

// authenticate checks basic auth credentials
func (s *Server) authenticate(r *http.Request) bool {
	if s.basicAuth.Username == "" && s.basicAuth.Password == "" {
		return true // No auth required if not configured
	}

	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, "Basic ") {
		return false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(auth, "Basic "))
	if err != nil {
		return false
	}

	credentials := strings.SplitN(string(decoded), ":", 2)
	if len(credentials) != 2 {
		return false
	}

	return credentials[0] == s.basicAuth.Username && credentials[1] == s.basicAuth.Password
}

// corsMiddleware adds CORS headers to responses
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		// Handle preflight OPTIONS requests
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}

// requireAuth middleware
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.authenticate(r) {
			// Ensure CORS headers are set before error response
			setCORSHeaders(w)
			w.Header().Set("WWW-Authenticate", `Basic realm="Receipt Manager"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

// registerRoutes registers all API routes on the server's mux
// Routes must be registered from most specific to least specific to avoid conflicts
func (s *Server) registerRoutes() {
	// API endpoints - receipts (most specific paths first)
	s.mux.HandleFunc("POST /api/receipts/groq", s.requireAuth(s.handleScanReceiptAlternate))
	s.mux.HandleFunc("POST /api/receipts", s.requireAuth(s.handleScanReceipt))

	// API endpoints - catalog
	s.mux.HandleFunc("GET /api/products/categories", s.requireAuth(s.handleListCategories))
	s.mux.HandleFunc("GET /api/products", s.requireAuth(s.handleListProducts))

	// API endpoints - indexing jobs
	s.mux.HandleFunc("POST /api/admin/reindex", s.requireAuth(s.handleReindex))
	s.mux.HandleFunc("POST /api/admin/patch-prices", s.requireAuth(s.handlePatchPrices))
	s.mux.HandleFunc("GET /api/admin/jobs/{id}", s.requireAuth(s.handleGetJob))
}

// Start starts the HTTP server
func (s *Server) Start(addr string) error {
	slog.Info("Starting server", "address", addr)
	// Wrap the mux with CORS middleware to handle all requests including OPTIONS
	return http.ListenAndServe(addr, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.corsMiddleware(func(w http.ResponseWriter, r *http.Request) {
			s.mux.ServeHTTP(w, r)
		})(w, r)
	}))
}

// ServeHTTP implements http.Handler for testing
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/kjannette/trahn-gridzone/internal/models"
	"github.com/kjannette/trahn-gridzone/internal/observability"
)

const maxQueryLimit = 1000

type RunStore interface {
	List(ctx context.Context, limit int) ([]models.Run, error)
	Get(ctx context.Context, id uuid.UUID) (*models.Run, error)
}

type HistoryStore interface {
	ListByRun(ctx context.Context, runID uuid.UUID) ([]models.HistoryEntry, error)
}

type GridStore interface {
	GetLatest(ctx context.Context, runID uuid.UUID) (*models.GridState, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the read-side stores behind the API. DB may be nil.
type Deps struct {
	Runs     RunStore
	History  HistoryStore
	Grids    GridStore
	DB       Pinger
	Gatherer prometheus.Gatherer
}

type Server struct {
	deps       Deps
	router     *mux.Router
	httpServer *http.Server
	apiKey     string
	log        *zap.Logger
}

func NewServer(deps Deps, port int, apiKey, corsOrigin string, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		deps:   deps,
		router: mux.NewRouter(),
		apiKey: apiKey,
		log:    log.Named("api"),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(corsOrigin),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	v1 := s.router.PathPrefix("/v1").Subrouter()

	// Run routes
	v1.HandleFunc("/runs", s.handleListRuns).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}", s.handleGetRun).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/history", s.handleRunHistory).Methods(http.MethodGet)
	v1.HandleFunc("/runs/{id}/history.csv", s.handleRunHistoryCSV).Methods(http.MethodGet)

	// Grid routes
	v1.HandleFunc("/runs/{id}/grid", s.handleRunGrid).Methods(http.MethodGet)

	// Health check and metrics (no auth required)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", observability.Handler(s.deps.Gatherer)).Methods(http.MethodGet)
}

// Handler is the full middleware chain: CORS, then auth, then routing.
func (s *Server) Handler(corsOrigin string) http.Handler {
	return corsMiddleware(s.authMiddleware(s.router), corsOrigin)
}

func (s *Server) Start() error {
	s.log.Info("REST API server started",
		zap.String("addr", s.httpServer.Addr),
		zap.Bool("auth", s.apiKey != ""))
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// --- middleware ---

func publicPath(p string) bool {
	return p == "/health" || p == "/metrics"
}

func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey == "" || publicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		auth := r.Header.Get("Authorization")
		if auth == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth || token != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func corsMiddleware(next http.Handler, allowOrigin string) http.Handler {
	if allowOrigin == "" {
		allowOrigin = "*"
	}
	c := cors.New(cors.Options{
		AllowedOrigins: strings.Split(allowOrigin, ","),
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(next)
}

// --- validation helpers ---

func parseRunID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(mux.Vars(r)["id"])
}

func parseLimit(r *http.Request, defaultLimit int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultLimit
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return defaultLimit
	}
	if n > maxQueryLimit {
		return maxQueryLimit
	}
	return n
}

// --- response helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// Package api exposes the rule-management HTTP surface: CRUD per rule
// kind, preview evaluation, and deduplication statistics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"alertpipe/core"
	"alertpipe/service"
	"alertpipe/storage"
)

// tenantHeader carries the tenant scope for every rule-management call.
// Authentication sits in front of this service and is out of scope here.
const tenantHeader = "X-Tenant-ID"

// Server hosts the rule-management API.
type Server struct {
	rules  *service.RuleService
	http   *http.Server
	logger *zap.SugaredLogger
}

// NewServer builds the router and HTTP server.
func NewServer(addr string, readTimeout, writeTimeout time.Duration, rules *service.RuleService, logger *zap.SugaredLogger) *Server {
	s := &Server{rules: rules, logger: logger}

	r := mux.NewRouter()
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.requireTenant)

	v1.HandleFunc("/dedup-rules", s.handleListDedupRules).Methods(http.MethodGet)
	v1.HandleFunc("/dedup-rules", s.handleCreateDedupRule).Methods(http.MethodPost)
	v1.HandleFunc("/dedup-rules/{id}", s.handleUpdateDedupRule).Methods(http.MethodPut)
	v1.HandleFunc("/dedup-rules/{id}", s.handleDeleteDedupRule).Methods(http.MethodDelete)
	v1.HandleFunc("/dedup-rules/{id}/stats", s.handleDedupStats).Methods(http.MethodGet)

	v1.HandleFunc("/mapping-rules", s.handleListMappingRules).Methods(http.MethodGet)
	v1.HandleFunc("/mapping-rules", s.handleCreateMappingRule).Methods(http.MethodPost)
	v1.HandleFunc("/mapping-rules/{id}", s.handleUpdateMappingRule).Methods(http.MethodPut)
	v1.HandleFunc("/mapping-rules/{id}", s.handleDeleteMappingRule).Methods(http.MethodDelete)

	v1.HandleFunc("/extraction-rules", s.handleListExtractionRules).Methods(http.MethodGet)
	v1.HandleFunc("/extraction-rules", s.handleCreateExtractionRule).Methods(http.MethodPost)
	v1.HandleFunc("/extraction-rules/{id}", s.handleUpdateExtractionRule).Methods(http.MethodPut)
	v1.HandleFunc("/extraction-rules/{id}", s.handleDeleteExtractionRule).Methods(http.MethodDelete)

	v1.HandleFunc("/blackout-rules", s.handleListBlackoutRules).Methods(http.MethodGet)
	v1.HandleFunc("/blackout-rules", s.handleCreateBlackoutRule).Methods(http.MethodPost)
	v1.HandleFunc("/blackout-rules/{id}", s.handleUpdateBlackoutRule).Methods(http.MethodPut)
	v1.HandleFunc("/blackout-rules/{id}", s.handleDeleteBlackoutRule).Methods(http.MethodDelete)

	v1.HandleFunc("/preview/dedup", s.handlePreviewDedup).Methods(http.MethodPost)
	v1.HandleFunc("/preview/mapping", s.handlePreviewMapping).Methods(http.MethodPost)
	v1.HandleFunc("/preview/extraction", s.handlePreviewExtraction).Methods(http.MethodPost)
	v1.HandleFunc("/preview/blackout", s.handlePreviewBlackout).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

// Start begins serving. Blocks until the listener closes.
func (s *Server) Start() error {
	s.logger.Infow("Rule-management API listening", "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// requireTenant rejects requests without a tenant scope. Every storage
// query downstream is tenant-filtered; a missing tenant must fail here,
// not fall through to an unscoped query.
func (s *Server) requireTenant(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(tenantHeader) == "" {
			writeError(w, http.StatusBadRequest, "missing "+tenantHeader+" header")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func tenantID(r *http.Request) string {
	return r.Header.Get(tenantHeader)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeStorageError maps service and storage errors onto HTTP statuses.
func writeStorageError(w http.ResponseWriter, err error) {
	var cfgErr *core.ConfigurationError
	if errors.As(err, &cfgErr) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if errors.Is(err, storage.ErrRuleNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

// Package server exposes the engine over HTTP: scan control, the live
// progress stream (websocket) and the resolution operations. It is one
// subscriber of the orchestrator's progress stream; the engine itself
// carries no presentation concerns.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"mediadedup/internal/catalog"
	"mediadedup/internal/match"
	"mediadedup/internal/models"
	"mediadedup/internal/resolve"
	"mediadedup/internal/scan"
)

// Server wires the scanner, resolver and catalog store behind a JSON API
type Server struct {
	store    *catalog.Store
	scanner  *scan.Scanner
	resolver *resolve.Resolver
	userID   string
	port     int
	logger   *slog.Logger

	httpServer   *http.Server
	shutdownChan chan struct{}

	mu            sync.Mutex
	clients       map[*wsConn]bool
	lastItemCount int
}

// New creates a Server for one user's catalog
func New(store *catalog.Store, scanner *scan.Scanner, resolver *resolve.Resolver, userID string, port int, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:        store,
		scanner:      scanner,
		resolver:     resolver,
		userID:       userID,
		port:         port,
		logger:       logger,
		shutdownChan: make(chan struct{}),
		clients:      make(map[*wsConn]bool),
	}
}

// Start starts the server and blocks until shutdown
func (s *Server) Start() error {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/scan", s.handleScanStart)
	mux.HandleFunc("POST /api/scan/cancel", s.handleScanCancel)
	mux.HandleFunc("GET /api/scan", s.handleScanStatus)
	mux.HandleFunc("GET /api/groups", s.handleGroups)
	mux.HandleFunc("POST /api/resolve/item", s.handleResolveItem)
	mux.HandleFunc("POST /api/resolve/group", s.handleResolveGroup)
	mux.HandleFunc("POST /api/resolve/all", s.handleResolveAll)
	mux.HandleFunc("POST /api/keep", s.handleKeep)
	mux.HandleFunc("/ws", s.handleWebSocket)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: mux,
	}

	go s.handleShutdownSignals()

	s.logger.Info("server listening", "port", s.port, "user", s.userID)
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) handleShutdownSignals() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		s.logger.Info("shutting down")
	case <-s.shutdownChan:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s.httpServer.Shutdown(ctx)
	s.store.Close()
}

// API handlers

func (s *Server) handleScanStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode models.Mode `json:"mode"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.Mode == "" {
		req.Mode = models.ModeAll
	}

	sess, err := s.scanner.Start(r.Context(), s.userID, req.Mode, s.resolver.Pins())
	if errors.Is(err, scan.ErrScanInFlight) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	go s.followSession(sess)

	writeJSON(w, map[string]any{"started": true, "mode": req.Mode})
}

// followSession relays progress to websocket clients and installs the
// result when the session completes.
func (s *Server) followSession(sess *scan.Session) {
	for snap := range sess.Snapshots() {
		s.broadcast(snap)
	}

	res, err := sess.Wait()
	if err != nil {
		s.logger.Warn("scan ended without result", "error", err)
		return
	}

	s.resolver.SetGroups(res.Groups)
	s.mu.Lock()
	s.lastItemCount = res.Stats.TotalItems
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.store.SaveGroups(ctx, res.Groups); err != nil {
		s.logger.Warn("failed to persist groups", "error", err)
	}
	if err := s.store.RecordScan(ctx, s.userID, res.Mode, res.Stats); err != nil {
		s.logger.Warn("failed to record scan", "error", err)
	}
}

func (s *Server) handleScanCancel(w http.ResponseWriter, r *http.Request) {
	sess := s.scanner.Active()
	if sess == nil || sess.Terminal() {
		http.Error(w, "no scan in flight", http.StatusConflict)
		return
	}
	sess.Cancel()
	writeJSON(w, map[string]any{"cancelled": true})
}

func (s *Server) handleScanStatus(w http.ResponseWriter, r *http.Request) {
	sess := s.scanner.Active()
	if sess == nil {
		writeJSON(w, map[string]any{"phase": "idle"})
		return
	}
	writeJSON(w, sess.Snapshot())
}

// handleGroups returns the live group set. Stats are recomputed from it
// so they stay consistent after resolutions shrink the groups; only the
// item count is carried over from scan time.
func (s *Server) handleGroups(w http.ResponseWriter, r *http.Request) {
	groups := s.resolver.Groups()

	stats := match.Stats(nil, groups)
	s.mu.Lock()
	stats.TotalItems = s.lastItemCount
	s.mu.Unlock()

	writeJSON(w, map[string]any{
		"groups": groups,
		"stats":  stats,
	})
}

// scanRunning guards the resolution operations: mutating the group set
// while a scan builds its replacement is disallowed.
func (s *Server) scanRunning(w http.ResponseWriter) bool {
	sess := s.scanner.Active()
	if sess != nil && !sess.Terminal() {
		http.Error(w, "a scan is in flight", http.StatusConflict)
		return true
	}
	return false
}

func (s *Server) handleResolveItem(w http.ResponseWriter, r *http.Request) {
	if s.scanRunning(w) {
		return
	}
	var req struct {
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := s.resolver.DeleteDuplicate(r.Context(), req.ItemID)
	if errors.Is(err, resolve.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	s.persistGroups(r.Context())
	writeJSON(w, map[string]any{"deleted": req.ItemID})
}

func (s *Server) handleResolveGroup(w http.ResponseWriter, r *http.Request) {
	if s.scanRunning(w) {
		return
	}
	var req struct {
		Key string `json:"key"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := s.resolver.DeleteGroupDuplicates(r.Context(), req.Key)
	if errors.Is(err, resolve.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.persistGroups(r.Context())
	writeJSON(w, result)
}

func (s *Server) handleResolveAll(w http.ResponseWriter, r *http.Request) {
	if s.scanRunning(w) {
		return
	}
	result := s.resolver.DeleteAllDuplicates(r.Context())
	s.persistGroups(r.Context())
	writeJSON(w, result)
}

func (s *Server) handleKeep(w http.ResponseWriter, r *http.Request) {
	if s.scanRunning(w) {
		return
	}
	var req struct {
		Key    string `json:"key"`
		ItemID string `json:"item_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	err := s.resolver.KeepAsOriginal(req.Key, req.ItemID)
	if errors.Is(err, resolve.ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.persistGroups(r.Context())
	writeJSON(w, map[string]any{"kept": req.ItemID})
}

func (s *Server) persistGroups(ctx context.Context) {
	if err := s.store.SaveGroups(ctx, s.resolver.Groups()); err != nil {
		s.logger.Warn("failed to persist groups", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Package server handles the HTTP API for the versioned key-value store.
// Every response is a single plain-text line.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-hclog"
	metrics "github.com/hashicorp/go-metrics"
	"github.com/hashicorp/raft"

	"github.com/ASHISH26940/chaindb/internal/chain"
	"github.com/ASHISH26940/chaindb/internal/deferred"
	chainraft "github.com/ASHISH26940/chaindb/internal/raft"
	"github.com/ASHISH26940/chaindb/internal/store"
)

const (
	noCommands = "NO COMMANDS"
	cleaned    = "CLEANED"
)

// KV is the set of operations the server exposes. *deferred.Service implements it;
// by depending on an interface, tests can substitute their own.
type KV interface {
	Get(ctx context.Context, name string) (deferred.Result, error)
	CountEqualTo(ctx context.Context, value *string) (int, error)
	History(ctx context.Context, name string, limit int) ([]store.VersionRecord, error)
	Set(ctx context.Context, name, value string) (deferred.Result, error)
	Unset(ctx context.Context, name string) (deferred.Result, error)
	Undo(ctx context.Context) (deferred.Result, error)
	Redo(ctx context.Context) (deferred.Result, error)
	Wipe(ctx context.Context) error
}

// Cluster is the raft node the server consults for leadership and membership.
type Cluster interface {
	State() raft.RaftState
	Leader() raft.ServerAddress
	AddVoter(id raft.ServerID, address raft.ServerAddress, prevIndex uint64, timeout time.Duration) raft.IndexFuture
}

// Server is the HTTP server for the store. cluster and sink are optional.
type Server struct {
	kv      KV
	cluster Cluster
	sink    *metrics.InmemSink
	logger  hclog.Logger
	router  *http.ServeMux
}

// New creates a new Server instance. Pass a nil cluster when writes are not replicated
// and a nil sink to disable /metrics.
func New(kv KV, cluster Cluster, sink *metrics.InmemSink, logger hclog.Logger) *Server {
	s := &Server{
		kv:      kv,
		cluster: cluster,
		sink:    sink,
		logger:  logger.Named("http"),
		router:  http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// ServeHTTP makes our Server a standard http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/get", s.method(http.MethodGet, "get", s.handleGet))
	s.router.HandleFunc("/numequalto", s.method(http.MethodGet, "numequalto", s.handleNumEqualTo))
	s.router.HandleFunc("/history", s.method(http.MethodGet, "history", s.handleHistory))
	s.router.HandleFunc("/set", s.method(http.MethodPut, "set", s.write(s.handleSet)))
	s.router.HandleFunc("/unset", s.method(http.MethodDelete, "unset", s.write(s.handleUnset)))
	s.router.HandleFunc("/undo", s.method(http.MethodPut, "undo", s.write(s.handleUndo)))
	s.router.HandleFunc("/redo", s.method(http.MethodPut, "redo", s.write(s.handleRedo)))
	s.router.HandleFunc("/end", s.method(http.MethodDelete, "end", s.write(s.handleEnd)))
	s.router.HandleFunc("/join", s.method(http.MethodPost, "join", s.handleJoin))
	if s.sink != nil {
		s.router.HandleFunc("/metrics", s.method(http.MethodGet, "metrics", s.handleMetrics))
	}
}

// method rejects other HTTP methods and times the handler.
func (s *Server) method(m, op string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != m {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		defer metrics.MeasureSince([]string{"http", op}, time.Now())
		h(w, r)
	}
}

// write sends writes to the leader only. Reads can be served by any node.
func (s *Server) write(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cluster != nil && s.cluster.State() != raft.Leader {
			leaderAddr := string(s.cluster.Leader())
			http.Error(w, "Writes must be sent to the leader at: "+leaderAddr, http.StatusForbidden)
			return
		}
		h(w, r)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	name, ok := requireName(w, r)
	if !ok {
		return
	}
	res, err := s.kv.Get(r.Context(), name)
	if err != nil {
		s.fail(w, "get", err)
		return
	}
	writeLine(w, renderResult(res))
}

// handleNumEqualTo counts 0 when the value parameter is missing: absent is not a legal value.
func (s *Server) handleNumEqualTo(w http.ResponseWriter, r *http.Request) {
	var value *string
	if q := r.URL.Query(); q.Has("value") {
		v := q.Get("value")
		value = &v
	}
	n, err := s.kv.CountEqualTo(r.Context(), value)
	if err != nil {
		s.fail(w, "numequalto", err)
		return
	}
	writeLine(w, strconv.Itoa(n))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	name, ok := requireName(w, r)
	if !ok {
		return
	}
	limit := 0
	if l := r.URL.Query().Get("limit"); l != "" {
		n, err := strconv.Atoi(l)
		if err != nil || n < 0 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}
	recs, err := s.kv.History(r.Context(), name, limit)
	if err != nil {
		s.fail(w, "history", err)
		return
	}
	var b strings.Builder
	for _, rec := range recs {
		fmt.Fprintf(&b, "%d %s", rec.Seq, renderValue(rec.Value))
		if rec.Active {
			b.WriteString(" active")
		}
		b.WriteByte('\n')
	}
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(b.String()))
}

// handleSet stores value under name. A missing value parameter stores the empty string.
func (s *Server) handleSet(w http.ResponseWriter, r *http.Request) {
	name, ok := requireName(w, r)
	if !ok {
		return
	}
	res, err := s.kv.Set(r.Context(), name, r.URL.Query().Get("value"))
	if err != nil {
		s.fail(w, "set", err)
		return
	}
	s.logger.Debug("set visible", "name", name)
	writeLine(w, renderResult(res))
}

func (s *Server) handleUnset(w http.ResponseWriter, r *http.Request) {
	name, ok := requireName(w, r)
	if !ok {
		return
	}
	res, err := s.kv.Unset(r.Context(), name)
	if err != nil {
		s.fail(w, "unset", err)
		return
	}
	writeLine(w, renderResult(res))
}

func (s *Server) handleUndo(w http.ResponseWriter, r *http.Request) {
	s.step(w, "undo", func() (deferred.Result, error) { return s.kv.Undo(r.Context()) })
}

func (s *Server) handleRedo(w http.ResponseWriter, r *http.Request) {
	s.step(w, "redo", func() (deferred.Result, error) { return s.kv.Redo(r.Context()) })
}

func (s *Server) step(w http.ResponseWriter, op string, fn func() (deferred.Result, error)) {
	res, err := fn()
	if errors.Is(err, chain.ErrNoHistory) {
		writeLine(w, noCommands)
		return
	}
	if err != nil {
		s.fail(w, op, err)
		return
	}
	writeLine(w, renderResult(res))
}

func (s *Server) handleEnd(w http.ResponseWriter, r *http.Request) {
	if err := s.kv.Wipe(r.Context()); err != nil {
		s.fail(w, "end", err)
		return
	}
	s.logger.Info("store wiped")
	writeLine(w, cleaned)
}

// handleJoin adds a new node to the raft cluster.
func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	if s.cluster == nil {
		http.Error(w, "Clustering is not enabled", http.StatusNotFound)
		return
	}
	if s.cluster.State() != raft.Leader {
		http.Error(w, "Can only join a cluster via the leader node", http.StatusForbidden)
		return
	}

	var joinReq struct {
		NodeID string `json:"node_id"`
		Addr   string `json:"addr"`
	}
	if err := json.NewDecoder(r.Body).Decode(&joinReq); err != nil {
		http.Error(w, "Invalid join request body", http.StatusBadRequest)
		return
	}
	if joinReq.NodeID == "" || joinReq.Addr == "" {
		http.Error(w, "Missing node_id or addr in join request", http.StatusBadRequest)
		return
	}

	s.logger.Info("received join request", "node_id", joinReq.NodeID, "addr", joinReq.Addr)
	future := s.cluster.AddVoter(raft.ServerID(joinReq.NodeID), raft.ServerAddress(joinReq.Addr), 0, 0)
	if err := future.Error(); err != nil {
		s.logger.Error("failed to add voter", "node_id", joinReq.NodeID, "error", err)
		http.Error(w, "Failed to add node to cluster: "+err.Error(), http.StatusInternalServerError)
		return
	}
	s.logger.Info("added node to the cluster", "node_id", joinReq.NodeID)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	data, err := s.sink.DisplayMetrics(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

// fail maps an operation error to a status code.
func (s *Server) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, deferred.ErrTimeout):
		s.logger.Warn("write timed out", "op", op, "error", err)
		http.Error(w, err.Error(), http.StatusGatewayTimeout)
	case errors.Is(err, chainraft.ErrNotLeader):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, chain.ErrEmptyName):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.logger.Error("request failed", "op", op, "error", err)
		http.Error(w, "Failed to "+op+": "+err.Error(), http.StatusInternalServerError)
	}
}

func requireName(w http.ResponseWriter, r *http.Request) (string, bool) {
	name := r.URL.Query().Get("name")
	if name == "" {
		http.Error(w, "Name is missing", http.StatusBadRequest)
		return "", false
	}
	return name, true
}

func renderResult(res deferred.Result) string {
	return res.Name + " = " + renderValue(res.Value)
}

func renderValue(v *string) string {
	if v == nil {
		return "None"
	}
	return *v
}

func writeLine(w http.ResponseWriter, line string) {
	w.Header().Set("Content-Type", "text/plain")
	w.Write([]byte(line + "\n"))
}

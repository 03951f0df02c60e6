// Package adminapi exposes a read-only HTTP introspection surface
// over a peer's ledger and consensus state. It never drives Paxos or
// the ledger itself — a peer's only way to commit a transfer is
// through Propose, which this package cannot reach.
package adminapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/rechain/ledger/internal/ballot"
	"github.com/rechain/ledger/internal/ledger"
)

// LedgerView is the subset of Ledger the server needs; consensus.Engine
// is deliberately absent from this interface, since the admin surface
// must stay read-only.
type LedgerView interface {
	Depth() int
	BlockAt(d int) (ledger.Block, bool)
	Chain() []ledger.Block
	Balances() map[int64]int64
	Balance(id int64) int64
}

// StatusView supplies the read-only liveness/consensus facts the
// /status route reports beyond the ledger itself. It is satisfied by
// a peer's transport (failed/live) and consensus engine (highest
// accepted ballot per depth, reported as "last_decided_ballot"; a
// ballot listed there need not be decided yet) without giving the
// admin server any way to drive either.
type StatusView interface {
	IsFailed() bool
	AcceptedBallots() map[int64]ballot.Ballot
}

// Server is the gorilla/mux-routed admin HTTP server.
type Server struct {
	selfID int64
	ledger LedgerView
	status StatusView

	router     *mux.Router
	httpServer *http.Server
}

// NewServer builds the admin server for selfID's view of ledger.
// status may be nil, in which case /status omits liveness and
// per-depth ballot information.
func NewServer(selfID int64, l LedgerView, status StatusView) *Server {
	s := &Server{selfID: selfID, ledger: l, status: status, router: mux.NewRouter()}
	s.routes()
	return s
}

// Start begins serving on addr. It blocks until the server stops.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{Addr: addr, Handler: s.router}
	log.Printf("[peer-%d] admin api listening on %s", s.selfID, addr)
	return s.httpServer.ListenAndServe()
}

// ServeHTTPForTest routes a request directly through the mux router,
// bypassing http.Server — used by tests that don't want to bind a
// real socket.
func (s *Server) ServeHTTPForTest(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) routes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods("GET")
	s.router.HandleFunc("/chain", s.handleChain).Methods("GET")
	s.router.HandleFunc("/chain/{depth:[0-9]+}", s.handleBlockAt).Methods("GET")
	s.router.HandleFunc("/balances", s.handleBalances).Methods("GET")
	s.router.HandleFunc("/balances/{id:[0-9]+}", s.handleBalance).Methods("GET")
}

func (s *Server) respond(w http.ResponseWriter, data interface{}, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			log.Printf("[peer-%d] encode response: %v", s.selfID, err)
		}
	}
}

func (s *Server) errorf(w http.ResponseWriter, status int, msg string) {
	s.respond(w, map[string]string{"error": msg}, status)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := map[string]interface{}{
		"peer_id": s.selfID,
		"depth":   s.ledger.Depth(),
	}
	if s.status != nil {
		body["failed"] = s.status.IsFailed()
		decided := make(map[string]string)
		for depth, b := range s.status.AcceptedBallots() {
			decided[strconv.FormatInt(depth, 10)] = b.String()
		}
		body["last_decided_ballot"] = decided
	}
	s.respond(w, body, http.StatusOK)
}

func (s *Server) handleChain(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.ledger.Chain(), http.StatusOK)
}

func (s *Server) handleBlockAt(w http.ResponseWriter, r *http.Request) {
	depth, err := strconv.Atoi(mux.Vars(r)["depth"])
	if err != nil {
		s.errorf(w, http.StatusBadRequest, "invalid depth")
		return
	}
	block, ok := s.ledger.BlockAt(depth)
	if !ok {
		s.errorf(w, http.StatusNotFound, "no block at that depth")
		return
	}
	s.respond(w, block, http.StatusOK)
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.ledger.Balances(), http.StatusOK)
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		s.errorf(w, http.StatusBadRequest, "invalid peer id")
		return
	}
	s.respond(w, map[string]int64{"balance": s.ledger.Balance(id)}, http.StatusOK)
}

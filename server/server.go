// Package server exposes the relayer over HTTP.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"

	log "github.com/sirupsen/logrus"

	"umbra-relayer/api"
	"umbra-relayer/chain"
	"umbra-relayer/crypto"
	"umbra-relayer/pool"
	"umbra-relayer/relayer"
)

// Version reported by GET /health.
const Version = "0.1.0"

// Server routes the HTTP surface onto the relayer services.
type Server struct {
	addr string

	signer      *crypto.Signer
	envelope    *crypto.EnvelopeKey
	issuer      *relayer.Issuer
	deposits    *relayer.DepositService
	withdrawals *relayer.WithdrawalService
	pools       *pool.Service
	relayerKey  chain.Pubkey
	feeBps      uint16

	limiter *ipLimiter
	server  *http.Server
}

// Config wires the server's collaborators.
type Config struct {
	Addr        string
	Signer      *crypto.Signer
	Envelope    *crypto.EnvelopeKey
	Issuer      *relayer.Issuer
	Deposits    *relayer.DepositService
	Withdrawals *relayer.WithdrawalService
	Pools       *pool.Service
	RelayerKey  chain.Pubkey
	FeeBps      uint16

	RateLimitRPS   float64
	RateLimitBurst int
}

// New creates the server.
func New(cfg Config) *Server {
	return &Server{
		addr:        cfg.Addr,
		signer:      cfg.Signer,
		envelope:    cfg.Envelope,
		issuer:      cfg.Issuer,
		deposits:    cfg.Deposits,
		withdrawals: cfg.Withdrawals,
		pools:       cfg.Pools,
		relayerKey:  cfg.RelayerKey,
		feeBps:      cfg.FeeBps,
		limiter:     newIPLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst),
	}
}

// Handler builds the route table. Health is unlimited; everything else
// sits behind the per-IP token bucket.
func (s *Server) Handler() http.Handler {
	limited := http.NewServeMux()
	limited.HandleFunc("GET /info", s.handleInfo)
	limited.HandleFunc("POST /sign", s.handleSign)
	limited.HandleFunc("POST /deposit", s.handleDeposit)
	limited.HandleFunc("POST /withdraw", s.handleWithdraw)
	limited.HandleFunc("POST /withdraw/execute", s.handleExecute)
	limited.HandleFunc("GET /withdraw/pending", s.handlePending)
	limited.HandleFunc("GET /pools", s.handlePools)
	limited.HandleFunc("GET /pools/{bucket}", s.handlePool)
	limited.HandleFunc("GET /proof/{bucket}/{leaf}", s.handleProof)
	limited.HandleFunc("GET /commitment/{bucket}/{leaf}", s.handleCommitment)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("/", s.limiter.middleware(limited))

	return enableCORS(mux)
}

// Start serves until Stop is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:    s.addr,
		Handler: s.Handler(),
	}
	log.Infof("Relayer listening on %s", s.addr)
	return s.server.ListenAndServe()
}

// Stop shuts the listener down.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

// enableCORS adds CORS headers to allow browser access.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON sends a JSON response.
func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warnf("Failed to encode response: %v", err)
	}
}

// writeError maps a pipeline failure onto the uniform error body.
func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, relayer.StatusOf(err), api.ErrorResponse{Success: false, Error: err.Error()})
}

// parseBucketPath reads the {bucket} path segment.
func parseBucketPath(r *http.Request) (uint8, error) {
	var bucket uint8
	if _, err := fmt.Sscanf(r.PathValue("bucket"), "%d", &bucket); err != nil {
		return 0, err
	}
	return bucket, nil
}

// parseLeafPath reads the {leaf} path segment.
func parseLeafPath(r *http.Request) (uint64, error) {
	var leaf uint64
	if _, err := fmt.Sscanf(r.PathValue("leaf"), "%d", &leaf); err != nil {
		return 0, err
	}
	return leaf, nil
}

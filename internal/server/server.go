// Package server hosts the HTTP API of one running game. Every active
// game gets its own listener on port 8000+gameId so sessions stay
// isolated; the orchestrator starts and stops them as games enter and
// leave GAME_RUNNING.
package server

import (
	"crypto/tls"
	"encoding/json"
	"fmt"
	"math/big"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/cors"

	"github.com/austintgriffith/verifiable-game-backend/internal/auth"
	"github.com/austintgriffith/verifiable-game-backend/internal/session"
)

// BasePort is the port of game 0; game n listens on BasePort+n.
const BasePort = 8000

// Conventional TLS material paths, probed at startup.
const (
	tlsKeyFile  = "server.key"
	tlsCertFile = "server.cert"
)

// Config wires one game server.
type Config struct {
	GameID      uint64
	Contract    common.Address
	StakeAmount *big.Int
	Session     *session.Session
	Issuer      *auth.TokenIssuer
	// Phase reports the game's current phase for /status.
	Phase func() string
}

// Server is one game's HTTP listener.
type Server struct {
	cfg       Config
	log       log.Logger
	srv       *http.Server
	listener  net.Listener
	tlsActive bool
	startedAt time.Time
}

// New builds the server and its routes; Start binds the port.
func New(cfg Config) *Server {
	s := &Server{
		cfg: cfg,
		log: log.New("game", cfg.GameID, "component", "server"),
	}
	router := httprouter.New()
	router.GET("/", s.handleRoot)
	router.GET("/test", s.handleTest)
	router.GET("/status", s.handleStatus)
	router.GET("/players", s.handlePlayers)
	router.GET("/register", s.handleRegisterChallenge)
	router.POST("/register", s.handleRegister)
	router.GET("/map", s.authed(s.handleMap))
	router.POST("/move", s.authed(s.handleMove))
	router.POST("/mine", s.authed(s.handleMine))

	handler := cors.New(cors.Options{
		AllowedOrigins:       []string{"*"},
		AllowedMethods:       []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:       []string{"Authorization", "Content-Type"},
		OptionsSuccessStatus: http.StatusOK,
	}).Handler(router)

	s.srv = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Port returns the port this game binds.
func (s *Server) Port() int { return BasePort + int(s.cfg.GameID) }

// TLSActive reports whether the listener came up with TLS.
func (s *Server) TLSActive() bool { return s.tlsActive }

// Start binds the game port and begins serving. TLS is used when both
// key and certificate are present and load cleanly; any TLS setup
// failure falls back to plain HTTP on the same port.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.Port()))
	if err != nil {
		return fmt.Errorf("bind port %d: %w", s.Port(), err)
	}
	s.listener = ln
	s.startedAt = time.Now()

	if cert, ok := s.loadTLS(); ok {
		s.tlsActive = true
		s.srv.TLSConfig = &tls.Config{Certificates: []tls.Certificate{cert}}
		go s.serve(func() error { return s.srv.ServeTLS(ln, "", "") })
		s.log.Info("game server listening", "port", s.Port(), "tls", true)
		return nil
	}
	go s.serve(func() error { return s.srv.Serve(ln) })
	s.log.Info("game server listening", "port", s.Port(), "tls", false)
	return nil
}

func (s *Server) serve(f func() error) {
	if err := f(); err != nil && err != http.ErrServerClosed {
		s.log.Error("game server stopped", "err", err)
	}
}

// TLSConfigured reports whether the conventional key/cert pair is
// present. The orchestrator consults it so the scheme of the published
// server URL matches what the listeners will actually serve.
func TLSConfigured() bool {
	if _, err := os.Stat(tlsKeyFile); err != nil {
		return false
	}
	_, err := os.Stat(tlsCertFile)
	return err == nil
}

func (s *Server) loadTLS() (tls.Certificate, bool) {
	if !TLSConfigured() {
		return tls.Certificate{}, false
	}
	cert, err := tls.LoadX509KeyPair(tlsCertFile, tlsKeyFile)
	if err != nil {
		s.log.Warn("TLS material unusable, serving plain HTTP", "err", err)
		return tls.Certificate{}, false
	}
	return cert, true
}

// Close shuts the listener down immediately.
func (s *Server) Close() {
	if err := s.srv.Close(); err != nil {
		s.log.Debug("server close", "err", err)
	}
}

// Session exposes the underlying game session.
func (s *Server) Session() *session.Session { return s.cfg.Session }

// jsonNumber marshals integers that may exceed 2^53 as decimal strings
// so browser clients never lose precision.
type jsonNumber struct{ *big.Int }

const maxSafeInteger = 1<<53 - 1

func (n jsonNumber) MarshalJSON() ([]byte, error) {
	if n.Int == nil {
		return []byte("null"), nil
	}
	if n.Int.IsInt64() && n.Int.Int64() <= maxSafeInteger && n.Int.Int64() >= -maxSafeInteger {
		return []byte(n.Int.String()), nil
	}
	return json.Marshal(n.Int.String())
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

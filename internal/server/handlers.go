package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/julienschmidt/httprouter"

	"github.com/austintgriffith/verifiable-game-backend/internal/auth"
	"github.com/austintgriffith/verifiable-game-backend/internal/session"
)

func (s *Server) timeRemainingSecs() float64 {
	return s.cfg.Session.TimeRemaining().Seconds()
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":          "game server",
		"gameId":        s.cfg.GameID,
		"contract":      strings.ToLower(s.cfg.Contract.Hex()),
		"phase":         s.cfg.Phase(),
		"playerCount":   s.cfg.Session.PlayerCount(),
		"startedAt":     s.startedAt.UTC(),
		"timeRemaining": s.timeRemainingSecs(),
		"endpoints":     []string{"/", "/test", "/status", "/players", "/register", "/map", "/move", "/mine"},
	})
}

func (s *Server) handleTest(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"gameId":        s.cfg.GameID,
		"phase":         s.cfg.Phase(),
		"playerCount":   s.cfg.Session.PlayerCount(),
		"stakeAmount":   jsonNumber{s.cfg.StakeAmount},
		"startedAt":     s.cfg.Session.StartedAt().UTC(),
		"timeRemaining": s.timeRemainingSecs(),
	})
}

func (s *Server) handlePlayers(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	players := s.cfg.Session.Summaries()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"players":       players,
		"count":         len(players),
		"timeRemaining": s.timeRemainingSecs(),
	})
}

func (s *Server) handleRegisterChallenge(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	ts := time.Now().UnixMilli()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message":   auth.Challenge(s.cfg.Contract, s.cfg.GameID, ts),
		"timestamp": ts,
		"gameId":    s.cfg.GameID,
	})
}

type registerRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
	Timestamp int64  `json:"timestamp"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" || req.Signature == "" || req.Timestamp == 0 {
		writeError(w, http.StatusBadRequest, "address, signature and timestamp are required")
		return
	}
	if !common.IsHexAddress(req.Address) {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	addr := common.HexToAddress(req.Address)

	err := auth.VerifySignature(s.cfg.Contract, s.cfg.GameID, req.Timestamp, addr, req.Signature)
	switch {
	case err == nil:
	case errors.Is(err, auth.ErrBadSignature), errors.Is(err, auth.ErrStaleChallenge):
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	default:
		s.log.Error("signature verification failed", "addr", addr, "err", err)
		writeError(w, http.StatusInternalServerError, "signature verification failed")
		return
	}
	if !s.cfg.Session.HasPlayer(addr) {
		writeError(w, http.StatusForbidden, "address is not a player of this game")
		return
	}
	token, expiresIn, err := s.cfg.Issuer.Issue(addr)
	if err != nil {
		s.log.Error("token mint failed", "addr", addr, "err", err)
		writeError(w, http.StatusInternalServerError, "could not issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token":     token,
		"expiresIn": expiresIn,
	})
}

// authed wraps a handler with bearer-token validation plus a player-
// membership re-check: 401 when the token is missing or bad, 403 when
// the address is no longer a player of this game.
func (s *Server) authed(next func(http.ResponseWriter, *http.Request, common.Address)) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing Authorization header")
			return
		}
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found {
			writeError(w, http.StatusUnauthorized, "Authorization header must be a bearer token")
			return
		}
		addr, err := s.cfg.Issuer.Validate(tokenString)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		if !s.cfg.Session.HasPlayer(addr) {
			writeError(w, http.StatusForbidden, "address is not a player of this game")
			return
		}
		next(w, r, addr)
	}
}

func (s *Server) handleMap(w http.ResponseWriter, _ *http.Request, addr common.Address) {
	view, err := s.cfg.Session.ViewFor(addr)
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"view":          view,
		"timeRemaining": s.timeRemainingSecs(),
	})
}

type moveRequest struct {
	Direction string `json:"direction"`
}

func (s *Server) handleMove(w http.ResponseWriter, r *http.Request, addr common.Address) {
	var req moveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.cfg.Session.Move(addr, req.Direction)
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"direction":     res.Direction,
		"view":          res.View,
		"timeRemaining": s.timeRemainingSecs(),
	})
}

func (s *Server) handleMine(w http.ResponseWriter, _ *http.Request, addr common.Address) {
	res, err := s.cfg.Session.Mine(addr)
	if err != nil {
		s.writeGameError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pointsEarned":  res.PointsEarned,
		"view":          res.View,
		"timeRemaining": s.timeRemainingSecs(),
	})
}

// writeGameError maps game-rule errors to 400 with the exact rule
// message, unknown players to 404.
func (s *Server) writeGameError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, session.ErrUnknownPlayer):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, session.ErrInvalidDirection),
		errors.Is(err, session.ErrNoMovesRemaining),
		errors.Is(err, session.ErrNoMinesRemaining),
		errors.Is(err, session.ErrTileDepleted),
		errors.Is(err, session.ErrTimerExpired):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.log.Error("unexpected game error", "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

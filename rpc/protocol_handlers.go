package rpc

import (
	"math/big"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"sorosusu/native/susu"
)

func (s *Server) handleInitialize(w http.ResponseWriter, r *http.Request) {
	if err := s.locked(func() error { return s.engine.Initialize(r.Context(), caller(r)) }); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeProtocol(w, http.StatusCreated)
}

func (s *Server) handleSetProtocolFee(w http.ResponseWriter, r *http.Request) {
	var req setProtocolFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	var treasury *[20]byte
	if req.Treasury != nil {
		addr, ok := addressParam(w, *req.Treasury, "treasury")
		if !ok {
			return
		}
		treasury = &addr
	}
	err := s.locked(func() error {
		return s.engine.SetProtocolFee(r.Context(), caller(r), req.FeeBasisPoints, treasury)
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeProtocol(w, http.StatusOK)
}

func (s *Server) handleGetProtocolFee(w http.ResponseWriter, r *http.Request) {
	s.writeProtocol(w, http.StatusOK)
}

func (s *Server) writeProtocol(w http.ResponseWriter, status int) {
	var cfg *susu.ProtocolConfig
	err := s.locked(func() (err error) {
		cfg, err = s.engine.ProtocolConfig()
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, status, protocolResponseFrom(cfg))
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Bank == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "ledger unavailable")
		return
	}
	addr, ok := addressParam(w, chi.URLParam(r, "address"), "address")
	if !ok {
		return
	}
	token := strings.ToUpper(strings.TrimSpace(r.URL.Query().Get("token")))
	if token == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "token query parameter required")
		return
	}
	var balance *big.Int
	err := s.locked(func() (err error) {
		balance, err = s.cfg.Bank.Balance(token, addr)
		return err
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"address": formatAddress(addr),
		"token":   token,
		"balance": formatAmount(balance),
	})
}

package rpc

import (
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"sorosusu/integrations/archive"
	"sorosusu/native/susu"
)

func (s *Server) handleCreateCircle(w http.ResponseWriter, r *http.Request) {
	var req createCircleRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	amount, err := parseAmount(req.ContributionAmount)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	params := susu.CircleParams{
		ContributionAmount: amount,
		Token:              req.Token,
		MaxMembers:         req.MaxMembers,
		CycleDuration:      req.CycleDuration,
		RandomQueue:        req.RandomQueue,
	}
	var circle *susu.Circle
	err = s.locked(func() error {
		id, err := s.engine.CreateCircle(r.Context(), caller(r), params)
		if err != nil {
			return err
		}
		circle, err = s.engine.Circle(id)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, circleResponseFrom(circle))
}

func (s *Server) handleCircleCount(w http.ResponseWriter, r *http.Request) {
	var count uint64
	err := s.locked(func() (err error) {
		count, err = s.engine.CircleCount()
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]uint64{"count": count})
}

func (s *Server) handleGetCircle(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	s.writeCircle(w, http.StatusOK, id)
}

func (s *Server) writeCircle(w http.ResponseWriter, status int, id uint64) {
	var circle *susu.Circle
	err := s.locked(func() (err error) {
		circle, err = s.engine.Circle(id)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, status, circleResponseFrom(circle))
}

// mutateCircle runs op for the circle named in the path and answers with the
// updated circle.
func (s *Server) mutateCircle(w http.ResponseWriter, r *http.Request, op func(id uint64) error) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	if err := s.locked(func() error { return op(id) }); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeCircle(w, http.StatusOK, id)
}

func (s *Server) handleJoin(w http.ResponseWriter, r *http.Request) {
	s.mutateCircle(w, r, func(id uint64) error {
		return s.engine.JoinCircle(r.Context(), caller(r), id)
	})
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	s.mutateCircle(w, r, func(id uint64) error {
		return s.engine.Deposit(r.Context(), caller(r), id)
	})
}

func (s *Server) handleProcessPayout(w http.ResponseWriter, r *http.Request) {
	var req processPayoutRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	recipient, ok := addressParam(w, req.Recipient, "recipient")
	if !ok {
		return
	}
	s.mutateCircle(w, r, func(id uint64) error {
		return s.engine.ProcessPayout(r.Context(), caller(r), id, recipient)
	})
}

func (s *Server) handleRollover(w http.ResponseWriter, r *http.Request) {
	s.mutateCircle(w, r, func(id uint64) error {
		return s.engine.RolloverGroup(r.Context(), caller(r), id)
	})
}

func (s *Server) handleRequestEarlyPayout(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	if err := s.locked(func() error { return s.engine.RequestEarlyPayout(r.Context(), caller(r), id) }); err != nil {
		writeEngineError(w, err)
		return
	}
	s.writeMember(w, http.StatusAccepted, id, caller(r))
}

func (s *Server) handleApproveEarlyPayout(w http.ResponseWriter, r *http.Request) {
	member, ok := addressParam(w, chi.URLParam(r, "member"), "member")
	if !ok {
		return
	}
	s.mutateCircle(w, r, func(id uint64) error {
		return s.engine.ApproveEarlyPayout(r.Context(), caller(r), id, member)
	})
}

func (s *Server) handleCycleInfo(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	var info susu.CycleInfo
	err := s.locked(func() (err error) {
		info, err = s.engine.GetCycleInfo(id)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CycleInfoResponse{
		CycleNumber:            info.CycleNumber,
		CurrentPayoutIndex:     info.CurrentPayoutIndex,
		TotalVolumeDistributed: formatAmount(info.TotalVolumeDistributed),
	})
}

func (s *Server) handlePayoutStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	var status []bool
	err := s.locked(func() (err error) {
		status, err = s.engine.GetPayoutStatus(id)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if status == nil {
		status = []bool{}
	}
	writeJSON(w, http.StatusOK, map[string][]bool{"payoutStatus": status})
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	var (
		reserve *big.Int
		token   string
	)
	err := s.locked(func() error {
		circle, err := s.engine.Circle(id)
		if err != nil {
			return err
		}
		token = circle.Token
		reserve, err = s.engine.GroupReserve(id)
		return err
	})
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"token": token, "reserve": formatAmount(reserve)})
}

func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	addr, ok := addressParam(w, chi.URLParam(r, "member"), "member")
	if !ok {
		return
	}
	s.writeMember(w, http.StatusOK, id, addr)
}

func (s *Server) writeMember(w http.ResponseWriter, status int, id uint64, addr [20]byte) {
	var resp MemberResponse
	err := s.locked(func() error {
		record, err := s.engine.Member(id, addr)
		if err != nil {
			return err
		}
		deposited, err := s.engine.HasDeposited(id, addr)
		if err != nil {
			return err
		}
		_, pending, err := s.engine.PendingEarlyPayout(id, addr)
		if err != nil {
			return err
		}
		resp = MemberResponse{
			Address:              formatAddress(record.Address),
			HasContributed:       record.HasContributed,
			ContributionCount:    record.ContributionCount,
			LastContributionTime: record.LastContributionTime,
			NextDeadline:         record.NextDeadline,
			JoinedAt:             record.JoinedAt,
			HasDeposited:         deposited,
			EarlyPayoutPending:   pending,
		}
		return nil
	})
	switch {
	case errors.Is(err, susu.ErrUnauthorized):
		writeError(w, http.StatusNotFound, "not_found", "member not found")
	case err != nil:
		writeEngineError(w, err)
	default:
		writeJSON(w, status, resp)
	}
}

func (s *Server) handleCircleEvents(w http.ResponseWriter, r *http.Request) {
	id, ok := circleIDParam(w, r)
	if !ok {
		return
	}
	if s.cfg.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "unavailable", "event archive disabled")
		return
	}
	filter, ok := archiveFilter(w, r, id)
	if !ok {
		return
	}
	if err := s.locked(func() error { _, err := s.engine.Circle(id); return err }); err != nil {
		writeEngineError(w, err)
		return
	}
	records, err := s.cfg.Archive.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("rpc: list archived events", "circle", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", "list events failed")
		return
	}
	resp := EventsResponse{Events: make([]EventResponse, 0, len(records)), Next: filter.After}
	for _, record := range records {
		evt, err := eventResponseFromRecord(record)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		resp.Events = append(resp.Events, evt)
		resp.Next = record.Sequence
	}
	writeJSON(w, http.StatusOK, resp)
}

func archiveFilter(w http.ResponseWriter, r *http.Request, id uint64) (archive.Filter, bool) {
	q := r.URL.Query()
	filter := archive.Filter{CircleID: id, Type: strings.TrimSpace(q.Get("type"))}
	if raw := q.Get("after"); raw != "" {
		after, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || after < 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid after cursor")
			return filter, false
		}
		filter.After = after
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeError(w, http.StatusBadRequest, "invalid_request", "invalid limit")
			return filter, false
		}
		filter.Limit = limit
	}
	return filter, true
}

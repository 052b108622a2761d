package membershipsvc

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/metrics"
)

// =============================================================================
// HTTP Handlers
// =============================================================================

type registerRequest struct {
	Address string `json:"address"`
	TxHash  string `json:"txHash"`
}

type txHashRequest struct {
	TxHash string `json:"txHash"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": s.clock.Now().UTC().Format(time.RFC3339Nano),
	})
}

func (s *Service) handleCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	metrics.SetStoreMembers(count)
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Service) handleGetMember(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(strings.TrimSpace(mux.Vars(r)["address"]))

	m, err := s.store.GetMember(r.Context(), address)
	if errors.Is(err, membership.ErrNotFound) {
		writeJSON(w, http.StatusOK, membership.Info{IsMember: false})
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, membership.Info{IsMember: true, Member: m})
}

func (s *Service) handleListMembers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	if page < 0 {
		page = 0
	}
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))
	if pageSize <= 0 {
		pageSize = membership.DefaultPageSize
	}
	if pageSize > membership.MaxPageSize {
		pageSize = membership.MaxPageSize
	}

	members, err := s.store.ListMembers(r.Context(), page, pageSize)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	total, err := s.store.Count(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, membership.Page{
		Members:  members,
		Page:     page,
		PageSize: pageSize,
		Total:    total,
		HasMore:  (page+1)*pageSize < total,
	})
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Address) == "" {
		writeError(w, http.StatusBadRequest, "Address is required")
		return
	}
	address, err := membership.NormalizeAddress(req.Address)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid address")
		return
	}

	added, err := s.store.AddMember(r.Context(), address, strings.TrimSpace(req.TxHash))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	count, err := s.store.Count(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	metrics.RecordRegistration(added)
	metrics.SetStoreMembers(count)

	if !added {
		writeJSON(w, http.StatusOK, membership.RegisterResult{Success: false, Message: "Member already exists", Count: count})
		return
	}
	zerolog.Ctx(r.Context()).Info().Str("address", address).Int("count", count).Msg("member registered")
	writeJSON(w, http.StatusCreated, membership.RegisterResult{Success: true, Message: "Member registered", Count: count})
}

func (s *Service) handleUpdateTxHash(w http.ResponseWriter, r *http.Request) {
	address := strings.ToLower(strings.TrimSpace(mux.Vars(r)["address"]))

	var req txHashRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	txHash := strings.TrimSpace(req.TxHash)
	if txHash == "" {
		writeError(w, http.StatusBadRequest, "txHash is required")
		return
	}

	err := s.store.UpdateTxHash(r.Context(), address, txHash)
	if errors.Is(err, membership.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Member not found")
		return
	}
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (s *Service) handleChainCount(w http.ResponseWriter, r *http.Request) {
	if s.chainCount == nil {
		writeError(w, http.StatusServiceUnavailable, "Chain reader not configured")
		return
	}
	count := s.chainCount.Count(r.Context())
	metrics.SetChainMembers(count)
	writeJSON(w, http.StatusOK, map[string]uint32{"count": count})
}

// =============================================================================
// Request/Response Helpers
// =============================================================================

func (s *Service) internalError(w http.ResponseWriter, r *http.Request, err error) {
	zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	writeError(w, http.StatusInternalServerError, err.Error())
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

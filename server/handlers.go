package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/circlelabs/circle"
)

type memberResponse struct {
	Address string `json:"address"`
	Status  string `json:"status"`
	Escrow  string `json:"escrow"`
	Weight  uint64 `json:"weight"`
}

func memberView(m circle.Member) memberResponse {
	return memberResponse{
		Address: m.Address,
		Status:  m.Status.String(),
		Escrow:  m.Escrow.Dec(),
		Weight:  m.Weight,
	}
}

type tallyResponse struct {
	Yes         uint64 `json:"yes"`
	No          uint64 `json:"no"`
	Abstain     uint64 `json:"abstain"`
	TotalWeight uint64 `json:"total_weight"`
}

type proposalResponse struct {
	ID          uint64        `json:"id"`
	Title       string        `json:"title"`
	Description string        `json:"description"`
	Proposer    string        `json:"proposer"`
	Action      string        `json:"action"`
	Status      string        `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	ExpiresAt   time.Time     `json:"expires_at"`
	Tally       tallyResponse `json:"tally"`
}

func proposalView(p circle.ProposalView) proposalResponse {
	return proposalResponse{
		ID:          p.ID,
		Title:       p.Title,
		Description: p.Description,
		Proposer:    p.Proposer,
		Action:      actionKind(p.Action),
		Status:      string(p.Status),
		CreatedAt:   p.CreatedAt,
		ExpiresAt:   p.ExpiresAt,
		Tally: tallyResponse{
			Yes:         p.Tally.Yes,
			No:          p.Tally.No,
			Abstain:     p.Tally.Abstain,
			TotalWeight: p.Tally.TotalWeight,
		},
	}
}

func actionKind(a circle.Action) string {
	switch a.(type) {
	case circle.AddVotingMembers:
		return "add_voting_members"
	case circle.AddRemoveNonVotingMembers:
		return "add_remove_non_voting_members"
	case circle.EditRules:
		return "edit_rules"
	case circle.PunishMembers:
		return "punish_members"
	}
	return "unknown"
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCircle(w http.ResponseWriter, _ *http.Request) {
	cfg := s.contract.EscrowConfig()
	resp := map[string]any{
		"name":            s.contract.Name(),
		"total_weight":    s.contract.TotalWeight(),
		"required_escrow": cfg.Required.Dec(),
	}
	if cfg.Pending != nil {
		resp["pending_escrow"] = map[string]any{
			"proposal_id":  cfg.Pending.ProposalID,
			"amount":       cfg.Pending.Amount.Dec(),
			"activates_at": cfg.Pending.ActivatesAt,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRules(w http.ResponseWriter, _ *http.Request) {
	rules := s.contract.VotingRules()
	writeJSON(w, http.StatusOK, map[string]any{
		"voting_period":   rules.VotingPeriod.String(),
		"quorum":          rules.Quorum.String(),
		"threshold":       rules.Threshold.String(),
		"allow_end_early": rules.AllowEndEarly,
	})
}

func (s *Server) handleListMembers(w http.ResponseWriter, r *http.Request) {
	startAfter := r.URL.Query().Get("start_after")
	limit := queryInt(r, "limit")

	var members []circle.Member
	switch r.URL.Query().Get("status") {
	case "":
		members = s.contract.ListMembers(startAfter, limit)
	case "voting":
		members = s.contract.ListVotingMembers(startAfter, limit)
	case "non_voting":
		members = s.contract.ListNonVotingMembers(startAfter, limit)
	default:
		writeError(w, http.StatusBadRequest, "unknown status filter")
		return
	}

	out := make([]memberResponse, 0, len(members))
	for _, m := range members {
		out = append(out, memberView(m))
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (s *Server) handleMember(w http.ResponseWriter, r *http.Request) {
	m, err := s.contract.Member(chi.URLParam(r, "address"))
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, memberView(m))
}

func (s *Server) handleEscrow(w http.ResponseWriter, r *http.Request) {
	addr := chi.URLParam(r, "address")
	balance, err := s.contract.Escrow(addr)
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"address": addr, "escrow": balance.Dec()})
}

func (s *Server) handleBatch(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid batch id")
		return
	}
	batch, err := s.contract.BatchStatus(id)
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":             batch.ID,
		"grace_ends_at":  batch.GraceEndsAt,
		"waiting_escrow": batch.WaitingEscrow,
		"promoted":       batch.Promoted,
		"members":        batch.Members,
	})
}

func (s *Server) handleListProposals(w http.ResponseWriter, r *http.Request) {
	startAfter, _ := strconv.ParseUint(r.URL.Query().Get("start_after"), 10, 64)
	proposals := s.contract.ListProposals(startAfter, queryInt(r, "limit"))
	out := make([]proposalResponse, 0, len(proposals))
	for _, p := range proposals {
		out = append(out, proposalView(p))
	}
	writeJSON(w, http.StatusOK, map[string]any{"proposals": out})
}

func (s *Server) handleProposal(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	p, err := s.contract.GetProposal(id)
	if err != nil {
		writeContractError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, proposalView(p))
}

func (s *Server) handleVotes(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid proposal id")
		return
	}
	votes, err := s.contract.ListVotes(id, r.URL.Query().Get("start_after"), queryInt(r, "limit"))
	if err != nil {
		writeContractError(w, err)
		return
	}
	out := make([]map[string]any, 0, len(votes))
	for _, v := range votes {
		out = append(out, map[string]any{
			"voter":  v.Voter,
			"vote":   string(v.Vote),
			"weight": v.Weight,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"votes": out})
}

func queryInt(r *http.Request, key string) int {
	n, _ := strconv.Atoi(r.URL.Query().Get(key))
	return n
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeContractError(w http.ResponseWriter, err error) {
	if errors.Is(err, circle.ErrNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}

package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/Dicklesworthstone/cmdgate/internal/core"
	"github.com/Dicklesworthstone/cmdgate/internal/db"
)

type userView struct {
	ID      int64   `json:"id"`
	Name    string  `json:"name"`
	Role    db.Role `json:"role"`
	Credits int64   `json:"credits"`
}

func (s *Server) verifyAuth(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{
		"user": userView{ID: u.ID, Name: u.Name, Role: u.Role, Credits: u.Credits},
	})
}

// outcomeResponse flattens a submission or decision for clients.
type outcomeResponse struct {
	Status    db.CommandStatus `json:"status"`
	CommandID int64            `json:"command_id"`
	Message   string           `json:"message"`
	Outcome   any              `json:"outcome"`
}

func submissionResponse(sub core.Submission) outcomeResponse {
	cmd := sub.Record()
	resp := outcomeResponse{Status: cmd.Status, CommandID: cmd.ID, Outcome: sub}
	switch o := sub.(type) {
	case *core.Rejected:
		resp.Message = "Command blocked by rule"
		if o.Rule != nil {
			resp.Message = "Command blocked by rule #" + strconv.FormatInt(o.Rule.ID, 10)
		}
	case *core.PendingApproval:
		resp.Message = "Command requires admin approval"
	case *core.Executed:
		resp.Message = "Command executed"
	}
	return resp
}

func decisionResponse(d core.Decision) outcomeResponse {
	cmd := d.Record()
	resp := outcomeResponse{Status: cmd.Status, CommandID: cmd.ID, Outcome: d}
	switch o := d.(type) {
	case *core.DecisionRejected:
		resp.Message = "Command rejected"
		if o.InsufficientCredits {
			resp.Message = "Command rejected: owner has insufficient credits"
		}
	case *core.DecisionPending:
		resp.Message = "Approval recorded (" + o.Progress() + ")"
	case *core.DecisionExecuted:
		resp.Message = "Command approved and executed"
	}
	return resp
}

func (s *Server) submitCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command *string `json:"command"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Command == nil {
		writeError(w, http.StatusBadRequest, "Command text required")
		return
	}
	sub, err := s.gw.Submit(r.Context(), userFrom(r.Context()).ID, *req.Command)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, submissionResponse(sub))
}

func (s *Server) listCommands(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	cmds, err := s.gw.ListUserCommands(r.Context(), userFrom(r.Context()).ID, limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

type createdUser struct {
	userView
	APIKey string `json:"api_key"`
}

func (s *Server) createUser(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string  `json:"name"`
		Role    db.Role `json:"role"`
		Credits *int64  `json:"credits"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Name == "" || req.Role == "" {
		writeError(w, http.StatusBadRequest, "Name and role required")
		return
	}
	actor := userFrom(r.Context()).ID
	u, err := s.gw.CreateUser(r.Context(), &actor, core.NewUser{Name: req.Name, Role: req.Role, Credits: req.Credits})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, createdUser{
		userView: userView{ID: u.ID, Name: u.Name, Role: u.Role, Credits: u.Credits},
		APIKey:   u.APIKey,
	})
}

func (s *Server) updateCredits(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Credits *int64 `json:"credits"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Credits == nil {
		writeError(w, http.StatusBadRequest, "Credits amount required")
		return
	}
	if err := s.gw.UpdateCredits(r.Context(), userFrom(r.Context()).ID, id, *req.Credits); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "credits": *req.Credits})
}

func (s *Server) listRules(w http.ResponseWriter, r *http.Request) {
	rules, err := s.gw.ListRules(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

type ruleRequest struct {
	Pattern string        `json:"pattern"`
	Action  db.RuleAction `json:"action"`
}

func (s *Server) createRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil || req.Pattern == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "Pattern and action required")
		return
	}
	created, err := s.gw.CreateRule(r.Context(), userFrom(r.Context()).ID, req.Pattern, req.Action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	resp := map[string]any{
		"id":        created.Rule.ID,
		"success":   true,
		"rule":      created.Rule,
		"conflicts": created.Conflicts,
	}
	if created.Warning != "" {
		resp["warning"] = created.Warning
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) validateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil || req.Pattern == "" {
		writeError(w, http.StatusBadRequest, "Pattern required")
		return
	}
	writeJSON(w, http.StatusOK, s.gw.ValidatePattern(req.Pattern))
}

func (s *Server) checkConflicts(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeJSON(r, &req); err != nil || req.Pattern == "" || req.Action == "" {
		writeError(w, http.StatusBadRequest, "Pattern and action required")
		return
	}
	report, err := s.gw.CheckConflicts(r.Context(), req.Pattern, req.Action)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) listPending(w http.ResponseWriter, r *http.Request) {
	cmds, err := s.gw.ListPending(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cmds)
}

func (s *Server) approveCommand(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req struct {
		Approved *bool  `json:"approved"`
		Reason   string `json:"reason"`
	}
	if err := decodeJSON(r, &req); err != nil || req.Approved == nil {
		writeError(w, http.StatusBadRequest, "Approval decision required")
		return
	}
	d, err := s.gw.Decide(r.Context(), id, userFrom(r.Context()).ID, *req.Approved, req.Reason)
	if err != nil {
		if d != nil && errors.Is(err, core.ErrQuotaExceeded) {
			resp := decisionResponse(d)
			writeJSON(w, http.StatusPaymentRequired, map[string]any{
				"error":      err.Error(),
				"status":     resp.Status,
				"command_id": resp.CommandID,
				"outcome":    resp.Outcome,
			})
			return
		}
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, decisionResponse(d))
}

func (s *Server) listVotes(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	votes, err := s.gw.ListVotes(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, votes)
}

func (s *Server) listAudit(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if limit == 0 {
		limit = s.auditLimit
	}
	entries, err := s.gw.ListAudit(r.Context(), limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) analytics(w http.ResponseWriter, r *http.Request) {
	a, err := s.gw.Analytics(r.Context())
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func pathID(r *http.Request) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: invalid id", core.ErrValidation)
	}
	return id, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: invalid %s", core.ErrValidation, name)
	}
	return n, nil
}

// Package api exposes HTTP handlers for the reserve ledger.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"example.com/reserve/internal/auth"
	"example.com/reserve/internal/domain"
	"example.com/reserve/internal/persistence"
)

const (
	maxBodyBytes = 1 << 20
	defaultLimit = 20
	maxLimit     = 100
)

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *slog.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/reserve", h.initialize)
	mux.HandleFunc("GET /v1/reserve/stats", h.stats)
	mux.HandleFunc("PUT /v1/reserve/minimum-contribution", h.setMinimumContribution)
	mux.HandleFunc("POST /v1/reserve/admin", h.transferAdmin)

	mux.HandleFunc("POST /v1/participants", h.join)
	mux.HandleFunc("GET /v1/participants", h.listParticipants)
	mux.HandleFunc("POST /v1/participants/me/deposits", h.deposit)
	mux.HandleFunc("POST /v1/participants/me/withdrawals", h.withdraw)
	mux.HandleFunc("POST /v1/participants/me/exit", h.exit)
	mux.HandleFunc("GET /v1/participants/{id}", h.getParticipant)
	mux.HandleFunc("GET /v1/participants/{id}/withdrawable", h.withdrawable)

	mux.HandleFunc("POST /v1/activities", h.propose)
	mux.HandleFunc("GET /v1/activities", h.listActivities)
	mux.HandleFunc("GET /v1/activities/{id}", h.getActivity)
	mux.HandleFunc("POST /v1/activities/{id}/approve", h.approve)
	mux.HandleFunc("POST /v1/activities/{id}/reject", h.reject)
	mux.HandleFunc("POST /v1/activities/{id}/complete", h.complete)

	mux.HandleFunc("GET /healthz", healthz)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) initialize(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveAdmin)
	if !ok {
		return
	}
	var req InitializeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.Initialize(r.Context(), caller, req.MinCapitalContribution, req.MaxParticipants); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.respondStats(w, r, http.StatusCreated)
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeReserveRead); !ok {
		return
	}
	h.respondStats(w, r, http.StatusOK)
}

func (h *Handler) respondStats(w http.ResponseWriter, r *http.Request, status int) {
	stats, err := h.service.GetReserveStats(r.Context())
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, status, toStatsView(stats))
}

func (h *Handler) setMinimumContribution(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveAdmin)
	if !ok {
		return
	}
	var req MinimumContributionRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.SetMinimumCapitalContribution(r.Context(), caller, req.Value); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.respondStats(w, r, http.StatusOK)
}

func (h *Handler) transferAdmin(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveAdmin)
	if !ok {
		return
	}
	var req TransferAdminRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.service.TransferAdmin(r.Context(), caller, req.Admin); err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	h.respondStats(w, r, http.StatusOK)
}

func (h *Handler) join(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveWrite)
	if !ok {
		return
	}
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.service.Join(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toParticipantView(p))
}

func (h *Handler) deposit(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveWrite)
	if !ok {
		return
	}
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.service.Deposit(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(p))
}

func (h *Handler) withdraw(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveWrite)
	if !ok {
		return
	}
	var req AmountRequest
	if !decodeBody(w, r, &req) {
		return
	}
	p, err := h.service.Withdraw(r.Context(), caller, req.Amount)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(p))
}

func (h *Handler) exit(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveWrite)
	if !ok {
		return
	}
	paid, err := h.service.Exit(r.Context(), caller)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExitResponse{Identity: caller, Paid: paid})
}

func (h *Handler) listParticipants(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeReserveRead); !ok {
		return
	}
	activeOnly := false
	if raw := r.URL.Query().Get("active"); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "validation_failed", "active must be a boolean")
			return
		}
		activeOnly = parsed
	}
	participants, err := h.service.ListParticipants(r.Context(), activeOnly)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	items := make([]ParticipantView, 0, len(participants))
	for _, p := range participants {
		items = append(items, toParticipantView(p))
	}
	writeJSON(w, http.StatusOK, ListParticipantsResponse{Items: items})
}

func (h *Handler) getParticipant(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeReserveRead); !ok {
		return
	}
	p, err := h.service.GetParticipant(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toParticipantView(p))
}

func (h *Handler) withdrawable(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeReserveRead); !ok {
		return
	}
	id := r.PathValue("id")
	balance, err := h.service.GetWithdrawableBalance(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, WithdrawableResponse{Identity: id, Withdrawable: balance})
}

func (h *Handler) propose(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveWrite)
	if !ok {
		return
	}
	var req ProposeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
		return
	}
	a, err := h.service.Propose(r.Context(), caller, req.ActivityID, req.CapitalRequired)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toActivityView(a))
}

func (h *Handler) listActivities(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeReserveRead); !ok {
		return
	}

	limit := defaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = min(parsed, maxLimit)
		}
	}

	cursor, err := persistence.DecodeCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	activities, next, err := h.service.ListActivities(r.Context(), cursor, limit)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}

	items := make([]ActivityView, 0, len(activities))
	for _, a := range activities {
		items = append(items, toActivityView(a))
	}
	writeJSON(w, http.StatusOK, ListActivitiesResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := authorize(w, r, auth.ScopeReserveRead); !ok {
		return
	}
	a, err := h.service.GetActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(a))
}

func (h *Handler) approve(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveAdmin)
	if !ok {
		return
	}
	a, err := h.service.Approve(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(a))
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveAdmin)
	if !ok {
		return
	}
	a, err := h.service.Reject(r.Context(), caller, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(a))
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	caller, ok := authorize(w, r, auth.ScopeReserveWrite)
	if !ok {
		return
	}
	var req CompleteRequest
	if !decodeBody(w, r, &req) {
		return
	}
	a, dist, err := h.service.Complete(r.Context(), caller, r.PathValue("id"), req.Outcome)
	if err != nil {
		h.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CompleteResponse{
		Activity:     toActivityView(a),
		Distribution: toDistributionView(dist),
	})
}

// authorize returns the caller identity when the request carries scope.
// Admin tokens satisfy every scope; write tokens also satisfy read.
func authorize(w http.ResponseWriter, r *http.Request, scope string) (string, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok || claims == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return "", false
	}
	granted := claims.HasScope(scope) || claims.HasScope(auth.ScopeReserveAdmin)
	if scope == auth.ScopeReserveRead && claims.HasScope(auth.ScopeReserveWrite) {
		granted = true
	}
	if !granted {
		writeError(w, http.StatusForbidden, "forbidden", fmt.Sprintf("scope %s required", scope))
		return "", false
	}
	return claims.Subject, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		detail := "unable to parse body"
		if !errors.Is(err, io.EOF) {
			detail = fmt.Sprintf("unable to parse body: %v", err)
		}
		writeError(w, http.StatusBadRequest, "invalid_request", detail)
		return false
	}
	return true
}

// statusForKind maps domain error kinds to HTTP statuses.
func statusForKind(kind domain.Kind) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindAuthorization:
		return http.StatusForbidden
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindState:
		return http.StatusConflict
	case domain.KindResource:
		return http.StatusUnprocessableEntity
	case domain.KindTransfer:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var derr *domain.Error
	if !errors.As(err, &derr) {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
		return
	}
	status := statusForKind(derr.Kind)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "code", derr.Code, "error", err)
	}
	writeError(w, status, string(derr.Code), derr.Message)
}

// InitializeRequest is the payload for POST /v1/reserve.
type InitializeRequest struct {
	MinCapitalContribution uint64 `json:"min_capital_contribution"`
	MaxParticipants        int    `json:"max_participants"`
}

// MinimumContributionRequest is the payload for PUT /v1/reserve/minimum-contribution.
type MinimumContributionRequest struct {
	Value uint64 `json:"value"`
}

// TransferAdminRequest is the payload for POST /v1/reserve/admin.
type TransferAdminRequest struct {
	Admin string `json:"admin"`
}

// AmountRequest carries the amount for join, deposit and withdraw.
type AmountRequest struct {
	Amount uint64 `json:"amount"`
}

// ProposeRequest is the payload for POST /v1/activities.
type ProposeRequest struct {
	ActivityID      string `json:"activity_id"`
	CapitalRequired uint64 `json:"capital_required"`
}

// Validate ensures request correctness.
func (r ProposeRequest) Validate() error {
	if strings.TrimSpace(r.ActivityID) == "" {
		return errors.New("activity_id is required")
	}
	if strings.ContainsAny(r.ActivityID, "/?#") {
		return errors.New("activity_id must not contain path separators")
	}
	return nil
}

// CompleteRequest is the payload for POST /v1/activities/{id}/complete.
type CompleteRequest struct {
	Outcome int64 `json:"outcome"`
}

// StatsView exposes GetReserveStats.
type StatsView struct {
	TotalCapital           uint64 `json:"total_capital"`
	ParticipantCount       int    `json:"participant_count"`
	ActivityCount          int    `json:"activity_count"`
	MinCapitalContribution uint64 `json:"min_capital_contribution"`
	MaxParticipants        int    `json:"max_participants"`
	DeployedCapital        uint64 `json:"deployed_capital"`
	RetainedSurplus        uint64 `json:"retained_surplus"`
	UncollectedLoss        uint64 `json:"uncollected_loss"`
	Admin                  string `json:"admin"`
	Initialized            bool   `json:"initialized"`
}

// ParticipantView exposes a participant record.
type ParticipantView struct {
	Identity               string     `json:"identity"`
	CapitalContributed     uint64     `json:"capital_contributed"`
	ProfitShareAccumulated uint64     `json:"profit_share_accumulated"`
	ProfitShareWithdrawn   uint64     `json:"profit_share_withdrawn"`
	LossShareAccumulated   uint64     `json:"loss_share_accumulated"`
	ClaimableProfit        uint64     `json:"claimable_profit"`
	IsActive               bool       `json:"is_active"`
	JoinedAt               time.Time  `json:"joined_at"`
	ExitedAt               *time.Time `json:"exited_at,omitempty"`
}

// ListParticipantsResponse packages participant listings.
type ListParticipantsResponse struct {
	Items []ParticipantView `json:"items"`
}

// ExitResponse reports what an exit paid out.
type ExitResponse struct {
	Identity string `json:"identity"`
	Paid     uint64 `json:"paid"`
}

// WithdrawableResponse reports GetWithdrawableBalance.
type WithdrawableResponse struct {
	Identity     string `json:"identity"`
	Withdrawable uint64 `json:"withdrawable"`
}

// ActivityView exposes full details about an activity.
type ActivityView struct {
	ActivityID      string     `json:"activity_id"`
	Initiator       string     `json:"initiator"`
	CapitalRequired uint64     `json:"capital_required"`
	CapitalDeployed uint64     `json:"capital_deployed"`
	Status          string     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Outcome         int64      `json:"outcome"`
	IsValidated     bool       `json:"is_validated"`
}

// ListActivitiesResponse packages list results.
type ListActivitiesResponse struct {
	Items      []ActivityView `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

// ShareView is one participant's slice of a distribution.
type ShareView struct {
	Identity string `json:"identity"`
	Amount   uint64 `json:"amount"`
	Clamped  bool   `json:"clamped,omitempty"`
}

// DistributionView summarises a distribution pass.
type DistributionView struct {
	Kind      string      `json:"kind"`
	Amount    uint64      `json:"amount"`
	Basis     uint64      `json:"basis"`
	Allocated uint64      `json:"allocated"`
	Remainder uint64      `json:"remainder"`
	Shares    []ShareView `json:"shares"`
}

// CompleteResponse is returned by POST /v1/activities/{id}/complete.
type CompleteResponse struct {
	Activity     ActivityView     `json:"activity"`
	Distribution DistributionView `json:"distribution"`
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

// WriteAuthError renders authentication failures in the API error format.
func WriteAuthError(w http.ResponseWriter, _ *http.Request, err error) {
	writeError(w, http.StatusUnauthorized, "unauthorized", err.Error())
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func optionalTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func toStatsView(s domain.ReserveStats) StatsView {
	return StatsView{
		TotalCapital:           s.TotalCapital,
		ParticipantCount:       s.ParticipantCount,
		ActivityCount:          s.ActivityCount,
		MinCapitalContribution: s.MinCapitalContribution,
		MaxParticipants:        s.MaxParticipants,
		DeployedCapital:        s.DeployedCapital,
		RetainedSurplus:        s.RetainedSurplus,
		UncollectedLoss:        s.UncollectedLoss,
		Admin:                  s.Admin,
		Initialized:            s.Initialized,
	}
}

func toParticipantView(p domain.Participant) ParticipantView {
	return ParticipantView{
		Identity:               p.Identity,
		CapitalContributed:     p.CapitalContributed,
		ProfitShareAccumulated: p.ProfitShareAccumulated,
		ProfitShareWithdrawn:   p.ProfitShareWithdrawn,
		LossShareAccumulated:   p.LossShareAccumulated,
		ClaimableProfit:        p.ClaimableProfit(),
		IsActive:               p.IsActive,
		JoinedAt:               p.JoinedAt,
		ExitedAt:               optionalTime(p.ExitedAt),
	}
}

func toActivityView(a domain.Activity) ActivityView {
	return ActivityView{
		ActivityID:      a.ID,
		Initiator:       a.Initiator,
		CapitalRequired: a.CapitalRequired,
		CapitalDeployed: a.CapitalDeployed,
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt,
		CompletedAt:     optionalTime(a.CompletedAt),
		Outcome:         a.Outcome,
		IsValidated:     a.IsValidated,
	}
}

func toDistributionView(d domain.Distribution) DistributionView {
	shares := make([]ShareView, 0, len(d.Shares))
	for _, s := range d.Shares {
		shares = append(shares, ShareView{Identity: s.Identity, Amount: s.Amount, Clamped: s.Clamped})
	}
	return DistributionView{
		Kind:      string(d.Kind),
		Amount:    d.Amount,
		Basis:     d.Basis,
		Allocated: d.Allocated,
		Remainder: d.Remainder,
		Shares:    shares,
	}
}

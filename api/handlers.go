/*
handlers.go - HTTP API handlers for the lead distribution engine

PURPOSE:
  Exposes the distribution engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to domain logic.
  The client only ever requests a transition and re-reads the canonical
  view; no state is trusted from the client side.

ENDPOINTS:
  Companies:
    GET    /api/companies                          List companies
    POST   /api/companies                          Create company + owner
    GET    /api/companies/{id}/hierarchy           Org graph read view
    GET    /api/companies/{id}/stats               Distribution state
    POST   /api/companies/{id}/transfer-ownership  Atomic owner swap
    POST   /api/companies/{id}/redistribute        Bulk (re)allocation

  Leads:
    GET    /api/leads?company_id=&unassigned=1     List leads
    POST   /api/leads                              Ingest + allocate
    POST   /api/leads/{id}/allocate                Idempotent allocation

  Rules:
    GET    /api/rules?company_id=                  List rules
    POST   /api/rules                              Create from JSON config
    POST   /api/rules/{id}/toggle                  Flip active flag

  Numbers:
    GET    /api/numbers?status=                    List by status
    POST   /api/numbers/{id}/assign                Exclusive assignment
    POST   /api/numbers/{id}/unassign              Release

ERROR HANDLING:
  Domain errors map to HTTP statuses by class:
  - 400: Malformed input
  - 404: Unknown ids (NotFound)
  - 409: State conflicts (AlreadyAssigned, NotAssigned, AlreadyOwner,
         AlreadyRunning)
  - 422: Business rejections (InvalidRole, Unassignable, NoEligibleLeads)
  - 500: Internal errors and detected invariant corruption

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/warp/lead-engine/distribution"
	"github.com/warp/lead-engine/factory"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       distribution.Store
	Hierarchy   *distribution.Hierarchy
	Pool        *distribution.Pool
	Coordinator *distribution.Coordinator
	RuleFactory *factory.RuleFactory

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler wires the engine components over the given store.
func NewHandler(store distribution.Store, logger *slog.Logger) *Handler {
	return &Handler{
		Store:       store,
		Hierarchy:   distribution.NewHierarchy(store),
		Pool:        distribution.NewPool(store, store),
		Coordinator: distribution.NewCoordinator(store, logger),
		RuleFactory: factory.NewRuleFactory(),
	}
}

// =============================================================================
// COMPANY HANDLERS
// =============================================================================

// ListCompanies returns all companies.
func (h *Handler) ListCompanies(w http.ResponseWriter, r *http.Request) {
	companies, err := h.Store.ListCompanies(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list companies", err)
		return
	}
	dtos := make([]CompanyDTO, len(companies))
	for i, c := range companies {
		dtos[i] = toCompanyDTO(c)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateCompany creates a company together with its initial owner, so the
// single-owner invariant holds from the first write.
func (h *Handler) CreateCompany(w http.ResponseWriter, r *http.Request) {
	var req CreateCompanyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.Name == "" || req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "id, name and owner_id are required", nil)
		return
	}

	ctx := r.Context()
	company := distribution.Company{
		ID:           distribution.CompanyID(req.ID),
		Name:         req.Name,
		RelationType: req.RelationType,
		SizeTier:     req.SizeTier,
	}
	owner := distribution.User{
		ID:        distribution.UserID(req.OwnerID),
		CompanyID: company.ID,
		Name:      req.OwnerName,
		Role:      distribution.RoleOwner,
	}
	if _, err := h.Store.GetCompany(ctx, company.ID); err == nil {
		writeError(w, http.StatusConflict, "Company already exists", nil)
		return
	} else if !distribution.IsNotFound(err) {
		writeError(w, http.StatusInternalServerError, "Failed to create company", err)
		return
	}
	if existing, err := h.Store.GetUser(ctx, owner.ID); err == nil {
		// An owner row left by an interrupted create is retryable; any
		// other existing user must not be overwritten.
		if existing.CompanyID != company.ID || existing.Role != distribution.RoleOwner {
			writeError(w, http.StatusConflict, "Owner id already taken", nil)
			return
		}
	} else if !distribution.IsNotFound(err) {
		writeError(w, http.StatusInternalServerError, "Failed to create company", err)
		return
	}
	// Owner first: a company row must never be observable without its owner.
	if err := h.Store.SaveUser(ctx, owner); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create owner", err)
		return
	}
	if err := h.Store.SaveCompany(ctx, company); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create company", err)
		return
	}
	writeJSON(w, http.StatusCreated, toCompanyDTO(company))
}

// GetHierarchy returns the company's org graph read view.
func (h *Handler) GetHierarchy(w http.ResponseWriter, r *http.Request) {
	view, err := h.Hierarchy.View(r.Context(), distribution.CompanyID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to read hierarchy", err)
		return
	}
	writeJSON(w, http.StatusOK, HierarchyDTO{
		Owner:      toUserDTO(view.Owner),
		Agents:     toUserDTOs(view.Agents),
		Unassigned: toUserDTOs(view.Unassigned),
	})
}

// GetStats returns the company's freshly recomputed distribution state.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.Coordinator.Stats(r.Context(), distribution.CompanyID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to compute stats", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(stats))
}

// TransferOwnership atomically swaps the company's active owner.
func (h *Handler) TransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req TransferOwnershipRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.NewOwnerID == "" {
		writeError(w, http.StatusBadRequest, "new_owner_id is required", nil)
		return
	}
	companyID := distribution.CompanyID(chi.URLParam(r, "id"))
	if err := h.Hierarchy.TransferOwnership(r.Context(), companyID, distribution.UserID(req.NewOwnerID)); err != nil {
		writeDomainError(w, "Failed to transfer ownership", err)
		return
	}
	view, err := h.Hierarchy.View(r.Context(), companyID)
	if err != nil {
		writeDomainError(w, "Failed to read hierarchy", err)
		return
	}
	writeJSON(w, http.StatusOK, HierarchyDTO{
		Owner:      toUserDTO(view.Owner),
		Agents:     toUserDTOs(view.Agents),
		Unassigned: toUserDTOs(view.Unassigned),
	})
}

// TriggerRedistribution starts a bulk run. ?full=true re-evaluates
// currently-assigned leads too; the default scope is unassigned-only.
func (h *Handler) TriggerRedistribution(w http.ResponseWriter, r *http.Request) {
	companyID := distribution.CompanyID(chi.URLParam(r, "id"))
	full := r.URL.Query().Get("full") == "true"

	report, err := h.Coordinator.TriggerRedistribution(r.Context(), companyID, full)
	if err != nil {
		writeDomainError(w, "Redistribution failed", err)
		return
	}
	writeJSON(w, http.StatusOK, toReportDTO(report))
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns users, optionally filtered to one company.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id query parameter is required", nil)
		return
	}
	users, err := h.Store.ListUsersByCompany(r.Context(), distribution.CompanyID(companyID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTOs(users))
}

// CreateUser creates an agent. Agents start unassigned; AssignAgent
// attaches them to the owner.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "id and company_id are required", nil)
		return
	}

	ctx := r.Context()
	if _, err := h.Store.GetCompany(ctx, distribution.CompanyID(req.CompanyID)); err != nil {
		writeDomainError(w, "Unknown company", err)
		return
	}
	// SaveUser upserts; an existing id (an owner's, in the worst case) must
	// not be silently rewritten as an agent.
	if _, err := h.Store.GetUser(ctx, distribution.UserID(req.ID)); err == nil {
		writeError(w, http.StatusConflict, "User already exists", nil)
		return
	} else if !distribution.IsNotFound(err) {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	user := distribution.User{
		ID:          distribution.UserID(req.ID),
		CompanyID:   distribution.CompanyID(req.CompanyID),
		Name:        req.Name,
		Role:        distribution.RoleAgent,
		SalesLast30: req.SalesLast30,
	}
	if err := h.Store.SaveUser(ctx, user); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(user))
}

// AssignAgent attaches an agent to a supervisor; null supervisor detaches.
func (h *Handler) AssignAgent(w http.ResponseWriter, r *http.Request) {
	var req AssignAgentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	agentID := distribution.UserID(chi.URLParam(r, "id"))
	var supervisorID *distribution.UserID
	if req.SupervisorID != nil {
		sid := distribution.UserID(*req.SupervisorID)
		supervisorID = &sid
	}
	if err := h.Hierarchy.AssignAgent(r.Context(), agentID, supervisorID); err != nil {
		writeDomainError(w, "Failed to assign agent", err)
		return
	}
	h.writeUser(w, r, agentID)
}

// DetachAgent clears an agent's supervisor.
func (h *Handler) DetachAgent(w http.ResponseWriter, r *http.Request) {
	agentID := distribution.UserID(chi.URLParam(r, "id"))
	if err := h.Hierarchy.Detach(r.Context(), agentID); err != nil {
		writeDomainError(w, "Failed to detach agent", err)
		return
	}
	h.writeUser(w, r, agentID)
}

func (h *Handler) writeUser(w http.ResponseWriter, r *http.Request, id distribution.UserID) {
	user, err := h.Store.GetUser(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to read user", err)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(user))
}

// =============================================================================
// LEAD HANDLERS
// =============================================================================

// ListLeads returns a company's leads, optionally unassigned-only.
func (h *Handler) ListLeads(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id query parameter is required", nil)
		return
	}

	var leads []distribution.Lead
	var err error
	if r.URL.Query().Get("unassigned") == "1" {
		leads, err = h.Store.ListUnassigned(r.Context(), distribution.CompanyID(companyID))
	} else {
		leads, err = h.Store.ListLeadsByCompany(r.Context(), distribution.CompanyID(companyID))
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list leads", err)
		return
	}
	dtos := make([]LeadDTO, len(leads))
	for i, l := range leads {
		dtos[i] = toLeadDTO(l)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetLead returns one lead with its assignment history.
func (h *Handler) GetLead(w http.ResponseWriter, r *http.Request) {
	lead, err := h.Store.GetLead(r.Context(), distribution.LeadID(chi.URLParam(r, "id")))
	if err != nil {
		writeDomainError(w, "Failed to read lead", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTO(lead))
}

// IngestLead records a new lead and allocates it immediately. Delivery is
// at-least-once: a resubmitted id is a no-op returning the current state.
// An unassignable lead is created and returned without an assignee.
func (h *Handler) IngestLead(w http.ResponseWriter, r *http.Request) {
	var req IngestLeadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.CompanyID == "" {
		writeError(w, http.StatusBadRequest, "company_id is required", nil)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	lead, err := h.Coordinator.Ingest(r.Context(), distribution.Lead{
		ID:        distribution.LeadID(req.ID),
		CompanyID: distribution.CompanyID(req.CompanyID),
		Source:    req.Source,
	})
	if err != nil {
		writeDomainError(w, "Failed to ingest lead", err)
		return
	}
	writeJSON(w, http.StatusCreated, toLeadDTO(lead))
}

// AllocateLead explicitly (re)submits a lead for allocation. Idempotent:
// an already-assigned lead keeps its assignee and gains no history.
func (h *Handler) AllocateLead(w http.ResponseWriter, r *http.Request) {
	leadID := distribution.LeadID(chi.URLParam(r, "id"))
	if _, err := h.Coordinator.Allocate(r.Context(), leadID); err != nil {
		writeDomainError(w, "Failed to allocate lead", err)
		return
	}
	lead, err := h.Store.GetLead(r.Context(), leadID)
	if err != nil {
		writeDomainError(w, "Failed to read lead", err)
		return
	}
	writeJSON(w, http.StatusOK, toLeadDTO(lead))
}

// =============================================================================
// RULE HANDLERS
// =============================================================================

// ListRules returns a company's rule catalog in evaluation order.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	companyID := r.URL.Query().Get("company_id")
	if companyID == "" {
		writeError(w, http.StatusBadRequest, "company_id query parameter is required", nil)
		return
	}
	rules, err := h.Store.ListRulesByCompany(r.Context(), distribution.CompanyID(companyID))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list rules", err)
		return
	}
	dtos := make([]factory.RuleJSON, len(rules))
	for i, rule := range rules {
		dtos[i] = factory.ToJSON(rule)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateRule creates a rule from its JSON config.
func (h *Handler) CreateRule(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	rule, err := h.RuleFactory.ParseRule(string(body))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid rule config", err)
		return
	}
	if _, err := h.Store.GetCompany(r.Context(), rule.CompanyID); err != nil {
		writeDomainError(w, "Unknown company", err)
		return
	}
	if err := h.Store.SaveRule(r.Context(), rule); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to save rule", err)
		return
	}
	writeJSON(w, http.StatusCreated, factory.ToJSON(rule))
}

// ToggleRule flips a rule's active flag. Synchronous commit-or-reject;
// takes effect on the next allocation only.
func (h *Handler) ToggleRule(w http.ResponseWriter, r *http.Request) {
	var req ToggleRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	ruleID := distribution.RuleID(chi.URLParam(r, "id"))
	if err := h.Coordinator.ToggleRule(r.Context(), ruleID, req.Active); err != nil {
		writeDomainError(w, "Failed to toggle rule", err)
		return
	}
	rule, err := h.Store.GetRule(r.Context(), ruleID)
	if err != nil {
		writeDomainError(w, "Failed to read rule", err)
		return
	}
	writeJSON(w, http.StatusOK, factory.ToJSON(rule))
}

// =============================================================================
// PHONE NUMBER HANDLERS
// =============================================================================

// ListNumbers returns numbers by status (default: available).
func (h *Handler) ListNumbers(w http.ResponseWriter, r *http.Request) {
	status := distribution.NumberStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = distribution.NumberAvailable
	}

	var numbers []distribution.PhoneNumber
	var err error
	switch status {
	case distribution.NumberAvailable:
		numbers, err = h.Pool.ListAvailable(r.Context())
	case distribution.NumberAssigned:
		numbers, err = h.Pool.ListAssigned(r.Context())
	default:
		writeError(w, http.StatusBadRequest, "status must be available or assigned", nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list numbers", err)
		return
	}
	dtos := make([]NumberDTO, len(numbers))
	for i, n := range numbers {
		dtos[i] = toNumberDTO(n)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// RegisterNumber records a provider-provisioned number as available.
func (h *Handler) RegisterNumber(w http.ResponseWriter, r *http.Request) {
	var req RegisterNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" || req.E164 == "" {
		writeError(w, http.StatusBadRequest, "id and e164 are required", nil)
		return
	}
	n := distribution.PhoneNumber{
		ID:     distribution.NumberID(req.ID),
		E164:   req.E164,
		Status: distribution.NumberAvailable,
	}
	if err := h.Store.SaveNumber(r.Context(), n); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to register number", err)
		return
	}
	writeJSON(w, http.StatusCreated, toNumberDTO(n))
}

// AssignNumber gives a number to a user. 409 if it already has a holder.
func (h *Handler) AssignNumber(w http.ResponseWriter, r *http.Request) {
	var req AssignNumberRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	numberID := distribution.NumberID(chi.URLParam(r, "id"))
	if err := h.Pool.Assign(r.Context(), numberID, distribution.UserID(req.UserID)); err != nil {
		writeDomainError(w, "Failed to assign number", err)
		return
	}
	h.writeNumber(w, r, numberID)
}

// UnassignNumber releases a number back to the pool.
func (h *Handler) UnassignNumber(w http.ResponseWriter, r *http.Request) {
	numberID := distribution.NumberID(chi.URLParam(r, "id"))
	if err := h.Pool.Unassign(r.Context(), numberID); err != nil {
		writeDomainError(w, "Failed to unassign number", err)
		return
	}
	h.writeNumber(w, r, numberID)
}

func (h *Handler) writeNumber(w http.ResponseWriter, r *http.Request, id distribution.NumberID) {
	n, err := h.Pool.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, "Failed to read number", err)
		return
	}
	writeJSON(w, http.StatusOK, toNumberDTO(n))
}

// =============================================================================
// RESPONSE HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps a domain error class to its HTTP status.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	writeError(w, statusFor(err), message, err)
}

func statusFor(err error) int {
	switch {
	case distribution.IsNotFound(err):
		return http.StatusNotFound
	case distribution.IsConflict(err):
		return http.StatusConflict
	case distribution.IsUnprocessable(err):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

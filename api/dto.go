/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Org:       CompanyDTO, UserDTO, HierarchyDTO
  Leads:     LeadDTO, AssignmentRecordDTO
  Rules:     RuleDTO (wraps factory.RuleJSON)
  Numbers:   NumberDTO
  Stats:     StatsDTO, RedistributionReportDTO
  Scenarios: ScenarioDTO, LoadScenarioRequest

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - factory/rule.go: RuleJSON type
*/
package api

import (
	"time"

	"github.com/warp/lead-engine/distribution"
)

// =============================================================================
// ORG
// =============================================================================

// CompanyDTO represents a company in API responses.
type CompanyDTO struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RelationType string `json:"relation_type,omitempty"`
	SizeTier     string `json:"size_tier,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
}

// CreateCompanyRequest is the request to create a company. OwnerID and
// OwnerName stand up the company's initial owner in the same call, since a
// company without an owner violates the single-owner invariant.
type CreateCompanyRequest struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	RelationType string `json:"relation_type,omitempty"`
	SizeTier     string `json:"size_tier,omitempty"`
	OwnerID      string `json:"owner_id"`
	OwnerName    string `json:"owner_name"`
}

// UserDTO represents an owner or agent.
type UserDTO struct {
	ID           string  `json:"id"`
	CompanyID    string  `json:"company_id"`
	Name         string  `json:"name"`
	Role         string  `json:"role"`
	SupervisorID *string `json:"supervisor_id,omitempty"`
	SalesLast30  int     `json:"sales_last_30"`
}

// CreateUserRequest is the request to create an agent. New owners arrive
// via company creation or ownership transfer, not here.
type CreateUserRequest struct {
	ID          string `json:"id"`
	CompanyID   string `json:"company_id"`
	Name        string `json:"name"`
	SalesLast30 int    `json:"sales_last_30,omitempty"`
}

// AssignAgentRequest sets an agent's supervisor; null detaches.
type AssignAgentRequest struct {
	SupervisorID *string `json:"supervisor_id"`
}

// TransferOwnershipRequest names the company's next owner.
type TransferOwnershipRequest struct {
	NewOwnerID string `json:"new_owner_id"`
}

// HierarchyDTO is the read view of one company's org graph.
type HierarchyDTO struct {
	Owner      UserDTO   `json:"owner"`
	Agents     []UserDTO `json:"agents"`
	Unassigned []UserDTO `json:"unassigned_agents"`
}

// =============================================================================
// LEADS
// =============================================================================

// AssignmentRecordDTO is one entry of a lead's assignment history.
type AssignmentRecordDTO struct {
	AgentID    string `json:"agent_id"`
	AssignedAt string `json:"assigned_at"`
	RunID      string `json:"run_id,omitempty"`
}

// LeadDTO represents a lead with its full history.
type LeadDTO struct {
	ID              string                `json:"id"`
	CompanyID       string                `json:"company_id"`
	Source          string                `json:"source,omitempty"`
	CreatedAt       string                `json:"created_at"`
	AssignedAgentID *string               `json:"assigned_agent_id"`
	History         []AssignmentRecordDTO `json:"history"`
}

// IngestLeadRequest submits a new lead. ID is optional; the server
// generates one when absent. Resubmitting an existing id is a no-op.
type IngestLeadRequest struct {
	ID        string `json:"id,omitempty"`
	CompanyID string `json:"company_id"`
	Source    string `json:"source,omitempty"`
}

// =============================================================================
// RULES
// =============================================================================

// ToggleRuleRequest flips a rule's active flag.
type ToggleRuleRequest struct {
	Active bool `json:"active"`
}

// =============================================================================
// NUMBERS
// =============================================================================

// NumberDTO represents a phone number's assignment state.
type NumberDTO struct {
	ID         string  `json:"id"`
	E164       string  `json:"e164"`
	Status     string  `json:"status"`
	AssignedTo *string `json:"assigned_to,omitempty"`
	CompanyID  *string `json:"company_id,omitempty"`
}

// RegisterNumberRequest registers a provisioned number with the pool.
type RegisterNumberRequest struct {
	ID   string `json:"id"`
	E164 string `json:"e164"`
}

// AssignNumberRequest gives a number to a user.
type AssignNumberRequest struct {
	UserID string `json:"user_id"`
}

// =============================================================================
// STATS & REPORTS
// =============================================================================

// StatsDTO is the per-company distribution state.
type StatsDTO struct {
	CompanyID         string `json:"company_id"`
	UnassignedCount   int    `json:"unassigned_count"`
	AssignedCount     int    `json:"assigned_count"`
	ActiveFlow24h     int    `json:"active_flow_24h"`
	SaturationPercent string `json:"saturation_percent"`
	AsOf              string `json:"as_of"`
}

// RedistributionReportDTO summarizes one bulk run.
type RedistributionReportDTO struct {
	RunID        string `json:"run_id"`
	CompanyID    string `json:"company_id"`
	Attempted    int    `json:"attempted"`
	Assigned     int    `json:"assigned"`
	Unassignable int    `json:"unassignable"`
	Skipped      int    `json:"skipped"`
}

// =============================================================================
// SCENARIOS
// =============================================================================

// ScenarioDTO describes one demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERTERS
// =============================================================================

func toCompanyDTO(c distribution.Company) CompanyDTO {
	return CompanyDTO{
		ID:           string(c.ID),
		Name:         c.Name,
		RelationType: c.RelationType,
		SizeTier:     c.SizeTier,
		CreatedAt:    formatTime(c.CreatedAt),
	}
}

func toUserDTO(u distribution.User) UserDTO {
	dto := UserDTO{
		ID:          string(u.ID),
		CompanyID:   string(u.CompanyID),
		Name:        u.Name,
		Role:        string(u.Role),
		SalesLast30: u.SalesLast30,
	}
	if u.SupervisorID != nil {
		s := string(*u.SupervisorID)
		dto.SupervisorID = &s
	}
	return dto
}

func toUserDTOs(users []distribution.User) []UserDTO {
	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	return dtos
}

func toLeadDTO(l distribution.Lead) LeadDTO {
	dto := LeadDTO{
		ID:        string(l.ID),
		CompanyID: string(l.CompanyID),
		Source:    l.Source,
		CreatedAt: formatTime(l.CreatedAt),
		History:   make([]AssignmentRecordDTO, len(l.History)),
	}
	if l.AssignedAgentID != nil {
		s := string(*l.AssignedAgentID)
		dto.AssignedAgentID = &s
	}
	for i, rec := range l.History {
		dto.History[i] = AssignmentRecordDTO{
			AgentID:    string(rec.AgentID),
			AssignedAt: formatTime(rec.AssignedAt),
			RunID:      rec.RunID,
		}
	}
	return dto
}

func toNumberDTO(n distribution.PhoneNumber) NumberDTO {
	dto := NumberDTO{
		ID:     string(n.ID),
		E164:   n.E164,
		Status: string(n.Status),
	}
	if n.AssignedTo != nil {
		s := string(*n.AssignedTo)
		dto.AssignedTo = &s
	}
	if n.CompanyID != nil {
		s := string(*n.CompanyID)
		dto.CompanyID = &s
	}
	return dto
}

func toStatsDTO(s distribution.DistributionState) StatsDTO {
	return StatsDTO{
		CompanyID:         string(s.CompanyID),
		UnassignedCount:   s.UnassignedCount,
		AssignedCount:     s.AssignedCount,
		ActiveFlow24h:     s.ActiveFlow24h,
		SaturationPercent: s.SaturationPercent.String(),
		AsOf:              formatTime(s.AsOf),
	}
}

func toReportDTO(r distribution.RedistributionReport) RedistributionReportDTO {
	return RedistributionReportDTO{
		RunID:        r.RunID,
		CompanyID:    string(r.CompanyID),
		Attempted:    r.Attempted,
		Assigned:     r.Assigned,
		Unassignable: r.Unassignable,
		Skipped:      r.Skipped,
	}
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

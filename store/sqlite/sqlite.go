/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements distribution.Store (OrgStore, LeadStore, RuleStore,
  NumberStore) using SQLite. In production the same patterns apply to
  PostgreSQL - only minor SQL dialect differences.

KEY TABLES:
  companies:        Sales organizations
  users:            Owners and agents with the supervisor edge
  leads:            Current assignment state per lead
  lead_assignments: Append-only assignment history (no UPDATE, no DELETE)
  rules:            Distribution rule catalog
  phone_numbers:    Exclusive-assignment resource state

APPEND-ONLY ENFORCEMENT:
  lead_assignments only ever receives INSERTs. CommitAssignment writes the
  leads row update and the history insert in one SQL transaction, so the
  current assignee and the history never disagree.

ATOMIC BATCHES:
  SaveUsers wraps the whole batch in one transaction. Ownership transfer
  depends on this: demotion, promotion, and re-parenting land together or
  not at all.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety. In production with PostgreSQL,
  database-level concurrency control handles this instead.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  multiple readers don't block, single writer at a time.

USAGE:
  store, err := sqlite.New("./data/leads.db")   // ":memory:" for tests
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

SEE ALSO:
  - distribution/store.go: Interface definitions and contracts
  - distribution/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
	"github.com/warp/lead-engine/distribution"
)

// Store implements distribution.Store using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS companies (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		relation_type TEXT,
		size_tier TEXT,
		created_at TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		name TEXT NOT NULL,
		role TEXT NOT NULL,
		supervisor_id TEXT,
		sales_last_30 INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_users_company ON users(company_id);

	CREATE TABLE IF NOT EXISTS leads (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		source TEXT,
		created_at TEXT NOT NULL,
		assigned_agent_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_leads_company ON leads(company_id);
	CREATE INDEX IF NOT EXISTS idx_leads_company_assignee
		ON leads(company_id, assigned_agent_id);

	-- Append-only assignment history
	CREATE TABLE IF NOT EXISTS lead_assignments (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		lead_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		assigned_at TEXT NOT NULL,
		run_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_lead_assignments_lead
		ON lead_assignments(lead_id);

	CREATE TABLE IF NOT EXISTS rules (
		id TEXT PRIMARY KEY,
		company_id TEXT NOT NULL,
		label TEXT,
		kind TEXT NOT NULL,
		rank INTEGER NOT NULL,
		active INTEGER NOT NULL,
		max_per_day INTEGER NOT NULL DEFAULT 0,
		threshold INTEGER NOT NULL DEFAULT 0,
		weight TEXT NOT NULL DEFAULT '0'
	);
	CREATE INDEX IF NOT EXISTS idx_rules_company ON rules(company_id);

	CREATE TABLE IF NOT EXISTS phone_numbers (
		id TEXT PRIMARY KEY,
		e164 TEXT NOT NULL,
		status TEXT NOT NULL,
		assigned_to TEXT,
		company_id TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_phone_numbers_status ON phone_numbers(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Reset clears all data. Scenario loading only.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, table := range []string{
		"lead_assignments", "leads", "rules", "phone_numbers", "users", "companies",
	} {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// =============================================================================
// ORG STORE
// =============================================================================

func (s *Store) GetCompany(ctx context.Context, id distribution.CompanyID) (distribution.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var c distribution.Company
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, name, relation_type, size_tier, created_at FROM companies WHERE id = ?",
		string(id),
	).Scan(&c.ID, &c.Name, &c.RelationType, &c.SizeTier, &createdAt)
	if err == sql.ErrNoRows {
		return distribution.Company{}, &distribution.NotFoundError{Kind: "company", ID: string(id)}
	}
	if err != nil {
		return distribution.Company{}, err
	}
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func (s *Store) SaveCompany(ctx context.Context, c distribution.Company) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO companies (id, name, relation_type, size_tier, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			relation_type = excluded.relation_type,
			size_tier = excluded.size_tier
	`, string(c.ID), c.Name, c.RelationType, c.SizeTier, formatTime(c.CreatedAt))
	return err
}

func (s *Store) ListCompanies(ctx context.Context) ([]distribution.Company, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, name, relation_type, size_tier, created_at FROM companies ORDER BY id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []distribution.Company
	for rows.Next() {
		var c distribution.Company
		var createdAt string
		if err := rows.Scan(&c.ID, &c.Name, &c.RelationType, &c.SizeTier, &createdAt); err != nil {
			return nil, err
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) GetUser(ctx context.Context, id distribution.UserID) (distribution.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var u distribution.User
	var supervisor sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, name, role, supervisor_id, sales_last_30, created_at
		FROM users WHERE id = ?
	`, string(id)).Scan(&u.ID, &u.CompanyID, &u.Name, &u.Role, &supervisor, &u.SalesLast30, &createdAt)
	if err == sql.ErrNoRows {
		return distribution.User{}, &distribution.NotFoundError{Kind: "user", ID: string(id)}
	}
	if err != nil {
		return distribution.User{}, err
	}
	if supervisor.Valid {
		sid := distribution.UserID(supervisor.String)
		u.SupervisorID = &sid
	}
	u.CreatedAt = parseTime(createdAt)
	return u, nil
}

func (s *Store) SaveUser(ctx context.Context, u distribution.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, upsertUserQuery, userArgs(u)...)
	return err
}

// SaveUsers persists all users in one SQL transaction.
func (s *Store) SaveUsers(ctx context.Context, users []distribution.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, u := range users {
		if _, err := tx.ExecContext(ctx, upsertUserQuery, userArgs(u)...); err != nil {
			return err
		}
	}
	return tx.Commit()
}

const upsertUserQuery = `
	INSERT INTO users (id, company_id, name, role, supervisor_id, sales_last_30, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		company_id = excluded.company_id,
		name = excluded.name,
		role = excluded.role,
		supervisor_id = excluded.supervisor_id,
		sales_last_30 = excluded.sales_last_30
`

func userArgs(u distribution.User) []any {
	var supervisor any
	if u.SupervisorID != nil {
		supervisor = string(*u.SupervisorID)
	}
	createdAt := u.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	return []any{
		string(u.ID), string(u.CompanyID), u.Name, string(u.Role),
		supervisor, u.SalesLast30, formatTime(createdAt),
	}
}

func (s *Store) ListUsersByCompany(ctx context.Context, id distribution.CompanyID) ([]distribution.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, name, role, supervisor_id, sales_last_30, created_at
		FROM users WHERE company_id = ? ORDER BY id
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []distribution.User
	for rows.Next() {
		var u distribution.User
		var supervisor sql.NullString
		var createdAt string
		if err := rows.Scan(&u.ID, &u.CompanyID, &u.Name, &u.Role, &supervisor, &u.SalesLast30, &createdAt); err != nil {
			return nil, err
		}
		if supervisor.Valid {
			sid := distribution.UserID(supervisor.String)
			u.SupervisorID = &sid
		}
		u.CreatedAt = parseTime(createdAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// =============================================================================
// LEAD STORE
// =============================================================================

func (s *Store) GetLead(ctx context.Context, id distribution.LeadID) (distribution.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var l distribution.Lead
	var assignee sql.NullString
	var createdAt string
	err := s.db.QueryRowContext(ctx,
		"SELECT id, company_id, source, created_at, assigned_agent_id FROM leads WHERE id = ?",
		string(id),
	).Scan(&l.ID, &l.CompanyID, &l.Source, &createdAt, &assignee)
	if err == sql.ErrNoRows {
		return distribution.Lead{}, &distribution.NotFoundError{Kind: "lead", ID: string(id)}
	}
	if err != nil {
		return distribution.Lead{}, err
	}
	if assignee.Valid {
		aid := distribution.UserID(assignee.String)
		l.AssignedAgentID = &aid
	}
	l.CreatedAt = parseTime(createdAt)

	l.History, err = s.loadHistory(ctx, id)
	if err != nil {
		return distribution.Lead{}, err
	}
	return l, nil
}

func (s *Store) loadHistory(ctx context.Context, id distribution.LeadID) ([]distribution.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT agent_id, assigned_at, run_id FROM lead_assignments
		WHERE lead_id = ? ORDER BY seq
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var history []distribution.AssignmentRecord
	for rows.Next() {
		var rec distribution.AssignmentRecord
		var assignedAt string
		var runID sql.NullString
		if err := rows.Scan(&rec.AgentID, &assignedAt, &runID); err != nil {
			return nil, err
		}
		rec.AssignedAt = parseTime(assignedAt)
		rec.RunID = runID.String
		history = append(history, rec)
	}
	return history, rows.Err()
}

// SaveLead creates or updates a lead's descriptive fields only. The
// assignee column is owned by CommitAssignment.
func (s *Store) SaveLead(ctx context.Context, l distribution.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, company_id, source, created_at, assigned_agent_id)
		VALUES (?, ?, ?, ?, NULL)
		ON CONFLICT(id) DO UPDATE SET
			source = excluded.source,
			created_at = excluded.created_at
	`, string(l.ID), string(l.CompanyID), l.Source, formatTime(l.CreatedAt))
	return err
}

// CommitAssignment sets the current assignee and appends the history row in
// one SQL transaction.
func (s *Store) CommitAssignment(ctx context.Context, id distribution.LeadID, agentID distribution.UserID, at time.Time, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		"UPDATE leads SET assigned_agent_id = ? WHERE id = ?",
		string(agentID), string(id))
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return &distribution.NotFoundError{Kind: "lead", ID: string(id)}
	}

	var run any
	if runID != "" {
		run = runID
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO lead_assignments (lead_id, agent_id, assigned_at, run_id)
		VALUES (?, ?, ?, ?)
	`, string(id), string(agentID), formatTime(at), run); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ListLeadsByCompany(ctx context.Context, id distribution.CompanyID) ([]distribution.Lead, error) {
	return s.listLeads(ctx, id, false)
}

func (s *Store) ListUnassigned(ctx context.Context, id distribution.CompanyID) ([]distribution.Lead, error) {
	return s.listLeads(ctx, id, true)
}

func (s *Store) listLeads(ctx context.Context, id distribution.CompanyID, unassignedOnly bool) ([]distribution.Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT id, company_id, source, created_at, assigned_agent_id FROM leads WHERE company_id = ?"
	if unassignedOnly {
		query += " AND assigned_agent_id IS NULL"
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []distribution.Lead
	for rows.Next() {
		var l distribution.Lead
		var assignee sql.NullString
		var createdAt string
		if err := rows.Scan(&l.ID, &l.CompanyID, &l.Source, &createdAt, &assignee); err != nil {
			return nil, err
		}
		if assignee.Valid {
			aid := distribution.UserID(assignee.String)
			l.AssignedAgentID = &aid
		}
		l.CreatedAt = parseTime(createdAt)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// One pass over the company's history instead of a query per lead.
	histories, err := s.loadCompanyHistories(ctx, id)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].History = histories[out[i].ID]
	}
	return out, nil
}

func (s *Store) loadCompanyHistories(ctx context.Context, id distribution.CompanyID) (map[distribution.LeadID][]distribution.AssignmentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT la.lead_id, la.agent_id, la.assigned_at, la.run_id
		FROM lead_assignments la
		JOIN leads l ON l.id = la.lead_id
		WHERE l.company_id = ?
		ORDER BY la.seq
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	histories := make(map[distribution.LeadID][]distribution.AssignmentRecord)
	for rows.Next() {
		var leadID distribution.LeadID
		var rec distribution.AssignmentRecord
		var assignedAt string
		var runID sql.NullString
		if err := rows.Scan(&leadID, &rec.AgentID, &assignedAt, &runID); err != nil {
			return nil, err
		}
		rec.AssignedAt = parseTime(assignedAt)
		rec.RunID = runID.String
		histories[leadID] = append(histories[leadID], rec)
	}
	return histories, rows.Err()
}

// =============================================================================
// RULE STORE
// =============================================================================

func (s *Store) GetRule(ctx context.Context, id distribution.RuleID) (distribution.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, company_id, label, kind, rank, active, max_per_day, threshold, weight
		FROM rules WHERE id = ?
	`, string(id))
	r, err := scanRule(row)
	if err == sql.ErrNoRows {
		return distribution.Rule{}, &distribution.NotFoundError{Kind: "rule", ID: string(id)}
	}
	return r, err
}

func (s *Store) SaveRule(ctx context.Context, r distribution.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rules (id, company_id, label, kind, rank, active, max_per_day, threshold, weight)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			company_id = excluded.company_id,
			label = excluded.label,
			kind = excluded.kind,
			rank = excluded.rank,
			active = excluded.active,
			max_per_day = excluded.max_per_day,
			threshold = excluded.threshold,
			weight = excluded.weight
	`, string(r.ID), string(r.CompanyID), r.Label, string(r.Kind),
		r.Rank, boolToInt(r.Active), r.Params.MaxPerDay, r.Params.Threshold,
		r.Params.Weight.String())
	return err
}

func (s *Store) ListRulesByCompany(ctx context.Context, id distribution.CompanyID) ([]distribution.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, label, kind, rank, active, max_per_day, threshold, weight
		FROM rules WHERE company_id = ? ORDER BY rank, id
	`, string(id))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []distribution.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (distribution.Rule, error) {
	var r distribution.Rule
	var active int
	var weight string
	err := row.Scan(&r.ID, &r.CompanyID, &r.Label, &r.Kind, &r.Rank, &active,
		&r.Params.MaxPerDay, &r.Params.Threshold, &weight)
	if err != nil {
		return distribution.Rule{}, err
	}
	r.Active = active != 0
	r.Params.Weight, err = decimal.NewFromString(weight)
	if err != nil {
		return distribution.Rule{}, fmt.Errorf("corrupt weight for rule %s: %w", r.ID, err)
	}
	return r, nil
}

// =============================================================================
// NUMBER STORE
// =============================================================================

func (s *Store) GetNumber(ctx context.Context, id distribution.NumberID) (distribution.PhoneNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n distribution.PhoneNumber
	var assignedTo, companyID sql.NullString
	err := s.db.QueryRowContext(ctx,
		"SELECT id, e164, status, assigned_to, company_id FROM phone_numbers WHERE id = ?",
		string(id),
	).Scan(&n.ID, &n.E164, &n.Status, &assignedTo, &companyID)
	if err == sql.ErrNoRows {
		return distribution.PhoneNumber{}, &distribution.NotFoundError{Kind: "number", ID: string(id)}
	}
	if err != nil {
		return distribution.PhoneNumber{}, err
	}
	if assignedTo.Valid {
		uid := distribution.UserID(assignedTo.String)
		n.AssignedTo = &uid
	}
	if companyID.Valid {
		cid := distribution.CompanyID(companyID.String)
		n.CompanyID = &cid
	}
	return n, nil
}

func (s *Store) SaveNumber(ctx context.Context, n distribution.PhoneNumber) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var assignedTo, companyID any
	if n.AssignedTo != nil {
		assignedTo = string(*n.AssignedTo)
	}
	if n.CompanyID != nil {
		companyID = string(*n.CompanyID)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO phone_numbers (id, e164, status, assigned_to, company_id)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			e164 = excluded.e164,
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			company_id = excluded.company_id
	`, string(n.ID), n.E164, string(n.Status), assignedTo, companyID)
	return err
}

func (s *Store) ListNumbersByStatus(ctx context.Context, status distribution.NumberStatus) ([]distribution.PhoneNumber, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id, e164, status, assigned_to, company_id FROM phone_numbers WHERE status = ? ORDER BY id",
		string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []distribution.PhoneNumber
	for rows.Next() {
		var n distribution.PhoneNumber
		var assignedTo, companyID sql.NullString
		if err := rows.Scan(&n.ID, &n.E164, &n.Status, &assignedTo, &companyID); err != nil {
			return nil, err
		}
		if assignedTo.Valid {
			uid := distribution.UserID(assignedTo.String)
			n.AssignedTo = &uid
		}
		if companyID.Valid {
			cid := distribution.CompanyID(companyID.String)
			n.CompanyID = &cid
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// =============================================================================
// TIME HELPERS
// =============================================================================

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

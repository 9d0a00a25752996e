/*
engine.go - The allocation algorithm

PURPOSE:
  Decides which agent receives a lead. The engine is a pure function of a
  Snapshot: it reads the candidate pool, the active rule set, and the
  per-agent loads, and returns a decision. It owns no state and commits
  nothing; the Coordinator applies decisions.

ALGORITHM:
  1. Start with the company's full agent pool (snapshot, ID-sorted)
  2. For each candidate, evaluate active rules in rank order:
     - any veto drops the candidate
     - score adjustments accumulate into a running total
  3. Pick the surviving candidate with the highest combined score
  4. Ties: lowest current window load wins; further ties break on agent ID
     ascending

DETERMINISM:
  No clock, no randomness, no map-iteration dependence. Two calls over the
  same snapshot return the same agent.

SEE ALSO:
  - rules.go: Verdict semantics
  - coordinator.go: Snapshot construction and commit
*/
package distribution

import "github.com/shopspring/decimal"

// Engine is the allocation decision function. Stateless; safe to share.
type Engine struct{}

// candidateScore pairs a surviving candidate with its combined score.
type candidateScore struct {
	agent User
	score decimal.Decimal
}

// Allocate selects the target agent for a lead. Returns an
// *UnassignableError when the pool is empty or every candidate is vetoed;
// the lead is then reported unassigned, never silently dropped.
func (Engine) Allocate(lead Lead, snap Snapshot) (UserID, error) {
	if len(snap.Agents) == 0 {
		return "", &UnassignableError{LeadID: lead.ID}
	}

	vetoed := 0
	var survivors []candidateScore
	for _, agent := range snap.Agents {
		score := decimal.Zero
		excluded := false
		for _, rule := range snap.Rules {
			v := rule.Evaluate(agent, lead, snap)
			if v.Veto {
				excluded = true
				break
			}
			score = score.Add(v.Adjust)
		}
		if excluded {
			vetoed++
			continue
		}
		survivors = append(survivors, candidateScore{agent: agent, score: score})
	}

	if len(survivors) == 0 {
		return "", &UnassignableError{LeadID: lead.ID, Candidates: len(snap.Agents), Vetoed: vetoed}
	}

	best := survivors[0]
	for _, c := range survivors[1:] {
		if better(c, best, snap) {
			best = c
		}
	}
	return best.agent.ID, nil
}

// better reports whether a should be chosen over b: higher score, then
// lower window load, then lower agent ID. Snapshot agents are ID-sorted,
// so the final tie-break is reached deterministically.
func better(a, b candidateScore, snap Snapshot) bool {
	if cmp := a.score.Cmp(b.score); cmp != 0 {
		return cmp > 0
	}
	la, lb := snap.Loads[a.agent.ID], snap.Loads[b.agent.ID]
	if la != lb {
		return la < lb
	}
	return a.agent.ID < b.agent.ID
}

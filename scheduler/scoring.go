package scheduler

import (
	"sort"

	"github.com/vinayprograms/dispatchkit/registry"
)

// responseCeilingMillis is the average response time treated as fully
// degraded performance.
const responseCeilingMillis = 8000

// candidate is one eligible agent with its computed score.
type candidate struct {
	agent    registry.Agent
	score    float64
	degraded bool
	load     int
}

// scoreAgent computes the match score for an agent against the task's
// requirements:
//
//	1.5*roleMatch + 2*capabilityMatches + toolMatches + perf - 0.2*load
//
// where perf blends success rate (70%) with response speed (30%). A
// candidate is degraded when the task demands capabilities or tools and
// the agent satisfies none of either.
func scoreAgent(a registry.Agent, req requirements, load int) (float64, bool) {
	score := 0.0

	roleMatch := false
	for role := range req.roles {
		if a.HasRole(role) {
			roleMatch = true
			break
		}
	}
	if roleMatch {
		score += 1.5
	}

	capMatches := 0
	for capability := range req.capabilities {
		if a.HasCapability(capability) {
			capMatches++
		}
	}
	score += 2 * float64(capMatches)

	toolMatches := 0
	for tool := range req.tools {
		if a.HasTool(tool) {
			toolMatches++
		}
	}
	score += float64(toolMatches)

	score += performanceScore(a)
	score -= 0.2 * float64(load)

	degraded := req.specialized() && capMatches == 0 && toolMatches == 0
	return score, degraded
}

// performanceScore is 0.7*clamp(successRate) + 0.3*(1 - min(1, avgMs/8000)).
func performanceScore(a registry.Agent) float64 {
	success := a.SuccessRate
	if success < 0 {
		success = 0
	}
	if success > 1 {
		success = 1
	}

	speed := float64(a.AvgResponseMillis) / responseCeilingMillis
	if speed > 1 {
		speed = 1
	}

	return 0.7*success + 0.3*(1-speed)
}

// rankCandidates orders candidates best-first: non-degraded before
// degraded, then score descending, status weight ascending (online
// before busy before offline), load ascending, longest idle first, and
// agent ID as the final tiebreak so the order is fully deterministic.
func rankCandidates(cands []candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.degraded != b.degraded {
			return !a.degraded
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.agent.Status.Weight() != b.agent.Status.Weight() {
			return a.agent.Status.Weight() < b.agent.Status.Weight()
		}
		if a.load != b.load {
			return a.load < b.load
		}
		if !a.agent.StatusUpdatedAt.Equal(b.agent.StatusUpdatedAt) {
			return a.agent.StatusUpdatedAt.Before(b.agent.StatusUpdatedAt)
		}
		return a.agent.ID < b.agent.ID
	})
}

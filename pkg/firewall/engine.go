package firewall

// EngineResult is the policy engine's aggregate outcome over one request's
// detection arena. Tokenization marks are recorded on the detections
// themselves; the orchestrator ignores them when Deny is set.
type EngineResult struct {
	Deny             bool
	DenyingPolicyID  string
	AppliedPolicyIDs []string
}

// Engine matches detections against the policy set and applies the
// aggregate verdict rule: DENY dominates TOKENIZE dominates ALLOW,
// independent of declaration order. Declaration order only selects the
// representative denying policy when several DENY policies fire.
type Engine struct {
	policies *PolicySet
	guards   *guardEvaluator
}

// NewEngine creates an engine for one request.
func NewEngine(policies *PolicySet, guards *guardEvaluator) *Engine {
	return &Engine{policies: policies, guards: guards}
}

// Evaluate computes the applicable (detection, policy) pairs and their
// combined outcome. Detections selected by at least one TOKENIZE policy get
// their tokenize mark set; detections with no applicable policy, or only
// ALLOW matches, are left untouched.
func (e *Engine) Evaluate(arena []Detection) EngineResult {
	var result EngineResult
	applied := make(map[string]bool)

	for p := range e.policies.Policies {
		pol := &e.policies.Policies[p]
		for i := range arena {
			det := &arena[i]
			if !e.matches(pol, det) {
				continue
			}
			if e.guards.suppressed(pol, det) {
				continue
			}

			if !applied[pol.ID] {
				applied[pol.ID] = true
				result.AppliedPolicyIDs = append(result.AppliedPolicyIDs, pol.ID)
			}

			switch pol.Then.Action {
			case ActionDeny:
				if !result.Deny {
					result.Deny = true
					result.DenyingPolicyID = pol.ID
				}
			case ActionTokenize:
				e.markTokenize(pol, det, arena)
			case ActionAllow:
				// Explicitly allowed: left untouched.
			}
		}
	}
	return result
}

// matches reports whether the policy's when clause applies to a detection.
// Predicate policies with a bind clause require a successful binder result
// for that policy.
func (e *Engine) matches(pol *Policy, det *Detection) bool {
	if pol.When.IsSubjectMatch() {
		if det.Kind != KindSubject || !pol.When.MatchesSubject(det.Label) {
			return false
		}
		if pol.When.MinConfidence != nil && det.Confidence < *pol.When.MinConfidence {
			return false
		}
		return true
	}

	if det.Kind != KindPredicate || det.Label != pol.When.Predicate {
		return false
	}
	if pol.When.Bind != nil {
		if _, ok := det.BoundFor(pol.ID); !ok {
			return false
		}
	}
	return true
}

// markTokenize records which side(s) of the match a TOKENIZE policy
// rewrites. For subject policies the detection itself is the target; for
// predicate policies the targets clause chooses between the predicate span
// and the bound subject spans.
func (e *Engine) markTokenize(pol *Policy, det *Detection, arena []Detection) {
	if pol.When.IsSubjectMatch() {
		det.tokenize = true
		return
	}

	targets := pol.EffectiveTargets()
	if targets == TargetPredicates || targets == TargetBoth {
		det.tokenize = true
	}
	if targets == TargetSubjects || targets == TargetBoth {
		if bound, ok := det.BoundFor(pol.ID); ok {
			for _, idx := range bound {
				arena[idx].tokenize = true
			}
		}
	}
}

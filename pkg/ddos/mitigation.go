package ddos

import (
	"fmt"
	"sort"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// MitigationAction is the response applied once a mitigation rule matches,
// mirroring MitigationAction.
type MitigationAction int

const (
	MitigationNone MitigationAction = iota
	MitigationBlockIP
	MitigationRateLimit
	MitigationRequireCookie
	MitigationTarpit
	MitigationRedirect
	MitigationChallenge
)

func (m MitigationAction) String() string {
	switch m {
	case MitigationBlockIP:
		return "block_ip"
	case MitigationRateLimit:
		return "rate_limit"
	case MitigationRequireCookie:
		return "require_cookie"
	case MitigationTarpit:
		return "tarpit"
	case MitigationRedirect:
		return "redirect"
	case MitigationChallenge:
		return "challenge"
	default:
		return "none"
	}
}

// mitigationContext is the expr-lang evaluation environment for a
// mitigation rule, analogous to MitigationCondition but expressed as plain
// fields so a rule can combine several conditions in one expression.
type mitigationContext struct {
	ThreatLevel int // ThreatLevel as an int, None=0..Critical=4
	AttackType  string
}

// MitigationRule is one priority-ordered, expr-lang-conditioned rule,
// mirroring MitigationRule/MitigationCondition. Logic is evaluated against
// mitigationContext; the first enabled rule (in descending Priority order)
// whose Logic evaluates true is selected.
type MitigationRule struct {
	Name     string
	Logic    string
	Action   MitigationAction
	Priority int
	Enabled  bool

	program *vm.Program
}

// MitigationEngine holds a compiled, priority-sorted rule set.
type MitigationEngine struct {
	mu    sync.RWMutex
	rules []*MitigationRule
}

func NewMitigationEngine() *MitigationEngine {
	return &MitigationEngine{}
}

// AddRule compiles rule.Logic and inserts it in priority order (higher
// Priority evaluated first).
func (e *MitigationEngine) AddRule(rule *MitigationRule) error {
	program, err := expr.Compile(rule.Logic, expr.Env(mitigationContext{}))
	if err != nil {
		return fmt.Errorf("ddos: compile mitigation rule %q: %w", rule.Name, err)
	}
	rule.program = program

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	sort.SliceStable(e.rules, func(i, j int) bool { return e.rules[i].Priority > e.rules[j].Priority })
	return nil
}

// Select returns the highest-priority enabled rule whose condition matches
// the given threat level and attack type.
func (e *MitigationEngine) Select(level ThreatLevel, attack AttackType) (*MitigationRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	ctx := mitigationContext{ThreatLevel: int(level), AttackType: attack.String()}
	for _, r := range e.rules {
		if !r.Enabled {
			continue
		}
		result, err := vm.Run(r.program, ctx)
		if err != nil {
			continue
		}
		if matched, ok := result.(bool); ok && matched {
			return r, true
		}
	}
	return nil, false
}

// DefaultMitigationRules mirrors initialize_mitigation_rules: escalating
// responses keyed on threat level, with amplification and random-subdomain
// attacks getting a dedicated response regardless of level.
func DefaultMitigationRules() []*MitigationRule {
	return []*MitigationRule{
		{Name: "critical-block", Logic: "ThreatLevel >= 4", Action: MitigationBlockIP, Priority: 100, Enabled: true},
		{Name: "amplification-cookie", Logic: `AttackType == "amplification"`, Action: MitigationRequireCookie, Priority: 90, Enabled: true},
		{Name: "random-subdomain-challenge", Logic: `AttackType == "random_subdomain"`, Action: MitigationChallenge, Priority: 80, Enabled: true},
		{Name: "high-tarpit", Logic: "ThreatLevel == 3", Action: MitigationTarpit, Priority: 50, Enabled: true},
		{Name: "medium-ratelimit", Logic: "ThreatLevel == 2", Action: MitigationRateLimit, Priority: 30, Enabled: true},
	}
}

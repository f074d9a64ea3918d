package firewall

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// RuleContext is the evaluation environment exposed to an expr-lang rule,
// adapted from its policy.Context.
type RuleContext struct {
	Domain    string
	ClientIP  string
	QueryType string
	Hour      int
	Minute    int
	Weekday   int
}

// NewRuleContext builds a RuleContext for the current moment.
func NewRuleContext(domain, clientIP, queryType string) RuleContext {
	now := time.Now()
	return RuleContext{
		Domain:    domain,
		ClientIP:  clientIP,
		QueryType: queryType,
		Hour:      now.Hour(),
		Minute:    now.Minute(),
		Weekday:   int(now.Weekday()),
	}
}

// ConditionalRule is one expr-lang-backed rule, evaluated after the trie
// so that schedule- or client-dependent overrides (e.g. "block ads.*
// during work hours") can layer on top of plain domain policy.
type ConditionalRule struct {
	Name    string
	Logic   string
	Action  Action
	Enabled bool

	program *vm.Program
}

// RuleEngine holds a compiled, ordered set of ConditionalRules.
type RuleEngine struct {
	mu    sync.RWMutex
	rules []*ConditionalRule
}

func NewRuleEngine() *RuleEngine {
	return &RuleEngine{}
}

// AddRule compiles rule.Logic against RuleContext and appends it.
func (e *RuleEngine) AddRule(rule *ConditionalRule) error {
	program, err := expr.Compile(rule.Logic,
		expr.Env(RuleContext{}),
		expr.Function("DomainEndsWith", func(params ...any) (any, error) {
			return strings.HasSuffix(strings.ToLower(params[0].(string)), strings.ToLower(params[1].(string))), nil
		}, new(func(string, string) bool)),
		expr.Function("IPInCIDR", func(params ...any) (any, error) {
			return ipInCIDR(params[0].(string), params[1].(string)), nil
		}, new(func(string, string) bool)),
		expr.Function("InTimeRange", func(params ...any) (any, error) {
			return inTimeRange(params[0].(int), params[1].(int), params[2].(int), params[3].(int), params[4].(int), params[5].(int)), nil
		}, new(func(int, int, int, int, int, int) bool)),
	)
	if err != nil {
		return fmt.Errorf("firewall: compile rule %q: %w", rule.Name, err)
	}
	rule.program = program

	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = append(e.rules, rule)
	return nil
}

// Evaluate runs every enabled rule in order and returns the first match.
func (e *RuleEngine) Evaluate(ctx RuleContext) (*ConditionalRule, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
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

func ipInCIDR(ipStr, cidrStr string) bool {
	ip := net.ParseIP(ipStr)
	if ip == nil {
		return false
	}
	_, ipNet, err := net.ParseCIDR(cidrStr)
	if err != nil {
		return false
	}
	return ipNet.Contains(ip)
}

func inTimeRange(hour, minute, startHour, startMinute, endHour, endMinute int) bool {
	cur := hour*60 + minute
	start := startHour*60 + startMinute
	end := endHour*60 + endMinute
	if start <= end {
		return cur >= start && cur <= end
	}
	return cur >= start || cur <= end
}

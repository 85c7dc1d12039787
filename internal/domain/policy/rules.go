package policy

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/google/cel-go/cel"
)

// RuleDefinition is the declarative form of a custom rule, as authored in
// a policy bundle: a tool glob, a CEL condition, and the action to take
// when both the glob and the condition match.
type RuleDefinition struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	ToolMatch string `json:"tool_match"`
	Condition string `json:"condition"`
	Action    Action `json:"action"`
	Reason    string `json:"reason"`
}

// CompiledRule is a RuleDefinition with its CEL condition compiled to a
// program ready for repeated evaluation.
type CompiledRule struct {
	RuleDefinition
	program cel.Program
}

// ExpressionEvaluator compiles and runs CEL expressions against an
// EvaluationContext. It is satisfied by the CEL adapter without domain
// code depending on the adapter package directly.
type ExpressionEvaluator interface {
	Compile(expression string) (cel.Program, error)
	Evaluate(prg cel.Program, evalCtx EvaluationContext) (bool, error)
}

// ruleIndex gives O(1) lookup for exact tool-name matches, falling back to
// glob rules evaluated in priority order.
type ruleIndex struct {
	exact    map[string][]CompiledRule
	wildcard []CompiledRule
}

// RuleSet is a priority-ordered set of custom CEL rules layered on top of
// the base ToolSet decision surface. The first matching rule (by tool glob
// and CEL condition) wins; no match falls through to the caller's default.
// Evaluation results are cached by a hash of (tool, roles, identity,
// arguments) since CEL conditions are pure functions of the context.
type RuleSet struct {
	evaluator ExpressionEvaluator

	mu    sync.RWMutex
	index *ruleIndex

	cache *resultCache
}

// NewRuleSet compiles every definition and returns a RuleSet. Compilation
// failures abort construction: a policy bundle with an invalid condition
// must never be loaded.
func NewRuleSet(evaluator ExpressionEvaluator, defs []RuleDefinition, cacheSize int) (*RuleSet, error) {
	compiled, err := compileRules(evaluator, defs)
	if err != nil {
		return nil, err
	}
	rs := &RuleSet{
		evaluator: evaluator,
		index:     buildIndex(compiled),
	}
	if cacheSize > 0 {
		rs.cache = newResultCache(cacheSize)
	}
	return rs, nil
}

// Reload recompiles the rule set in place and clears the result cache. Used
// for hot-reloading a policy bundle without restarting the evaluator.
func (rs *RuleSet) Reload(defs []RuleDefinition) error {
	compiled, err := compileRules(rs.evaluator, defs)
	if err != nil {
		return err
	}
	rs.mu.Lock()
	rs.index = buildIndex(compiled)
	rs.mu.Unlock()
	if rs.cache != nil {
		rs.cache.clear()
	}
	return nil
}

// Match evaluates evalCtx against every candidate rule for ToolName in
// priority order and returns the first match. ok is false if no rule
// matched, in which case the caller should fall through to its default
// decision surface.
func (rs *RuleSet) Match(evalCtx EvaluationContext) (Decision, bool) {
	rs.mu.RLock()
	idx := rs.index
	rs.mu.RUnlock()

	var cacheKey uint64
	if rs.cache != nil {
		cacheKey = cacheKeyFor(evalCtx)
		if d, ok := rs.cache.get(cacheKey); ok {
			return d, true
		}
	}

	for _, rule := range candidateRules(idx, evalCtx.ToolName) {
		matched, err := rs.evaluator.Evaluate(rule.program, evalCtx)
		if err != nil || !matched {
			continue
		}
		decision := decisionFor(rule)
		if rs.cache != nil {
			rs.cache.put(cacheKey, decision)
		}
		return decision, true
	}
	return Decision{}, false
}

func decisionFor(rule CompiledRule) Decision {
	reason := rule.Reason
	if reason == "" {
		reason = "Matched custom rule: " + rule.Name
	}
	switch rule.Action {
	case ActionAllow:
		return Allow(ScopeWrite, rule.ID, false)
	case ActionRequireApproval:
		return RequireApproval(reason, rule.ID)
	default:
		return Deny(reason, rule.ID, false)
	}
}

func compileRules(evaluator ExpressionEvaluator, defs []RuleDefinition) ([]CompiledRule, error) {
	compiled := make([]CompiledRule, 0, len(defs))
	for _, def := range defs {
		condition := def.Condition
		if condition == "" {
			condition = "true"
		}
		prg, err := evaluator.Compile(condition)
		if err != nil {
			return nil, fmt.Errorf("compile rule %s: %w", def.ID, err)
		}
		compiled = append(compiled, CompiledRule{RuleDefinition: def, program: prg})
	}
	sort.Slice(compiled, func(i, j int) bool { return compiled[i].Priority > compiled[j].Priority })
	return compiled, nil
}

func buildIndex(rules []CompiledRule) *ruleIndex {
	idx := &ruleIndex{exact: make(map[string][]CompiledRule)}
	for _, rule := range rules {
		if strings.ContainsAny(rule.ToolMatch, "*?[") {
			idx.wildcard = append(idx.wildcard, rule)
		} else {
			idx.exact[rule.ToolMatch] = append(idx.exact[rule.ToolMatch], rule)
		}
	}
	return idx
}

// candidateRules merges exact and glob matches for toolName, preserving
// priority order, then filters globs to those that actually match.
func candidateRules(idx *ruleIndex, toolName string) []CompiledRule {
	exact := idx.exact[toolName]
	var globs []CompiledRule
	for _, rule := range idx.wildcard {
		if matched, _ := filepath.Match(rule.ToolMatch, toolName); matched {
			globs = append(globs, rule)
		}
	}
	if len(exact) == 0 {
		return globs
	}
	if len(globs) == 0 {
		return exact
	}
	merged := make([]CompiledRule, 0, len(exact)+len(globs))
	i, j := 0, 0
	for i < len(exact) && j < len(globs) {
		if exact[i].Priority >= globs[j].Priority {
			merged = append(merged, exact[i])
			i++
		} else {
			merged = append(merged, globs[j])
			j++
		}
	}
	merged = append(merged, exact[i:]...)
	merged = append(merged, globs[j:]...)
	return merged
}

func cacheKeyFor(evalCtx EvaluationContext) uint64 {
	h := xxhash.New()
	_, _ = h.WriteString(evalCtx.ToolName)
	_, _ = h.Write([]byte{0})

	roles := make([]string, len(evalCtx.UserRoles))
	copy(roles, evalCtx.UserRoles)
	sort.Strings(roles)
	_, _ = h.WriteString(strings.Join(roles, ","))
	_, _ = h.Write([]byte{0})

	_, _ = h.WriteString(evalCtx.IdentityName)
	_, _ = h.Write([]byte{0})
	_, _ = h.WriteString(evalCtx.DestDomain)
	_, _ = h.Write([]byte{0})

	if len(evalCtx.ToolArguments) > 0 {
		if argsJSON, err := json.Marshal(evalCtx.ToolArguments); err == nil {
			_, _ = h.Write(argsJSON)
		}
	}
	return h.Sum64()
}

// resultCache is a bounded LRU cache of CEL match results, keyed by a hash
// of the evaluation context.
type resultCache struct {
	mu      sync.Mutex
	entries map[uint64]*lruEntry
	head    *lruEntry
	tail    *lruEntry
	maxSize int
}

type lruEntry struct {
	key      uint64
	decision Decision
	prev     *lruEntry
	next     *lruEntry
}

func newResultCache(maxSize int) *resultCache {
	return &resultCache{entries: make(map[uint64]*lruEntry, maxSize), maxSize: maxSize}
}

func (c *resultCache) get(key uint64) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.moveToHead(e)
	return e.decision, true
}

func (c *resultCache) put(key uint64, decision Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e, ok := c.entries[key]; ok {
		e.decision = decision
		c.moveToHead(e)
		return
	}
	if len(c.entries) >= c.maxSize {
		c.evictTail()
	}
	e := &lruEntry{key: key, decision: decision}
	c.entries[key] = e
	c.pushHead(e)
}

func (c *resultCache) clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[uint64]*lruEntry, c.maxSize)
	c.head, c.tail = nil, nil
}

func (c *resultCache) moveToHead(e *lruEntry) {
	if c.head == e {
		return
	}
	c.unlink(e)
	c.pushHead(e)
}

func (c *resultCache) pushHead(e *lruEntry) {
	e.prev = nil
	e.next = c.head
	if c.head != nil {
		c.head.prev = e
	}
	c.head = e
	if c.tail == nil {
		c.tail = e
	}
}

func (c *resultCache) unlink(e *lruEntry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		c.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		c.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (c *resultCache) evictTail() {
	if c.tail == nil {
		return
	}
	delete(c.entries, c.tail.key)
	c.unlink(c.tail)
}

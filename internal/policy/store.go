// Package policy implements the per-plugin permission policy store: trust
// levels, ordered permission rules, an asynchronous operator-consent
// protocol, and wholesale JSON persistence.
package policy

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dshills/warden/internal/manifest"
)

// TrustLevel is the operator-assigned override for a plugin, independent of
// what the plugin's manifest declares.
type TrustLevel string

// Trust levels.
const (
	// TrustDefault - permission checks consult the rule table.
	TrustDefault TrustLevel = "default"

	// TrustTrusted - every permission check is allowed without consent.
	TrustTrusted TrustLevel = "trusted"

	// TrustBlocked - every permission check is denied, rules ignored.
	TrustBlocked TrustLevel = "blocked"
)

// Decision is the outcome a rule prescribes for a matching check.
type Decision string

// Rule decisions.
const (
	DecisionAllow   Decision = "allow"
	DecisionDeny    Decision = "deny"
	DecisionAskOnce Decision = "ask_once"
)

// Rule grants or denies one (type, access, scope) combination. A rule with
// no scope matches any scope. Rules are keyed by (type, access, scope):
// setting a rule with an existing key replaces it.
type Rule struct {
	Type     manifest.PermissionType `json:"type"`
	Access   manifest.Access         `json:"access"`
	Scope    string                  `json:"scope,omitempty"`
	Decision Decision                `json:"decision"`
}

// Policy is the stored per-plugin policy: a trust level plus an ordered
// rule list.
type Policy struct {
	TrustLevel TrustLevel `json:"trust_level"`
	Rules      []Rule     `json:"rules,omitempty"`
}

// Check is the result of a permission check.
type Check struct {
	// IsConfigured is false when no trust override and no rule matched;
	// the caller should then request operator consent.
	IsConfigured bool

	// IsAllowed is true only for an affirmative decision.
	IsAllowed bool

	// RequiresOperatorConsent is set by ask_once rules.
	RequiresOperatorConsent bool

	// DenialReason is a display-ready explanation when denied.
	DenialReason string
}

// Store holds policies for all plugins. State is guarded by a single mutex;
// the lock is never held across consent suspension or file writes' callers.
// Policies persist to a JSON file rewritten wholesale on every mutation.
type Store struct {
	mu       sync.RWMutex
	policies map[string]*Policy
	path     string

	consent consentState
}

// NewStore creates a store persisting to path and eagerly loads any
// existing policy file. A missing file is not an error. An empty path
// disables persistence (useful in tests).
func NewStore(path string) (*Store, error) {
	s := &Store{
		policies: make(map[string]*Policy),
		path:     path,
	}
	s.consent.pending = make(map[string]*pendingRequest)

	if path != "" {
		if err := s.loadFile(); err != nil {
			return nil, fmt.Errorf("failed to load policy file: %w", err)
		}
	}
	return s, nil
}

// CheckPermission evaluates the stored policy for one permission request.
// A blocked plugin is always denied; a trusted plugin is always allowed;
// otherwise rules are scanned in order for a (type, access) match whose
// scope covers the requested scope.
func (s *Store) CheckPermission(pluginID string, t manifest.PermissionType, a manifest.Access, scope string) Check {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[pluginID]
	if !ok {
		return Check{}
	}

	switch p.TrustLevel {
	case TrustBlocked:
		return Check{
			IsConfigured: true,
			DenialReason: fmt.Sprintf("plugin %q is blocked by the operator", pluginID),
		}
	case TrustTrusted:
		return Check{IsConfigured: true, IsAllowed: true}
	}

	for _, r := range p.Rules {
		if r.Type != t || r.Access != a {
			continue
		}
		if !scopeCovers(r.Scope, scope) {
			continue
		}

		switch r.Decision {
		case DecisionAllow:
			return Check{IsConfigured: true, IsAllowed: true}
		case DecisionDeny:
			return Check{
				IsConfigured: true,
				DenialReason: fmt.Sprintf("%s %s access to %q is denied by policy", t, a, scope),
			}
		case DecisionAskOnce:
			return Check{IsConfigured: true, RequiresOperatorConsent: true}
		}
	}

	return Check{}
}

// scopeCovers reports whether a rule scope covers a requested scope. An
// empty rule scope matches unconditionally; otherwise the rule scope must
// be a prefix of the request on a segment boundary.
func scopeCovers(ruleScope, requested string) bool {
	if ruleScope == "" || ruleScope == "*" {
		return true
	}
	if requested == ruleScope {
		return true
	}
	if !strings.HasPrefix(requested, ruleScope) {
		return false
	}
	// Avoid "/tmp/block" matching "/tmp/blockfile".
	rest := requested[len(ruleScope):]
	return strings.HasSuffix(ruleScope, "/") || rest[0] == '/'
}

// SetTrustLevel sets the trust level for a plugin and persists.
func (s *Store) SetTrustLevel(pluginID string, level TrustLevel) {
	s.mu.Lock()
	s.policyFor(pluginID).TrustLevel = level
	s.mu.Unlock()

	s.persist()
}

// SetRule adds or replaces a rule. Replacement is keyed by
// (type, access, scope); a new key appends in order.
func (s *Store) SetRule(pluginID string, rule Rule) {
	s.mu.Lock()
	p := s.policyFor(pluginID)
	replaced := false
	for i, r := range p.Rules {
		if r.Type == rule.Type && r.Access == rule.Access && r.Scope == rule.Scope {
			p.Rules[i] = rule
			replaced = true
			break
		}
	}
	if !replaced {
		p.Rules = append(p.Rules, rule)
	}
	s.mu.Unlock()

	s.persist()
}

// RemoveRule deletes the rule with the given key. Returns true if a rule
// was removed.
func (s *Store) RemoveRule(pluginID string, t manifest.PermissionType, a manifest.Access, scope string) bool {
	s.mu.Lock()
	removed := false
	if p, ok := s.policies[pluginID]; ok {
		for i, r := range p.Rules {
			if r.Type == t && r.Access == a && r.Scope == scope {
				p.Rules = append(p.Rules[:i], p.Rules[i+1:]...)
				removed = true
				break
			}
		}
	}
	s.mu.Unlock()

	if removed {
		s.persist()
	}
	return removed
}

// PolicyFor returns a copy of the stored policy for a plugin. The second
// return is false when no policy exists yet.
func (s *Store) PolicyFor(pluginID string) (Policy, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.policies[pluginID]
	if !ok {
		return Policy{TrustLevel: TrustDefault}, false
	}

	out := Policy{TrustLevel: p.TrustLevel}
	if p.Rules != nil {
		out.Rules = make([]Rule, len(p.Rules))
		copy(out.Rules, p.Rules)
	}
	return out, true
}

// policyFor returns the mutable policy for a plugin, creating it if absent.
// Must be called with mu held.
func (s *Store) policyFor(pluginID string) *Policy {
	p, ok := s.policies[pluginID]
	if !ok {
		p = &Policy{TrustLevel: TrustDefault}
		s.policies[pluginID] = p
	}
	return p
}

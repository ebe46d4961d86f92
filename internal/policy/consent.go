package policy

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/dshills/warden/internal/manifest"
)

// Request describes one permission the operator is asked to decide on.
type Request struct {
	PluginID string                  `json:"plugin_id"`
	Type     manifest.PermissionType `json:"type"`
	Access   manifest.Access         `json:"access"`
	Scope    string                  `json:"scope,omitempty"`
	Reason   string                  `json:"reason,omitempty"`
}

// Resolution is the operator's answer to a consent request.
type Resolution struct {
	// Granted allows the permission for this request.
	Granted bool

	// Remember persists an equivalent allow/deny rule so future checks
	// short-circuit without another consent round.
	Remember bool
}

// Outcome is what RequestConsent resolves to. A cancelled or abandoned
// request resolves to not granted.
type Outcome struct {
	Granted    bool
	Remembered bool
}

// ConsentHandler receives pending requests. The handler runs outside store
// locks and must not block; it typically forwards the request to the UI
// layer, which later calls Resolve or Cancel with the request id.
type ConsentHandler func(id string, req Request)

// pendingRequest is one in-flight consent request. The resolve channel is
// buffered so Resolve never blocks on a departed waiter.
type pendingRequest struct {
	req     Request
	resolve chan Resolution
	once    sync.Once
}

// consentState holds the pending-request map, guarded separately from the
// policy table so consent traffic never contends with permission checks.
type consentState struct {
	mu      sync.Mutex
	pending map[string]*pendingRequest
	handler ConsentHandler
}

// OnConsentRequest registers the handler that receives consent requests.
// Only one handler is active; registering replaces the previous one.
func (s *Store) OnConsentRequest(h ConsentHandler) {
	s.consent.mu.Lock()
	defer s.consent.mu.Unlock()
	s.consent.handler = h
}

// PendingConsents returns the ids of requests awaiting resolution.
func (s *Store) PendingConsents() []string {
	s.consent.mu.Lock()
	defer s.consent.mu.Unlock()

	ids := make([]string, 0, len(s.consent.pending))
	for id := range s.consent.pending {
		ids = append(ids, id)
	}
	return ids
}

// RequestConsent raises a consent request and suspends until the operator
// resolves it, the request is cancelled, or ctx is done. Cancellation of
// any kind resolves deterministically to a not-granted outcome. No store
// lock is held while suspended.
func (s *Store) RequestConsent(ctx context.Context, req Request) Outcome {
	id := uuid.NewString()
	p := &pendingRequest{
		req:     req,
		resolve: make(chan Resolution, 1),
	}

	s.consent.mu.Lock()
	s.consent.pending[id] = p
	handler := s.consent.handler
	s.consent.mu.Unlock()

	if handler != nil {
		handler(id, req)
	}

	select {
	case res := <-p.resolve:
		s.removePending(id)
		if res.Remember {
			s.rememberResolution(req, res)
		}
		return Outcome{Granted: res.Granted, Remembered: res.Remember}
	case <-ctx.Done():
		s.removePending(id)
		return Outcome{}
	}
}

// Resolve completes a pending request with the operator's decision.
// Returns false if the id is unknown or already resolved.
func (s *Store) Resolve(id string, res Resolution) bool {
	s.consent.mu.Lock()
	p, ok := s.consent.pending[id]
	s.consent.mu.Unlock()
	if !ok {
		return false
	}

	delivered := false
	p.once.Do(func() {
		p.resolve <- res
		delivered = true
	})
	return delivered
}

// Cancel resolves a pending request to not granted without remembering.
func (s *Store) Cancel(id string) bool {
	return s.Resolve(id, Resolution{})
}

// removePending drops a request from the pending map.
func (s *Store) removePending(id string) {
	s.consent.mu.Lock()
	delete(s.consent.pending, id)
	s.consent.mu.Unlock()
}

// rememberResolution persists the operator's decision as a rule so the next
// identical check short-circuits.
func (s *Store) rememberResolution(req Request, res Resolution) {
	decision := DecisionDeny
	if res.Granted {
		decision = DecisionAllow
	}
	s.SetRule(req.PluginID, Rule{
		Type:     req.Type,
		Access:   req.Access,
		Scope:    req.Scope,
		Decision: decision,
	})
}

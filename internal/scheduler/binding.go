package scheduler

import (
	"sync"
	"time"

	"github.com/kestrelmux/antigravity-relay/internal/config"
)

const bindingTTL = 30 * time.Minute

// binding is one entry of spec 4.5's AccountBinding: session_id ->
// (account_id, bound_at, model_family).
type binding struct {
	accountEmail string
	modelFamily  string
	boundAt      time.Time
}

// bindingMap is the Balance strategy's session-to-account stickiness
// layer. Without it the LastUsed timestamp the scheduler stamps on
// every dispatch feeds straight back into the LRU scoring term, so the
// very next request from the same session can score a different
// account highest even though nothing about the pool changed.
type bindingMap struct {
	mu       sync.Mutex
	bindings map[string]*binding
}

func newBindingMap() *bindingMap {
	return &bindingMap{bindings: make(map[string]*binding)}
}

// lookup returns the account bound to sessionID, if the binding exists,
// hasn't expired, and (when family is known) still matches the family
// it was bound under. A family change is a mode-level event per spec
// 4.5's binding lifecycle, so the old binding doesn't survive it.
func (b *bindingMap) lookup(sessionID string, family config.ModelFamily) (string, bool) {
	if sessionID == "" {
		return "", false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	bound, ok := b.bindings[sessionID]
	if !ok {
		return "", false
	}
	if time.Since(bound.boundAt) > bindingTTL {
		delete(b.bindings, sessionID)
		return "", false
	}
	if family != "" && bound.modelFamily != "" && bound.modelFamily != string(family) {
		delete(b.bindings, sessionID)
		return "", false
	}
	return bound.accountEmail, true
}

// bind records sessionID as bound to accountEmail for family, created
// on first dispatch and refreshed on every later one so its TTL keeps
// sliding forward for an active conversation.
func (b *bindingMap) bind(sessionID, accountEmail string, family config.ModelFamily) {
	if sessionID == "" || accountEmail == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.bindings[sessionID] = &binding{accountEmail: accountEmail, modelFamily: string(family), boundAt: time.Now()}
}

package session

import (
	"sync"
	"time"

	"github.com/kinyua-dev/cloudbot/internal/transport"
)

// WizardTag names what free-text input a pending state expects.
type WizardTag string

const (
	// TagCustomMessage awaits the custom broadcast text for a group tag.
	TagCustomMessage WizardTag = "custom_tag_message"
	// TagPrivacyValue awaits a privacy value for a chosen setting.
	TagPrivacyValue WizardTag = "privacy_value"
)

// WizardState is one pending expectation for a sender.
type WizardState struct {
	Tag          WizardTag
	Participants []transport.Participant
	Setting      string

	created time.Time
}

// Wizard tracks at most one pending free-text expectation per sender.
// Abandoned states expire after the configured TTL rather than lingering
// until session stop.
type Wizard struct {
	mu     sync.Mutex
	ttl    time.Duration
	states map[string]*WizardState
}

// NewWizard creates a tracker. ttl <= 0 disables expiry.
func NewWizard(ttl time.Duration) *Wizard {
	return &Wizard{
		ttl:    ttl,
		states: make(map[string]*WizardState),
	}
}

// Set records a pending state for a sender, overwriting any existing one.
func (w *Wizard) Set(sender string, state WizardState) {
	w.mu.Lock()
	defer w.mu.Unlock()

	state.created = time.Now()
	w.states[sender] = &state
	w.pruneLocked()
}

// Consume atomically reads and deletes the sender's pending state.
// Expired states are dropped as if absent.
func (w *Wizard) Consume(sender string) (*WizardState, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	st, ok := w.states[sender]
	if !ok {
		return nil, false
	}
	delete(w.states, sender)
	if w.expired(st) {
		return nil, false
	}
	return st, true
}

// Clear empties the tracker. Called on session stop.
func (w *Wizard) Clear() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.states = make(map[string]*WizardState)
}

// Len reports the number of live pending states.
func (w *Wizard) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	n := 0
	for _, st := range w.states {
		if !w.expired(st) {
			n++
		}
	}
	return n
}

func (w *Wizard) expired(st *WizardState) bool {
	return w.ttl > 0 && time.Since(st.created) >= w.ttl
}

// pruneLocked evicts expired entries. Caller holds w.mu.
func (w *Wizard) pruneLocked() {
	if w.ttl <= 0 {
		return
	}
	for sender, st := range w.states {
		if w.expired(st) {
			delete(w.states, sender)
		}
	}
}

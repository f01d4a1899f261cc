package bot

import (
	"sync"

	"contactbot/internal/domain"
)

// Events is the typed observable surface of the bot: one subscription
// method per inbound message kind plus a raw-frame hook for advanced
// consumers. Handlers run synchronously on the hub's read goroutine, in
// frame-delivery order.
type Events struct {
	mu           sync.RWMutex
	raw          []func(domain.Message)
	text         []func(senderID, text string)
	sound        []func(senderID, assetURL string)
	object       []func(senderID, name, assetURL string)
	invite       []func(senderID, sessionName, sessionID string)
	contactAdded []func(contactID string)
	messageSent  []func(domain.Message)
}

// OnRawMessage observes every inbound message before type dispatch.
func (e *Events) OnRawMessage(fn func(domain.Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.raw = append(e.raw, fn)
}

// OnTextMessage observes inbound text messages.
func (e *Events) OnTextMessage(fn func(senderID, text string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.text = append(e.text, fn)
}

// OnSoundMessage observes inbound sound messages as resolved asset URLs.
func (e *Events) OnSoundMessage(fn func(senderID, assetURL string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sound = append(e.sound, fn)
}

// OnObjectMessage observes inbound object messages.
func (e *Events) OnObjectMessage(fn func(senderID, name, assetURL string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.object = append(e.object, fn)
}

// OnSessionInvite observes inbound session invites.
func (e *Events) OnSessionInvite(fn func(senderID, sessionName, sessionID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.invite = append(e.invite, fn)
}

// OnContactAdded observes contacts accepted by the auto-accept task.
func (e *Events) OnContactAdded(fn func(contactID string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.contactAdded = append(e.contactAdded, fn)
}

// OnMessageSent observes delivery confirmations from the hub.
func (e *Events) OnMessageSent(fn func(domain.Message)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.messageSent = append(e.messageSent, fn)
}

func (e *Events) emitRaw(msg domain.Message) {
	e.mu.RLock()
	handlers := e.raw
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

func (e *Events) emitText(senderID, text string) {
	e.mu.RLock()
	handlers := e.text
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(senderID, text)
	}
}

func (e *Events) emitSound(senderID, assetURL string) {
	e.mu.RLock()
	handlers := e.sound
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(senderID, assetURL)
	}
}

func (e *Events) emitObject(senderID, name, assetURL string) {
	e.mu.RLock()
	handlers := e.object
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(senderID, name, assetURL)
	}
}

func (e *Events) emitInvite(senderID, sessionName, sessionID string) {
	e.mu.RLock()
	handlers := e.invite
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(senderID, sessionName, sessionID)
	}
}

func (e *Events) emitContactAdded(contactID string) {
	e.mu.RLock()
	handlers := e.contactAdded
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(contactID)
	}
}

func (e *Events) emitMessageSent(msg domain.Message) {
	e.mu.RLock()
	handlers := e.messageSent
	e.mu.RUnlock()
	for _, fn := range handlers {
		fn(msg)
	}
}

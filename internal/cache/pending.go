package cache

import "sync"

// Reply identifies a bot-sent message that should disappear together with
// the user message that triggered it.
type Reply struct {
	ChannelID uint64 `json:"channel_id,string"`
	MessageID uint64 `json:"message_id,string"`
}

// PendingMessages correlates triggering message ids with the bot replies to
// cascade-delete. Every access mutates, so a plain Mutex guards it.
//
// Entries whose trigger is never deleted are never removed; that leak is
// bounded by how long the platform retains messages.
type PendingMessages struct {
	mu      sync.Mutex
	entries map[uint64]Reply // trigger message id -> reply
}

// NewPendingMessages creates an empty correlation map.
func NewPendingMessages() *PendingMessages {
	return &PendingMessages{
		entries: make(map[uint64]Reply),
	}
}

// Record links trigger to reply, replacing any earlier reply for trigger.
func (p *PendingMessages) Record(trigger uint64, reply Reply) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries[trigger] = reply
}

// Take removes and returns the reply correlated with trigger. The lookup and
// the removal happen under one lock, so each entry is handed out once.
func (p *PendingMessages) Take(trigger uint64) (Reply, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	reply, ok := p.entries[trigger]
	if ok {
		delete(p.entries, trigger)
	}
	return reply, ok
}

// Len returns the number of outstanding correlations.
func (p *PendingMessages) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

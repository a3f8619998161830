package client

import (
	"sync"
	"time"
)

// PeerTypingTimeout caps how long a start signal counts without a refresh,
// so a lost stop signal does not leave the indicator on forever.
const PeerTypingTimeout = 5 * time.Second

// PeerTyping tracks which remote connections are typing in which chat.
type PeerTyping struct {
	mu    sync.Mutex
	now   func() time.Time
	ttl   time.Duration
	chats map[int]map[string]time.Time
}

func NewPeerTyping() *PeerTyping {
	return &PeerTyping{now: time.Now, ttl: PeerTypingTimeout, chats: make(map[int]map[string]time.Time)}
}

func (p *PeerTyping) Start(chatID int, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune(chatID)
	peers, ok := p.chats[chatID]
	if !ok {
		peers = make(map[string]time.Time)
		p.chats[chatID] = peers
	}
	peers[connID] = p.now()
}

func (p *PeerTyping) Stop(chatID int, connID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if peers, ok := p.chats[chatID]; ok {
		delete(peers, connID)
	}
	p.prune(chatID)
}

// prune must be called with mu held. It drops expired peers of chatID and the
// chat itself once nobody is left.
func (p *PeerTyping) prune(chatID int) {
	peers, ok := p.chats[chatID]
	if !ok {
		return
	}
	now := p.now()
	for connID, since := range peers {
		if now.Sub(since) >= p.ttl {
			delete(peers, connID)
		}
	}
	if len(peers) == 0 {
		delete(p.chats, chatID)
	}
}

// tracked counts the chats with at least one stored peer entry.
func (p *PeerTyping) tracked() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.chats)
}

// Typing reports whether anyone is typing in chatID right now.
func (p *PeerTyping) Typing(chatID int) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prune(chatID)
	return len(p.chats[chatID]) > 0
}

// Clear forgets every peer, e.g. after a reconnect.
func (p *PeerTyping) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.chats = make(map[int]map[string]time.Time)
}

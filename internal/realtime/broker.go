package realtime

import (
	"context"
	"encoding/json"
	"sync"
)

type Scope int

const (
	ScopeIdentity Scope = iota
	ScopeChat
	// ScopeEvict carries no frame. It takes the Targets identities out of
	// ChatID's channel.
	ScopeEvict
)

// Delivery is one fan-out request. Targets are identity ids for ScopeIdentity
// and ScopeEvict, chat ids for ScopeChat. Every hub that receives it applies it
// to its own matching connections only.
type Delivery struct {
	Scope       Scope           `json:"scope"`
	Targets     []int           `json:"targets"`
	ChatID      int             `json:"chat_id,omitempty"`
	ExcludeUser int             `json:"exclude_user,omitempty"`
	ExcludeConn string          `json:"exclude_conn,omitempty"`
	Frame       json.RawMessage `json:"frame,omitempty"`
}

// Broker carries deliveries between every hub of a deployment.
type Broker interface {
	Publish(ctx context.Context, d Delivery) error
	// Subscribe is registered when it returns. The channel closes once ctx is done.
	Subscribe(ctx context.Context) (<-chan Delivery, error)
}

// LocalBroker connects hubs living in one process.
type LocalBroker struct {
	mu   sync.RWMutex
	subs map[chan Delivery]<-chan struct{}
}

func NewLocalBroker() *LocalBroker {
	return &LocalBroker{subs: make(map[chan Delivery]<-chan struct{})}
}

func (b *LocalBroker) Publish(ctx context.Context, d Delivery) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, done := range b.subs {
		select {
		case ch <- d:
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (b *LocalBroker) Subscribe(ctx context.Context) (<-chan Delivery, error) {
	ch := make(chan Delivery, 256)
	b.mu.Lock()
	b.subs[ch] = ctx.Done()
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

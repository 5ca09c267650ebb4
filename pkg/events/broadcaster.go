package events

import "sync"

type StockChange struct {
	InventoryID string `json:"inventory_id"`
	ProductID   string `json:"product_id"`
	Quantity    int    `json:"quantity"`
	LowStock    bool   `json:"low_stock"`
	Deleted     bool   `json:"deleted,omitempty"`
}

// Broadcaster fans stock changes out to live subscribers. A subscriber that
// does not keep up loses messages; Publish never blocks.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan StockChange]struct{}
	buffer int
}

func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{
		subs:   make(map[chan StockChange]struct{}),
		buffer: buffer,
	}
}

// Subscribe returns a channel of changes and a function that releases it.
func (b *Broadcaster) Subscribe() (<-chan StockChange, func()) {
	ch := make(chan StockChange, b.buffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			close(ch)
			b.mu.Unlock()
		})
	}
}

func (b *Broadcaster) Publish(change StockChange) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for ch := range b.subs {
		select {
		case ch <- change:
		default:
		}
	}
}

func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

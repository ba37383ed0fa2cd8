package session

import "sync"

// NowPlaying is the metadata mirrored on external transport surfaces.
type NowPlaying struct {
	ClipID   string  `json:"clipId"`
	Title    string  `json:"title"`
	Owner    string  `json:"owner,omitempty"`
	Duration float64 `json:"duration"`
	Elapsed  float64 `json:"elapsed"`
	Rate     float64 `json:"rate"`
	Playing  bool    `json:"playing"`
}

// Publisher fans NowPlaying frames out to subscribers. Slow subscribers
// lose frames rather than blocking the engine.
type Publisher struct {
	mu   sync.Mutex
	subs []chan NowPlaying
	last NowPlaying
}

func NewPublisher() *Publisher { return &Publisher{} }

// Subscribe returns a channel receiving every published frame, primed with
// the most recent one.
func (p *Publisher) Subscribe() <-chan NowPlaying {
	ch := make(chan NowPlaying, 8)
	p.mu.Lock()
	p.subs = append(p.subs, ch)
	ch <- p.last
	p.mu.Unlock()
	return ch
}

func (p *Publisher) Publish(np NowPlaying) {
	p.mu.Lock()
	p.last = np
	for _, ch := range p.subs {
		select {
		case ch <- np:
		default:
		}
	}
	p.mu.Unlock()
}

// Last returns the most recently published frame.
func (p *Publisher) Last() NowPlaying {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

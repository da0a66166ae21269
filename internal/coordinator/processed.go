package coordinator

import "time"

// processedSet remembers signal ids an execution worker has acted on. Entries
// are kept for the staleness horizon; after that the signal can no longer
// match, so the id is dropped.
type processedSet struct {
	horizon time.Duration
	ids     map[string]time.Time // id → signal generation time
}

func newProcessedSet(horizon time.Duration) *processedSet {
	return &processedSet{horizon: horizon, ids: make(map[string]time.Time)}
}

func (p *processedSet) seen(id string) bool {
	_, ok := p.ids[id]
	return ok
}

func (p *processedSet) add(id string, generatedAt time.Time) {
	p.ids[id] = generatedAt
}

func (p *processedSet) prune(now time.Time) {
	for id, at := range p.ids {
		if now.Sub(at) >= p.horizon {
			delete(p.ids, id)
		}
	}
}

func (p *processedSet) len() int {
	return len(p.ids)
}

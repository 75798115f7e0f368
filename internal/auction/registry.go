package auction

import (
	"sort"
	"sync"

	"liquidationKeeper/internal/model"
)

// Registry holds every known open auction. Entries are only created and removed in
// response to observed pool events.
type Registry struct {
	mu       sync.RWMutex
	auctions map[model.AuctionID]model.Auction
	closed   map[model.AuctionID]uint64
	seen     *model.SeenSet
}

func NewRegistry() *Registry {
	return &Registry{
		auctions: make(map[model.AuctionID]model.Auction),
		closed:   make(map[model.AuctionID]uint64),
		seen:     model.NewSeenSet(0),
	}
}

// RecordNew stores a newly opened auction. It reports false when an auction with the same id
// is already open, or when this exact auction was already closed.
func (r *Registry) RecordNew(a model.Auction) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.auctions[a.ID]; ok {
		return false
	}
	if start, ok := r.closed[a.ID]; ok && start == a.StartBlock {
		return false
	}
	a = a.Clone()
	a.Status = model.AuctionOpen
	r.auctions[a.ID] = a
	delete(r.closed, a.ID)
	return true
}

// MarkFilled removes a fully filled auction.
func (r *Registry) MarkFilled(id model.AuctionID) bool {
	return r.close(id)
}

// MarkExpired removes an auction deleted or expired on chain.
func (r *Registry) MarkExpired(id model.AuctionID) bool {
	return r.close(id)
}

func (r *Registry) close(id model.AuctionID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.auctions[id]
	if !ok {
		return false
	}
	delete(r.auctions, id)
	r.closed[id] = a.StartBlock
	return true
}

// ApplyFill records a fill event of pct percent of the remaining auction. A fill of 100
// closes the auction. It returns the resulting status and whether anything changed.
func (r *Registry) ApplyFill(eventID string, id model.AuctionID, pct int64) (model.AuctionStatus, bool) {
	r.mu.Lock()
	if !r.seen.Add(eventID) {
		r.mu.Unlock()
		return "", false
	}
	a, ok := r.auctions[id]
	if !ok {
		r.mu.Unlock()
		return "", false
	}
	if pct >= 100 {
		r.mu.Unlock()
		r.close(id)
		return model.AuctionFilled, true
	}
	if pct <= 0 {
		r.mu.Unlock()
		return model.AuctionOpen, false
	}

	// ceil((100 - filled) * pct / 100), never reaching 100 through partials
	step := ((100-a.PctFilled)*pct + 99) / 100
	a.PctFilled += step
	if a.PctFilled > 99 {
		a.PctFilled = 99
	}
	r.auctions[id] = a
	r.mu.Unlock()
	return model.AuctionOpen, true
}

// Get returns a copy of an open auction.
func (r *Registry) Get(id model.AuctionID) (model.Auction, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.auctions[id]
	if !ok {
		return model.Auction{}, false
	}
	return a.Clone(), true
}

// OpenFor lists open auctions of a user in a pool.
func (r *Registry) OpenFor(user, pool string) []model.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []model.Auction
	for id, a := range r.auctions {
		if id.User == user && id.Pool == pool {
			out = append(out, a.Clone())
		}
	}
	sortAuctions(out)
	return out
}

// Open lists every open auction in a stable order.
func (r *Registry) Open() []model.Auction {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Auction, 0, len(r.auctions))
	for _, a := range r.auctions {
		out = append(out, a.Clone())
	}
	sortAuctions(out)
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.auctions)
}

// Snapshot is Open under the name the mirror uses.
func (r *Registry) Snapshot() []model.Auction {
	return r.Open()
}

// Restore loads mirrored auctions, keeping only open ones.
func (r *Registry) Restore(auctions []model.Auction) int {
	count := 0
	for _, a := range auctions {
		if a.Status != "" && a.Status != model.AuctionOpen {
			continue
		}
		if r.RecordNew(a) {
			count++
		}
	}
	return count
}

func sortAuctions(items []model.Auction) {
	sort.Slice(items, func(i, j int) bool {
		return items[i].ID.String() < items[j].ID.String()
	})
}

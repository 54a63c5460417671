package session

import "sync"

// FacesCapacity is how many thumbnails the recent faces gallery keeps.
const FacesCapacity = 5

// RecentFaces is a bounded FIFO of encoded face thumbnails. Pushing onto a full buffer
// evicts the oldest entry.
type RecentFaces struct {
	mu    sync.RWMutex
	cap   int
	items [][]byte
}

// NewRecentFaces returns a buffer holding at most capacity thumbnails.
func NewRecentFaces(capacity int) *RecentFaces {
	if capacity < 1 {
		capacity = FacesCapacity
	}
	return &RecentFaces{cap: capacity, items: make([][]byte, 0, capacity)}
}

// Push appends a thumbnail, evicting the oldest when full.
func (r *RecentFaces) Push(thumb []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.items) == r.cap {
		copy(r.items, r.items[1:])
		r.items = r.items[:r.cap-1]
	}
	r.items = append(r.items, thumb)
}

// Items returns the thumbnails oldest first.
func (r *RecentFaces) Items() [][]byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([][]byte, len(r.items))
	copy(out, r.items)
	return out
}

// Len returns the current number of thumbnails.
func (r *RecentFaces) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

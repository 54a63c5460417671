package dashboard

import (
	"image"
	"sync"

	"github.com/andresmejia3/moodlens/internal/session"
	"github.com/andresmejia3/moodlens/internal/snapshot"
	log "github.com/sirupsen/logrus"
)

// Hub fans annotated frames out to MJPEG viewers. It is the dashboard's session.Presenter.
// Slow viewers miss frames rather than stall the session loop.
type Hub struct {
	mu     sync.RWMutex
	subs   map[chan []byte]struct{}
	latest []byte
}

func NewHub() *Hub {
	return &Hub{subs: make(map[chan []byte]struct{})}
}

// Present encodes the frame once and offers it to every viewer.
func (h *Hub) Present(img *image.RGBA, _ session.View) error {
	data, err := snapshot.EncodeJPEG(img)
	if err != nil {
		log.WithError(err).Warn("Stream frame encode failed")
		return nil
	}
	h.Publish(data)
	return nil
}

// Publish offers an already encoded JPEG to every viewer.
func (h *Hub) Publish(data []byte) {
	h.mu.Lock()
	h.latest = data
	for ch := range h.subs {
		select {
		case ch <- data:
		default:
		}
	}
	h.mu.Unlock()
}

// Subscribe registers a viewer. The latest frame, if any, is delivered immediately.
func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 1)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	if h.latest != nil {
		ch <- h.latest
	}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.subs, ch)
	h.mu.Unlock()
}

// Latest returns the most recent encoded frame.
func (h *Hub) Latest() []byte {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.latest
}

// Viewers returns the number of connected stream clients.
func (h *Hub) Viewers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}

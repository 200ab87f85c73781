package websocket

import (
	"sync"

	"cicero-client/internal/dto"
)

// Handler receives one inbound frame. Handlers run on the read goroutine,
// one frame at a time, in registration order.
type Handler func(frame *dto.InboundFrame)

// HandlerID identifies one registration so it can be removed again; func
// values aren't comparable in Go.
type HandlerID uint64

type registration struct {
	id HandlerID
	fn Handler
}

// Hub maps frame types to ordered handler lists.
type Hub struct {
	mu       sync.RWMutex
	handlers map[string][]registration
	nextID   HandlerID
}

func NewHub() *Hub {
	return &Hub{handlers: make(map[string][]registration)}
}

func (h *Hub) Register(frameType string, fn Handler) HandlerID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	h.handlers[frameType] = append(h.handlers[frameType], registration{id: h.nextID, fn: fn})
	return h.nextID
}

// Unregister removes one registration. It reports false if id wasn't
// registered for frameType, which makes repeated calls harmless.
func (h *Hub) Unregister(frameType string, id HandlerID) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	regs := h.handlers[frameType]
	for i, r := range regs {
		if r.id != id {
			continue
		}
		remaining := make([]registration, 0, len(regs)-1)
		remaining = append(remaining, regs[:i]...)
		remaining = append(remaining, regs[i+1:]...)
		if len(remaining) == 0 {
			delete(h.handlers, frameType)
		} else {
			h.handlers[frameType] = remaining
		}
		return true
	}
	return false
}

// Handlers returns a snapshot so handlers may (un)register while a frame is
// being delivered.
func (h *Hub) Handlers(frameType string) []Handler {
	h.mu.RLock()
	defer h.mu.RUnlock()

	regs := h.handlers[frameType]
	out := make([]Handler, len(regs))
	for i, r := range regs {
		out[i] = r.fn
	}
	return out
}

func (h *Hub) Has(frameType string, id HandlerID) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, r := range h.handlers[frameType] {
		if r.id == id {
			return true
		}
	}
	return false
}

func (h *Hub) Count(frameType string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.handlers[frameType])
}

func (h *Hub) Clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers = make(map[string][]registration)
}

package download

import (
	"log/slog"
	"sync"

	"github.com/mmcdole/lull/internal/domain"
)

const listenerBuffer = 64

// hub fans progress events out to listeners. Each listener has its own
// goroutine and buffered channel so a slow or panicking listener never
// stalls a transfer; when a listener's buffer is full the event is dropped.
type hub struct {
	mu        sync.RWMutex
	listeners map[int]chan domain.DownloadProgress
	nextID    int
	wg        sync.WaitGroup
	logger    *slog.Logger
}

func newHub(logger *slog.Logger) *hub {
	return &hub{listeners: make(map[int]chan domain.DownloadProgress), logger: logger}
}

func (h *hub) add(fn domain.ProgressListener) func() {
	ch := make(chan domain.DownloadProgress, listenerBuffer)

	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = ch
	h.mu.Unlock()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for ev := range ch {
			h.deliver(fn, ev)
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.listeners[id]; ok {
				delete(h.listeners, id)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
}

func (h *hub) deliver(fn domain.ProgressListener, ev domain.DownloadProgress) {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("progress listener panicked", "trackID", ev.TrackID, "panic", r)
		}
	}()
	fn(ev)
}

func (h *hub) publish(ev domain.DownloadProgress) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.listeners {
		select {
		case ch <- ev:
		default:
			h.logger.Debug("progress listener is behind, dropping event", "trackID", ev.TrackID)
		}
	}
}

// close ends every subscription and waits for queued events to drain.
func (h *hub) close() {
	h.mu.Lock()
	for id, ch := range h.listeners {
		delete(h.listeners, id)
		close(ch)
	}
	h.mu.Unlock()
	h.wg.Wait()
}

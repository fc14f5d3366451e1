package server

import (
	iface "CDEvalServer/interface"
	"CDEvalServer/logger"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type EventType string

const (
	EventBatch  EventType = "batch"
	EventDone   EventType = "done"
	EventFailed EventType = "failed"
)

type Event struct {
	Type    EventType       `json:"type"`
	Index   int             `json:"index"`
	Metrics iface.MetricSet `json:"metrics,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// hub fans job events out to websocket subscribers. Slow subscribers miss
// batch events; the final event closes every subscription of the job.
type hub struct {
	mu   sync.Mutex
	subs map[string][]chan Event
}

func newHub() *hub {
	return &hub{subs: make(map[string][]chan Event)}
}

func (h *hub) subscribe(id string) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	h.mu.Lock()
	h.subs[id] = append(h.subs[id], ch)
	h.mu.Unlock()
	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		subs := h.subs[id]
		for i, c := range subs {
			if c == ch {
				h.subs[id] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
		if len(h.subs[id]) == 0 {
			delete(h.subs, id)
		}
	}
	return ch, cancel
}

func (h *hub) publish(id string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[id] {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (h *hub) finish(id string, ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[id] {
		// the buffer may be full of batch events; the final one must get through
		select {
		case ch <- ev:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- ev
		}
		close(ch)
	}
	delete(h.subs, id)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

func finalEvent(job Job) Event {
	if job.Status == Failed {
		return Event{Type: EventFailed, Error: job.Error}
	}
	return Event{Type: EventDone, Metrics: job.Result}
}

// handleWatch streams the job's events as JSON text frames and closes the
// socket after the final event.
func (r *Runner) handleWatch(c *gin.Context) {
	id := c.Param("id")
	// 在升级前检查任务是否存在
	if _, ok := r.Get(id); !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return
	}
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 升级失败，不要再写 JSON
		return
	}
	defer conn.Close()
	log := logger.Named("ws").With(zap.String("job", id))

	events, cancel := r.hub.subscribe(id)
	job, _ := r.Get(id)
	if job.terminal() {
		// finished before we subscribed
		cancel()
		if err := conn.WriteJSON(finalEvent(job)); err != nil {
			log.Warn("write final event", zap.Error(err))
		}
	} else {
		for ev := range events {
			if err := conn.WriteJSON(ev); err != nil {
				log.Warn("write event", zap.Error(err))
				cancel()
				return
			}
		}
	}
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "evaluation finished"))
}

package handlers

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/slideflow/internal/common"
	"github.com/ternarybob/slideflow/internal/interfaces"
	"github.com/ternarybob/slideflow/internal/models"
	"golang.org/x/time/rate"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for local development
	},
}

// WSMessage is the frame format pushed to WebSocket clients.
type WSMessage struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// WebSocketHandler streams progress events to clients. Each connection gets
// its own bus subscription; in-flight progress frames are rate limited per
// connection while state changes and terminal frames always go through.
type WebSocketHandler struct {
	events           interfaces.EventService
	jobs             interfaces.JobRegistry
	workflows        interfaces.WorkflowRegistry
	progressInterval time.Duration
	writeTimeout     time.Duration
	logger           arbor.ILogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(
	events interfaces.EventService,
	jobs interfaces.JobRegistry,
	workflows interfaces.WorkflowRegistry,
	config common.WebSocketConfig,
	logger arbor.ILogger,
) *WebSocketHandler {
	return &WebSocketHandler{
		events:           events,
		jobs:             jobs,
		workflows:        workflows,
		progressInterval: common.ParseDurationOr(config.ProgressThrottle, 100*time.Millisecond),
		writeTimeout:     common.ParseDurationOr(config.WriteTimeout, 5*time.Second),
		logger:           logger,
	}
}

// HandleWorkflowSocket handles GET /ws/workflows/{id}
func (h *WebSocketHandler) HandleWorkflowSocket(w http.ResponseWriter, r *http.Request) {
	workflowID := lastPathSegment(r.URL.Path)
	if workflowID == "" {
		WriteError(w, http.StatusBadRequest, "missing workflow id")
		return
	}
	wf, err := h.workflows.Get(workflowID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	counters := models.DeriveCounters(h.jobs.GetByWorkflow(wf.ID))
	snapshot := &WSMessage{
		Type: models.EventWorkflowProgress,
		Payload: models.WorkflowProgressUpdate{
			WorkflowID:      wf.ID,
			Status:          wf.Status,
			ProgressPercent: wf.ProgressPercent,
			JobsTotal:       counters.Total,
			JobsCompleted:   counters.Succeeded + counters.Failed + counters.Cancelled,
			JobsFailed:      counters.Failed,
			Timestamp:       time.Now().UTC(),
		},
	}
	h.stream(w, r, interfaces.WorkflowTopic(workflowID), snapshot)
}

// HandleJobSocket handles GET /ws/jobs/{id}
func (h *WebSocketHandler) HandleJobSocket(w http.ResponseWriter, r *http.Request) {
	jobID := lastPathSegment(r.URL.Path)
	if jobID == "" {
		WriteError(w, http.StatusBadRequest, "missing job id")
		return
	}
	job, err := h.jobs.Get(jobID)
	if err != nil {
		WriteDomainError(w, err)
		return
	}

	snapshot := &WSMessage{
		Type: models.EventJobProgress,
		Payload: models.ProgressUpdate{
			JobID:           job.ID,
			WorkflowID:      job.WorkflowID,
			Status:          job.Status,
			ProgressPercent: job.ProgressPercent,
			TilesProcessed:  job.TilesProcessed,
			TilesTotal:      job.TilesTotal,
			Timestamp:       time.Now().UTC(),
		},
	}
	h.stream(w, r, interfaces.JobTopic(jobID), snapshot)
}

// HandleSystemSocket handles GET /ws/system
func (h *WebSocketHandler) HandleSystemSocket(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, interfaces.TopicSystem, nil)
}

// stream upgrades the connection, sends the current-state snapshot, then
// forwards topic events until the client disconnects or the subscription
// closes. The snapshot goes out after subscribing so no event is lost in
// between; clients must tolerate one duplicate frame.
func (h *WebSocketHandler) stream(w http.ResponseWriter, r *http.Request, topic string, snapshot *WSMessage) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("WebSocket upgrade failed")
		return
	}

	sub := h.events.Subscribe(topic)
	defer sub.Close()
	defer conn.Close()

	h.logger.Debug().
		Str("topic", topic).
		Str("remote_addr", r.RemoteAddr).
		Msg("WebSocket client connected")

	// Reader goroutine: we never expect client frames, but reading is what
	// surfaces the close handshake.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if snapshot != nil {
		conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
		if err := conn.WriteJSON(*snapshot); err != nil {
			h.logger.Debug().Err(err).Str("topic", topic).Msg("WebSocket snapshot write failed")
			return
		}
	}

	limiter := rate.NewLimiter(rate.Every(h.progressInterval), 1)

	for {
		select {
		case <-closed:
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if h.throttleable(ev) && !limiter.Allow() {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(h.writeTimeout))
			if err := conn.WriteJSON(WSMessage{Type: ev.Type, Payload: ev.Payload}); err != nil {
				h.logger.Debug().
					Err(err).
					Str("topic", topic).
					Msg("WebSocket write failed, dropping client")
				return
			}
		}
	}
}

// throttleable reports whether a frame may be rate limited away. Only
// in-flight progress counts; state changes and terminal frames always ship.
func (h *WebSocketHandler) throttleable(ev interfaces.Event) bool {
	if ev.Type != models.EventJobProgress {
		return false
	}
	update, ok := ev.Payload.(models.ProgressUpdate)
	if !ok {
		return false
	}
	return update.Status == models.JobRunning && update.ProgressPercent > 0 && update.ProgressPercent < 100
}

// lastPathSegment returns the final non-empty segment of the path.
func lastPathSegment(path string) string {
	path = strings.TrimSuffix(path, "/")
	if idx := strings.LastIndex(path, "/"); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

package netapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rgould/conductor/internal/models"
	"github.com/rgould/conductor/internal/queue"
	"gorm.io/gorm"
)

type pushRequest struct {
	Source    string         `json:"source"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload"`
	ProjectID string         `json:"project_id"`
	Priority  int            `json:"priority"`
}

// handlePushEvent queues an event and returns immediately. Duplicates are
// reported with created=false, never as an error.
func handlePushEvent(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req pushRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Source == "" {
			req.Source = "http"
		}
		if req.Payload == nil {
			req.Payload = map[string]any{}
		}
		id, created, err := queue.Push(gdb, queue.Envelope{
			Source:    req.Source,
			Type:      req.Type,
			Payload:   req.Payload,
			ProjectID: req.ProjectID,
			Priority:  req.Priority,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"event_id": id, "created": created})
	}
}

func handleGetEvent(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		ev, err := queue.Get(gdb, c.Param("id"))
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, ev)
	}
}

func handleQueueStats(gdb *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats, err := queue.Stats(gdb)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, stats)
	}
}

type chatRequest struct {
	Message   string `json:"message"`
	ProjectID string `json:"project_id"`
}

// handleChat pushes a message event and blocks until the dispatch loop
// carries it to a terminal state or the request timeout fires. Dedup means
// a repeated message within the hour waits on the original event.
func handleChat(opts StartOpts) gin.HandlerFunc {
	timeout := time.Duration(opts.Config.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return func(c *gin.Context) {
		var req chatRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Message == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "message is required"})
			return
		}
		if opts.Waiters == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "dispatch loop not running"})
			return
		}

		id, _, err := queue.Push(opts.DB, queue.Envelope{
			Source:    "http",
			Type:      "message",
			Payload:   map[string]any{"message": req.Message},
			ProjectID: req.ProjectID,
			Priority:  3,
		})
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ch := opts.Waiters.Wait(id)
		defer opts.Waiters.Discard(id, ch)

		// The event may already be terminal: a duplicate of one processed
		// earlier this hour, or processed between push and registration.
		if ev, err := queue.Get(opts.DB, id); err == nil && terminal(ev.Status) {
			c.JSON(http.StatusOK, chatResponse(id, ev.Status, responseFor(opts.DB, id), ev.Reason))
			return
		}

		select {
		case out := <-ch:
			c.JSON(http.StatusOK, chatResponse(id, out.Status, out.Response, out.Reason))
		case <-time.After(timeout):
			c.JSON(http.StatusGatewayTimeout, gin.H{"event_id": id, "error": "timed out waiting for processing"})
		case <-c.Request.Context().Done():
		}
	}
}

func terminal(status string) bool {
	return status == models.EventDone || status == models.EventFailed
}

func chatResponse(eventID, status, response, reason string) gin.H {
	h := gin.H{"event_id": eventID, "status": status, "response": response}
	if reason != "" {
		h["reason"] = reason
	}
	return h
}

// responseFor recovers the agent response for an already-processed event
// from its invocation row.
func responseFor(gdb *gorm.DB, eventID string) string {
	var inv models.Invocation
	result := gdb.Where("event_id = ?", eventID).
		Order("started_at DESC").Limit(1).Find(&inv)
	if result.Error != nil || result.RowsAffected == 0 {
		return ""
	}
	return inv.Response
}

package notifications

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"clinic-booking/internal/app/http/middleware"
	"clinic-booking/internal/notify"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

type Subscriber interface {
	Subscribe() (*notify.Subscription, error)
}

type Handler struct {
	bus       Subscriber
	heartbeat time.Duration
	log       zerolog.Logger
}

func NewHandler(bus Subscriber, heartbeat time.Duration, log zerolog.Logger) *Handler {
	if heartbeat <= 0 {
		heartbeat = 25 * time.Second
	}
	return &Handler{bus: bus, heartbeat: heartbeat, log: log.With().Str("component", "sse").Logger()}
}

// Stream keeps the connection open and writes every visible bus event as an
// SSE data frame. It ends when the client goes away or the bus closes.
func (h *Handler) Stream(c *gin.Context) {
	sub, err := h.bus.Subscribe()
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, notify.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": "Notification stream unavailable"})
		return
	}
	defer sub.Close()

	scope := middleware.ScopeFrom(c)
	log := h.log.With().Str("subscriber", sub.ID).Str("tenant_id", scope.TenantID).Logger()
	log.Debug().Msg("stream opened")

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.Writer.WriteHeaderNow()
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
			_, err := io.WriteString(w, ": ping\n\n")
			return err == nil
		case evt, ok := <-sub.Events():
			if !ok {
				log.Debug().Msg("stream closed by bus")
				return false
			}
			if !evt.VisibleTo(scope) {
				return true
			}
			data, err := json.Marshal(evt)
			if err != nil {
				log.Warn().Err(err).Str("type", evt.Type).Msg("could not encode event")
				return true
			}
			c.Render(-1, sse.Event{Data: string(data)})
			return true
		}
	})
	log.Debug().Msg("stream ended")
}

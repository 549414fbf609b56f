package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/firewatch/internal/common"
	"github.com/ternarybob/firewatch/internal/interfaces"
	"github.com/ternarybob/firewatch/internal/models"
)

// WebSocketChannel implements interfaces.LiveChannel over a websocket
// subscription to the backend's per-job updates endpoint. One channel
// instance serves one subscription; the manager creates a fresh instance
// per tracking session.
type WebSocketChannel struct {
	wsBaseURL string
	apiKey    string
	logger    arbor.ILogger

	mu      sync.Mutex
	conn    *websocket.Conn
	signals chan interfaces.Signal
	opened  bool
	closed  bool
}

// updateFrame is the wire shape of one push event. The status field is an
// advisory hint; consumers re-fetch authoritative state regardless.
type updateFrame struct {
	Type   string `json:"type"`
	JobID  string `json:"job_id,omitempty"`
	Status string `json:"status,omitempty"`
}

// NewWebSocketChannel creates a LiveChannel backed by the backend's
// websocket updates endpoint.
func NewWebSocketChannel(config *common.BackendConfig, logger arbor.ILogger) *WebSocketChannel {
	return &WebSocketChannel{
		wsBaseURL: config.GetWSURL(),
		apiKey:    config.APIKey,
		logger:    logger,
	}
}

// Open dials the subscription and starts the read loop. The returned channel
// carries coalesced "maybe changed" signals and is closed when the
// connection errors or Close is called.
func (c *WebSocketChannel) Open(ctx context.Context, jobID string) (<-chan interfaces.Signal, error) {
	if jobID == "" {
		return nil, fmt.Errorf("job id is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.opened {
		return nil, fmt.Errorf("channel already opened for job %s", jobID)
	}
	if c.closed {
		return nil, fmt.Errorf("channel is closed")
	}

	endpoint := fmt.Sprintf("%s/v1/jobs/%s/updates", c.wsBaseURL, url.PathEscape(jobID))
	if c.apiKey != "" {
		query := url.Values{}
		query.Set("token", c.apiKey)
		endpoint += "?" + query.Encode()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open live channel for job %s: %w", jobID, err)
	}

	c.conn = conn
	c.opened = true

	// Capacity 1: signals are idempotent "maybe changed" markers, so a
	// pending signal absorbs any number of further frames.
	c.signals = make(chan interfaces.Signal, 1)

	c.logger.Debug().Str("job_id", jobID).Msg("Live channel opened")

	common.SafeGo(c.logger, "channelReadLoop", func() {
		c.readLoop(jobID, conn, c.signals)
	})

	return c.signals, nil
}

// readLoop reads frames until the connection dies, translating each frame
// into a coalesced signal. It is the sole writer and closer of the signal
// channel.
func (c *WebSocketChannel) readLoop(jobID string, conn *websocket.Conn, signals chan interfaces.Signal) {
	defer close(signals)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn().Err(err).Str("job_id", jobID).Msg("Live channel read failed")
			} else {
				c.logger.Debug().Str("job_id", jobID).Msg("Live channel closed")
			}
			return
		}

		signal := interfaces.Signal{JobID: jobID}

		// Malformed payloads are still a valid "maybe changed" signal; the
		// consumer re-fetches authoritative state either way.
		var frame updateFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.logger.Debug().Str("job_id", jobID).Msg("Ignoring malformed channel payload")
		} else if frame.Status != "" {
			signal.StatusHint = models.JobStatus(frame.Status)
		}

		// Coalescing send: drop when a signal is already pending
		select {
		case signals <- signal:
		default:
		}
	}
}

// Close tears down the subscription. Idempotent. The read loop observes the
// closed connection and closes the signal channel on its way out.
func (c *WebSocketChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn != nil {
		// Best-effort close frame, then drop the connection
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return c.conn.Close()
	}

	return nil
}

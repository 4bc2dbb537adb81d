package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	stdhttp "net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/meetrelay/internal/config"
	"github.com/vovakirdan/meetrelay/internal/core"
	"github.com/vovakirdan/meetrelay/internal/utils"
)

var errBinaryMessage = errors.New("binary message")

// WSHandler upgrades HTTP connections to meeting signaling sockets and
// bridges them to the relay.
type WSHandler struct {
	relay *core.Relay
	cfg   *config.Config
	log   *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler.
func NewWSHandler(relay *core.Relay, cfg *config.Config, logger *zerolog.Logger) *WSHandler {
	return &WSHandler{relay: relay, cfg: cfg, log: logger}
}

// ServeHTTP upgrades the request. When auth is enabled the verified user id
// is attached to the connection's log lines.
func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	authUserID, _ := UserIDFromContext(r.Context())
	h.serve(w, r, authUserID)
}

func (h *WSHandler) serve(w stdhttp.ResponseWriter, r *stdhttp.Request, authUserID int64) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.cfg.AllowedOrigins,
	})
	if err != nil {
		h.log.Error().Err(err).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()

	if h.cfg.MaxMessageBytes > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageBytes)
	}

	client := newWSConn(utils.NewID(), conn, h.cfg.SendQueueSize, h.cfg.WriteTimeout)
	logger := h.log.With().Str("conn_id", client.ID()).Logger()
	if authUserID != 0 {
		logger = logger.With().Int64("auth_user_id", authUserID).Logger()
	}
	logger.Debug().Str("remote", r.RemoteAddr).Msg("meeting socket opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	loops := 2
	errCh := make(chan error, 3)
	go func() {
		errCh <- h.readLoop(ctx, client, &logger)
	}()
	go func() {
		errCh <- client.writeLoop(ctx)
	}()
	if h.cfg.PingInterval > 0 {
		loops++
		go func() {
			errCh <- h.pingLoop(ctx, client)
		}()
	}

	// Disconnect runs only after every loop, the reader included, has
	// returned, so no message from this connection follows it.
	err = <-errCh
	client.markClosed()
	cancel()
	for i := 1; i < loops; i++ {
		<-errCh
	}
	h.relay.Disconnect(client.ID())

	status, reason, err := closeStatus(err)
	if err != nil {
		logger.Warn().Err(err).Msg("ws connection closed with error")
	} else {
		logger.Debug().Msg("meeting socket closed")
	}
	conn.Close(status, reason)
}

func (h *WSHandler) readLoop(ctx context.Context, client *wsConn, logger *zerolog.Logger) error {
	limiter := newRateLimiter(h.cfg.RateLimitPerSecond, h.cfg.RateLimitBurst)
	for {
		typ, data, err := client.conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			return errBinaryMessage
		}
		if !limiter.allow() {
			logger.Warn().Int("size", len(data)).Msg("rate limit exceeded, dropping message")
			continue
		}
		h.relay.HandleMessage(client, data)
	}
}

// pingLoop evicts connections whose peer stopped answering pings. Without it
// a half-open socket would hold its room entry forever.
func (h *WSHandler) pingLoop(ctx context.Context, client *wsConn) error {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			timeout := h.cfg.PingTimeout
			if timeout <= 0 {
				timeout = h.cfg.PingInterval
			}
			pingCtx, cancel := context.WithTimeout(ctx, timeout)
			err := client.conn.Ping(pingCtx)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return fmt.Errorf("keepalive: %w", err)
			}
		}
	}
}

// closeStatus maps the error that ended a connection to a close frame.
// The returned error is nil for ordinary closures.
func closeStatus(err error) (websocket.StatusCode, string, error) {
	switch {
	case err == nil, errors.Is(err, context.Canceled), errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing", nil
	case errors.Is(err, errBinaryMessage):
		return websocket.StatusUnsupportedData, "text messages only", nil
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return websocket.StatusNormalClosure, "closing", nil
	case websocket.StatusMessageTooBig:
		return websocket.StatusMessageTooBig, "message too large", err
	}
	return websocket.StatusInternalError, "internal error", err
}

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/speecher/stt-engine/internal/config"
	"github.com/speecher/stt-engine/internal/metrics"
	"github.com/speecher/stt-engine/internal/stream"
)

// StreamHandler bridges websocket connections to streaming sessions. Binary
// frames carry audio chunks; text frames are JSON control messages, of which
// "stop" ends the stream. Session events go back as JSON text frames.
type StreamHandler struct {
	recognizer      stream.Recognizer
	cfg             config.StreamConfig
	defaultLanguage string
	upgrader        websocket.Upgrader
	active          atomic.Int64
	log             zerolog.Logger
}

func NewStreamHandler(recognizer stream.Recognizer, cfg config.StreamConfig, defaultLanguage string, log zerolog.Logger) *StreamHandler {
	return &StreamHandler{
		recognizer:      recognizer,
		cfg:             cfg,
		defaultLanguage: defaultLanguage,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.MaxChunkBytes,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		log: log.With().Str("handler", "stream").Logger(),
	}
}

// ActiveCount returns the number of open sessions, for the metrics collector.
func (h *StreamHandler) ActiveCount() int {
	return int(h.active.Load())
}

// Serve handles GET /api/v1/stream. Auth has already happened in middleware,
// so the session starts authenticated.
func (h *StreamHandler) Serve(w http.ResponseWriter, r *http.Request) {
	language := r.URL.Query().Get("language")
	if language == "" {
		language = h.defaultLanguage
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	sess := stream.NewSession(uuid.New().String(), language, h.recognizer, h.cfg, h.log)
	sess.Authenticate()

	metrics.StreamSessionsTotal.Inc()
	h.active.Add(1)
	defer h.active.Add(-1)

	log := h.log.With().Str("session_id", sess.ID).Logger()
	log.Info().Str("language", language).Msg("stream session opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sess.Run(ctx)

	// Writer: drain session events to the socket until the session ends,
	// pinging periodically so half-open connections get detected.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		heartbeat := time.NewTicker(15 * time.Second)
		defer heartbeat.Stop()
		for {
			select {
			case ev, ok := <-sess.Events():
				if !ok {
					return
				}
				if err := conn.WriteJSON(ev); err != nil {
					log.Debug().Err(err).Msg("event write failed")
					cancel()
					return
				}
			case <-heartbeat.C:
				deadline := time.Now().Add(5 * time.Second)
				if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Reader: feed audio in until the client finalizes or disconnects.
	conn.SetReadLimit(int64(h.cfg.MaxChunkBytes) + 1024)
	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			// Abrupt disconnect: nobody is listening for a final result.
			cancel()
			break
		}
		switch msgType {
		case websocket.BinaryMessage:
			metrics.StreamChunksTotal.Inc()
			if err := sess.Push(data); err != nil {
				log.Debug().Err(err).Msg("chunk dropped")
			}
		case websocket.TextMessage:
			var ctrl struct {
				Type string `json:"type"`
			}
			if err := json.Unmarshal(data, &ctrl); err != nil {
				log.Debug().Msg("unparseable control frame, treating as stop")
				sess.Finalize()
				continue
			}
			switch ctrl.Type {
			case "heartbeat":
				// Receipt alone proves the client is alive.
			case "stop", "":
				sess.Finalize()
			default:
				log.Debug().Str("type", ctrl.Type).Msg("ignoring control frame")
			}
		}
	}

	sess.Finalize()
	<-writerDone
	conn.Close()
	log.Info().Msg("stream session closed")
}

package api

import (
	"bytes"
	"context"
	"net/http"
	"time"

	"fraud-scoring/internal/dataset"
	"fraud-scoring/internal/ml"
	"fraud-scoring/internal/training"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Frame types pushed on the training stream.
const (
	FrameLog    = "log"
	FrameResult = "result"
	FrameError  = "error"
)

// StreamFrame is one message of the training stream. The server sends a log
// frame per training log entry, then exactly one result or error frame.
type StreamFrame struct {
	Type   string             `json:"type"`
	Log    *training.LogEntry `json:"log,omitempty"`
	Result *training.Result   `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
	Status int                `json:"status,omitempty"`
}

const (
	streamWriteWait = 10 * time.Second
	streamReadWait  = 60 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleTrainStream trains from a CSV document sent as the first websocket
// message and streams the training log while the run progresses. Closing the
// connection cancels the run before the model is registered.
func (s *Server) handleTrainStream(w http.ResponseWriter, r *http.Request) {
	tenant, err := ml.ValidateTenantID(r.URL.Query().Get("client_id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Msg("Training stream upgrade failed")
		return
	}
	defer conn.Close()

	if s.svc.Metrics != nil {
		s.svc.Metrics.StreamsAdd(1)
		defer s.svc.Metrics.StreamsAdd(-1)
	}

	if s.opts.MaxUploadBytes > 0 {
		conn.SetReadLimit(s.opts.MaxUploadBytes)
	}
	conn.SetReadDeadline(time.Now().Add(streamReadWait))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		log.Warn().Err(err).Str("tenant", tenant).Msg("Training stream closed before a dataset was received")
		return
	}

	ds, err := dataset.Parse(bytes.NewReader(payload))
	if err != nil {
		s.sendStreamError(conn, err)
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadDeadline(time.Time{})
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	log.Info().Str("tenant", tenant).Int("rows", ds.Len()).Msg("Streaming training run started")
	res, err := s.svc.Trainer.Train(ctx, tenant, ds, func(entry training.LogEntry) {
		sendFrame(conn, StreamFrame{Type: FrameLog, Log: &entry})
	})
	if err != nil {
		s.sendStreamError(conn, err)
		return
	}

	sendFrame(conn, StreamFrame{Type: FrameResult, Result: res})
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(streamWriteWait))
}

func (s *Server) sendStreamError(conn *websocket.Conn, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.countError()
		log.Error().Err(err).Int("status", status).Msg("Streaming training run failed")
	}
	sendFrame(conn, StreamFrame{Type: FrameError, Error: err.Error(), Status: status})
}

func sendFrame(conn *websocket.Conn, frame StreamFrame) {
	conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
	if err := conn.WriteJSON(frame); err != nil {
		log.Debug().Err(err).Str("type", frame.Type).Msg("Failed to send stream frame")
	}
}

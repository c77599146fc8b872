package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"strings"

	"fraud-scoring/internal/api"
	"fraud-scoring/internal/common"
	"fraud-scoring/internal/training"

	"github.com/gorilla/websocket"
)

// TrainStream trains the tenant's model over the websocket endpoint, handing
// every training log entry to observe as it arrives. observe may be nil.
// Canceling ctx closes the connection, which aborts the run on the server.
func (c *Client) TrainStream(ctx context.Context, tenant string, csv []byte, observe training.Observer) (*training.Result, error) {
	target, err := c.streamURL(tenant)
	if err != nil {
		return nil, err
	}

	conn, resp, err := c.dialer.DialContext(ctx, target, nil)
	if err != nil {
		if resp != nil && resp.StatusCode != 0 {
			var failure errorBody
			body, _ := io.ReadAll(resp.Body)
			_ = json.Unmarshal(body, &failure)
			return nil, newAPIError(resp.StatusCode, failure.Error, common.ErrNoModel)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	if err := conn.WriteMessage(websocket.TextMessage, csv); err != nil {
		return nil, c.streamErr(ctx, fmt.Errorf("send dataset: %w", err))
	}

	for {
		var frame api.StreamFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return nil, c.streamErr(ctx, fmt.Errorf("read frame: %w", err))
		}

		switch frame.Type {
		case api.FrameLog:
			if observe != nil && frame.Log != nil {
				observe(*frame.Log)
			}
		case api.FrameResult:
			if frame.Result == nil {
				return nil, fmt.Errorf("result frame without a result")
			}
			conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return frame.Result, nil
		case api.FrameError:
			return nil, newAPIError(frame.Status, frame.Error, common.ErrNoModel)
		default:
			return nil, fmt.Errorf("unexpected frame type %q", frame.Type)
		}
	}
}

// TrainStreamFrom reads csv fully and calls TrainStream.
func (c *Client) TrainStreamFrom(ctx context.Context, tenant string, csv io.Reader, observe training.Observer) (*training.Result, error) {
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(csv); err != nil {
		return nil, fmt.Errorf("read dataset: %w", err)
	}
	return c.TrainStream(ctx, tenant, buf.Bytes(), observe)
}

func (c *Client) streamURL(tenant string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(c.base, "/") + "/train-model/stream")
	if err != nil {
		return "", fmt.Errorf("invalid service URL %q: %w", c.base, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	u.RawQuery = url.Values{"client_id": {tenant}}.Encode()
	return u.String(), nil
}

func (c *Client) streamErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"Helix/internal/stream"
)

const streamPath = "/chat/stream"

// OpenStream returns an opener for a chat completion stream, using the
// websocket transport when one is configured.
func (c *Client) OpenStream(req StreamRequest) stream.Opener {
	if c.wsURL != "" {
		return c.OpenStreamWS(req)
	}
	return c.OpenStreamHTTP(req)
}

// OpenStreamHTTP posts req to /chat/stream and hands the response body to
// the consumer unread.
func (c *Client) OpenStreamHTTP(req StreamRequest) stream.Opener {
	return func(ctx context.Context) (stream.Source, error) {
		ctx, span := c.tracer.Start(ctx, "backend "+streamPath,
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("http.route", streamPath),
				attribute.String("helix.model", req.Model),
			))
		defer span.End()

		start := time.Now()

		jsonData, err := json.Marshal(req)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+streamPath, bytes.NewBuffer(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "text/event-stream")

		resp, err := c.streamClient.Do(httpReq)
		if err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("failed to send request: %w", err)
		}

		// Time to first byte; the body is timed by the consumer.
		c.recordDuration(ctx, streamPath, start, resp.StatusCode)
		span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			defer resp.Body.Close()
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
			return nil, newAPIError(streamPath, resp.StatusCode, body)
		}

		c.logger.Debug("chat stream opened", "model", req.Model, "messages", len(req.Messages))
		return stream.NewReaderSource(resp.Body, c.readBuffer), nil
	}
}

// OpenStreamWS dials the websocket endpoint and sends req as the first
// message. The server answers with the same `data:` records, split across
// messages however it likes, then closes normally.
func (c *Client) OpenStreamWS(req StreamRequest) stream.Opener {
	return func(ctx context.Context) (stream.Source, error) {
		ctx, span := c.tracer.Start(ctx, "backend websocket stream",
			trace.WithSpanKind(trace.SpanKindClient),
			trace.WithAttributes(
				attribute.String("ws.url", c.wsURL),
				attribute.String("helix.model", req.Model),
			))
		defer span.End()

		conn, resp, err := c.dialer.DialContext(ctx, c.wsURL, nil)
		if err != nil {
			span.RecordError(err)
			if resp != nil {
				return nil, fmt.Errorf("failed to connect to WebSocket (status %d): %w", resp.StatusCode, err)
			}
			return nil, fmt.Errorf("failed to connect to WebSocket: %w", err)
		}

		if err := conn.WriteJSON(req); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to send stream request: %w", err)
		}

		c.logger.Debug("chat stream opened", "transport", "websocket", "model", req.Model, "messages", len(req.Messages))
		return stream.NewWebSocketSource(conn), nil
	}
}

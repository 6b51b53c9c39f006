package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"forkful/internal/extraction"
	"forkful/internal/logging"
)

// Stream is one logical server-push subscription for a single job. Events
// carry the same payload shape as the one-shot fetch. The stream ends by
// closing Events and delivering exactly one value on Err: nil when the
// subscriber closed the stream, the transport error otherwise.
type Stream struct {
	events chan extraction.Payload
	errs   chan error
	cancel context.CancelFunc
}

// Events returns the payload channel. It is closed when the stream ends.
func (s *Stream) Events() <-chan extraction.Payload { return s.events }

// Err returns the channel carrying the stream's terminal error.
func (s *Stream) Err() <-chan error { return s.errs }

// Close tears down the subscription. Safe to call more than once.
func (s *Stream) Close() { s.cancel() }

// StreamJob opens a server-sent-events subscription for one job.
func (c *Client) StreamJob(ctx context.Context, id string) (*Stream, error) {
	streamCtx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.baseURL+"/v1/extractions/"+url.PathEscape(id)+"/events", nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("build stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	c.setCommonHeaders(req)

	// Streams stay open for the life of the job; the client-wide request
	// timeout must not apply.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open stream for job %s: %w", id, err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		return nil, readAPIError(resp)
	}

	stream := &Stream{
		events: make(chan extraction.Payload),
		errs:   make(chan error, 1),
		cancel: cancel,
	}
	go c.consume(streamCtx, id, resp.Body, stream)
	return stream, nil
}

func (c *Client) consume(ctx context.Context, id string, body io.ReadCloser, stream *Stream) {
	defer body.Close()
	defer close(stream.events)

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 16*1024), 256*1024)

	var data strings.Builder
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if data.Len() == 0 {
				continue
			}
			var payload extraction.Payload
			if err := json.Unmarshal([]byte(data.String()), &payload); err != nil {
				c.logger.Warn("dropping malformed stream event",
					logging.String(logging.FieldJobID, id),
					logging.Error(err))
				data.Reset()
				continue
			}
			data.Reset()
			select {
			case stream.events <- payload:
			case <-ctx.Done():
				stream.errs <- nil
				return
			}
		case strings.HasPrefix(line, "data:"):
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		default:
			// event:, id:, retry: and comment lines are not used by this feed.
		}
	}

	select {
	case <-ctx.Done():
		stream.errs <- nil
	default:
		err := scanner.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		stream.errs <- err
	}
}

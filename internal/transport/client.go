package transport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"

	"screenrelay/internal/domain"
)

const (
	defaultURL      = "http://127.0.0.1:5000/"
	maxLineBytes    = 1 << 20
	maxErrorExcerpt = 512
)

// Client posts one message + image per call to the inference server.
type Client struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

type ClientConfig struct {
	URL     string
	Timeout time.Duration // 0 = unbounded
	Logger  *slog.Logger
}

func NewClient(cfg ClientConfig) *Client {
	return NewClientWithHTTP(cfg, SharedHTTPClient(cfg.Timeout))
}

// NewClientWithHTTP is NewClient with a caller-supplied http.Client (tests).
func NewClientWithHTTP(cfg ClientConfig, client *http.Client) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if client == nil {
		client = &http.Client{}
	}
	return &Client{url: cfg.URL, client: client, logger: cfg.Logger}
}

func (c *Client) URL() string { return c.url }

// Send posts req and returns the response body as a line stream.
//
// onSent (may be nil) runs exactly once, after the request has been fully
// written and before the response is awaited. A server may answer before it
// has read the whole body; onSent then runs once the response arrives, still
// before Send returns, so it always precedes the first line. It does not run
// when the request never made it onto the wire.
//
// There is no retry: any failure, including a non-2xx status, abandons the
// send with domain.ErrTransportFailed.
func (c *Client) Send(ctx context.Context, req domain.OutgoingRequest, onSent func()) (*LineStream, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", domain.ErrTransportFailed, err)
	}

	var once sync.Once
	trace := &httptrace.ClientTrace{
		WroteRequest: func(info httptrace.WroteRequestInfo) {
			if info.Err != nil || onSent == nil {
				return
			}
			once.Do(onSent)
		},
	}
	ctx = httptrace.WithClientTrace(ctx, trace)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: new request: %v", domain.ErrTransportFailed, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	c.logger.Debug("sending request", "url", c.url, "message_len", len(req.Message), "image_len", len(req.Image))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrTransportFailed, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorExcerpt))
		resp.Body.Close()
		return nil, fmt.Errorf("%w: server returned %d: %s", domain.ErrTransportFailed, resp.StatusCode, bytes.TrimSpace(excerpt))
	}

	if onSent != nil {
		once.Do(onSent)
	}
	return newLineStream(resp.Body), nil
}

// Healthy reports whether the server endpoint answers HTTP at all. Any status
// counts: the endpoint only accepts POST, so a GET usually gets 405.
func (c *Client) Healthy(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("inference server not reachable: %w", err)
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorExcerpt))
	resp.Body.Close()
	return resp.StatusCode, nil
}

// LineStream yields the response body one newline-delimited chunk at a time.
// It is not safe for concurrent use.
type LineStream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	once    sync.Once
}

func newLineStream(body io.ReadCloser) *LineStream {
	s := bufio.NewScanner(body)
	s.Buffer(make([]byte, 0, 4096), maxLineBytes)
	return &LineStream{body: body, scanner: s}
}

// Next returns the next line without its terminator. ok is false at the end
// of the stream or after a read failure; check Err to tell them apart.
func (l *LineStream) Next() (line string, ok bool) {
	if !l.scanner.Scan() {
		return "", false
	}
	return l.scanner.Text(), true
}

// Err returns the read failure that ended the stream, if any.
func (l *LineStream) Err() error {
	if err := l.scanner.Err(); err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrTransportFailed, err)
	}
	return nil
}

func (l *LineStream) Close() error {
	var err error
	l.once.Do(func() { err = l.body.Close() })
	return err
}

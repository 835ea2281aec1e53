// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2026 Kaz Walker, Thermoquad

package bridge

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// ErrConnectionClosed is returned when reading from a closed bridge connection
var ErrConnectionClosed = errors.New("bridge connection closed")

// DialOptions configures Dial
type DialOptions struct {
	Username      string
	Password      string
	SkipSSLVerify bool
}

// Client reads frames from a bridge server
type Client struct {
	conn    *websocket.Conn
	session string
	closed  bool
}

// Dial connects to the /ws endpoint of a bridge server and waits for its
// hello frame
func Dial(ctx context.Context, wsURL string, opts DialOptions) (*Client, error) {
	// Parse and validate URL
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}

	// Validate scheme
	switch u.Scheme {
	case "ws", "wss":
		// OK
	default:
		return nil, fmt.Errorf("unsupported URL scheme: %s (use ws:// or wss://)", u.Scheme)
	}

	// Create dialer with timeout
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	// Configure TLS for wss://
	if u.Scheme == "wss" {
		dialer.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.SkipSSLVerify,
		}
	}

	// Build HTTP headers with Basic auth
	headers := http.Header{}
	if opts.Username != "" && opts.Password != "" {
		credentials := base64.StdEncoding.EncodeToString([]byte(opts.Username + ":" + opts.Password))
		headers.Set("Authorization", "Basic "+credentials)
	}

	conn, resp, err := dialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("WebSocket connection failed (HTTP %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("WebSocket connection failed: %w", err)
	}

	c := &Client{conn: conn}
	hello, err := c.Next()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("no hello from bridge: %w", err)
	}
	if hello.Type != FrameHello {
		conn.Close()
		return nil, fmt.Errorf("expected hello from bridge, got %q", hello.Type)
	}
	c.session = hello.Session
	return c, nil
}

// Session returns the id the server assigned to this connection
func (c *Client) Session() string {
	return c.session
}

// Next blocks until the next frame arrives
func (c *Client) Next() (Frame, error) {
	// Return immediately if connection is known to be closed
	if c.closed {
		return Frame{}, ErrConnectionClosed
	}

	messageType, data, err := c.conn.ReadMessage()
	if err != nil {
		// Mark connection as closed to prevent further read attempts
		c.closed = true
		return Frame{}, err
	}
	return DecodeFrame(messageType, data)
}

// Close closes the connection
func (c *Client) Close() error {
	c.closed = true
	return c.conn.Close()
}

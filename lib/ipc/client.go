// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package ipc

import (
	"context"
	"fmt"
	"io"
	"net"
	"strings"
	"time"

	"github.com/bureau-foundation/sysmond/lib/codec"
)

const (
	dialTimeout = 5 * time.Second

	// responseReadTimeout covers the server's read and write timeouts
	// plus handler time.
	responseReadTimeout = 45 * time.Second

	// maxResponseSize bounds one reply. A process list on a busy
	// machine runs to a few megabytes.
	maxResponseSize = 64 * 1024 * 1024
)

// Error is returned by Call when the server replies with ok=false.
type Error struct {
	Action  string
	Code    string
	Message string
}

func (e *Error) Error() string {
	if strings.HasPrefix(e.Message, e.Action+": ") {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Action, e.Message)
}

// Is matches another *Error with the same Code, so callers can test
// errors.Is(err, &ipc.Error{Code: ipc.CodeNotFound}).
func (e *Error) Is(target error) bool {
	other, ok := target.(*Error)
	return ok && other.Code == e.Code
}

// Client sends requests to the daemon socket. Each Call uses a new
// connection.
type Client struct {
	socketPath string
}

func NewClient(socketPath string) *Client {
	return &Client{socketPath: socketPath}
}

// Call sends action with the given fields and decodes the reply data
// into result. fields is any CBOR-encodable struct or map, or nil; its
// "action" key is overwritten. result may be nil.
func (c *Client) Call(ctx context.Context, action string, fields any, result any) error {
	request, err := buildRequest(action, fields)
	if err != nil {
		return fmt.Errorf("encoding %q request: %w", action, err)
	}

	response, err := c.send(ctx, request)
	if err != nil {
		return fmt.Errorf("calling %q on %s: %w", action, c.socketPath, err)
	}
	if !response.OK {
		return &Error{Action: action, Code: response.Code, Message: response.Error}
	}

	if result != nil && len(response.Data) > 0 {
		if err := codec.Unmarshal(response.Data, result); err != nil {
			return fmt.Errorf("decoding response data for %q: %w", action, err)
		}
	}
	return nil
}

// buildRequest flattens fields into a map and adds the action.
func buildRequest(action string, fields any) (map[string]any, error) {
	request := make(map[string]any)
	if fields != nil {
		data, err := codec.Marshal(fields)
		if err != nil {
			return nil, err
		}
		if err := codec.Unmarshal(data, &request); err != nil {
			return nil, err
		}
	}
	request["action"] = action
	return request, nil
}

func (c *Client) send(ctx context.Context, request any) (*Response, error) {
	dialer := net.Dialer{Timeout: dialTimeout}
	conn, err := dialer.DialContext(ctx, "unix", c.socketPath)
	if err != nil {
		return nil, fmt.Errorf("connecting: %w", err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	if err := codec.NewEncoder(conn).Encode(request); err != nil {
		return nil, fmt.Errorf("writing request: %w", err)
	}
	if unixConn, ok := conn.(*net.UnixConn); ok {
		unixConn.CloseWrite()
	}

	if _, ok := ctx.Deadline(); !ok {
		conn.SetReadDeadline(time.Now().Add(responseReadTimeout))
	}
	var response Response
	if err := codec.NewDecoder(io.LimitReader(conn, maxResponseSize)).Decode(&response); err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	return &response, nil
}

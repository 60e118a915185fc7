// Package rosterapi talks to the room roster endpoints of the server.
package rosterapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dkeye/meshroom/internal/domain"
)

const defaultTimeout = 10 * time.Second

// StatusError is a non-2xx answer from the roster service.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("roster: http %d", e.Code)
	}
	return fmt.Sprintf("roster: http %d: %s", e.Code, e.Message)
}

type Client struct {
	base string
	http *http.Client
}

// New builds a client for base, e.g. http://localhost:8080. A nil hc gets a
// client with a 10s timeout.
func New(base string, hc *http.Client) *Client {
	if hc == nil {
		hc = &http.Client{Timeout: defaultTimeout}
	}
	return &Client{base: strings.TrimRight(base, "/"), http: hc}
}

func (c *Client) Status(ctx context.Context, room domain.RoomHash) (domain.RoomStatus, error) {
	var st domain.RoomStatus
	err := c.do(ctx, http.MethodGet, "/api/rooms/status/"+url.PathEscape(string(room)), nil, &st)
	return st, err
}

func (c *Client) Enter(ctx context.Context, req domain.EnterRequest) (domain.RoomStatus, error) {
	var st domain.RoomStatus
	err := c.do(ctx, http.MethodPost, "/api/rooms/enter", req, &st)
	if err == nil {
		log.Info().Str("module", "rosterapi").Str("room", string(req.RoomHash)).Int("attenders", len(st.Attenders)).Msg("entered room")
	}
	return st, err
}

func (c *Client) Exit(ctx context.Context, req domain.ExitRequest) error {
	return c.do(ctx, http.MethodPost, "/api/rooms/exit", req, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("roster %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&e)
		return &StatusError{Code: resp.StatusCode, Message: e.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("roster %s %s: decode: %w", method, path, err)
	}
	return nil
}

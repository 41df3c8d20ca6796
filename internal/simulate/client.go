package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
)

// client talks to the duel HTTP API.
type client struct {
	http *http.Client
	base string
}

func newClient(base string, hc *http.Client) *client {
	return &client{http: hc, base: base}
}

// StatusError is returned for any non-2xx answer.
type StatusError struct {
	Status int
	Code   string
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s: %s", e.Status, e.Code, e.Msg)
}

func (c *client) do(ctx context.Context, method, path string, body, out any) error {
	var rdr io.Reader = http.NoBody
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request body: %w", err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rdr)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= http.StatusMultipleChoices {
		var ae apiError
		_ = json.Unmarshal(data, &ae)
		return &StatusError{Status: resp.StatusCode, Code: ae.Code, Msg: ae.Message}
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *client) health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *client) openSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.do(ctx, http.MethodPost, "/sessions", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

func (c *client) closeSession(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/sessions/"+url.PathEscape(id), nil, nil)
}

func (c *client) duel(ctx context.Context, session string) (duel, error) {
	var d duel
	err := c.do(ctx, http.MethodGet, "/sessions/"+url.PathEscape(session)+"/duel", nil, &d)
	return d, err
}

func (c *client) next(ctx context.Context, session string) (duel, error) {
	var d duel
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(session)+"/duel/next", nil, &d)
	return d, err
}

func (c *client) vote(ctx context.Context, session, duelID, winner string) (voteResponse, error) {
	var v voteResponse
	err := c.do(ctx, http.MethodPost, "/sessions/"+url.PathEscape(session)+"/votes",
		voteRequest{DuelID: duelID, WinnerID: winner}, &v)
	return v, err
}

func (c *client) leaderboard(ctx context.Context, limit int) ([]Item, error) {
	var items []Item
	err := c.do(ctx, http.MethodGet, "/leaderboard?limit="+strconv.Itoa(limit), nil, &items)
	return items, err
}

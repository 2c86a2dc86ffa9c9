// Package backend is the HTTP client for the relay's room lifecycle API.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/pushkar-hue/teleconsult/internal/core"
	"github.com/pushkar-hue/teleconsult/internal/domain"
)

// Client implements core.RoomAPI against /api/video on the relay.
type Client struct {
	base string
	http *http.Client
	id   core.Identity
	log  zerolog.Logger
}

func NewClient(baseURL string, id core.Identity, log zerolog.Logger) *Client {
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		http: &http.Client{Timeout: 10 * time.Second},
		id:   id,
		log:  log.With().Str("module", "backend").Logger(),
	}
}

type createRoomRequest struct {
	TargetID domain.UserID `json:"target_id,omitempty"`
}

type endRoomRequest struct {
	Reason string `json:"reason,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (c *Client) CreateRoom(ctx context.Context, target domain.UserID) (core.RoomInfo, error) {
	var info core.RoomInfo
	err := c.do(ctx, http.MethodPost, "/api/video/create-room", createRoomRequest{TargetID: target}, &info)
	if err != nil {
		return core.RoomInfo{}, fmt.Errorf("%w: %v", core.ErrRoomCreationFailed, err)
	}
	return info, nil
}

func (c *Client) JoinRoom(ctx context.Context, room domain.RoomID) (core.RoomInfo, error) {
	var info core.RoomInfo
	err := c.do(ctx, http.MethodPost, "/api/video/join-room/"+string(room), nil, &info)
	if err != nil {
		return core.RoomInfo{}, err
	}
	return info, nil
}

func (c *Client) EndRoom(ctx context.Context, room domain.RoomID, reason string) error {
	return c.do(ctx, http.MethodPost, "/api/video/end-room/"+string(room), endRoomRequest{Reason: reason}, nil)
}

func (c *Client) CheckRoom(ctx context.Context, room domain.RoomID) (core.RoomStatus, error) {
	var status core.RoomStatus
	err := c.do(ctx, http.MethodGet, "/api/video/check-room/"+string(room), nil, &status)
	if err != nil {
		return core.RoomStatus{}, err
	}
	return status, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.id.AccessToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrBackendUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return c.statusError(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body) //nolint:errcheck
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) statusError(resp *http.Response) error {
	var er errorResponse
	json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&er) //nolint:errcheck
	reason := er.Error
	if reason == "" {
		reason = resp.Status
	}
	switch resp.StatusCode {
	case http.StatusNotFound, http.StatusGone:
		return core.NewCallError(core.ErrRoomNotFound, "%s", reason)
	case http.StatusConflict:
		return core.NewCallError(core.ErrRoomFull, "%s", reason)
	default:
		return fmt.Errorf("relay returned %d: %s", resp.StatusCode, reason)
	}
}

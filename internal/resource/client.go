package resource

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/staffroom/staffroom/internal/types"
)

const (
	httpClientTimeout = 30 * time.Second

	// maxResponseBytes caps response reads so a misbehaving server
	// cannot consume unbounded memory.
	maxResponseBytes = 4 * 1024 * 1024
)

// Client talks to the resource API over JSON REST with bearer auth.
// A 401 response triggers exactly one token refresh and retry; any
// further 401 is surfaced to the caller.
type Client struct {
	httpClient *http.Client
	baseURL    string
	tokens     TokenSource
}

func NewClient(baseURL string, tokens TokenSource, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: httpClientTimeout}
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		tokens:     tokens,
	}
}

func (c *Client) CreateMessage(ctx context.Context, params CreateMessageParams) (types.Message, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return types.Message{}, fmt.Errorf("marshal message: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/api/messages", body)
	if err != nil {
		return types.Message{}, &PersistFailed{Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return types.Message{}, &PersistFailed{
			StatusCode: resp.StatusCode,
			Message:    readErrorBody(resp.Body),
		}
	}

	var msg types.Message
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&msg); err != nil {
		return types.Message{}, &PersistFailed{Err: fmt.Errorf("decode message: %w", err)}
	}

	return msg, nil
}

func (c *Client) ListMessages(ctx context.Context, roomId, limit, offset int) (types.Page[types.Message], error) {
	path := "/api/messages?room=" + strconv.Itoa(roomId) +
		"&limit=" + strconv.Itoa(limit) + "&offset=" + strconv.Itoa(offset)

	var page types.Page[types.Message]
	if err := c.getJson(ctx, path, &page); err != nil {
		return types.Page[types.Message]{}, err
	}

	return page, nil
}

func (c *Client) ListRooms(ctx context.Context) (types.Page[types.Room], error) {
	var page types.Page[types.Room]
	if err := c.getJson(ctx, "/api/rooms", &page); err != nil {
		return types.Page[types.Room]{}, err
	}

	return page, nil
}

func (c *Client) GetRoom(ctx context.Context, roomId int) (types.Room, error) {
	var room types.Room
	if err := c.getJson(ctx, "/api/rooms/"+strconv.Itoa(roomId), &room); err != nil {
		return types.Room{}, err
	}

	return room, nil
}

func (c *Client) getJson(ctx context.Context, path string, v any) error {
	resp, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("resource api: %s: status %d: %s", path, resp.StatusCode, readErrorBody(resp.Body))
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(v); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}

	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("get token: %w", err)
	}

	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}

	// single refresh-and-retry on 401
	resp.Body.Close()
	token, err = c.tokens.Refresh(ctx)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", err)
	}

	return c.send(ctx, method, path, body, token)
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func readErrorBody(r io.Reader) string {
	b, err := io.ReadAll(io.LimitReader(r, 256))
	if err != nil {
		return ""
	}

	return string(b)
}

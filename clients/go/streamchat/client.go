// Package streamchat provides a client for the streamchat HTTP and feed API.
package streamchat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// DefaultURL is used when no base URL is given.
const DefaultURL = "http://localhost:8080"

// Client is a streamchat API client.
type Client struct {
	BaseURL string
	// SendKey is sent as X-Send-Key on sends when the server requires it.
	SendKey    string
	HTTPClient *http.Client
	Dialer     *websocket.Dialer
}

// NewClient creates a new streamchat client.
func NewClient(baseURL string) *Client {
	if baseURL == "" {
		baseURL = DefaultURL
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		// Sends wait for the transaction to be mined
		HTTPClient: &http.Client{Timeout: 2 * time.Minute},
		Dialer:     websocket.DefaultDialer,
	}
}

// APIError is a non-2xx response.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("streamchat error %d: %s", e.Status, e.Message)
}

// doRequest performs an HTTP request and decodes a JSON response into out.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, header http.Header, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, reader)
	if err != nil {
		return err
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		json.Unmarshal(respBody, &errResp)
		return &APIError{Status: resp.StatusCode, Message: errResp.Error}
	}

	if out == nil {
		return nil
	}
	return json.Unmarshal(respBody, out)
}

// Message is one chat message.
type Message struct {
	Timestamp  int64  `json:"timestamp"` // Unix ms
	RoomID     string `json:"roomId"`
	Content    string `json:"content"`
	SenderName string `json:"senderName"`
	Sender     string `json:"sender"`
}

// SendRequest is the request body for sending a message.
type SendRequest struct {
	Room       string `json:"room"`
	Content    string `json:"content"`
	SenderName string `json:"senderName,omitempty"`
}

// SendResponse is the response from sending a message.
type SendResponse struct {
	OK     bool   `json:"ok"`
	TxHash string `json:"txHash"`
}

// Send publishes a message. A fresh idempotency key is generated per call;
// use SendWithKey to retry safely.
func (c *Client) Send(ctx context.Context, room, content, senderName string) (*SendResponse, error) {
	return c.SendWithKey(ctx, uuid.NewString(), room, content, senderName)
}

// SendWithKey publishes a message under idemKey. Repeating a call with the
// same key returns the first transaction hash.
func (c *Client) SendWithKey(ctx context.Context, idemKey, room, content, senderName string) (*SendResponse, error) {
	header := http.Header{}
	if idemKey != "" {
		header.Set("Idempotency-Key", idemKey)
	}
	if c.SendKey != "" {
		header.Set("X-Send-Key", c.SendKey)
	}

	var resp SendResponse
	req := SendRequest{Room: room, Content: content, SenderName: senderName}
	if err := c.doRequest(ctx, http.MethodPost, "/api/send", req, header, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// MessagesResponse is the response from reading a room.
type MessagesResponse struct {
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
	Cached   bool      `json:"cached"`
}

// Messages reads the most recent messages of room, oldest first. limit <= 0
// uses the server default.
func (c *Client) Messages(ctx context.Context, room string, limit int) (*MessagesResponse, error) {
	q := url.Values{}
	q.Set("room", room)
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp MessagesResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/messages?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SendRecord is one entry of the server's send log.
type SendRecord struct {
	ID         string    `json:"id"`
	TxHash     string    `json:"tx_hash"`
	Room       string    `json:"room"`
	RoomID     string    `json:"room_id"`
	SenderName string    `json:"sender_name,omitempty"`
	Sender     string    `json:"sender"`
	Timestamp  int64     `json:"ts"`
	CreatedAt  time.Time `json:"created_at"`
}

// SendsResponse is the response from listing the send log.
type SendsResponse struct {
	Sends []SendRecord `json:"sends"`
}

// Sends lists logged sends, newest first. An empty room lists every room.
func (c *Client) Sends(ctx context.Context, room string, limit int) (*SendsResponse, error) {
	q := url.Values{}
	if room != "" {
		q.Set("room", room)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}

	var resp SendsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/sends?"+q.Encode(), nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// RoomActivity is a room's send count.
type RoomActivity struct {
	Room       string `json:"room"`
	Sends      int64  `json:"sends"`
	LastSendTS int64  `json:"last_send_ts"`
}

// StatsResponse is the response from the stats endpoint.
type StatsResponse struct {
	TotalSends   int64          `json:"total_sends"`
	TotalRooms   int64          `json:"total_rooms"`
	LastActivity string         `json:"last_activity"`
	TopRooms     []RoomActivity `json:"top_rooms"`
}

// Stats returns send statistics.
func (c *Client) Stats(ctx context.Context) (*StatsResponse, error) {
	var resp StatsResponse
	if err := c.doRequest(ctx, http.MethodGet, "/api/stats", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// HealthResponse is the response from the health endpoint.
type HealthResponse struct {
	Status    string                 `json:"status"`
	Version   string                 `json:"version"`
	Checks    map[string]interface{} `json:"checks"`
	Timestamp string                 `json:"timestamp"`
}

// Health checks server health. A degraded server answers 503, which is
// returned as an *APIError.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	if err := c.doRequest(ctx, http.MethodGet, "/health", nil, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Snapshot is one frame of the live feed: the room's full current window.
type Snapshot struct {
	Type     string    `json:"type"`
	Room     string    `json:"room"`
	Messages []Message `json:"messages"`
	Loading  bool      `json:"loading"`
	Error    string    `json:"error,omitempty"`
}

// Watch streams snapshots of room to fn until ctx is cancelled or the server
// closes the feed. A normal close returns nil.
func (c *Client) Watch(ctx context.Context, room string, fn func(Snapshot)) error {
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/ws"
	u.RawQuery = url.Values{"room": {room}}.Encode()

	conn, _, err := c.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("dial feed: %w", err)
	}
	defer conn.Close()

	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second))
			conn.Close()
		case <-stop:
		}
	}()

	for {
		var snap Snapshot
		if err := conn.ReadJSON(&snap); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		fn(snap)
	}
}

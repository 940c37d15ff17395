// Package clipclient provides a Go client for the webclip shared
// clipboard API: room fetch/post/upload calls plus the polling
// Subscription used to follow a room for changes.
package clipclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Entry mirrors the server's wire representation of one clipboard item.
type Entry struct {
	Content      string `json:"content"`
	Type         string `json:"type"`
	Timestamp    int64  `json:"timestamp"`
	OriginalName string `json:"original_name,omitempty"`
}

// Client is a webclip API client. The zero Timeout of a caller-supplied
// HTTPClient is respected; the default client times out after 30 seconds.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a client for the given server base URL.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) apiURL(action, room string) string {
	return fmt.Sprintf("%s/api/clipboard?action=%s&room=%s",
		strings.TrimRight(c.BaseURL, "/"), action, url.QueryEscape(room))
}

// Get fetches the room's current history. A room never written to returns
// an empty, non-nil slice.
func (c *Client) Get(ctx context.Context, room string) ([]Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.apiURL("get", room), nil)
	if err != nil {
		return nil, err
	}
	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	var hist []Entry
	if err := json.Unmarshal(body, &hist); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	if hist == nil {
		hist = []Entry{}
	}
	return hist, nil
}

// PostText submits a text entry to the room. Empty content is allowed.
func (c *Client) PostText(ctx context.Context, room, content string) error {
	payload, _ := json.Marshal(map[string]string{"content": content, "type": "text"})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("post", room), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

// Upload submits a binary entry. filename is the human-readable label;
// the server picks its own storage name and rejects blocked extensions.
func (c *Client) Upload(ctx context.Context, room, filename string, src io.Reader) error {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, src); err != nil {
		return fmt.Errorf("read upload source: %w", err)
	}
	if err := mw.Close(); err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL("upload", room), &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &errResp)
		if errResp.Message == "" {
			errResp.Message = http.StatusText(resp.StatusCode)
		}
		return nil, fmt.Errorf("webclip error %d: %s", resp.StatusCode, errResp.Message)
	}
	return body, nil
}

// Package api is the HTTP client for the sync server. It speaks the JSON
// API, carries the bearer session token, and maps transport and status
// failures onto the shared sentinel errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/signalnoise/cloudsync/internal/appdata"
	"github.com/signalnoise/cloudsync/internal/common"
)

// VerifyResult mirrors the server's magic-link redemption response.
type VerifyResult struct {
	SessionToken string    `json:"sessionToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Email        string    `json:"email"`
	FirstName    string    `json:"firstName"`
	Tier         string    `json:"tier"`
}

// Meta mirrors the server's sync metadata response.
type Meta struct {
	Version        int64     `json:"version"`
	LastModifiedAt time.Time `json:"lastModified"`
	LastDeviceType string    `json:"lastDevice,omitempty"`
	TaskCount      int       `json:"taskCount"`
}

// Document mirrors the server's pull response.
type Document struct {
	Data    *appdata.Data `json:"data"`
	Version int64         `json:"version"`
}

// SessionSummary mirrors one entry of the server's session listing.
type SessionSummary struct {
	Token        string    `json:"token"`
	DeviceType   string    `json:"deviceType"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActiveAt time.Time `json:"lastActiveAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

// PushRequest is the body of a sync push.
type PushRequest struct {
	Data        *appdata.Data `json:"data"`
	BaseVersion *int64        `json:"baseVersion,omitempty"`
	Force       bool          `json:"force,omitempty"`
	Initial     bool          `json:"initial,omitempty"`
}

// Client talks to one sync server. It is safe for concurrent use once the
// token is set.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
	}
}

// SetToken installs the bearer credential used on authenticated routes.
func (c *Client) SetToken(token string) { c.token = token }

// Token returns the current bearer credential, for local persistence.
func (c *Client) Token() string { return c.token }

// RequestMagicLink asks the server to email a login link.
func (c *Client) RequestMagicLink(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/magic-link", map[string]string{"email": email}, nil)
}

// Verify redeems a magic token for a session and installs the session token
// on the client. deviceID identifies this installation to the server.
func (c *Client) Verify(ctx context.Context, token, deviceID string) (*VerifyResult, error) {
	var r VerifyResult
	body := map[string]string{"token": token, "deviceId": deviceID}
	if err := c.do(ctx, http.MethodPost, "/auth/verify", body, &r); err != nil {
		return nil, err
	}
	c.token = r.SessionToken
	return &r, nil
}

// Ping probes server reachability using the unauthenticated health route.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/health", nil, nil)
}

// Sessions lists the account's active device sessions.
func (c *Client) Sessions(ctx context.Context) ([]SessionSummary, error) {
	var list []SessionSummary
	if err := c.do(ctx, http.MethodGet, "/auth/sessions", nil, &list); err != nil {
		return nil, err
	}
	return list, nil
}

// Logout revokes every session of the account, this device's included.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, http.MethodPost, "/auth/logout", nil, nil); err != nil {
		return err
	}
	c.token = ""
	return nil
}

// SyncMeta fetches the cheap change probe.
func (c *Client) SyncMeta(ctx context.Context) (*Meta, error) {
	var m Meta
	if err := c.do(ctx, http.MethodGet, "/sync/meta", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Pull fetches the full document.
func (c *Client) Pull(ctx context.Context) (*Document, error) {
	var d Document
	if err := c.do(ctx, http.MethodGet, "/sync", nil, &d); err != nil {
		return nil, err
	}
	return &d, nil
}

// Push uploads the full document and returns the new metadata.
func (c *Client) Push(ctx context.Context, req PushRequest) (*Meta, error) {
	var m Meta
	if err := c.do(ctx, http.MethodPost, "/sync", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", common.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := statusError(resp); err != nil {
		return err
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func statusError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&body)

	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", common.ErrUnauthorized, body.Error)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", common.ErrNotFound, body.Error)
	case http.StatusConflict:
		if body.Error == common.ErrEmptyOverwrite.Error() {
			return common.ErrEmptyOverwrite
		}
		return common.ErrVersionConflict
	default:
		return fmt.Errorf("server returned %d: %s", resp.StatusCode, body.Error)
	}
}

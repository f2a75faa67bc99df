// Package remote is the HTTP client for the authoritative directory and
// attendance store.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"miqaatsync/internal/model"
)

// Client calls the authoritative API.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Token   string
}

// New creates a client with a short timeout; marking must fail fast so the
// workflow can fall back to the offline path.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL: baseURL,
		Token:   token,
		HTTP: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Health probes the server; used as the connectivity signal source.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health: status %d", resp.StatusCode)
	}
	return nil
}

// Miqaat fetches a miqaat definition with its confirmed entries.
func (c *Client) Miqaat(ctx context.Context, id string) (*model.Miqaat, error) {
	var out struct {
		Miqaat model.Miqaat `json:"miqaat"`
	}
	if err := c.do(ctx, http.MethodGet, "/v1/miqaats/"+id, nil, &out); err != nil {
		return nil, err
	}
	return &out.Miqaat, nil
}

// EligibleMembers fetches the directory slice eligible for a miqaat; used to
// refresh the device cache before going offline.
func (c *Client) EligibleMembers(ctx context.Context, miqaatID string) ([]model.Member, error) {
	var out struct {
		Members []model.Member `json:"members"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/miqaats/"+miqaatID+"/members", nil, &out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, err)
	}
	return out.Members, nil
}

// LookupMember resolves an identifier against the authoritative directory.
func (c *Client) LookupMember(ctx context.Context, ident string) (*model.Member, error) {
	var out struct {
		Member model.Member `json:"member"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/members/"+ident, nil, &out)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusNotFound {
			return nil, model.ErrMemberNotFound
		}
		return nil, fmt.Errorf("%w: %v", model.ErrDirectoryUnavailable, err)
	}
	return &out.Member, nil
}

// WriteAttendanceIfAbsent performs the idempotent remote write. A 409 means
// an entry already exists for the (member, session) pair and maps to
// model.ErrConflict; anything else non-2xx is a retryable write error.
func (c *Client) WriteAttendanceIfAbsent(ctx context.Context, miqaatID, idemToken string, entry model.AttendanceEntry) error {
	body := struct {
		Token string                `json:"token"`
		Entry model.AttendanceEntry `json:"entry"`
	}{Token: idemToken, Entry: entry}

	err := c.do(ctx, http.MethodPost, "/v1/miqaats/"+miqaatID+"/attendance", body, nil)
	if err != nil {
		if apiErr, ok := err.(*APIError); ok && apiErr.Status == http.StatusConflict {
			return model.ErrConflict
		}
		return fmt.Errorf("write attendance: %w", err)
	}
	return nil
}

// APIError is a non-2xx response from the authoritative API.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("api status %d: %s", e.Status, e.Detail)
	}
	return fmt.Sprintf("api status %d", e.Status)
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var payload struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = json.Unmarshal(data, &payload)
		return &APIError{Status: resp.StatusCode, Detail: payload.Error}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

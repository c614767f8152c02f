package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	appErr "github.com/draftwire/draftwire/internal/pkg/errors"
)

// HTTPClient talks to the draft API over the polling transport.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

type saveRequest struct {
	Content         string `json:"content"`
	ExpectedVersion int    `json:"expected_version"`
}

type conflictResponse struct {
	Conflict       bool   `json:"conflict"`
	CurrentVersion int    `json:"current_version"`
	ServerContent  string `json:"server_content"`
}

func (c *HTTPClient) Save(ctx context.Context, draftID, content string, expectedVersion int) (*SaveResult, error) {
	body, err := json.Marshal(saveRequest{Content: content, ExpectedVersion: expectedVersion})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch,
		fmt.Sprintf("%s/api/v1/drafts/%s", c.baseURL, draftID), bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, appErr.ErrUnavailable
	}
	defer resp.Body.Close()
	switch resp.StatusCode {
	case http.StatusOK:
		var wrapper struct {
			Data struct {
				Version int `json:"version"`
			} `json:"data"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&wrapper); err != nil {
			return nil, err
		}
		return &SaveResult{NewVersion: wrapper.Data.Version}, nil
	case http.StatusConflict:
		var conflict conflictResponse
		if err := json.NewDecoder(resp.Body).Decode(&conflict); err != nil {
			return nil, err
		}
		return &SaveResult{
			Conflict:       true,
			CurrentVersion: conflict.CurrentVersion,
			ServerContent:  conflict.ServerContent,
		}, nil
	default:
		return nil, statusErr(resp.StatusCode)
	}
}

func (c *HTTPClient) Activity(ctx context.Context, draftID string) (*Activity, error) {
	var wrapper struct {
		Data Activity `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/api/v1/drafts/%s/activity", c.baseURL, draftID), &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Data, nil
}

func (c *HTTPClient) FetchDraft(ctx context.Context, draftID string) (*DraftSnapshot, error) {
	var wrapper struct {
		Data DraftSnapshot `json:"data"`
	}
	if err := c.get(ctx, fmt.Sprintf("%s/api/v1/drafts/%s", c.baseURL, draftID), &wrapper); err != nil {
		return nil, err
	}
	return &wrapper.Data, nil
}

func (c *HTTPClient) get(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	c.authorize(req)
	resp, err := c.http.Do(req)
	if err != nil {
		return appErr.ErrUnavailable
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return statusErr(resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *HTTPClient) authorize(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

func statusErr(code int) error {
	switch code {
	case http.StatusUnauthorized:
		return appErr.ErrUnauthorized
	case http.StatusForbidden:
		return appErr.ErrForbidden
	case http.StatusNotFound:
		return appErr.ErrNotFound
	case http.StatusBadRequest:
		return appErr.ErrInvalid
	case http.StatusServiceUnavailable:
		return appErr.ErrUnavailable
	default:
		return fmt.Errorf("unexpected status %d: %w", code, appErr.ErrInternal)
	}
}

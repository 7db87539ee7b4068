// Package rest is the client side of the call registry API.
package rest

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

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Wyydra/yacall/internal/core/domain"
)

const maxErrorBody = 4 * 1024

// implements port.LifecycleClient
type Client struct {
	base  *url.URL
	token string
	http  *http.Client
	log   zerolog.Logger
}

func NewClient(serverURL, token string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(serverURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("server url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("server url: unsupported scheme %q", u.Scheme)
	}
	return &Client{
		base:  u,
		token: token,
		http:  &http.Client{Timeout: timeout},
		log:   log.With().Str("component", "lifecycle").Logger(),
	}, nil
}

// WithLogger replaces the logger used for failed registry requests.
func (c *Client) WithLogger(l zerolog.Logger) *Client {
	c.log = l.With().Str("component", "lifecycle").Logger()
	return c
}

func (c *Client) CreateCall(ctx context.Context, recipient domain.UserID, kind domain.CallKind) (domain.Call, error) {
	var call domain.Call
	err := c.do(ctx, http.MethodPost, "/api/calls", map[string]any{
		"recipientId": recipient,
		"kind":        kind,
	}, &call)
	return call, err
}

func (c *Client) RespondToCall(ctx context.Context, callID domain.CallID, response domain.Response) (domain.Call, error) {
	var call domain.Call
	err := c.do(ctx, http.MethodPost, "/api/calls/respond", map[string]any{
		"callId":   callID,
		"response": response,
	}, &call)
	return call, err
}

func (c *Client) GetCall(ctx context.Context, callID domain.CallID) (domain.Call, error) {
	var call domain.Call
	err := c.do(ctx, http.MethodGet, "/api/calls/"+callID.String(), nil, &call)
	return call, err
}

func (c *Client) EndCall(ctx context.Context, callID domain.CallID, reason domain.EndReason) error {
	return c.do(ctx, http.MethodPost, "/api/calls/"+callID.String()+"/end", map[string]any{
		"reason": reason,
	}, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base.String()+path, rd)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("Registry unreachable")
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		err := statusError(resp)
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Int("status", resp.StatusCode).Msg("Registry request failed")
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s %s: decode response: %w", method, path, err)
	}
	return nil
}

// statusError maps a failed response back onto the domain taxonomy so the
// session core can branch with errors.Is.
func statusError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if err := json.Unmarshal(raw, &body); err != nil || body.Error == "" {
		body.Error = strings.TrimSpace(string(raw))
	}

	var kind error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		kind = domain.ErrValidation
	case http.StatusUnauthorized:
		kind = domain.ErrUnauthorized
	case http.StatusForbidden:
		kind = domain.ErrForbidden
	case http.StatusNotFound:
		kind = domain.ErrNotFound
	case http.StatusConflict:
		kind = domain.ErrConflict
	default:
		return fmt.Errorf("registry returned %d: %s", resp.StatusCode, body.Error)
	}
	msg := strings.TrimPrefix(body.Error, kind.Error())
	msg = strings.TrimPrefix(msg, ": ")
	if msg == "" {
		return kind
	}
	return fmt.Errorf("%w: %s", kind, msg)
}

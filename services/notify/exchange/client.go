// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// ErrOperation indicates a failure talking to the origin server. Every
// transport, status, and decode failure from the client is wrapped in it
// so callers can map the whole class to a 500 without inspecting causes.
var ErrOperation = errors.New("exchange operation failed")

// Client reads and writes remote exchanges on behalf of the substrate.
//
// # Description
//
// Client is the opaque resource-client contract: a capability string
// authorizes each request, and the implementation decides how that
// capability is presented on the wire. Implementations must be safe for
// concurrent use; the poll coalescer and the watch scheduler share one
// client across goroutines.
type Client interface {
	// Read fetches the current snapshot of the exchange at exchangeURL.
	Read(ctx context.Context, exchangeURL, capability string) (*Exchange, error)

	// Write posts body to the exchange at exchangeURL.
	Write(ctx context.Context, exchangeURL, capability string, body any) error
}

// HTTPClient is the production Client backed by net/http.
//
// Capabilities are presented as a bearer-style Authorization header. The
// origin decides whether the capability authorizes the invocation; this
// client only transports it.
type HTTPClient struct {
	// HTTP is the underlying http.Client. Defaults to a 10-second
	// timeout client when nil.
	HTTP *http.Client

	// BaseURL, when set, resolves relative exchange references.
	BaseURL string
}

// NewHTTPClient creates an HTTPClient with a 10-second request timeout.
func NewHTTPClient(baseURL string) *HTTPClient {
	return &HTTPClient{
		HTTP:    &http.Client{Timeout: 10 * time.Second},
		BaseURL: baseURL,
	}
}

// Read implements Client.
//
// # Outputs
//
//   - *Exchange: Decoded snapshot on HTTP 200.
//   - error: Wraps ErrOperation for transport errors, non-200 statuses,
//     and malformed response bodies.
func (c *HTTPClient) Read(ctx context.Context, exchangeURL, capability string) (*Exchange, error) {
	target, err := c.resolve(exchangeURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOperation, err)
	}
	setCapability(req, capability)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrOperation, target, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("%w: read %s: unexpected status %d", ErrOperation, target, resp.StatusCode)
	}

	var payload struct {
		Exchange *Exchange `json:"exchange"`
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", ErrOperation, target, err)
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode %s: %w", ErrOperation, target, err)
	}
	if payload.Exchange == nil {
		// Some origins return the exchange document unwrapped.
		ex := &Exchange{}
		if err := json.Unmarshal(body, ex); err != nil || ex.ID == "" {
			return nil, fmt.Errorf("%w: decode %s: missing exchange", ErrOperation, target)
		}
		return ex, nil
	}
	return payload.Exchange, nil
}

// Write implements Client.
func (c *HTTPClient) Write(ctx context.Context, exchangeURL, capability string, body any) error {
	target, err := c.resolve(exchangeURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOperation, err)
	}

	encoded, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("%w: encode body: %w", ErrOperation, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(encoded))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrOperation, err)
	}
	setCapability(req, capability)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("%w: write %s: %w", ErrOperation, target, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: write %s: unexpected status %d", ErrOperation, target, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) httpClient() *http.Client {
	if c.HTTP != nil {
		return c.HTTP
	}
	return &http.Client{Timeout: 10 * time.Second}
}

// resolve joins a possibly relative exchange reference with BaseURL.
func (c *HTTPClient) resolve(ref string) (string, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("parse exchange url %q: %w", ref, err)
	}
	if u.IsAbs() || c.BaseURL == "" {
		return ref, nil
	}
	base, err := url.Parse(c.BaseURL)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", c.BaseURL, err)
	}
	return base.ResolveReference(u).String(), nil
}

// setCapability attaches the capability invocation header.
func setCapability(req *http.Request, capability string) {
	if capability != "" {
		req.Header.Set("Authorization", "zcap "+capability)
	}
}

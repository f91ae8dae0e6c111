/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal HTTP client for the replication API.
type Client struct {
	BaseURL string
	Token   string // bearer token
	client  *http.Client
}

// NewClient creates a client. baseURL may include a trailing slash; it will be normalized.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// StatusError is returned for non-2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Msg    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server %s %s: %d %s", e.Method, e.Path, e.Code, e.Msg)
}

// IsForbidden reports whether err is a 403 from the server.
func IsForbidden(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusForbidden
}

func (c *Client) doJSON(ctx context.Context, method, path string, body, dest any) error {
	u, err := url.Parse(c.BaseURL + path)
	if err != nil {
		return err
	}
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &StatusError{Method: method, Path: u.Path, Code: resp.StatusCode, Msg: strings.TrimSpace(string(msg))}
	}
	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// IssueToken requests a bearer token for subject and stores it on the client.
func (c *Client) IssueToken(ctx context.Context, subject string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/api/auth/token", map[string]any{"subject": subject}, &out); err != nil {
		return "", err
	}
	c.Token = out.Token
	return out.Token, nil
}

func instancePath(instance, leaf string) string {
	return "/api/instances/" + url.PathEscape(instance) + "/" + leaf
}

// Join registers a participant for instance.
func (c *Client) Join(ctx context.Context, instance string) (JoinResult, error) {
	var res JoinResult
	err := c.doJSON(ctx, http.MethodPost, instancePath(instance, "join"), nil, &res)
	return res, err
}

// Leave removes participant from instance.
func (c *Client) Leave(ctx context.Context, instance, participant string) (InstanceState, error) {
	var st InstanceState
	err := c.doJSON(ctx, http.MethodPost, instancePath(instance, "leave"), map[string]any{"participant": participant}, &st)
	return st, err
}

// GetOffset returns the replicated state of instance.
func (c *Client) GetOffset(ctx context.Context, instance string) (InstanceState, error) {
	var st InstanceState
	err := c.doJSON(ctx, http.MethodGet, instancePath(instance, "offset"), nil, &st)
	return st, err
}

// PutOffset publishes offset as participant; only the owner succeeds.
func (c *Client) PutOffset(ctx context.Context, instance, participant string, offset int) (InstanceState, error) {
	var st InstanceState
	body := map[string]any{"participant": participant, "offset": offset}
	err := c.doJSON(ctx, http.MethodPut, instancePath(instance, "offset"), body, &st)
	return st, err
}

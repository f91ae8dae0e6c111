/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package history keeps the back/forward trail of pages a viewer opened.
package history

import (
	"sync"
	"time"
)

// Visit is one entry of the trail.
type Visit struct {
	Page int
	TS   time.Time
}

// Config controls depth and coalescing.
type Config struct {
	// MaxDepth caps the back stack; the oldest visits are dropped (default 32).
	MaxDepth int
	// MinInterval coalesces visits made within the interval: the newer one
	// replaces the older instead of pushing a new entry.
	MinInterval time.Duration
}

// Trail is a browser-style page history. It is safe for concurrent use.
type Trail struct {
	cfg     Config
	mu      sync.Mutex
	current Visit
	back    []Visit
	forward []Visit
	now     func() time.Time
}

// New starts a trail at page start.
func New(start int, cfg Config) *Trail {
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = 32
	}
	t := &Trail{cfg: cfg, now: time.Now}
	t.current = Visit{Page: start, TS: t.now()}
	return t
}

// Current returns the page the trail is on.
func (t *Trail) Current() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.current.Page
}

// Visit records that page was opened. Reopening the current page is a no-op.
// Any new visit clears the forward stack.
func (t *Trail) Visit(page int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if page == t.current.Page {
		return
	}
	v := Visit{Page: page, TS: t.now()}
	t.forward = nil
	if n := len(t.back); n > 0 && t.cfg.MinInterval > 0 && v.TS.Sub(t.current.TS) < t.cfg.MinInterval {
		// coalesce: the page we are leaving was only passed through
		if t.back[n-1].Page == page {
			t.back = t.back[:n-1]
		}
		t.current = v
		return
	}
	t.back = append(t.back, t.current)
	t.current = v
	if over := len(t.back) - t.cfg.MaxDepth; over > 0 {
		t.back = append([]Visit(nil), t.back[over:]...)
	}
}

// Back steps to the previous page and returns it.
func (t *Trail) Back() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.back)
	if n == 0 {
		return t.current.Page, false
	}
	t.forward = append(t.forward, t.current)
	t.current = t.back[n-1]
	t.back = t.back[:n-1]
	return t.current.Page, true
}

// Forward undoes a Back.
func (t *Trail) Forward() (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.forward)
	if n == 0 {
		return t.current.Page, false
	}
	t.back = append(t.back, t.current)
	t.current = t.forward[n-1]
	t.forward = t.forward[:n-1]
	return t.current.Page, true
}

// Depth returns the sizes of the back and forward stacks.
func (t *Trail) Depth() (back, forward int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.back), len(t.forward)
}

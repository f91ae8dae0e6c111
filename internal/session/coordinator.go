/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package session coordinates one wall newspaper instance: it owns the
// locally opened page and the replicated random start offset, and wires the
// layout and orientation engines to the downloader, the replication substrate
// and the interaction relay.
//
// A Coordinator is not safe for concurrent use. Every method must run on the
// session's cooperative thread (see Loop); asynchronous collaborators post
// their completions through the configured Dispatcher.
package session

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"

	"wallnewspaper/internal/layout"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/orientation"
	"wallnewspaper/internal/texture"
	"wallnewspaper/internal/version"
)

// State is the coordinator lifecycle. Active is terminal.
type State int

const (
	Initializing State = iota
	Active
)

func (s State) String() string {
	switch s {
	case Initializing:
		return "initializing"
	case Active:
		return "active"
	default:
		return "unknown"
	}
}

// Material is the render slot showing the newspaper.
type Material interface {
	SetMainTexture(*texture.Texture)
	SetTextureScale(layout.Vec2)
	SetTextureOffset(layout.Vec2)
}

// Downloader fetches an image asynchronously. onLoaded is called once on
// success, from any goroutine; failures are not reported.
type Downloader interface {
	Download(ctx context.Context, url string, onLoaded func(*texture.Texture))
}

// Replicator is the host's ownership and state replication substrate for the
// random start offset.
type Replicator interface {
	// IsAuthority reports whether this participant owns the instance.
	IsAuthority() bool
	// Publish requests propagation of offset to other participants.
	// Best effort, no acknowledgement.
	Publish(offset int)
	// Observe registers fn for values received from other participants.
	// fn may be called from any goroutine.
	Observe(fn func(offset int))
}

// Repairer undoes an upside-down download.
type Repairer interface {
	Repair(orientation.Target) (bool, error)
}

// EventSink receives anonymous usage events.
type EventSink interface {
	Event(name string, props map[string]any)
}

// Options wires a Coordinator.
type Options struct {
	URL        string
	Material   Material
	Indicators []layout.Indicator
	Downloader Downloader
	Replicator Replicator
	// Dispatcher delivers async completions on the session thread.
	// Defaults to Immediate.
	Dispatcher Dispatcher
	// AffectedRuntime enables orientation repair; decided once by the caller.
	AffectedRuntime bool
	Repairer        Repairer
	Events          EventSink
	// IntN draws the start offset; defaults to math/rand/v2.IntN.
	IntN func(n int) int
	Log  *slog.Logger
}

// ErrAlreadyStarted is returned by a second Start call.
var ErrAlreadyStarted = errors.New("session already started")

// Coordinator is the per-instance session state machine.
type Coordinator struct {
	opts         Options
	log          *slog.Logger
	state        State
	currentPage  int
	randomOffset int
	repairs      int
}

// New validates opts and returns an initializing coordinator.
func New(opts Options) (*Coordinator, error) {
	if opts.Material == nil {
		return nil, errors.New("session: material is required")
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = Immediate{}
	}
	if opts.IntN == nil {
		opts.IntN = rand.IntN
	}
	if opts.AffectedRuntime && opts.Repairer == nil {
		opts.Repairer = orientation.NewRepairer(nil)
	}
	l := opts.Log
	if l == nil {
		l = applog.WithComponent("session")
	}
	return &Coordinator{opts: opts, log: l}, nil
}

// Start moves the session to Active: it requests the image download, lets
// the owner draw and publish the start offset, sets the texture tiling and
// lays out the current page.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.state != Initializing {
		return ErrAlreadyStarted
	}
	c.state = Active
	c.log.Info("wall newspaper starting", slog.String("ver", version.String()), slog.String("url", c.opts.URL))

	if d := c.opts.Downloader; d != nil && c.opts.URL != "" {
		d.Download(ctx, c.opts.URL, func(t *texture.Texture) {
			c.opts.Dispatcher.Post(func() { c.imageLoaded(t) })
		})
	}

	if r := c.opts.Replicator; r != nil {
		if r.IsAuthority() {
			c.SetRandomOffset(c.opts.IntN(layout.PageCount - 1))
			r.Publish(c.randomOffset)
			c.log.Info("start page drawn", slog.Int("offset", c.randomOffset))
		}
		r.Observe(func(v int) {
			c.opts.Dispatcher.Post(func() { c.SetRandomOffset(v) })
		})
	}

	c.opts.Material.SetTextureScale(layout.Scale(layout.Columns, layout.Rows))
	c.recompute()
	return nil
}

// OpenPage is the interaction relay entry point. The page is not validated;
// out of range values wrap through the effective page modulo. Local only.
func (c *Coordinator) OpenPage(page int) {
	c.currentPage = page
	c.recompute()
	c.log.Debug("page opened", slog.Int("page", page), slog.Int("effective", c.EffectivePage()))
	c.event("page_opened", map[string]any{"page": page})
}

// SetRandomOffset is the explicit setter of the replicated start offset.
// Values are clamped to [0, PageCount-1] and the layout is recomputed.
// Applying the same value twice is harmless.
func (c *Coordinator) SetRandomOffset(v int) {
	if v < 0 {
		v = 0
	}
	if v > layout.PageCount-1 {
		v = layout.PageCount - 1
	}
	c.randomOffset = v
	c.recompute()
}

func (c *Coordinator) recompute() {
	layout.UpdateIndicators(c.currentPage, c.opts.Indicators)
	page := c.EffectivePage()
	c.opts.Material.SetTextureOffset(layout.UVOffset(page, layout.Columns, layout.Rows))
}

func (c *Coordinator) imageLoaded(t *texture.Texture) {
	if t == nil {
		return
	}
	c.opts.Material.SetMainTexture(t)
	c.log.Info("image loaded", slog.Int("w", t.Width()), slog.Int("h", t.Height()))
	if !c.opts.AffectedRuntime {
		return
	}
	flipped, err := c.opts.Repairer.Repair(t)
	c.repairs++
	if err != nil {
		c.log.Warn("orientation repair failed", slog.Any("err", err))
		return
	}
	if flipped {
		c.event("orientation_repaired", nil)
	}
}

func (c *Coordinator) event(name string, props map[string]any) {
	if c.opts.Events != nil {
		c.opts.Events.Event(name, props)
	}
}

func (c *Coordinator) State() State { return c.state }
func (c *Coordinator) CurrentPage() int { return c.currentPage }
func (c *Coordinator) RandomOffset() int { return c.randomOffset }
func (c *Coordinator) RepairPasses() int { return c.repairs }

// EffectivePage is (currentPage + randomOffset) mod PageCount.
func (c *Coordinator) EffectivePage() int {
	return layout.EffectivePage(c.currentPage, c.randomOffset, layout.PageCount)
}

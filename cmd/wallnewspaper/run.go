/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"wallnewspaper/internal/backend"
	"wallnewspaper/internal/cache"
	"wallnewspaper/internal/config"
	"wallnewspaper/internal/download"
	"wallnewspaper/internal/history"
	"wallnewspaper/internal/layout"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/relay"
	"wallnewspaper/internal/replication"
	"wallnewspaper/internal/session"
	"wallnewspaper/internal/telemetry"
	"wallnewspaper/internal/texture"
)

// lamp is a page indicator printed by consoleMaterial.
type lamp struct{ on bool }

func (l *lamp) SetActive(on bool) { l.on = on }

// consoleMaterial prints every layout change so a headless session can be followed.
type consoleMaterial struct {
	*texture.Material
	w     io.Writer
	lamps []*lamp

	mu   sync.Mutex
	last map[string]string
}

func (m *consoleMaterial) SetTextureOffset(o layout.Vec2) {
	m.Material.SetTextureOffset(o)
	current := -1
	for i, l := range m.lamps {
		if l.on {
			current = i
		}
	}
	fmt.Fprintf(m.w, "%s  offset (%g, %g)\n", lampRow(current), o.U, o.V)

	m.mu.Lock()
	m.last = map[string]string{"CurrentPage": strconv.Itoa(current), "TextureOffset": fmt.Sprintf("%g,%g", o.U, o.V)}
	m.mu.Unlock()
}

func (m *consoleMaterial) SetMainTexture(t *texture.Texture) {
	m.Material.SetMainTexture(t)
	fmt.Fprintf(m.w, "texture loaded: %dx%d\n", t.Width(), t.Height())
}

func (m *consoleMaterial) snapshot() map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// replicator is a session.Replicator that must be released when the session ends.
type replicator interface {
	session.Replicator
	Close() error
}

type localPeer struct{ *replication.Peer }

func (p localPeer) Close() error {
	p.Leave()
	return nil
}

func openReplicator(ctx context.Context, env appEnv) (replicator, error) {
	rc := env.cfg.Replication
	switch rc.Mode {
	case "", "local":
		return localPeer{replication.NewHub().Join()}, nil
	case "remote":
		client := backend.NewClient(rc.BaseURL, env.token, rc.Timeout())
		if env.token == "" {
			tok, err := client.IssueToken(ctx, "wallnewspaper")
			if err != nil {
				return nil, fmt.Errorf("obtain token: %w", err)
			}
			if err := config.SaveToken(tok); err != nil {
				applog.WithComponent("run").Warn("token not stored", slog.Any("err", err))
			}
		}
		return replication.NewRemote(ctx, client, env.cfg.Newspaper.Instance, replication.RemoteOptions{
			PollInterval:    rc.PollInterval(),
			PublishInterval: rc.PublishInterval(),
		})
	default:
		return nil, fmt.Errorf("unknown replication mode %q", rc.Mode)
	}
}

func openDownloader(env appEnv, l *slog.Logger) (*download.Downloader, func()) {
	opts := download.Options{
		OnError: func(string, error) { env.tel.Event(telemetry.EventDownloadFailed, nil) },
	}
	closeFn := func() {}
	if !env.cfg.Cache.Disabled {
		path := env.cfg.Cache.Path
		if path == "" {
			path, _ = cache.DefaultPath()
		}
		if path != "" {
			c, err := cache.Open(path, env.cfg.Cache.MaxBytes)
			if err != nil {
				l.Warn("download cache unavailable", slog.Any("err", err))
			} else {
				opts.Cache = c
				closeFn = func() { _ = c.Close() }
			}
		}
	}
	return download.New(opts), closeFn
}

// runSession runs one coordinator on a session loop and feeds it relay
// commands read from in until EOF, "quit" or ctx ends.
func runSession(ctx context.Context, env appEnv, in io.Reader, out io.Writer) error {
	l := applog.WithComponent("run")
	if env.cfg.Newspaper.URL == "" {
		return errors.New("no newspaper url: pass one or set newspaper.url")
	}
	rep, err := repairerFor(env.cfg)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	loop := session.NewLoop(0)
	loopDone := make(chan error, 1)
	go func() { loopDone <- loop.Run(ctx) }()
	defer func() {
		loop.Close()
		<-loopDone
	}()

	dl, closeCache := openDownloader(env, l)
	defer closeCache()
	defer dl.Wait()
	defer cancel()

	repl, err := openReplicator(ctx, env)
	if err != nil {
		return err
	}
	defer func() {
		if err := repl.Close(); err != nil {
			l.Warn("leave failed", slog.Any("err", err))
		}
	}()

	lamps := make([]*lamp, layout.PageCount)
	indicators := make([]layout.Indicator, layout.PageCount)
	for i := range lamps {
		lamps[i] = &lamp{}
		indicators[i] = lamps[i]
	}
	mat := &consoleMaterial{Material: texture.NewMaterial("newspaper"), w: out, lamps: lamps}
	reporter.State = mat.snapshot

	coord, err := session.New(session.Options{
		URL:             env.cfg.Newspaper.URL,
		Material:        mat,
		Indicators:      indicators,
		Downloader:      dl,
		Replicator:      repl,
		Dispatcher:      loop,
		AffectedRuntime: env.cfg.Orientation.Affected(),
		Repairer:        rep,
		Events:          env.tel,
	})
	if err != nil {
		return err
	}

	started := make(chan error, 1)
	loop.Post(func() { started <- coord.Start(ctx) })
	select {
	case err := <-started:
		if err != nil {
			return err
		}
	case <-ctx.Done():
		return nil
	}
	env.tel.Event(telemetry.EventSessionStarted, map[string]any{"authority": repl.IsAuthority()})

	// stdin reads cannot be interrupted, so Serve runs aside and a signal wins.
	served := make(chan error, 1)
	trail := history.New(0, history.Config{MaxDepth: 32, MinInterval: 250 * time.Millisecond})
	buttons := relay.Buttons(layout.PageCount, coord, loop)
	go func() { served <- relay.Serve(ctx, in, out, buttons, trail) }()
	select {
	case err = <-served:
	case <-ctx.Done():
		err = nil
	}
	if ctx.Err() == nil {
		// let a pending image load and queued page flips land before shutdown
		dl.Wait()
		barrier := make(chan struct{})
		loop.Post(func() { close(barrier) })
		select {
		case <-barrier:
		case <-ctx.Done():
		}
	}
	env.tel.Flush(context.Background())
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

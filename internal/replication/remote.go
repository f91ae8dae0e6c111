/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package replication

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"wallnewspaper/internal/backend"
	applog "wallnewspaper/internal/log"
)

// RemoteOptions tunes a Remote substrate.
type RemoteOptions struct {
	// PollInterval is how often the offset is fetched (1s when zero).
	PollInterval time.Duration
	// PublishInterval and PublishBurst bound Publish calls; excess publishes are dropped.
	PublishInterval time.Duration
	PublishBurst    int
	Log             *slog.Logger
}

// Remote replicates the start offset through the replication server.
// It implements session.Replicator.
type Remote struct {
	client      *backend.Client
	instance    string
	participant string
	limiter     *rate.Limiter
	log         *slog.Logger

	mu          sync.Mutex
	owner       string
	state       backend.InstanceState
	lastVersion int64
	observers   []func(int)
	closed      bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRemote joins instance and starts polling until Close.
func NewRemote(ctx context.Context, client *backend.Client, instance string, opts RemoteOptions) (*Remote, error) {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.PublishInterval <= 0 {
		opts.PublishInterval = 500 * time.Millisecond
	}
	if opts.PublishBurst <= 0 {
		opts.PublishBurst = 2
	}
	l := opts.Log
	if l == nil {
		l = applog.WithComponent("replication.remote")
	}

	res, err := client.Join(ctx, instance)
	if err != nil {
		return nil, fmt.Errorf("join %s: %w", instance, err)
	}
	pctx, cancel := context.WithCancel(context.Background())
	r := &Remote{
		client:      client,
		instance:    instance,
		participant: res.Participant,
		limiter:     rate.NewLimiter(rate.Every(opts.PublishInterval), opts.PublishBurst),
		log:         l.With(slog.String("instance", instance), slog.String("participant", res.Participant)),
		owner:       res.Owner,
		state:       res.InstanceState,
		lastVersion: res.Version,
		cancel:      cancel,
	}
	r.log.Info("joined instance", slog.Bool("authority", res.IsOwner()), slog.Bool("has_offset", res.HasOffset))

	r.wg.Add(1)
	go r.poll(pctx, opts.PollInterval)
	return r, nil
}

// Participant returns the id assigned by the server.
func (r *Remote) Participant() string { return r.participant }

func (r *Remote) IsAuthority() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.owner == r.participant
}

// Publish sends offset in the background. Fire-and-forget: failures and
// publishes beyond the rate budget are logged and dropped.
func (r *Remote) Publish(offset int) {
	if !r.limiter.Allow() {
		r.log.Warn("publish dropped by rate limit", slog.Int("offset", offset))
		return
	}
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.wg.Add(1)
	r.mu.Unlock()
	go func() {
		defer r.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := r.client.PutOffset(ctx, r.instance, r.participant, offset)
		if err != nil {
			r.log.Warn("publish failed", slog.Int("offset", offset), slog.Any("err", err))
			return
		}
		r.mu.Lock()
		r.state = st
		if st.Version > r.lastVersion {
			r.lastVersion = st.Version // our own write, no echo to observers
		}
		r.mu.Unlock()
	}()
}

// Observe registers fn. On a viewer the current value, if any, is delivered
// right away. The authority already holds the value it published.
func (r *Remote) Observe(fn func(int)) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.observers = append(r.observers, fn)
	st := r.state
	owner := r.owner == r.participant
	r.mu.Unlock()
	if st.HasOffset && !owner {
		go fn(st.Offset)
	}
}

func (r *Remote) poll(ctx context.Context, every time.Duration) {
	defer r.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.fetch(ctx)
		}
	}
}

func (r *Remote) fetch(ctx context.Context) {
	fctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := r.client.GetOffset(fctx, r.instance)
	if err != nil {
		if ctx.Err() == nil {
			r.log.Debug("poll failed", slog.Any("err", err))
		}
		return
	}

	r.mu.Lock()
	if st.Owner != r.owner {
		r.log.Info("ownership changed", slog.String("owner", st.Owner))
	}
	r.owner = st.Owner
	r.state = st
	deliver := st.HasOffset && st.Version > r.lastVersion
	if deliver {
		r.lastVersion = st.Version
	}
	obs := append([]func(int){}, r.observers...)
	r.mu.Unlock()

	if deliver {
		for _, fn := range obs {
			fn(st.Offset)
		}
	}
}

// Close stops polling and leaves the instance.
func (r *Remote) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.cancel()
	r.wg.Wait()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := r.client.Leave(ctx, r.instance, r.participant); err != nil {
		return fmt.Errorf("leave %s: %w", r.instance, err)
	}
	return nil
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	applog "wallnewspaper/internal/log"
)

// Dispatcher schedules work onto the cooperative session thread.
type Dispatcher interface {
	Post(fn func())
}

// Immediate runs posted work synchronously on the caller's goroutine.
// It is the dispatcher used when the caller already is the session thread.
type Immediate struct{}

func (Immediate) Post(fn func()) { fn() }

// ErrLoopClosed is returned by Run after Close.
var ErrLoopClosed = errors.New("session loop closed")

// Loop is the single cooperative thread every coordinator callback runs on.
// Work is queued on a bounded channel; Post blocks when the queue is full
// and drops work once the loop was closed.
type Loop struct {
	q      chan func()
	closed chan struct{}
	once   sync.Once
	log    *slog.Logger
}

// NewLoop creates a loop with the given queue capacity (64 when <= 0).
func NewLoop(capacity int) *Loop {
	if capacity <= 0 {
		capacity = 64
	}
	return &Loop{
		q:      make(chan func(), capacity),
		closed: make(chan struct{}),
		log:    applog.WithComponent("session.loop"),
	}
}

// Post enqueues fn.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	select {
	case <-l.closed:
		return
	default:
	}
	select {
	case <-l.closed:
		l.log.Debug("dropping work posted after close")
	case l.q <- fn:
	}
}

// Run drains the queue until ctx is done or Close is called.
// A panicking task is logged and does not stop the loop.
func (l *Loop) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.closed:
			return ErrLoopClosed
		case fn := <-l.q:
			l.exec(fn)
		}
	}
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.log.Error("task panicked", slog.Any("panic", r))
		}
	}()
	fn()
}

// Close stops Run. Pending work is discarded.
func (l *Loop) Close() { l.once.Do(func() { close(l.closed) }) }

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package replication provides the ownership and state replication substrates
// the session coordinator publishes its random start offset through.
//
// Hub keeps every participant in one process. Remote talks to the replication
// server in internal/backend so participants can live in different processes.
package replication

import (
	"log/slog"
	"sync"

	applog "wallnewspaper/internal/log"
)

// Hub is an in-process replication substrate for one instance.
// The oldest joined peer is the authority.
type Hub struct {
	mu    sync.Mutex
	peers []*Peer
	next  int
	value int
	has   bool
	log   *slog.Logger
}

func NewHub() *Hub {
	return &Hub{log: applog.WithComponent("replication.hub")}
}

// Peer is one participant of a Hub. It implements session.Replicator.
type Peer struct {
	hub *Hub
	id  int

	mu        sync.Mutex
	observers []func(int)
	inbox     chan int
	closed    bool
	done      chan struct{}
}

// Join adds a participant. The first participant becomes the authority.
func (h *Hub) Join() *Peer {
	h.mu.Lock()
	h.next++
	p := &Peer{hub: h, id: h.next, inbox: make(chan int, 16), done: make(chan struct{})}
	h.peers = append(h.peers, p)
	owner := len(h.peers) == 1
	h.mu.Unlock()

	go p.pump()
	h.log.Debug("peer joined", slog.Int("peer", p.id), slog.Bool("authority", owner))
	return p
}

// Value returns the last published offset and whether one was published.
func (h *Hub) Value() (int, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.value, h.has
}

// Peers returns the number of joined participants.
func (h *Hub) Peers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// ID identifies the peer within its hub.
func (p *Peer) ID() int { return p.id }

// IsAuthority reports whether p is the oldest remaining participant.
func (p *Peer) IsAuthority() bool {
	p.hub.mu.Lock()
	defer p.hub.mu.Unlock()
	return len(p.hub.peers) > 0 && p.hub.peers[0] == p
}

// Publish stores offset and delivers it asynchronously to every other peer.
// Publishes from non-authorities are dropped.
func (p *Peer) Publish(offset int) {
	h := p.hub
	h.mu.Lock()
	if len(h.peers) == 0 || h.peers[0] != p {
		h.mu.Unlock()
		h.log.Warn("publish from non-authority ignored", slog.Int("peer", p.id))
		return
	}
	h.value, h.has = offset, true
	targets := append([]*Peer(nil), h.peers[1:]...)
	h.mu.Unlock()

	for _, t := range targets {
		t.enqueue(offset)
	}
}

// Observe registers fn for remote values. If a value was already published,
// it is delivered right away as a full-state sync.
func (p *Peer) Observe(fn func(int)) {
	if fn == nil {
		return
	}
	p.mu.Lock()
	p.observers = append(p.observers, fn)
	p.mu.Unlock()

	if v, ok := p.hub.Value(); ok && !p.IsAuthority() {
		p.enqueue(v)
	}
}

// Leave removes p from the hub. Authority passes to the next oldest peer,
// which keeps the published value.
func (p *Peer) Leave() {
	h := p.hub
	h.mu.Lock()
	for i, other := range h.peers {
		if other == p {
			h.peers = append(h.peers[:i], h.peers[i+1:]...)
			break
		}
	}
	h.mu.Unlock()

	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.inbox)
	}
	p.mu.Unlock()
	<-p.done
	h.log.Debug("peer left", slog.Int("peer", p.id))
}

func (p *Peer) enqueue(v int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.inbox <- v:
	default:
		// The receiver is far behind; only the latest value matters.
		select {
		case <-p.inbox:
		default:
		}
		p.inbox <- v
	}
}

func (p *Peer) pump() {
	defer close(p.done)
	for v := range p.inbox {
		p.mu.Lock()
		obs := append([]func(int){}, p.observers...)
		p.mu.Unlock()
		for _, fn := range obs {
			fn(v)
		}
	}
}

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
	"sync"
	"testing"
	"time"

	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/session"
	"wallnewspaper/internal/texture"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubAuthorityAndDelivery(t *testing.T) {
	h := NewHub()
	a, b, c := h.Join(), h.Join(), h.Join()
	defer a.Leave()
	defer b.Leave()
	defer c.Leave()

	if !a.IsAuthority() || b.IsAuthority() || c.IsAuthority() {
		t.Fatalf("first peer must be the only authority")
	}

	var mu sync.Mutex
	got := map[int][]int{}
	for _, p := range []*Peer{a, b, c} {
		p := p
		p.Observe(func(v int) {
			mu.Lock()
			got[p.ID()] = append(got[p.ID()], v)
			mu.Unlock()
		})
	}

	b.Publish(1) // ignored, not the authority
	a.Publish(2)

	waitFor(t, "delivery to b and c", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got[b.ID()]) == 1 && len(got[c.ID()]) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if got[b.ID()][0] != 2 || got[c.ID()][0] != 2 {
		t.Fatalf("delivered values = %v", got)
	}
	if len(got[a.ID()]) != 0 {
		t.Fatalf("publisher must not receive its own value: %v", got[a.ID()])
	}
	if v, ok := h.Value(); !ok || v != 2 {
		t.Fatalf("hub value = %d,%v", v, ok)
	}
}

func TestHubLateJoinerGetsFullStateSync(t *testing.T) {
	h := NewHub()
	owner := h.Join()
	defer owner.Leave()
	owner.Publish(1)

	late := h.Join()
	defer late.Leave()
	recv := make(chan int, 1)
	late.Observe(func(v int) { recv <- v })
	select {
	case v := <-recv:
		if v != 1 {
			t.Fatalf("synced value = %d, want 1", v)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("late joiner did not receive the current value")
	}
}

func TestHubLeaveTransfersAuthorityWithoutReset(t *testing.T) {
	h := NewHub()
	owner, next := h.Join(), h.Join()
	defer next.Leave()
	owner.Publish(2)
	owner.Leave()

	if !next.IsAuthority() {
		t.Fatalf("authority should pass to the next oldest peer")
	}
	if h.Peers() != 1 {
		t.Fatalf("peers = %d, want 1", h.Peers())
	}
	if v, ok := h.Value(); !ok || v != 2 {
		t.Fatalf("value after transfer = %d,%v, want 2,true", v, ok)
	}
}

// participant is one session wired to a hub peer on its own loop.
type participant struct {
	loop  *session.Loop
	coord *session.Coordinator
	peer  *Peer
}

func newParticipant(t *testing.T, ctx context.Context, h *Hub, draw func(int) int) *participant {
	t.Helper()
	p := &participant{loop: session.NewLoop(0), peer: h.Join()}
	c, err := session.New(session.Options{
		Material:   texture.NewMaterial("news"),
		Replicator: p.peer,
		Dispatcher: p.loop,
		IntN:       draw,
		Log:        applog.Discard(),
	})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	p.coord = c
	go func() { _ = p.loop.Run(ctx) }()
	t.Cleanup(func() {
		p.loop.Close()
		p.peer.Leave()
	})
	return p
}

// do runs fn on the participant's loop and waits for it.
func (p *participant) do(fn func()) {
	done := make(chan struct{})
	p.loop.Post(func() {
		fn()
		close(done)
	})
	<-done
}

func TestSessionsConvergeOnOwnersStartPage(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h := NewHub()
	owner := newParticipant(t, ctx, h, func(n int) int {
		if n != 3 {
			t.Errorf("draw range [0,%d), want [0,3)", n)
		}
		return 2
	})
	noDraw := func(int) int {
		t.Errorf("viewer drew an offset")
		return 0
	}
	viewers := []*participant{newParticipant(t, ctx, h, noDraw), newParticipant(t, ctx, h, noDraw)}

	// Start a viewer before the owner so that one sync arrives live and the
	// other through the observe-time full-state sync.
	viewers[0].do(func() { _ = viewers[0].coord.Start(ctx) })
	owner.do(func() { _ = owner.coord.Start(ctx) })
	viewers[1].do(func() { _ = viewers[1].coord.Start(ctx) })

	for i, v := range append([]*participant{owner}, viewers...) {
		v := v
		waitFor(t, "effective page 2", func() bool {
			var page int
			v.do(func() { page = v.coord.EffectivePage() })
			return page == 2
		})
		var cur int
		v.do(func() { cur = v.coord.CurrentPage() })
		if cur != 0 {
			t.Fatalf("participant %d current page = %d, want 0", i, cur)
		}
	}

	// Local page changes are not replicated.
	viewers[0].do(func() { viewers[0].coord.OpenPage(1) })
	var ownerPage int
	owner.do(func() { ownerPage = owner.coord.EffectivePage() })
	if ownerPage != 2 {
		t.Fatalf("owner effective page changed to %d by a viewer", ownerPage)
	}
}

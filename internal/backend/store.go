/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package backend implements the replication server: it tracks the
// participants of each newspaper instance, designates the oldest one as the
// owner and stores the start offset the owner publishes.
package backend

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned for unknown instances or participants.
	ErrNotFound = errors.New("not found")
	// ErrNotOwner is returned when a non-owner tries to write the offset.
	ErrNotOwner = errors.New("participant is not the instance owner")
)

// InstanceState is the replicated state of one instance.
type InstanceState struct {
	Instance  string    `json:"instance"`
	Owner     string    `json:"owner,omitempty"`
	Offset    int       `json:"offset"`
	HasOffset bool      `json:"has_offset"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// JoinResult is returned to a joining participant.
type JoinResult struct {
	Participant string `json:"participant"`
	InstanceState
}

// IsOwner reports whether the joining participant owns the instance.
func (j JoinResult) IsOwner() bool { return j.Participant != "" && j.Participant == j.Owner }

// Store persists instances and their participants.
type Store interface {
	Join(ctx context.Context, instance string) (JoinResult, error)
	Leave(ctx context.Context, instance, participant string) (InstanceState, error)
	SetOffset(ctx context.Context, instance, participant string, offset int) (InstanceState, error)
	Get(ctx context.Context, instance string) (InstanceState, error)
	Ping(ctx context.Context) error
	Close() error
}

// MemStore keeps all state in memory. Suitable for a single server process.
type MemStore struct {
	mu        sync.Mutex
	instances map[string]*memInstance
	now       func() time.Time
}

type memInstance struct {
	state        InstanceState
	participants []string // join order; index 0 owns the instance
}

func NewMemStore() *MemStore {
	return &MemStore{instances: map[string]*memInstance{}, now: time.Now}
}

func (m *MemStore) Join(_ context.Context, instance string) (JoinResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[instance]
	if !ok {
		in = &memInstance{state: InstanceState{Instance: instance, UpdatedAt: m.now().UTC()}}
		m.instances[instance] = in
	}
	id := uuid.NewString()
	in.participants = append(in.participants, id)
	return JoinResult{Participant: id, InstanceState: in.snapshot()}, nil
}

func (m *MemStore) Leave(_ context.Context, instance, participant string) (InstanceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[instance]
	if !ok {
		return InstanceState{}, ErrNotFound
	}
	for i, p := range in.participants {
		if p == participant {
			in.participants = append(in.participants[:i], in.participants[i+1:]...)
			if len(in.participants) == 0 {
				// the session is over; the next one draws again
				in.state.Offset = 0
				in.state.HasOffset = false
				in.state.UpdatedAt = m.now().UTC()
			}
			return in.snapshot(), nil
		}
	}
	return InstanceState{}, ErrNotFound
}

func (m *MemStore) SetOffset(_ context.Context, instance, participant string, offset int) (InstanceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[instance]
	if !ok {
		return InstanceState{}, ErrNotFound
	}
	if len(in.participants) == 0 || in.participants[0] != participant {
		return InstanceState{}, ErrNotOwner
	}
	in.state.Offset = offset
	in.state.HasOffset = true
	in.state.Version++
	in.state.UpdatedAt = m.now().UTC()
	return in.snapshot(), nil
}

func (m *MemStore) Get(_ context.Context, instance string) (InstanceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	in, ok := m.instances[instance]
	if !ok {
		return InstanceState{}, ErrNotFound
	}
	return in.snapshot(), nil
}

func (m *MemStore) Ping(context.Context) error { return nil }

func (m *MemStore) Close() error { return nil }

func (in *memInstance) snapshot() InstanceState {
	s := in.state
	s.Owner = ""
	if len(in.participants) > 0 {
		s.Owner = in.participants[0]
	}
	return s
}

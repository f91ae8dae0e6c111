/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package cache

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"
)

func openTest(t *testing.T, maxBytes int64) *Cache {
	t.Helper()
	c, err := Open(filepath.Join(t.TempDir(), "sub", "textures.sqlite"), maxBytes)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestPutGetRoundTrip(t *testing.T) {
	c := openTest(t, 0)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, ok, err := c.Get(ctx, "https://example.org/a.png"); err != nil || ok {
		t.Fatalf("Get on empty cache = %v, %v", ok, err)
	}
	in := Entry{URL: "https://example.org/a.png", ETag: `"v1"`, ContentType: "image/png", Body: []byte{1, 2, 3}}
	if err := c.Put(ctx, in); err != nil {
		t.Fatalf("Put: %v", err)
	}
	got, ok, err := c.Get(ctx, in.URL)
	if err != nil || !ok {
		t.Fatalf("Get = %v, %v", ok, err)
	}
	if got.ETag != in.ETag || got.ContentType != in.ContentType || !bytes.Equal(got.Body, in.Body) {
		t.Fatalf("Get = %+v, want %+v", got, in)
	}
	if got.FetchedAt.IsZero() {
		t.Fatalf("FetchedAt not recorded")
	}

	in.ETag = `"v2"`
	in.Body = []byte{9}
	if err := c.Put(ctx, in); err != nil {
		t.Fatalf("Put update: %v", err)
	}
	if total, _ := c.TotalBytes(ctx); total != 1 {
		t.Fatalf("TotalBytes = %d, want 1", total)
	}
}

func TestEvictsLeastRecentlyUsed(t *testing.T) {
	c := openTest(t, 64)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	put := func(url string) {
		t.Helper()
		if err := c.Put(ctx, Entry{URL: url, Body: make([]byte, 30)}); err != nil {
			t.Fatalf("Put %s: %v", url, err)
		}
	}
	put("a")
	put("b")
	// touch a so b becomes the oldest
	if _, ok, _ := c.Get(ctx, "a"); !ok {
		t.Fatalf("a missing before eviction")
	}
	put("c")

	if _, ok, _ := c.Get(ctx, "b"); ok {
		t.Fatalf("b should have been evicted")
	}
	for _, u := range []string{"a", "c"} {
		if _, ok, _ := c.Get(ctx, u); !ok {
			t.Fatalf("%s evicted, want kept", u)
		}
	}
	if total, _ := c.TotalBytes(ctx); total > 64 {
		t.Fatalf("TotalBytes = %d, want <= 64", total)
	}
}

func TestReopenKeepsEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "textures.sqlite")
	ctx := context.Background()
	c, err := Open(path, 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := c.Put(ctx, Entry{URL: "u", ETag: "e", Body: []byte("x")}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	_ = c.Close()

	c2, err := Open(path, 0)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer c2.Close()
	if e, ok, err := c2.Get(ctx, "u"); err != nil || !ok || e.ETag != "e" {
		t.Fatalf("Get after reopen = %+v, %v, %v", e, ok, err)
	}
}

func TestMaxBytesFromEnv(t *testing.T) {
	t.Setenv(EnvMaxBytes, "")
	if got := MaxBytesFromEnv(); got != defaultMaxBytes {
		t.Fatalf("MaxBytesFromEnv() = %d, want %d", got, defaultMaxBytes)
	}
	t.Setenv(EnvMaxBytes, "1024")
	if got := MaxBytesFromEnv(); got != 1024 {
		t.Fatalf("MaxBytesFromEnv() = %d, want 1024", got)
	}
	t.Setenv(EnvMaxBytes, "nope")
	if got := MaxBytesFromEnv(); got != defaultMaxBytes {
		t.Fatalf("MaxBytesFromEnv() = %d, want default", got)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open("  ", 0); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

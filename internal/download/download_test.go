/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package download

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"wallnewspaper/internal/cache"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/texture"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	return buf.Bytes()
}

// inflatedPNG is a valid 1x1 PNG whose header claims w x h pixels.
func inflatedPNG(t *testing.T, w, h uint32) []byte {
	t.Helper()
	b := pngBytes(t, 1, 1)
	// signature(8) | length(4) "IHDR"(4) width(4) height(4) ... | crc at 29
	binary.BigEndian.PutUint32(b[16:20], w)
	binary.BigEndian.PutUint32(b[20:24], h)
	binary.BigEndian.PutUint32(b[29:33], crc32.ChecksumIEEE(b[12:29]))
	return b
}

func TestDownloadDeliversTexture(t *testing.T) {
	body := pngBytes(t, 4, 2)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	d := New(Options{Log: applog.Discard()})
	got := make(chan *texture.Texture, 1)
	d.Download(context.Background(), srv.URL+"/paper.png", func(tex *texture.Texture) { got <- tex })

	select {
	case tex := <-got:
		if tex.Width() != 4 || tex.Height() != 2 {
			t.Fatalf("size = %dx%d, want 4x2", tex.Width(), tex.Height())
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("onLoaded not called")
	}
}

func TestDownloadFailureSkipsCallback(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	var failed atomic.Int32
	d := New(Options{Log: applog.Discard(), OnError: func(string, error) { failed.Add(1) }})
	called := false
	d.Download(context.Background(), srv.URL+"/missing.png", func(*texture.Texture) { called = true })
	d.Wait()
	if called {
		t.Fatalf("onLoaded called for a failed download")
	}
	if failed.Load() != 1 {
		t.Fatalf("OnError calls = %d, want 1", failed.Load())
	}

	d.Download(context.Background(), srv.URL+"/", func(*texture.Texture) { called = true })
	d.Wait()
	if called {
		t.Fatalf("onLoaded called for a failed download")
	}
}

func TestUndecodableBodyIsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("not an image"))
	}))
	defer srv.Close()
	d := New(Options{Log: applog.Discard()})
	if _, err := d.Load(context.Background(), srv.URL); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestConditionalRequestUsesCache(t *testing.T) {
	body := pngBytes(t, 2, 2)
	var full, notModified atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"p1"` {
			notModified.Add(1)
			w.WriteHeader(http.StatusNotModified)
			return
		}
		full.Add(1)
		w.Header().Set("ETag", `"p1"`)
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c, err := cache.Open(filepath.Join(t.TempDir(), "c.sqlite"), 0)
	if err != nil {
		t.Fatalf("cache.Open: %v", err)
	}
	defer c.Close()
	d := New(Options{Cache: c, Log: applog.Discard()})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		got, err := d.Fetch(ctx, srv.URL+"/p.png")
		if err != nil {
			t.Fatalf("Fetch #%d: %v", i, err)
		}
		if !bytes.Equal(got, body) {
			t.Fatalf("Fetch #%d returned %d bytes, want %d", i, len(got), len(body))
		}
	}
	if full.Load() != 1 || notModified.Load() != 1 {
		t.Fatalf("full=%d notModified=%d, want 1 and 1", full.Load(), notModified.Load())
	}
}

func TestFetchLocalFile(t *testing.T) {
	p := filepath.Join(t.TempDir(), "paper.png")
	if err := os.WriteFile(p, pngBytes(t, 3, 3), 0o644); err != nil {
		t.Fatal(err)
	}
	d := New(Options{Log: applog.Discard()})
	for _, u := range []string{p, "file://" + filepath.ToSlash(p)} {
		tex, err := d.Load(context.Background(), u)
		if err != nil {
			t.Fatalf("Load(%q): %v", u, err)
		}
		if tex.Width() != 3 {
			t.Fatalf("Load(%q) width = %d, want 3", u, tex.Width())
		}
	}
}

func TestUnsupportedScheme(t *testing.T) {
	d := New(Options{Log: applog.Discard()})
	if _, err := d.Fetch(context.Background(), "ftp://example.org/x.png"); err == nil {
		t.Fatalf("expected error for ftp scheme")
	}
}

func TestOversizedImageHeaderIsRejected(t *testing.T) {
	body := inflatedPNG(t, 60000, 60000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	var failed atomic.Int32
	d := New(Options{Log: applog.Discard(), OnError: func(string, error) { failed.Add(1) }})
	if _, err := d.Load(context.Background(), srv.URL+"/huge.png"); !errors.Is(err, texture.ErrTooManyPixels) {
		t.Fatalf("Load err = %v, want ErrTooManyPixels", err)
	}

	called := false
	d.Download(context.Background(), srv.URL+"/huge.png", func(*texture.Texture) { called = true })
	d.Wait()
	if called || failed.Load() != 1 {
		t.Fatalf("called = %v, OnError calls = %d, want false, 1", called, failed.Load())
	}
}

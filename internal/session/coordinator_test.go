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
	"image"
	"image/color"
	"testing"
	"time"

	"wallnewspaper/internal/layout"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/orientation"
	"wallnewspaper/internal/texture"
)

type fakeReplicator struct {
	authority bool
	published []int
	observers []func(int)
}

func (f *fakeReplicator) IsAuthority() bool { return f.authority }
func (f *fakeReplicator) Publish(v int) { f.published = append(f.published, v) }
func (f *fakeReplicator) Observe(fn func(int)) { f.observers = append(f.observers, fn) }

func (f *fakeReplicator) deliver(v int) {
	for _, fn := range f.observers {
		fn(v)
	}
}

type fakeDownloader struct {
	urls     []string
	onLoaded func(*texture.Texture)
}

func (f *fakeDownloader) Download(_ context.Context, url string, onLoaded func(*texture.Texture)) {
	f.urls = append(f.urls, url)
	f.onLoaded = onLoaded
}

type fakeIndicator struct{ active bool }

func (f *fakeIndicator) SetActive(a bool) { f.active = a }

type recordingSink struct{ names []string }

func (r *recordingSink) Event(name string, _ map[string]any) { r.names = append(r.names, name) }

func indicators(n int) ([]*fakeIndicator, []layout.Indicator) {
	raw := make([]*fakeIndicator, n)
	list := make([]layout.Indicator, n)
	for i := range raw {
		raw[i] = &fakeIndicator{}
		list[i] = raw[i]
	}
	return raw, list
}

func newTestCoordinator(t *testing.T, opts Options) *Coordinator {
	t.Helper()
	if opts.Material == nil {
		opts.Material = texture.NewMaterial("news")
	}
	if opts.Log == nil {
		opts.Log = applog.Discard()
	}
	c, err := New(opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestNewRequiresMaterial(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error without material")
	}
}

func TestOwnerDrawsAndPublishesStartOffset(t *testing.T) {
	mat := texture.NewMaterial("news")
	repl := &fakeReplicator{authority: true}
	var drawnFrom int
	c := newTestCoordinator(t, Options{
		Material:   mat,
		Replicator: repl,
		IntN: func(n int) int {
			drawnFrom = n
			return 2
		},
	})

	if c.State() != Initializing {
		t.Fatalf("state = %v, want initializing", c.State())
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.State() != Active {
		t.Fatalf("state = %v, want active", c.State())
	}
	if drawnFrom != layout.PageCount-1 {
		t.Fatalf("offset drawn from [0,%d), want [0,%d)", drawnFrom, layout.PageCount-1)
	}
	if len(repl.published) != 1 || repl.published[0] != 2 {
		t.Fatalf("published = %v, want [2]", repl.published)
	}
	if c.EffectivePage() != 2 {
		t.Fatalf("EffectivePage = %d, want 2", c.EffectivePage())
	}
	if got, want := mat.TextureOffset(), (layout.Vec2{U: 0, V: -1}); got != want {
		t.Fatalf("offset = %+v, want %+v", got, want)
	}
	if got, want := mat.TextureScale(), (layout.Vec2{U: 0.5, V: 0.5}); got != want {
		t.Fatalf("scale = %+v, want %+v", got, want)
	}
	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start err = %v, want ErrAlreadyStarted", err)
	}
}

func TestNonOwnerAppliesReplicatedOffsetWithoutDrawing(t *testing.T) {
	mat := texture.NewMaterial("news")
	repl := &fakeReplicator{}
	c := newTestCoordinator(t, Options{
		Material:   mat,
		Replicator: repl,
		IntN: func(int) int {
			t.Fatalf("non-owner must not draw an offset")
			return 0
		},
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(repl.published) != 0 {
		t.Fatalf("non-owner published %v", repl.published)
	}
	if c.EffectivePage() != 0 || mat.TextureOffset() != layout.UVOffset(0, 2, 2) {
		t.Fatalf("before sync: page %d offset %+v", c.EffectivePage(), mat.TextureOffset())
	}

	repl.deliver(2)
	repl.deliver(2) // idempotent
	if c.RandomOffset() != 2 || c.EffectivePage() != 2 {
		t.Fatalf("after sync: offset %d page %d", c.RandomOffset(), c.EffectivePage())
	}
	if got := mat.TextureOffset(); got != (layout.Vec2{U: 0, V: -1}) {
		t.Fatalf("offset = %+v", got)
	}
}

func TestOpenPageCombinesWithOffset(t *testing.T) {
	mat := texture.NewMaterial("news")
	raw, list := indicators(4)
	c := newTestCoordinator(t, Options{Material: mat, Indicators: list})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.SetRandomOffset(3)
	c.OpenPage(3)
	if c.EffectivePage() != 2 {
		t.Fatalf("EffectivePage = %d, want 2", c.EffectivePage())
	}

	c.OpenPage(1)
	want := []bool{false, true, false, false}
	for i, ind := range raw {
		if ind.active != want[i] {
			t.Fatalf("indicator %d active = %v, want %v", i, ind.active, want[i])
		}
	}
	if got := mat.TextureOffset(); got != layout.UVOffset(0, 2, 2) {
		t.Fatalf("page 1 + offset 3 should show page 0, got %+v", got)
	}
}

func TestOpenPageOutOfRangeWraps(t *testing.T) {
	mat := texture.NewMaterial("news")
	raw, list := indicators(4)
	c := newTestCoordinator(t, Options{Material: mat, Indicators: list})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	c.OpenPage(5)
	if c.CurrentPage() != 5 || c.EffectivePage() != 1 {
		t.Fatalf("current %d effective %d, want 5 and 1", c.CurrentPage(), c.EffectivePage())
	}
	for i, ind := range raw {
		if ind.active {
			t.Fatalf("indicator %d should be inactive", i)
		}
	}
}

func TestSetRandomOffsetClamps(t *testing.T) {
	c := newTestCoordinator(t, Options{})
	c.SetRandomOffset(9)
	if c.RandomOffset() != layout.PageCount-1 {
		t.Fatalf("offset = %d, want %d", c.RandomOffset(), layout.PageCount-1)
	}
	c.SetRandomOffset(-4)
	if c.RandomOffset() != 0 {
		t.Fatalf("offset = %d, want 0", c.RandomOffset())
	}
}

var calib = []orientation.CalibrationPoint{
	{X: 2, Y: 1, Expected: orientation.RGB{R: 250, G: 10, B: 10}},
	{X: 13, Y: 1, Expected: orientation.RGB{R: 10, G: 10, B: 250}},
}

// invertedTexture returns a 16x8 texture whose upright version has a red
// top-left and a blue top-right corner, stored upside down.
func invertedTexture() *texture.Texture {
	img := image.NewRGBA(image.Rect(0, 0, 16, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 16; x++ {
			c := color.RGBA{R: 90, G: 90, B: 90, A: 255}
			if y < 4 && x < 8 {
				c = color.RGBA{R: 250, G: 10, B: 10, A: 255}
			} else if y < 4 {
				c = color.RGBA{R: 10, G: 10, B: 250, A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	return texture.FromImage(orientation.FlipVertical(img))
}

func TestImageLoadedRepairsOnAffectedRuntime(t *testing.T) {
	mat := texture.NewMaterial("news")
	dl := &fakeDownloader{}
	sink := &recordingSink{}
	rep := orientation.NewRepairer(calib)
	rep.Window = 2
	rep.Log = applog.Discard()
	c := newTestCoordinator(t, Options{
		URL:             "https://example.test/news.png",
		Material:        mat,
		Downloader:      dl,
		AffectedRuntime: true,
		Repairer:        rep,
		Events:          sink,
	})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(dl.urls) != 1 || dl.urls[0] != "https://example.test/news.png" {
		t.Fatalf("download urls = %v", dl.urls)
	}

	tex := invertedTexture()
	dl.onLoaded(tex)
	if mat.MainTexture() != tex {
		t.Fatalf("material main texture not set")
	}
	if tex.Uploads() != 1 || c.RepairPasses() != 1 {
		t.Fatalf("uploads %d passes %d, want 1 and 1", tex.Uploads(), c.RepairPasses())
	}
	if got := tex.Pixels().RGBAAt(0, 0); got.R != 250 {
		t.Fatalf("top-left after repair = %v, want red", got)
	}
	if len(sink.names) != 1 || sink.names[0] != "orientation_repaired" {
		t.Fatalf("events = %v", sink.names)
	}
}

func TestImageLoadedSkipsRepairOnUnaffectedRuntime(t *testing.T) {
	mat := texture.NewMaterial("news")
	dl := &fakeDownloader{}
	c := newTestCoordinator(t, Options{URL: "file:///news.png", Material: mat, Downloader: dl})
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	tex := invertedTexture()
	before := append([]byte(nil), tex.Pixels().Pix...)
	dl.onLoaded(tex)
	if tex.Uploads() != 0 || c.RepairPasses() != 0 {
		t.Fatalf("repair ran on unaffected runtime")
	}
	if string(before) != string(tex.Pixels().Pix) {
		t.Fatalf("pixels changed on unaffected runtime")
	}
}

func TestLoopRunsPostedWorkInOrder(t *testing.T) {
	l := NewLoop(4)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	got := make(chan int, 3)
	for i := 0; i < 3; i++ {
		i := i
		l.Post(func() { got <- i })
	}
	l.Post(func() { panic("task failure must not stop the loop") })
	done := make(chan struct{})
	l.Post(func() { close(done) })
	<-done

	for want := 0; want < 3; want++ {
		if v := <-got; v != want {
			t.Fatalf("task order: got %d, want %d", v, want)
		}
	}
	l.Close()
	if err := <-errc; !errors.Is(err, ErrLoopClosed) {
		t.Fatalf("Run err = %v, want ErrLoopClosed", err)
	}
	l.Post(func() { t.Fatalf("work after close must be dropped") })
}

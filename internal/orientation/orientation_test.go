/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package orientation

import (
	"bytes"
	"image"
	"image/color"
	"testing"
)

var (
	masthead = RGB{R: 201, G: 34, B: 47}
	paper    = RGB{R: 248, G: 244, B: 232}
	ink      = RGB{R: 20, G: 20, B: 20}
)

var testPoints = []CalibrationPoint{
	{X: 10, Y: 8, Expected: masthead},
	{X: 50, Y: 8, Expected: paper},
}

func fill(img *image.RGBA, r image.Rectangle, c RGB) {
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			img.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
}

// uprightSheet draws a 64x48 page with a masthead top-left, paper top-right
// and a gradient below so that every row is distinct.
func uprightSheet() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		fill(img, image.Rect(0, y, 64, y+1), RGB{R: uint8(y * 5), G: 100, B: uint8(255 - y*5)})
	}
	fill(img, image.Rect(0, 0, 32, 16), masthead)
	fill(img, image.Rect(32, 0, 64, 16), paper)
	return img
}

func clonePix(img *image.RGBA) []byte { return append([]byte(nil), img.Pix...) }

type fakeTarget struct {
	img     *image.RGBA
	applied int
}

func (f *fakeTarget) Pixels() *image.RGBA { return f.img }
func (f *fakeTarget) SetPixels(p *image.RGBA) error {
	f.img = p
	return nil
}
func (f *fakeTarget) Apply() { f.applied++ }

func TestColorsMatch(t *testing.T) {
	grey := func(v uint8) RGB { return RGB{R: v, G: v, B: v} }
	if ColorsMatch(grey(200), grey(210), 5) {
		t.Fatalf("delta 10 must not match with threshold 5")
	}
	if !ColorsMatch(grey(200), grey(204), 5) {
		t.Fatalf("delta 4 must match with threshold 5")
	}
	if !ColorsMatch(grey(200), grey(205), 5) {
		t.Fatalf("delta equal to threshold must match")
	}
	for _, c := range []RGB{{}, masthead, paper, {R: 255, G: 0, B: 128}} {
		if !ColorsMatch(c, c, 0) {
			t.Fatalf("ColorsMatch must be reflexive for %+v", c)
		}
	}
	a, b := RGB{R: 10, G: 250, B: 3}, RGB{R: 13, G: 247, B: 0}
	if ColorsMatch(a, b, 3) != ColorsMatch(b, a, 3) {
		t.Fatalf("ColorsMatch must be symmetric")
	}
	if ColorsMatch(RGB{R: 0, G: 0, B: 0}, RGB{R: 0, G: 0, B: 9}, 5) {
		t.Fatalf("a single channel beyond threshold must fail")
	}
}

func TestSampleAverageColorIsRunningAverage(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 2, 1))
	img.SetRGBA(0, 0, color.RGBA{R: 100, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 200, A: 255})

	// Window 2 centred on (1,0) visits (0,0) (1,0) (0,0) (1,0) after clamping:
	// 100 -> 150 -> 125 -> 162. A true mean would be 150.
	got := SampleAverageColor(img, image.Pt(1, 0), 2)
	if got.R != 162 {
		t.Fatalf("running average R = %d, want 162", got.R)
	}
}

func TestSampleAverageColorUsesInvertedRows(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	fill(img, image.Rect(0, 3, 4, 4), ink) // bottom row only
	if got := SampleAverageColor(img, image.Pt(1, 0), 1); got != ink {
		t.Fatalf("sampling top row should read bottom row, got %+v", got)
	}
}

func TestDetectAndRepairFlipsInvertedImage(t *testing.T) {
	upright := uprightSheet()
	inverted := FlipVertical(upright)
	target := &fakeTarget{img: inverted}

	r := NewRepairer(testPoints)
	flipped, err := r.Repair(target)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if !flipped {
		t.Fatalf("expected inverted image to be flipped")
	}
	if !bytes.Equal(target.img.Pix, upright.Pix) {
		t.Fatalf("repaired buffer differs from the upright image")
	}
	if target.applied != 1 {
		t.Fatalf("Apply called %d times, want 1", target.applied)
	}

	// The detector does not re-trigger on the repaired buffer.
	again, _ := r.Repair(target)
	if again || target.applied != 1 {
		t.Fatalf("second pass flipped=%v applied=%d", again, target.applied)
	}
}

func TestDetectAndRepairIsAllOrNothing(t *testing.T) {
	inverted := FlipVertical(uprightSheet())
	// Break the second calibration point only: top-right of the upright
	// image lives in the bottom-right rows of the inverted buffer.
	fill(inverted, image.Rect(32, 32, 64, 48), ink)
	before := clonePix(inverted)

	if !ColorsMatch(SampleAverageColor(inverted, image.Pt(10, 8), DefaultWindow), masthead, DefaultThreshold) {
		t.Fatalf("precondition: first point should still match")
	}

	target := &fakeTarget{img: inverted}
	flipped, err := NewRepairer(testPoints).Repair(target)
	if err != nil {
		t.Fatalf("Repair: %v", err)
	}
	if flipped || target.applied != 0 {
		t.Fatalf("partial match must not flip: flipped=%v applied=%d", flipped, target.applied)
	}
	if !bytes.Equal(target.img.Pix, before) {
		t.Fatalf("buffer mutated on mismatch")
	}
}

func TestUprightImageIsLeftAlone(t *testing.T) {
	upright := uprightSheet()
	if Detect(upright, testPoints, DefaultWindow, DefaultThreshold) {
		t.Fatalf("upright image must not be detected as inverted")
	}
	if Detect(upright, nil, DefaultWindow, DefaultThreshold) {
		t.Fatalf("no calibration points must never detect")
	}
}

func TestFlipVerticalReversesRowsAndIsInvolution(t *testing.T) {
	img := uprightSheet()
	w, h := img.Rect.Dx(), img.Rect.Dy()
	img.SetRGBA(3, 0, color.RGBA{R: 1, G: 2, B: 3, A: 4})

	out := FlipVertical(img)
	for y := 0; y < h; y++ {
		src := img.Pix[img.PixOffset(0, y) : img.PixOffset(0, y)+w*4]
		dst := out.Pix[out.PixOffset(0, h-1-y) : out.PixOffset(0, h-1-y)+w*4]
		if !bytes.Equal(src, dst) {
			t.Fatalf("row %d not mapped to row %d", y, h-1-y)
		}
	}
	if !bytes.Equal(FlipVertical(out).Pix, img.Pix) {
		t.Fatalf("flipping twice must restore the original")
	}
}

func TestFlipVerticalHandlesSubImages(t *testing.T) {
	base := uprightSheet()
	sub := base.SubImage(image.Rect(8, 4, 24, 12)).(*image.RGBA)
	out := FlipVertical(sub)
	if out.Rect != image.Rect(0, 0, 16, 8) {
		t.Fatalf("rect = %v", out.Rect)
	}
	if out.RGBAAt(0, 7) != base.RGBAAt(8, 4) {
		t.Fatalf("sub-image row mapping wrong")
	}
}

func TestAffectedRuntime(t *testing.T) {
	if !AffectedRuntime("true") || !AffectedRuntime(" ON ") {
		t.Fatalf("forced on must be true")
	}
	if AffectedRuntime("false") || AffectedRuntime("0") {
		t.Fatalf("forced off must be false")
	}
}

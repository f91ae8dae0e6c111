/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package orientation detects and undoes a full vertical flip of downloaded
// newspaper images.
//
// On the standalone headset runtime the image downloader delivers the pixel
// buffer upside down. Detection samples a few calibration points whose colors
// are known for the correctly oriented image, but addresses rows from the
// bottom: if every sample matches, the buffer is inverted and gets flipped.
package orientation

import (
	"image"
	"log/slog"
	"runtime"
	"strings"

	applog "wallnewspaper/internal/log"
)

const (
	DefaultWindow    = 10
	DefaultThreshold = 5
)

// RGB is an 8-bit color without alpha.
type RGB struct {
	R, G, B uint8
}

// CalibrationPoint is a pixel position in the correctly oriented image
// (top-left origin) and the color expected there.
type CalibrationPoint struct {
	X, Y     int
	Expected RGB
}

// DefaultCalibration matches the published newspaper sheet: the red masthead
// band at the top-left and the paper white at the top-right.
var DefaultCalibration = []CalibrationPoint{
	{X: 64, Y: 48, Expected: RGB{R: 201, G: 34, B: 47}},
	{X: 960, Y: 48, Expected: RGB{R: 248, G: 244, B: 232}},
}

// AffectedRuntime resolves the runtime capability flag. "auto" enables the
// repair only on android, which is what the standalone headset runs.
func AffectedRuntime(mode string) bool {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return runtime.GOOS == "android"
	}
}

// ColorsMatch reports whether every channel of a and b differs by at most threshold.
func ColorsMatch(a, b RGB, threshold int) bool {
	return absDiff(a.R, b.R) <= threshold &&
		absDiff(a.G, b.G) <= threshold &&
		absDiff(a.B, b.B) <= threshold
}

func absDiff(a, b uint8) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

// SampleAverageColor averages a window×window square centred on p with rows
// addressed bottom-up, i.e. as if img were already upside down. Samples
// outside the image are clamped to the nearest edge.
//
// The average is a running one: seeded with the first sample, each further
// sample c updates avg = (avg + c) / 2 per channel using integer division.
// Later samples therefore weigh more than earlier ones.
func SampleAverageColor(img *image.RGBA, p image.Point, window int) RGB {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if w == 0 || h == 0 {
		return RGB{}
	}
	if window < 1 {
		window = 1
	}
	half := window / 2

	var r, g, b int
	first := true
	for dy := 0; dy < window; dy++ {
		y := clamp(p.Y-half+dy, 0, h-1)
		row := h - 1 - y
		for dx := 0; dx < window; dx++ {
			x := clamp(p.X-half+dx, 0, w-1)
			i := img.PixOffset(img.Rect.Min.X+x, img.Rect.Min.Y+row)
			cr, cg, cb := int(img.Pix[i]), int(img.Pix[i+1]), int(img.Pix[i+2])
			if first {
				r, g, b = cr, cg, cb
				first = false
				continue
			}
			r = (r + cr) / 2
			g = (g + cg) / 2
			b = (b + cb) / 2
		}
	}
	return RGB{R: uint8(r), G: uint8(g), B: uint8(b)}
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Detect reports whether every calibration point matches on the inverted
// addressing, meaning img is upside down. An empty point list never matches.
func Detect(img *image.RGBA, points []CalibrationPoint, window, threshold int) bool {
	if img == nil || len(points) == 0 {
		return false
	}
	for _, cp := range points {
		got := SampleAverageColor(img, image.Pt(cp.X, cp.Y), window)
		if !ColorsMatch(got, cp.Expected, threshold) {
			return false
		}
	}
	return true
}

// FlipVertical returns a new buffer whose rows are in reverse order.
// Pixel order inside each row is unchanged.
func FlipVertical(img *image.RGBA) *image.RGBA {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := image.NewRGBA(image.Rect(0, 0, w, h))
	rowBytes := w * 4
	for y := 0; y < h; y++ {
		src := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		dst := out.PixOffset(0, h-1-y)
		copy(out.Pix[dst:dst+rowBytes], img.Pix[src:src+rowBytes])
	}
	return out
}

// Target is the texture a repair pass reads from and writes back to.
type Target interface {
	Pixels() *image.RGBA
	SetPixels(*image.RGBA) error
	Apply()
}

// Repairer runs detection and the flip against a texture.
type Repairer struct {
	Points    []CalibrationPoint
	Window    int
	Threshold int
	Log       *slog.Logger
}

// NewRepairer returns a Repairer with the default window and threshold.
// A nil or empty points slice falls back to DefaultCalibration.
func NewRepairer(points []CalibrationPoint) *Repairer {
	if len(points) == 0 {
		points = DefaultCalibration
	}
	return &Repairer{
		Points:    points,
		Window:    DefaultWindow,
		Threshold: DefaultThreshold,
		Log:       applog.WithComponent("orientation"),
	}
}

// Repair flips t in place when every calibration point matches and marks it
// for a single upload. It reports whether a flip happened; on a mismatch t is
// left untouched.
func (r *Repairer) Repair(t Target) (bool, error) {
	img := t.Pixels()
	if img == nil {
		return false, nil
	}
	if !Detect(img, r.Points, r.Window, r.Threshold) {
		r.logger().Debug("calibration mismatch, image left as is",
			slog.Int("w", img.Rect.Dx()), slog.Int("h", img.Rect.Dy()))
		return false, nil
	}
	if err := t.SetPixels(FlipVertical(img)); err != nil {
		return false, err
	}
	t.Apply()
	r.logger().Info("flipped inverted image", slog.Int("w", img.Rect.Dx()), slog.Int("h", img.Rect.Dy()))
	return true, nil
}

func (r *Repairer) logger() *slog.Logger {
	if r.Log == nil {
		return applog.Discard()
	}
	return r.Log
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package texture holds decoded pixel buffers and the material they are bound to.
package texture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"

	xdraw "golang.org/x/image/draw"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// Texture is an RGBA pixel buffer, row-major and top-to-bottom, plus the
// bookkeeping for GPU uploads requested by Apply.
type Texture struct {
	pix     *image.RGBA
	uploads int
}

// New allocates an empty (transparent) texture.
func New(width, height int) *Texture {
	return &Texture{pix: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// FromImage converts any image into a texture with origin at (0,0).
func FromImage(src image.Image) *Texture {
	if rgba, ok := src.(*image.RGBA); ok && rgba.Rect.Min == (image.Point{}) {
		return &Texture{pix: rgba}
	}
	b := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	xdraw.Draw(dst, dst.Bounds(), src, b.Min, xdraw.Src)
	return &Texture{pix: dst}
}

// Decode reads an encoded image (png, jpeg, gif, bmp, webp) into a texture.
func Decode(r io.Reader) (*Texture, string, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read image: %w", err)
	}
	return DecodeBytes(b)
}

// MaxPixels bounds the declared size of a decoded image (8192x8192).
const MaxPixels = 8192 * 8192

// ErrTooManyPixels is returned when an image header declares more than MaxPixels.
var ErrTooManyPixels = errors.New("image dimensions exceed pixel limit")

// DecodeBytes is Decode over an in-memory blob. The header is checked
// against MaxPixels before any pixel buffer is allocated.
func DecodeBytes(b []byte) (*Texture, string, error) {
	if len(b) == 0 {
		return nil, "", errors.New("decode image: empty payload")
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxPixels {
		return nil, "", fmt.Errorf("decode image: %dx%d: %w", cfg.Width, cfg.Height, ErrTooManyPixels)
	}
	img, format, err := image.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return FromImage(img), format, nil
}

// Width returns the texture width in pixels.
func (t *Texture) Width() int { return t.pix.Rect.Dx() }

// Height returns the texture height in pixels.
func (t *Texture) Height() int { return t.pix.Rect.Dy() }

// Pixels returns the current buffer. Callers must not retain it across SetPixels.
func (t *Texture) Pixels() *image.RGBA { return t.pix }

// SetPixels replaces the buffer. The new buffer must have the same size.
func (t *Texture) SetPixels(p *image.RGBA) error {
	if p == nil {
		return errors.New("nil pixel buffer")
	}
	if p.Rect.Dx() != t.Width() || p.Rect.Dy() != t.Height() {
		return fmt.Errorf("pixel buffer size %dx%d does not match texture %dx%d",
			p.Rect.Dx(), p.Rect.Dy(), t.Width(), t.Height())
	}
	t.pix = p
	return nil
}

// Apply marks the texture for upload.
func (t *Texture) Apply() { t.uploads++ }

// Uploads reports how often Apply was called.
func (t *Texture) Uploads() int { return t.uploads }

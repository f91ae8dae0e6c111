/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package export slices a newspaper sheet into its pages and writes them out
// as PNG files, a PDF, or a CBZ archive.
package export

import (
	"errors"
	"fmt"
	"image"
	"image/color"

	xdraw "golang.org/x/image/draw"

	"wallnewspaper/internal/layout"
)

// Options controls how pages are cut from a sheet.
//   - Width: when > 0 each page is resampled to this width, keeping its aspect.
//   - IncludeGuides draws a 1px border around each page.
//   - Pages: if empty, all pages in reading order.
type Options struct {
	Width         int
	IncludeGuides bool
	GuideColor    color.RGBA
	Pages         []int
}

// Page is one cut-out page.
type Page struct {
	Number int
	Image  *image.RGBA
}

// SplitPages cuts sheet into the pages of the 2x2 grid.
func SplitPages(sheet image.Image, opt Options) ([]Page, error) {
	if sheet == nil {
		return nil, errors.New("sheet is nil")
	}
	b := sheet.Bounds()
	if b.Dx() < layout.Columns || b.Dy() < layout.Rows {
		return nil, fmt.Errorf("sheet %dx%d is too small for a %dx%d grid", b.Dx(), b.Dy(), layout.Columns, layout.Rows)
	}
	guide := opt.GuideColor
	if guide == (color.RGBA{}) {
		guide = color.RGBA{R: 255, A: 255}
	}

	var out []Page
	for _, n := range pageIndexes(layout.PageCount, opt.Pages) {
		if n < 0 || n >= layout.PageCount {
			continue
		}
		r := layout.PageRect(n, layout.Columns, layout.Rows, b)
		img := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
		xdraw.Draw(img, img.Bounds(), sheet, r.Min, xdraw.Src)
		if opt.Width > 0 && opt.Width != img.Bounds().Dx() {
			img = resize(img, opt.Width)
		}
		if opt.IncludeGuides {
			strokeRect(img, guide)
		}
		out = append(out, Page{Number: n, Image: img})
	}
	return out, nil
}

func resize(src *image.RGBA, width int) *image.RGBA {
	sb := src.Bounds()
	height := sb.Dy() * width / sb.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, sb, xdraw.Src, nil)
	return dst
}

func pageIndexes(total int, specific []int) []int {
	if len(specific) == 0 {
		out := make([]int, total)
		for i := range out {
			out[i] = i
		}
		return out
	}
	return specific
}

// strokeRect draws a 1px border along the image edges.
func strokeRect(img *image.RGBA, col color.RGBA) {
	b := img.Bounds()
	for x := b.Min.X; x < b.Max.X; x++ {
		img.SetRGBA(x, b.Min.Y, col)
		img.SetRGBA(x, b.Max.Y-1, col)
	}
	for y := b.Min.Y; y < b.Max.Y; y++ {
		img.SetRGBA(b.Min.X, y, col)
		img.SetRGBA(b.Max.X-1, y, col)
	}
}

/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package layout maps logical newspaper pages onto the shared page-grid texture.
//
// The newspaper image holds Columns×Rows pages. A material shows exactly one
// grid cell by scaling the texture to a single cell and offsetting it to the
// cell of the effective page. Texture space runs bottom-up while pages are
// read top-down, hence the negative V offsets.
package layout

import (
	"image"
	"math"
)

const (
	Columns   = 2
	Rows      = 2
	PageCount = Columns * Rows
)

// Vec2 is a texture-space vector (U, V).
type Vec2 struct {
	U float64
	V float64
}

// Scale returns the texture tiling that shows exactly one grid cell.
func Scale(columns, rows int) Vec2 {
	return Vec2{U: 1 / float64(columns), V: 1 / float64(rows)}
}

// UVOffset returns the texture offset of effectivePage.
// For a 2×2 grid: 0→(0,-0.5) 1→(0.5,-0.5) 2→(0,-1) 3→(0.5,-1).
func UVOffset(effectivePage, columns, rows int) Vec2 {
	return Vec2{
		U: float64(effectivePage%columns) / float64(columns),
		V: -math.Floor(float64(effectivePage)/float64(columns)+1) / float64(rows),
	}
}

// EffectivePage combines the locally opened page with the session offset.
// The result is always in [0, pageCount), including for negative inputs.
func EffectivePage(currentPage, randomOffset, pageCount int) int {
	if pageCount <= 0 {
		return 0
	}
	p := (currentPage + randomOffset) % pageCount
	if p < 0 {
		p += pageCount
	}
	return p
}

// Indicator is a per-page visual marker, e.g. the hotspot of the opened page.
type Indicator interface {
	SetActive(active bool)
}

// UpdateIndicators activates the indicator at currentPage and deactivates the rest.
// The slice length defines the valid range; an out of range page leaves all inactive.
func UpdateIndicators(currentPage int, indicators []Indicator) {
	for i, ind := range indicators {
		if ind == nil {
			continue
		}
		ind.SetActive(i == currentPage)
	}
}

// PageRect returns the pixel rectangle of a top-down image that the UV window
// of page samples, assuming repeat wrapping of the texture.
func PageRect(page, columns, rows int, bounds image.Rectangle) image.Rectangle {
	off := UVOffset(page, columns, rows)
	sc := Scale(columns, rows)
	v := off.V - math.Floor(off.V) // wrap into [0,1)
	w, h := float64(bounds.Dx()), float64(bounds.Dy())

	x0 := int(math.Round(off.U * w))
	x1 := int(math.Round((off.U + sc.U) * w))
	y0 := int(math.Round((1 - (v + sc.V)) * h))
	y1 := int(math.Round((1 - v) * h))
	return image.Rect(x0, y0, x1, y1).Add(bounds.Min)
}

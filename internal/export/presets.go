/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
)

// PresetName represents a named export preset.
type PresetName string

const (
	PresetWeb   PresetName = "web"
	PresetPrint PresetName = "print"
)

// BatchOptions runs several exporters over one sheet.
//
// Outputs land under OutDir (defaults to the preset name):
// png/page-<n>.png, pdf/newspaper.pdf and cbz/newspaper.cbz.
type BatchOptions struct {
	Preset        PresetName
	Formats       []string // allowed: pdf, png, cbz; empty means preset defaults
	Pages         []int
	Width         int   // when > 0 overrides the preset width
	IncludeGuides *bool // when set, overrides the preset default
	Title         string
	OutDir        string
}

// BatchExport runs exports according to the given preset and returns the written paths.
func BatchExport(sheet image.Image, opt BatchOptions) ([]string, error) {
	formats := opt.Formats
	if len(formats) == 0 {
		formats = presetDefaultFormats(opt.Preset)
	}
	base := opt.OutDir
	if base == "" {
		base = string(opt.Preset)
	}
	if base == "" {
		base = "export"
	}

	o := Options{Pages: opt.Pages, Width: presetWidth(opt.Preset), IncludeGuides: presetIncludeGuides(opt.Preset)}
	if opt.Width > 0 {
		o.Width = opt.Width
	}
	if opt.IncludeGuides != nil {
		o.IncludeGuides = *opt.IncludeGuides
	}

	var written []string
	for _, f := range formats {
		switch strings.ToLower(strings.TrimSpace(f)) {
		case "png":
			paths, err := WritePNGPages(sheet, filepath.Join(base, "png"), o)
			if err != nil {
				return written, fmt.Errorf("png: %w", err)
			}
			written = append(written, paths...)
		case "pdf":
			out := filepath.Join(base, "pdf", "newspaper.pdf")
			if err := WritePDF(sheet, out, PDFOptions{Options: o, Title: opt.Title}); err != nil {
				return written, fmt.Errorf("pdf: %w", err)
			}
			written = append(written, out)
		case "cbz":
			out := filepath.Join(base, "cbz", "newspaper.cbz")
			if err := WriteCBZ(sheet, out, CBZOptions{Options: o, Title: opt.Title}); err != nil {
				return written, fmt.Errorf("cbz: %w", err)
			}
			written = append(written, out)
		default:
			return written, fmt.Errorf("unknown format: %s", f)
		}
	}
	return written, nil
}

func presetDefaultFormats(p PresetName) []string {
	switch p {
	case PresetWeb:
		return []string{"png", "cbz"}
	case PresetPrint:
		return []string{"pdf"}
	default:
		return []string{"png"}
	}
}

func presetWidth(p PresetName) int {
	if p == PresetWeb {
		return 800
	}
	return 0
}

func presetIncludeGuides(p PresetName) bool {
	return p == PresetPrint
}

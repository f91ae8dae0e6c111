/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/lucasb-eyer/go-colorful"
	"gopkg.in/yaml.v3"

	"wallnewspaper/internal/config"
	"wallnewspaper/internal/download"
	"wallnewspaper/internal/export"
	"wallnewspaper/internal/layout"
	"wallnewspaper/internal/orientation"
	"wallnewspaper/internal/texture"
)

func cmdLayout(w io.Writer, pageArg, offsetArg string) error {
	page, err := strconv.Atoi(pageArg)
	if err != nil {
		return fmt.Errorf("page: %w", err)
	}
	offset, err := strconv.Atoi(offsetArg)
	if err != nil {
		return fmt.Errorf("offset: %w", err)
	}
	eff := layout.EffectivePage(page, offset, layout.PageCount)
	uv := layout.UVOffset(eff, layout.Columns, layout.Rows)
	sc := layout.Scale(layout.Columns, layout.Rows)
	fmt.Fprintf(w, "effective page: %d\n", eff)
	fmt.Fprintf(w, "texture offset: (%g, %g)\n", uv.U, uv.V)
	fmt.Fprintf(w, "texture scale:  (%g, %g)\n", sc.U, sc.V)
	fmt.Fprintf(w, "indicators:     %s\n", lampRow(page))
	return nil
}

// lampRow renders the page buttons, the current one lit.
func lampRow(current int) string {
	var b strings.Builder
	for i := 0; i < layout.PageCount; i++ {
		if i > 0 {
			b.WriteByte(' ')
		}
		if i == current {
			fmt.Fprintf(&b, "[%d]", i+1)
		} else {
			fmt.Fprintf(&b, " %d ", i+1)
		}
	}
	return b.String()
}

func loadSheet(ctx context.Context, src string) (*texture.Texture, string, int, error) {
	body, err := download.New(download.Options{}).Fetch(ctx, src)
	if err != nil {
		return nil, "", 0, err
	}
	tex, format, err := texture.DecodeBytes(body)
	if err != nil {
		return nil, "", 0, fmt.Errorf("decode %s: %w", src, err)
	}
	return tex, format, len(body), nil
}

func hexOf(c orientation.RGB) string {
	return colorful.Color{R: float64(c.R) / 255, G: float64(c.G) / 255, B: float64(c.B) / 255}.Hex()
}

func repairerFor(cfg config.AppConfig) (*orientation.Repairer, error) {
	pts, err := cfg.Orientation.CalibrationPoints()
	if err != nil {
		return nil, err
	}
	r := orientation.NewRepairer(pts)
	r.Window = cfg.Orientation.Window
	r.Threshold = cfg.Orientation.Threshold
	return r, nil
}

func cmdInspect(ctx context.Context, w io.Writer, cfg config.AppConfig, src string) error {
	tex, format, size, err := loadSheet(ctx, src)
	if err != nil {
		return err
	}
	rep, err := repairerFor(cfg)
	if err != nil {
		return err
	}
	img := tex.Pixels()
	fmt.Fprintf(w, "image: %s %dx%d, %s\n", format, tex.Width(), tex.Height(), humanize.Bytes(uint64(size)))
	for _, p := range rep.Points {
		got := orientation.SampleAverageColor(img, image.Pt(p.X, p.Y), rep.Window)
		fmt.Fprintf(w, "point (%d,%d): expected %s sampled %s match=%v\n",
			p.X, p.Y, hexOf(p.Expected), hexOf(got), orientation.ColorsMatch(got, p.Expected, rep.Threshold))
	}
	fmt.Fprintf(w, "inverted: %v\n", orientation.Detect(img, rep.Points, rep.Window, rep.Threshold))
	fmt.Fprintf(w, "repair enabled on this runtime: %v\n", cfg.Orientation.Affected())
	return nil
}

func cmdRepair(ctx context.Context, w io.Writer, cfg config.AppConfig, src, out string) error {
	tex, _, _, err := loadSheet(ctx, src)
	if err != nil {
		return err
	}
	rep, err := repairerFor(cfg)
	if err != nil {
		return err
	}
	flipped, err := rep.Repair(tex)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(out), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(f, tex.Pixels()); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	if flipped {
		fmt.Fprintf(w, "flipped upright: %s\n", out)
	} else {
		fmt.Fprintf(w, "calibration did not match; copied unchanged: %s\n", out)
	}
	return nil
}

func cmdExport(ctx context.Context, w io.Writer, src, dir, preset string) error {
	tex, _, _, err := loadSheet(ctx, src)
	if err != nil {
		return err
	}
	paths, err := export.BatchExport(tex.Pixels(), export.BatchOptions{
		Preset: export.PresetName(strings.ToLower(preset)),
		OutDir: dir,
		Title:  filepath.Base(src),
	})
	for _, p := range paths {
		fmt.Fprintln(w, p)
	}
	return err
}

func cmdConfig(w io.Writer, cfg config.AppConfig, token string) error {
	path, err := config.ConfigPath()
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "# %s\n", path)
	for _, k := range config.Overrides() {
		name, _ := config.EnvOverrideFor(k)
		fmt.Fprintf(w, "# %s overridden by %s\n", k, name)
	}
	if token != "" {
		fmt.Fprintln(w, "# replication token: stored in keychain")
	}
	_, err = w.Write(data)
	return err
}

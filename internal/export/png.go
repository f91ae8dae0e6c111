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
	"image/png"
	"os"
	"path/filepath"
)

// WritePNGPages writes each page as page-<n>.png under outDir (n is 1-based)
// and returns the written paths.
func WritePNGPages(sheet image.Image, outDir string, opt Options) ([]string, error) {
	pages, err := SplitPages(sheet, opt)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("ensure out dir: %w", err)
	}
	paths := make([]string, 0, len(pages))
	for _, pg := range pages {
		name := filepath.Join(outDir, fmt.Sprintf("page-%d.png", pg.Number+1))
		if err := writePNG(name, pg.Image); err != nil {
			return paths, err
		}
		paths = append(paths, name)
	}
	return paths, nil
}

func writePNG(name string, img image.Image) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("create png: %w", err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode png: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close png: %w", err)
	}
	return nil
}

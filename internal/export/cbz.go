/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"archive/zip"
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"strings"
)

// CBZOptions adds archive metadata to Options.
type CBZOptions struct {
	Options
	Series string
	Title  string
}

// WriteCBZ packages the pages of sheet as PNG images into a CBZ (ZIP) archive
// with a ComicInfo.xml manifest so comic readers show them in order.
func WriteCBZ(sheet image.Image, outPath string, opt CBZOptions) error {
	pages, err := SplitPages(sheet, opt.Options)
	if err != nil {
		return err
	}
	if !strings.HasSuffix(strings.ToLower(outPath), ".cbz") {
		outPath += ".cbz"
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	f, err := os.Create(outPath)
	if err != nil {
		return fmt.Errorf("create cbz: %w", err)
	}
	defer func() { _ = f.Close() }()
	zw := zip.NewWriter(f)

	buf := &bytes.Buffer{}
	for i, pg := range pages {
		buf.Reset()
		if err := png.Encode(buf, pg.Image); err != nil {
			return fmt.Errorf("encode png: %w", err)
		}
		if err := addZipFile(zw, fmt.Sprintf("%02d.png", i+1), buf.Bytes()); err != nil {
			return fmt.Errorf("zip add image: %w", err)
		}
	}
	if err := addZipFile(zw, "ComicInfo.xml", []byte(comicInfo(opt, len(pages)))); err != nil {
		return fmt.Errorf("zip add manifest: %w", err)
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("close zip: %w", err)
	}
	return f.Close()
}

func addZipFile(zw *zip.Writer, name string, data []byte) error {
	w, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

var xmlEsc = strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;", `"`, "&quot;", "'", "&apos;")

func comicInfo(opt CBZOptions, pageCount int) string {
	series := opt.Series
	if series == "" {
		series = "Wall newspaper"
	}
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<ComicInfo xmlns:xsi=\"http://www.w3.org/2001/XMLSchema-instance\">\n")
	fmt.Fprintf(&b, "  <Series>%s</Series>\n", xmlEsc.Replace(series))
	if opt.Title != "" {
		fmt.Fprintf(&b, "  <Title>%s</Title>\n", xmlEsc.Replace(opt.Title))
	}
	fmt.Fprintf(&b, "  <PageCount>%d</PageCount>\n", pageCount)
	b.WriteString("  <ReadingDirection>LeftToRight</ReadingDirection>\n")
	b.WriteString("</ComicInfo>\n")
	return b.String()
}

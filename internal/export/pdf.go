/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package export

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/jung-kurt/gofpdf"

	"wallnewspaper/internal/version"
)

// PDFOptions controls PDF export. Page images are placed 1:1 at DPI
// (default 150), one page per sheet.
type PDFOptions struct {
	Options
	Title string
	DPI   int
}

// WritePDF writes the pages of sheet into a single PDF at outPath.
func WritePDF(sheet image.Image, outPath string, opt PDFOptions) error {
	pages, err := SplitPages(sheet, opt.Options)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("no pages selected")
	}
	dpi := opt.DPI
	if dpi <= 0 {
		dpi = 150
	}
	toPt := 72.0 / float64(dpi)

	first := pages[0].Image.Bounds()
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		UnitStr: "pt",
		Size:    gofpdf.SizeType{Wd: float64(first.Dx()) * toPt, Ht: float64(first.Dy()) * toPt},
	})
	title := opt.Title
	if title == "" {
		title = "Wall newspaper"
	}
	pdf.SetTitle(title, true)
	pdf.SetCreator(version.String(), true)

	buf := &bytes.Buffer{}
	for _, pg := range pages {
		b := pg.Image.Bounds()
		w, h := float64(b.Dx())*toPt, float64(b.Dy())*toPt
		pdf.AddPageFormat("", gofpdf.SizeType{Wd: w, Ht: h})

		buf.Reset()
		if err := png.Encode(buf, pg.Image); err != nil {
			return fmt.Errorf("encode page %d: %w", pg.Number+1, err)
		}
		name := fmt.Sprintf("page-%d", pg.Number+1)
		imgOpt := gofpdf.ImageOptions{ImageType: "PNG"}
		pdf.RegisterImageOptionsReader(name, imgOpt, bytes.NewReader(buf.Bytes()))
		pdf.ImageOptions(name, 0, 0, w, h, false, imgOpt, 0, "")
		if err := pdf.Error(); err != nil {
			return fmt.Errorf("place page %d: %w", pg.Number+1, err)
		}
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return fmt.Errorf("ensure out dir: %w", err)
	}
	if err := pdf.OutputFileAndClose(outPath); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

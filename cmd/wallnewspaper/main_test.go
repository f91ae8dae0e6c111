/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

package main

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"wallnewspaper/internal/config"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/orientation"
	"wallnewspaper/internal/telemetry"
)

// writeSheet writes a w x h PNG whose top band carries the default
// calibration colors; inverted stores it bottom-up.
func writeSheet(t *testing.T, w, h int, inverted bool) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.RGBA{A: 255}
			if y < 96 {
				p := orientation.DefaultCalibration[0].Expected
				if x >= w/2 {
					p = orientation.DefaultCalibration[1].Expected
				}
				c = color.RGBA{R: p.R, G: p.G, B: p.B, A: 255}
			}
			row := y
			if inverted {
				row = h - 1 - y
			}
			img.SetRGBA(x, row, c)
		}
	}
	p := filepath.Join(t.TempDir(), "sheet.png")
	f, err := os.Create(p)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestCmdLayout(t *testing.T) {
	var out bytes.Buffer
	if err := cmdLayout(&out, "1", "2"); err != nil {
		t.Fatalf("cmdLayout: %v", err)
	}
	s := out.String()
	for _, want := range []string{"effective page: 3", "texture offset: (0.5, -1)", "texture scale:  (0.5, 0.5)", "[2]"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}
	if err := cmdLayout(&out, "x", "0"); err == nil {
		t.Fatalf("expected error for non-numeric page")
	}
}

func TestCmdRepairFlipsInvertedSheet(t *testing.T) {
	src := writeSheet(t, 1024, 256, true)
	out := filepath.Join(t.TempDir(), "fixed.png")
	var msg bytes.Buffer
	if err := cmdRepair(context.Background(), &msg, config.Defaults(), src, out); err != nil {
		t.Fatalf("cmdRepair: %v", err)
	}
	if !strings.Contains(msg.String(), "flipped upright") {
		t.Fatalf("output = %q", msg.String())
	}

	// the repaired sheet now reads upright and is left alone
	msg.Reset()
	if err := cmdRepair(context.Background(), &msg, config.Defaults(), out, out); err != nil {
		t.Fatalf("second cmdRepair: %v", err)
	}
	if !strings.Contains(msg.String(), "did not match") {
		t.Fatalf("second output = %q", msg.String())
	}
}

func TestCmdInspect(t *testing.T) {
	src := writeSheet(t, 1024, 256, true)
	var out bytes.Buffer
	if err := cmdInspect(context.Background(), &out, config.Defaults(), src); err != nil {
		t.Fatalf("cmdInspect: %v", err)
	}
	s := out.String()
	for _, want := range []string{"image: png 1024x256", "expected #c9222f", "inverted: true"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}
}

func TestRunSessionLocal(t *testing.T) {
	src := writeSheet(t, 64, 32, false)
	cfg := config.Defaults()
	cfg.Newspaper.URL = src
	cfg.Cache.Disabled = true
	cfg.Orientation.Runtime = "false"
	tel := telemetry.New(telemetry.Config{})
	defer tel.Close()

	var out bytes.Buffer
	in := strings.NewReader("open 1\nquit\n")
	if err := runSession(context.Background(), appEnv{cfg: cfg, tel: tel}, in, &out); err != nil {
		t.Fatalf("runSession: %v", err)
	}
	s := out.String()
	for _, want := range []string{"texture loaded: 64x32", "[1]", "[2]"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output missing %q:\n%s", want, s)
		}
	}
}

func TestRunSessionNeedsURL(t *testing.T) {
	if err := runSession(context.Background(), appEnv{cfg: config.Defaults()}, strings.NewReader(""), &bytes.Buffer{}); err == nil {
		t.Fatalf("expected error without url")
	}
}

func TestRunExitCodes(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "wnp.log")
	t.Setenv(applog.EnvFile, logFile)
	t.Cleanup(func() {
		applog.Init(applog.Options{Console: io.Discard})
		_ = applog.Close()
	})

	cases := []struct {
		args []string
		want int
	}{
		{[]string{"wallnewspaper", "version"}, 0},
		{[]string{"wallnewspaper", "layout"}, 2},
		{[]string{"wallnewspaper", "bogus"}, 2},
		{[]string{"wallnewspaper", "layout", "x", "1"}, 1},
	}
	for _, c := range cases {
		if got := run(c.args); got != c.want {
			t.Fatalf("run(%v) = %d, want %d", c.args, got, c.want)
		}
	}

	// the failing command must have reached the rotated log file
	b, err := os.ReadFile(logFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "command failed") {
		t.Fatalf("log file missing failure entry:\n%s", b)
	}
}

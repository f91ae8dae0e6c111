/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package crash turns an unexpected panic into a report file and a non-zero exit.
package crash

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"runtime/debug"
	"time"

	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/version"
)

// exitFn is used to allow testing of Recover without terminating the test process.
var exitFn = os.Exit

// Uploader receives the serialized report; telemetry.Client implements it.
type Uploader interface {
	UploadCrash(report []byte)
}

// Reporter describes where a crash report goes and what it contains.
type Reporter struct {
	// Dir receives crash-<stamp>.log; os.TempDir() when empty.
	Dir string
	// State, when set, contributes extra lines (e.g. the session's pages).
	State    func() map[string]string
	Uploader Uploader
}

// Recover captures a panic, logs it with its stack, writes a report and exits with code 2.
//
// Usage: defer crash.Recover(rep)
func Recover(rep *Reporter) {
	r := recover()
	if r == nil {
		return
	}
	l := applog.WithComponent("crash")
	stack := debug.Stack()
	l.Error("panic recovered", slog.Any("panic", r), slog.String("stack", string(stack)))

	if rep == nil {
		rep = &Reporter{}
	}
	reportPath, err := rep.write(r, stack)
	if err != nil {
		l.Error("write crash report failed", slog.Any("err", err))
	}
	if _, err := fmt.Fprintf(os.Stderr, "A fatal error occurred. A crash report was saved to: %s\nVersion: %s\nOS/Arch: %s/%s\n",
		reportPath, version.String(), runtime.GOOS, runtime.GOARCH); err != nil {
		l.Error("failed to write crash message to stderr", slog.Any("err", err))
	}
	// exiting skips the caller's deferred flush of the log file
	_ = applog.Close()
	exitFn(2)
}

func (rep *Reporter) write(panicVal any, stack []byte) (string, error) {
	dir := rep.Dir
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, fmt.Sprintf("crash-%s.log", time.Now().Format("20060102-150405")))

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Wall Newspaper Crash Report\n")
	fmt.Fprintf(&buf, "Timestamp: %s\n", time.Now().Format(time.RFC3339))
	fmt.Fprintf(&buf, "Version: %s\n", version.String())
	fmt.Fprintf(&buf, "OS/Arch: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	if rep.State != nil {
		for k, v := range safeState(rep.State) {
			fmt.Fprintf(&buf, "%s: %s\n", k, v)
		}
	}
	fmt.Fprintf(&buf, "\nPanic: %v\n\n", panicVal)
	fmt.Fprintf(&buf, "Stack:\n%s\n", stack)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return path, err
	}
	if rep.Uploader != nil {
		rep.Uploader.UploadCrash(buf.Bytes())
	}
	return path, nil
}

// safeState calls fn and swallows a second panic from it.
func safeState(fn func() map[string]string) (m map[string]string) {
	defer func() {
		if recover() != nil {
			m = nil
		}
	}()
	return fn()
}

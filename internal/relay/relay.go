/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package relay forwards in-world interactions to the session.
package relay

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"wallnewspaper/internal/history"
	"wallnewspaper/internal/session"
)

// Opener is the session entry point a button drives.
type Opener interface {
	OpenPage(page int)
}

// Button is one page button on the newspaper frame.
type Button struct {
	Page   int
	Target Opener
	// Dispatcher runs the call on the session thread; nil calls directly.
	Dispatcher session.Dispatcher
}

// Interact is invoked by the host when a user presses the button.
func (b Button) Interact() {
	if b.Target == nil {
		return
	}
	call := func() { b.Target.OpenPage(b.Page) }
	if b.Dispatcher == nil {
		call()
		return
	}
	b.Dispatcher.Post(call)
}

// Buttons returns one button per page, in page order.
func Buttons(n int, target Opener, d session.Dispatcher) []Button {
	out := make([]Button, n)
	for i := range out {
		out[i] = Button{Page: i, Target: target, Dispatcher: d}
	}
	return out
}

// Serve reads commands from r until EOF, "quit" or ctx ends:
//
//	open N   press the button of page N
//	back     reopen the previous page
//	forward  undo a back
//	quit     stop reading
//
// trail may be nil, in which case back and forward report that no history
// is kept. Unknown lines are reported on w and skipped.
func Serve(ctx context.Context, r io.Reader, w io.Writer, buttons []Button, trail *history.Trail) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch strings.ToLower(fields[0]) {
		case "quit", "exit":
			return nil
		case "open":
			if len(fields) != 2 {
				fmt.Fprintln(w, "usage: open <page>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			if err != nil {
				fmt.Fprintf(w, "not a page number: %q\n", fields[1])
				continue
			}
			if trail != nil {
				trail.Visit(n)
			}
			press(buttons, n)
		case "back", "forward":
			if trail == nil {
				fmt.Fprintln(w, "no history kept")
				continue
			}
			step := trail.Back
			if strings.ToLower(fields[0]) == "forward" {
				step = trail.Forward
			}
			n, ok := step()
			if !ok {
				fmt.Fprintf(w, "nothing to go %s to\n", strings.ToLower(fields[0]))
				continue
			}
			press(buttons, n)
		default:
			fmt.Fprintf(w, "unknown command: %s\n", fields[0])
		}
	}
	return sc.Err()
}

// press uses the matching button, or the first one re-targeted, so values
// outside the button range still reach the session and wrap there.
func press(buttons []Button, page int) {
	for _, b := range buttons {
		if b.Page == page {
			b.Interact()
			return
		}
	}
	if len(buttons) > 0 {
		b := buttons[0]
		b.Page = page
		b.Interact()
	}
}

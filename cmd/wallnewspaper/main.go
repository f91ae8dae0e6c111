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
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"wallnewspaper/internal/backend"
	"wallnewspaper/internal/config"
	"wallnewspaper/internal/crash"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/telemetry"
	"wallnewspaper/internal/version"
)

func usage() {
	fmt.Println("Wall Newspaper")
	fmt.Printf("Version: %s\n", version.String())
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  wallnewspaper version|-v|--version         Show version")
	fmt.Println("  wallnewspaper layout <page> <offset>       Print the UV window for a page and start offset")
	fmt.Println("  wallnewspaper inspect <image|url>          Sample calibration points and report orientation")
	fmt.Println("  wallnewspaper repair <in> <out.png>        Flip an inverted sheet upright")
	fmt.Println("  wallnewspaper export <image|url> <dir> [web|print]")
	fmt.Println("                                             Cut the sheet into its pages")
	fmt.Println("  wallnewspaper serve                        Run the replication server")
	fmt.Println("  wallnewspaper run [url]                    Run a headless session; type 'open N', 'back', 'forward'")
	fmt.Println("  wallnewspaper config                       Print the effective configuration")
	fmt.Println("  wallnewspaper logout                       Forget the stored replication token")
}

var reporter = &crash.Reporter{}

func main() {
	os.Exit(run(os.Args))
}

// run dispatches the subcommand and returns the process exit code, so the
// deferred log flush runs on every path.
func run(args []string) int {
	// initialize structured logging using environment defaults
	applog.Init(applog.FromEnv())
	defer func() { _ = applog.Close() }()
	defer crash.Recover(reporter)
	l := applog.WithComponent("cli")

	if len(args) < 2 {
		usage()
		return 0
	}
	l.Debug("start", slog.String("cmd", args[1]), slog.Int("args", len(args)))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch args[1] {
	case "version", "--version", "-v":
		fmt.Println(version.String())
		return 0
	case "layout":
		if len(args) < 4 {
			fmt.Println("layout requires <page> and <offset>")
			usage()
			return 2
		}
		err = cmdLayout(os.Stdout, args[2], args[3])
	case "inspect":
		if len(args) < 3 {
			fmt.Println("inspect requires <image>")
			usage()
			return 2
		}
		err = withConfig(func(env appEnv) error { return cmdInspect(ctx, os.Stdout, env.cfg, args[2]) })
	case "repair":
		if len(args) < 4 {
			fmt.Println("repair requires <in> and <out>")
			usage()
			return 2
		}
		err = withConfig(func(env appEnv) error { return cmdRepair(ctx, os.Stdout, env.cfg, args[2], args[3]) })
	case "export":
		if len(args) < 4 {
			fmt.Println("export requires <image> and <dir>")
			usage()
			return 2
		}
		preset := "web"
		if len(args) > 4 {
			preset = args[4]
		}
		err = cmdExport(ctx, os.Stdout, args[2], args[3], preset)
	case "serve":
		err = backend.Start(ctx, backend.ConfigFromEnv())
	case "run":
		err = withConfig(func(env appEnv) error {
			if len(args) > 2 {
				env.cfg.Newspaper.URL = args[2]
			}
			return runSession(ctx, env, os.Stdin, os.Stdout)
		})
	case "config":
		err = withConfig(func(env appEnv) error { return cmdConfig(os.Stdout, env.cfg, env.token) })
	case "logout":
		err = config.ClearToken()
	default:
		usage()
		return 2
	}
	if err != nil {
		l.Error("command failed", slog.String("cmd", args[1]), slog.Any("err", err))
		fmt.Println("Error:", err)
		return 1
	}
	return 0
}

// appEnv is what a configured command gets to work with.
type appEnv struct {
	cfg   config.AppConfig
	token string
	tel   *telemetry.Client
}

// withConfig loads the user config, re-initializes logging from it and wires
// crash uploads before running fn.
func withConfig(fn func(env appEnv) error) error {
	cfg, token, err := config.Load()
	if err != nil {
		return err
	}
	applog.Init(applog.Options{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		AddSource: cfg.Logging.Source,
		File:      cfg.Logging.File,
	})

	tel := telemetry.New(telemetryConfig(cfg))
	defer tel.Close()
	reporter.Uploader = tel
	return fn(appEnv{cfg: cfg, token: token, tel: tel})
}

func telemetryConfig(cfg config.AppConfig) telemetry.Config {
	tc := telemetry.FromEnv()
	tc.OptIn = tc.OptIn || cfg.Telemetry.OptIn
	if tc.EventsURL == "" {
		tc.EventsURL = cfg.Telemetry.EventsURL
	}
	if tc.CrashURL == "" {
		tc.CrashURL = cfg.Telemetry.CrashURL
	}
	return tc
}

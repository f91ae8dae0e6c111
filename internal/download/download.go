/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the specific language governing permissions and limitations under the License.
 */

// Package download fetches newspaper images over HTTP(S) or from local files
// and hands them to the session as textures.
package download

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"wallnewspaper/internal/cache"
	applog "wallnewspaper/internal/log"
	"wallnewspaper/internal/texture"
	"wallnewspaper/internal/version"
)

// MaxBodyBytes bounds a single image download.
const MaxBodyBytes = 32 << 20

var ErrTooLarge = errors.New("image exceeds size limit")

// BlobCache is the subset of cache.Cache used for conditional requests.
type BlobCache interface {
	Get(ctx context.Context, url string) (cache.Entry, bool, error)
	Put(ctx context.Context, e cache.Entry) error
}

// Options configures a Downloader. All fields are optional.
type Options struct {
	Client *http.Client
	Cache  BlobCache
	Log    *slog.Logger
	// OnError is called from the download goroutine when a fetch or decode fails.
	OnError func(url string, err error)
}

// Downloader implements session.Downloader.
type Downloader struct {
	client  *http.Client
	cache   BlobCache
	log     *slog.Logger
	onError func(string, error)
	wg      sync.WaitGroup
}

func New(opts Options) *Downloader {
	d := &Downloader{client: opts.Client, cache: opts.Cache, log: opts.Log, onError: opts.OnError}
	if d.client == nil {
		d.client = &http.Client{Timeout: 60 * time.Second}
	}
	if d.log == nil {
		d.log = applog.WithComponent("download")
	}
	return d
}

// Download fetches and decodes rawURL on a background goroutine. onLoaded is
// called only on success; failures are logged.
func (d *Downloader) Download(ctx context.Context, rawURL string, onLoaded func(*texture.Texture)) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		start := time.Now()
		l := d.log.With(slog.String("url", rawURL))
		tex, err := d.Load(ctx, rawURL)
		if err != nil {
			l.Warn("image download failed", slog.Any("err", err))
			if d.onError != nil {
				d.onError(rawURL, err)
			}
			return
		}
		l.Info("image loaded", slog.Int("w", tex.Width()), slog.Int("h", tex.Height()), slog.Duration("took", time.Since(start)))
		if onLoaded != nil {
			onLoaded(tex)
		}
	}()
}

// Wait blocks until every pending Download has finished.
func (d *Downloader) Wait() { d.wg.Wait() }

// Load fetches and decodes rawURL synchronously.
func (d *Downloader) Load(ctx context.Context, rawURL string) (*texture.Texture, error) {
	body, err := d.Fetch(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	tex, format, err := texture.DecodeBytes(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", rawURL, err)
	}
	d.log.Debug("decoded", slog.String("format", format))
	return tex, nil
}

// Fetch returns the raw bytes behind rawURL. Plain paths and file:// URLs are
// read from disk; http(s) responses are revalidated against the cache.
func (d *Downloader) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse url: %w", err)
	}
	switch u.Scheme {
	case "", "file":
		p := u.Path
		if u.Scheme == "" {
			p = rawURL
		}
		return readFile(p)
	case "http", "https":
		return d.fetchHTTP(ctx, u.String())
	default:
		return nil, fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
}

func readFile(p string) ([]byte, error) {
	f, err := os.Open(p)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return readLimited(f)
}

func readLimited(r io.Reader) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, MaxBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(b) > MaxBodyBytes {
		return nil, ErrTooLarge
	}
	return b, nil
}

func (d *Downloader) fetchHTTP(ctx context.Context, target string) ([]byte, error) {
	var cached cache.Entry
	var hit bool
	if d.cache != nil {
		var err error
		cached, hit, err = d.cache.Get(ctx, target)
		if err != nil {
			d.log.Warn("cache lookup failed", slog.Any("err", err))
			hit = false
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", version.String())
	if hit && cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && hit:
		d.log.Debug("not modified; using cached body", slog.String("url", target))
		return cached.Body, nil
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, fmt.Errorf("GET %s: %s", target, resp.Status)
	}
	body, err := readLimited(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	if d.cache != nil {
		e := cache.Entry{
			URL:         target,
			ETag:        resp.Header.Get("ETag"),
			ContentType: resp.Header.Get("Content-Type"),
			Body:        body,
		}
		if err := d.cache.Put(ctx, e); err != nil {
			d.log.Warn("cache store failed", slog.Any("err", err))
		}
	}
	return body, nil
}

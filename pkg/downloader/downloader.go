// Package downloader fetches .sym artifacts over HTTP from an ordered
// list of upstream symbol sources, retrying transient failures with
// jittered exponential backoff.
//
// Grounded on grafana-pyroscope's
// pkg/experiment/symbolizer/debuginfod_client.go: the request/retry
// loop, HTTP status categorization, and dskit backoff usage all
// follow that file's shape, adapted from a single debuginfod endpoint
// to an ordered list of symbol-store sources.
package downloader

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/grafana/dskit/backoff"

	"github.com/mozilla-services/eliot/pkg/metrics"
)

// ErrNotFound is returned when every configured source responded 404
// (or an equivalent "no such artifact") for a module.
var ErrNotFound = errors.New("downloader: sym file not found in any source")

// TransientError wraps the last transient error observed when no
// source returned the file and at least one failed transiently.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return "downloader: transient error: " + e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// ModuleRef identifies the symbol file to fetch.
type ModuleRef struct {
	DebugFilename string
	DebugID       string
}

// SymFilename returns the sym file name for a module, mirroring
// symbolicate_resource.py's download_sym_file: a .pdb debug filename
// has its extension replaced, everything else has .sym appended.
func (m ModuleRef) SymFilename() string {
	if strings.HasSuffix(strings.ToLower(m.DebugFilename), ".pdb") {
		return m.DebugFilename[:len(m.DebugFilename)-4] + ".sym"
	}
	return m.DebugFilename + ".sym"
}

// Config configures a Downloader.
type Config struct {
	// Sources are ordered URL templates. Each contains
	// {debug_filename}, {debug_id}, and {sym_filename} placeholders.
	Sources []string

	// PerAttemptTimeout bounds a single HTTP round trip.
	PerAttemptTimeout time.Duration

	// PerModuleBudget bounds the aggregate time spent on one module
	// across every source and retry. Zero means no additional bound
	// beyond the caller's context.
	PerModuleBudget time.Duration

	Retries    int
	MinBackoff time.Duration
	MaxBackoff time.Duration

	HTTPClient *http.Client
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.Retries <= 0 {
		out.Retries = 3
	}
	if out.MinBackoff <= 0 {
		out.MinBackoff = 100 * time.Millisecond
	}
	if out.MaxBackoff <= 0 {
		out.MaxBackoff = out.MinBackoff * (1 << out.Retries)
	}
	if out.PerAttemptTimeout <= 0 {
		out.PerAttemptTimeout = 10 * time.Second
	}
	if out.HTTPClient == nil {
		out.HTTPClient = &http.Client{}
	}
	return out
}

// Downloader fetches sym files from the configured ordered sources.
type Downloader struct {
	cfg     Config
	metrics metrics.Sink
}

func New(cfg Config, sink metrics.Sink) *Downloader {
	return &Downloader{cfg: cfg.withDefaults(), metrics: sink}
}

// Fetch returns the decoded sym file bytes for ref, ErrNotFound if
// every configured source answered 404, or a *TransientError if no
// source returned the file and at least one of them failed with
// something other than a 404.
func (d *Downloader) Fetch(ctx context.Context, ref ModuleRef) ([]byte, error) {
	start := time.Now()
	outcome := "fail"
	defer func() {
		d.metrics.Timing("downloader.download", time.Since(start), "response:"+outcome)
	}()

	if d.cfg.PerModuleBudget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.PerModuleBudget)
		defer cancel()
	}

	symFilename := ref.SymFilename()

	var sawTransient bool
	var lastErr error
	for _, source := range d.cfg.Sources {
		url := renderTemplate(source, ref, symFilename)

		data, err := d.fetchFromSource(ctx, url)
		if err == nil {
			outcome = "success"
			return data, nil
		}
		if errors.Is(err, errSourceNotFound) {
			continue
		}
		sawTransient = true
		lastErr = err
	}

	if sawTransient {
		return nil, &TransientError{Err: lastErr}
	}
	return nil, ErrNotFound
}

var errSourceNotFound = errors.New("downloader: source returned not found")

// fetchFromSource retries transient failures against a single source
// with jittered exponential backoff, stopping immediately on a 404.
func (d *Downloader) fetchFromSource(ctx context.Context, url string) ([]byte, error) {
	backOff := backoff.New(ctx, backoff.Config{
		MinBackoff: d.cfg.MinBackoff,
		MaxBackoff: d.cfg.MaxBackoff,
		MaxRetries: d.cfg.Retries,
	})

	var lastErr error
	for backOff.Ongoing() {
		data, status, err := d.attempt(ctx, url)
		if err == nil && status == http.StatusOK {
			return data, nil
		}
		if err == nil && status == http.StatusNotFound {
			return nil, errSourceNotFound
		}
		if err != nil {
			lastErr = err
		} else {
			lastErr = fmt.Errorf("unexpected status %d", status)
		}
		if !isRetryableStatus(status, err) {
			return nil, lastErr
		}
		backOff.Wait()
	}
	if lastErr == nil {
		lastErr = backOff.Err()
	}
	return nil, lastErr
}

func (d *Downloader) attempt(ctx context.Context, url string) ([]byte, int, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, d.cfg.PerAttemptTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := d.cfg.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err := decodeBody(resp)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	if strings.EqualFold(resp.Header.Get("Content-Encoding"), "gzip") {
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, err
		}
		defer gz.Close()
		reader = gz
	}
	return io.ReadAll(reader)
}

func isRetryableStatus(status int, err error) bool {
	if err != nil {
		return true // connection error, timeout: retryable
	}
	return status >= 500
}

func renderTemplate(tmpl string, ref ModuleRef, symFilename string) string {
	r := strings.NewReplacer(
		"{debug_filename}", ref.DebugFilename,
		"{debug_id}", strings.ToUpper(ref.DebugID),
		"{sym_filename}", symFilename,
	)
	return r.Replace(tmpl)
}

// Package symbolicator orchestrates a single symbolication request:
// deduplicating module references, fetching and building symcaches
// concurrently up to a configured limit, and assembling per-frame
// results in input order.
//
// Grounded on grafana-pyroscope's pkg/symbolizer/symbolizer.go for the
// errgroup-bounded concurrent fan-out over per-mapping work, and on
// original_source/eliot/symbolicate_resource.py for the frame
// assembly and found_modules bookkeeping this package reproduces.
package symbolicator

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/mozilla-services/eliot/pkg/diskcache"
	"github.com/mozilla-services/eliot/pkg/downloader"
	"github.com/mozilla-services/eliot/pkg/metrics"
	"github.com/mozilla-services/eliot/pkg/symcache"
	"github.com/mozilla-services/eliot/pkg/symfile"
)

// ModuleRef identifies one entry of a job's memory map.
type ModuleRef = downloader.ModuleRef

// FrameRequest is one input frame: a module index into the owning
// job's memory map (-1 meaning unattributable) and an offset relative
// to that module's load base.
type FrameRequest struct {
	ModuleIndex int
	Offset      uint64
}

// Job is one symbolication unit: a memory map and the stacks that
// reference it by index.
type Job struct {
	MemoryMap []ModuleRef
	Stacks    [][]FrameRequest
}

// ResolvedFrame is one output frame. Module and ModuleOffset are
// always populated (or Module is "<unknown>" when unattributable);
// the remaining fields are present only when resolution succeeded.
type ResolvedFrame struct {
	Index        int
	Module       string
	ModuleOffset uint64

	Function       string
	HasFunction    bool
	FunctionOffset uint64
	File           string
	HasFile        bool
	Line           uint32

	Inlines []InlineFrame
}

// InlineFrame is one enclosing inline call site for a ResolvedFrame.
type InlineFrame struct {
	Function string
	File     string
	Line     uint32
}

// JobResult is the resolved form of a Job, preserving stack and frame
// order exactly.
type JobResult struct {
	Stacks [][]ResolvedFrame

	// FoundModules is keyed by "debug_filename/debug_id". Every module
	// some frame references has an entry: true when its symcache was
	// obtained, false when it was not found or its lookup failed. A
	// memory-map entry that no frame references is missing from this map.
	FoundModules map[string]bool
}

// Config configures a Symbolicator.
type Config struct {
	// MaxConcurrentModules bounds simultaneous get_or_build calls per
	// request.
	MaxConcurrentModules int

	// RequestDeadline bounds the whole symbolicate() call; zero means
	// the caller's context is the only deadline.
	RequestDeadline time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.MaxConcurrentModules <= 0 {
		out.MaxConcurrentModules = 8
	}
	return out
}

// Symbolicator resolves jobs against the disk cache, downloader, and
// sym parser/builder pipeline.
type Symbolicator struct {
	cfg        Config
	cache      *diskcache.Cache
	downloader *downloader.Downloader
	metrics    metrics.Sink
	formatVer  uint32
	workPool   *workPool
}

func New(cfg Config, cache *diskcache.Cache, dl *downloader.Downloader, sink metrics.Sink, symcacheFormatVersion uint32) *Symbolicator {
	return &Symbolicator{
		cfg:        cfg.withDefaults(),
		cache:      cache,
		downloader: dl,
		metrics:    sink,
		formatVer:  symcacheFormatVersion,
		workPool:   newWorkPool(),
	}
}

// moduleOutcome is the settled result of resolving one distinct
// module reference: either a usable table, a conclusive "not found",
// or a transient failure.
type moduleOutcome struct {
	table   *symcache.Table
	handle  *diskcache.Handle
	found   bool
	errored bool
}

// Symbolicate resolves every job independently and returns results in
// the same order as jobs. apiVersion is used only to tag the emitted
// timing metric.
func (s *Symbolicator) Symbolicate(ctx context.Context, jobs []Job, apiVersion string) ([]JobResult, error) {
	start := time.Now()
	defer func() {
		s.metrics.Timing("symbolicate.api", time.Since(start), "version:"+apiVersion)
	}()

	if s.cfg.RequestDeadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.RequestDeadline)
		defer cancel()
	}

	s.metrics.Histogram("symbolicate.jobs_count", float64(len(jobs)))

	results := make([]JobResult, len(jobs))
	for i, job := range jobs {
		results[i] = s.symbolicateOne(ctx, job)
	}
	return results, nil
}

func (s *Symbolicator) symbolicateOne(ctx context.Context, job Job) JobResult {
	s.metrics.Histogram("symbolicate.stacks_count", float64(len(job.Stacks)))

	// Only modules a frame actually references are looked up: an entry
	// present in MemoryMap but never pointed to by any stack frame must
	// be absent from found_modules, not resolved to true/false.
	distinct := referencedModules(job.MemoryMap, job.Stacks)
	outcomes := s.resolveModules(ctx, distinct)

	foundModules := make(map[string]bool, len(distinct))
	for key, outc := range outcomes {
		foundModules[key] = outc.found
	}

	stacks := make([][]ResolvedFrame, len(job.Stacks))
	for si, stack := range job.Stacks {
		s.metrics.Histogram("symbolicate.frames_count", float64(len(stack)))
		stacks[si] = s.resolveStack(stack, job.MemoryMap, outcomes)
	}

	for _, outc := range outcomes {
		if outc.handle != nil {
			outc.handle.Release()
		}
	}

	return JobResult{Stacks: stacks, FoundModules: foundModules}
}

// referencedModules collects the distinct (debug_filename, debug_id)
// pairs actually pointed to by some frame's ModuleIndex, mirroring
// symbolicate_resource.py's symbolicate(), which only ever builds a
// frames-by-module map from stack entries, never from the bare
// memory map.
func referencedModules(memoryMap []ModuleRef, stacks [][]FrameRequest) []ModuleRef {
	seen := make(map[string]bool)
	var distinct []ModuleRef

	for _, stack := range stacks {
		for _, fr := range stack {
			if fr.ModuleIndex < 0 || fr.ModuleIndex >= len(memoryMap) {
				continue
			}
			ref := memoryMap[fr.ModuleIndex]
			key := moduleKey(ref)
			if seen[key] {
				continue
			}
			seen[key] = true
			distinct = append(distinct, ref)
		}
	}
	return distinct
}

func moduleKey(ref ModuleRef) string {
	return fmt.Sprintf("%s/%s", ref.DebugFilename, ref.DebugID)
}

// resolveModules runs get_or_build for every distinct module
// reference concurrently, bounded by MaxConcurrentModules.
func (s *Symbolicator) resolveModules(ctx context.Context, refs []ModuleRef) map[string]moduleOutcome {
	out := make(map[string]moduleOutcome, len(refs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.MaxConcurrentModules)

	for _, ref := range refs {
		ref := ref
		key := moduleKey(ref)
		g.Go(func() error {
			outcome := s.resolveModule(gctx, ref)
			mu.Lock()
			out[key] = outcome
			mu.Unlock()
			return nil
		})
	}
	// Errors from individual module resolutions are captured in their
	// outcome, not propagated to the group: one module's failure must
	// not cancel sibling lookups.
	_ = g.Wait()
	return out
}

func (s *Symbolicator) resolveModule(ctx context.Context, ref ModuleRef) moduleOutcome {
	key := diskcache.Key{DebugFilename: ref.DebugFilename, DebugID: ref.DebugID, FormatVersion: s.formatVer}

	h, err := s.cache.GetOrBuild(ctx, key, func(ctx context.Context) ([]byte, error) {
		return s.build(ctx, ref)
	})
	if err != nil {
		return moduleOutcome{errored: true, found: false}
	}
	if h.Negative {
		return moduleOutcome{found: false}
	}

	table, err := symcache.Unmarshal(h.Data)
	if err != nil {
		h.Release()
		return moduleOutcome{errored: true, found: false}
	}
	return moduleOutcome{table: table, handle: h, found: true}
}

func (s *Symbolicator) build(ctx context.Context, ref ModuleRef) ([]byte, error) {
	raw, err := s.downloader.Fetch(ctx, ref)
	if err != nil {
		if errors.Is(err, downloader.ErrNotFound) {
			return nil, diskcache.ErrNotFound
		}
		return nil, err
	}

	// Parsing and building the symcache is CPU-bound; run it through
	// the bounded work pool rather than letting it scale with
	// MaxConcurrentModules, which governs network fan-out.
	return s.workPool.run(func() ([]byte, error) {
		model, err := symfile.Parse(bytes.NewReader(raw), ref.DebugID)
		if err != nil {
			var perr *symfile.ParseError
			if errors.As(err, &perr) && perr.Permanent() {
				return nil, diskcache.ErrNotFound
			}
			return nil, err
		}

		table, err := symcache.Build(model)
		if err != nil {
			return nil, err
		}
		return table.MarshalBinary()
	})
}

func (s *Symbolicator) resolveStack(stack []FrameRequest, memoryMap []ModuleRef, outcomes map[string]moduleOutcome) []ResolvedFrame {
	frames := make([]ResolvedFrame, len(stack))
	for i, fr := range stack {
		frames[i] = s.resolveFrame(i, fr, memoryMap, outcomes)
	}
	return frames
}

func (s *Symbolicator) resolveFrame(index int, fr FrameRequest, memoryMap []ModuleRef, outcomes map[string]moduleOutcome) ResolvedFrame {
	out := ResolvedFrame{Index: index, Module: "<unknown>", ModuleOffset: fr.Offset}

	if fr.ModuleIndex < 0 || fr.ModuleIndex >= len(memoryMap) {
		return out
	}
	out.Module = memoryMap[fr.ModuleIndex].DebugFilename

	key := moduleKey(memoryMap[fr.ModuleIndex])
	outc, ok := outcomes[key]
	if !ok || !outc.found || outc.table == nil {
		return out
	}

	symFrames := outc.table.Find(fr.Offset)
	if len(symFrames) == 0 {
		return out
	}

	innermost := symFrames[0]
	out.Function = innermost.Function
	out.HasFunction = innermost.Function != ""
	out.FunctionOffset = fr.Offset - innermost.FunctionAddress
	if innermost.File != "" {
		out.File = innermost.File
		out.HasFile = true
		out.Line = innermost.Line
	}

	for _, inl := range symFrames[1:] {
		out.Inlines = append(out.Inlines, InlineFrame{Function: inl.Function, File: inl.File, Line: inl.Line})
	}
	return out
}

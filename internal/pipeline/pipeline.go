// Package pipeline owns the job queue and worker pool that take a submitted
// URL through resolve, fetch, merge, and organize to a filed output artifact.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vidstash/vidstash/internal/fetch"
	"github.com/vidstash/vidstash/internal/history"
	"github.com/vidstash/vidstash/internal/merge"
	"github.com/vidstash/vidstash/internal/organize"
	"github.com/vidstash/vidstash/internal/resolve"
	"github.com/vidstash/vidstash/internal/utils"
)

const DefaultWorkers = 3

var (
	ErrInvalidInput = errors.New("invalid input URL")
	ErrClosed       = errors.New("pipeline is shut down")
)

// Merger is the slice of merge.Merger the pipeline needs; tests substitute
// fakes.
type Merger interface {
	Available() bool
	Merge(ctx context.Context, videoPath, audioPath, outPath string) error
}

type Config struct {
	OutputRoot   string
	Workers      int
	MaxHeight    int           // 0 = best available
	StageTimeout time.Duration // 0 = no timeout, unattended downloads run as long as they need
	ClientConfig utils.HTTPClientConfig

	// Optional overrides; zero values select the production defaults.
	Resolvers []resolve.Resolver
	Merger    Merger
	History   *history.Store
}

// Pipeline accepts an unbounded sequence of submissions and executes at most
// Workers jobs concurrently. Submit never blocks on pool capacity.
type Pipeline struct {
	cfg       Config
	resolvers []resolve.Resolver
	merger    Merger
	organizer *organize.Organizer
	hist      *history.Store

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*job
	jobs   map[string]*job
	order  []string
	active int
	closed bool
}

func New(cfg Config) *Pipeline {
	if cfg.OutputRoot == "" {
		cfg.OutputRoot = "."
	}
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultWorkers
	}
	resolvers := cfg.Resolvers
	if resolvers == nil {
		resolvers = resolve.DefaultResolvers(utils.NewHTTPClient(cfg.ClientConfig))
	}
	merger := cfg.Merger
	if merger == nil {
		merger = merge.Detect()
	}
	ctx, cancel := context.WithCancel(context.Background())
	p := &Pipeline{
		cfg:       cfg,
		resolvers: resolvers,
		merger:    merger,
		organizer: organize.New(cfg.OutputRoot),
		hist:      cfg.History,
		ctx:       ctx,
		cancel:    cancel,
		jobs:      make(map[string]*job),
	}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}
	return p
}

// Submit enqueues rawURL and returns the new job's ID immediately. The only
// synchronous failure is local URL validation; a syntactically broken input
// is recorded as an already-failed job without touching the network.
func (p *Pipeline) Submit(rawURL string) (string, error) {
	rawURL = strings.TrimSpace(rawURL)
	j := &job{
		id:        uuid.NewString(),
		url:       rawURL,
		state:     StateQueued,
		submitted: time.Now(),
	}
	if err := validateURL(rawURL); err != nil {
		p.mu.Lock()
		j.state = StateFailed
		j.errKind = KindInvalidInput
		j.err = err
		j.finished = time.Now()
		p.jobs[j.id] = j
		p.order = append(p.order, j.id)
		p.mu.Unlock()
		p.recordHistory(j)
		return j.id, err
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return "", ErrClosed
	}
	p.jobs[j.id] = j
	p.order = append(p.order, j.id)
	p.queue = append(p.queue, j)
	p.cond.Signal()
	p.mu.Unlock()
	log.Debug().Str("op", "pipeline/submit").Str("job", j.id).Msgf("Queued %s", rawURL)
	return j.id, nil
}

// Jobs returns a snapshot of every job in submission order. It never blocks
// on running work; re-querying yields the current state.
func (p *Pipeline) Jobs() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	statuses := make([]Status, 0, len(p.order))
	for _, id := range p.order {
		statuses = append(statuses, p.jobs[id].snapshot())
	}
	return statuses
}

// Job returns the snapshot of one job by ID.
func (p *Pipeline) Job(id string) (Status, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	j, ok := p.jobs[id]
	if !ok {
		return Status{}, false
	}
	return j.snapshot(), true
}

// Cancel requests cancellation of a job. A queued job fails immediately; a
// running job is interrupted at the next stage boundary (a running ffmpeg is
// killed). Temp files are cleaned up either way.
func (p *Pipeline) Cancel(id string) bool {
	p.mu.Lock()
	j, ok := p.jobs[id]
	if !ok || j.state.Terminal() {
		p.mu.Unlock()
		return false
	}
	j.canceled = true
	cancel := j.cancel
	if cancel == nil {
		// Still queued: fail it here, the worker will skip it.
		j.state = StateFailed
		j.errKind = KindCanceled
		j.err = context.Canceled
		j.finished = time.Now()
		p.mu.Unlock()
		p.recordHistory(j)
		return true
	}
	p.mu.Unlock()
	cancel()
	return true
}

// Wait blocks until every submitted job has reached a terminal state.
func (p *Pipeline) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) > 0 || p.active > 0 {
		p.cond.Wait()
	}
}

// Shutdown stops accepting submissions, waits for in-flight jobs, and
// releases the workers.
func (p *Pipeline) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
	p.cancel()
}

func (p *Pipeline) worker() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return
		}
		j := p.queue[0]
		p.queue = p.queue[1:]
		if j.state.Terminal() { // canceled while queued
			p.cond.Broadcast()
			p.mu.Unlock()
			continue
		}
		p.active++
		p.mu.Unlock()

		p.run(j)

		p.mu.Lock()
		p.active--
		p.cond.Broadcast()
		p.mu.Unlock()
	}
}

// run advances one job through its stages sequentially. Any stage failure is
// recorded as the job's terminal status and never affects other jobs.
func (p *Pipeline) run(j *job) {
	jobCtx, cancel := context.WithCancel(p.ctx)
	defer cancel()

	p.mu.Lock()
	j.cancel = cancel
	canceled := j.canceled
	p.mu.Unlock()
	if canceled {
		p.fail(j, KindCanceled, context.Canceled)
		return
	}

	tempDir := filepath.Join(p.cfg.OutputRoot, utils.TempDirName, j.id)
	defer os.RemoveAll(tempDir)

	// Resolve
	p.setState(j, StateResolving)
	resolver := resolve.For(j.url, p.resolvers)
	if resolver == nil {
		p.fail(j, KindResolutionFailed, fmt.Errorf("no resolver for %s", j.url))
		return
	}
	media, err := p.resolveStage(jobCtx, resolver, j.url)
	if err != nil {
		p.fail(j, classify(err, KindResolutionFailed), err)
		return
	}
	sel, err := resolve.Select(media.Streams, p.cfg.MaxHeight)
	if err != nil {
		p.fail(j, KindResolutionFailed, err)
		return
	}
	p.mu.Lock()
	j.publisher = media.Publisher
	j.title = media.Title
	j.total = selectionSize(sel)
	p.mu.Unlock()

	// ffmpeg availability was probed once at startup; a split selection with
	// no tool short-circuits before any bytes are fetched.
	if sel.Split() && !p.merger.Available() {
		p.fail(j, KindToolMissing, merge.ErrToolMissing)
		return
	}
	if err := jobCtx.Err(); err != nil {
		p.fail(j, KindCanceled, err)
		return
	}

	// Fetch
	p.setState(j, StateFetching)
	progress := func(delta int64) {
		p.mu.Lock()
		j.downloaded += delta
		p.mu.Unlock()
	}
	var artifact string
	if sel.Split() {
		videoPath, audioPath, err := p.fetchPairStage(jobCtx, sel, tempDir, progress)
		if err != nil {
			p.fail(j, classify(err, KindNetworkError), err)
			return
		}
		if err := jobCtx.Err(); err != nil {
			p.fail(j, KindCanceled, err)
			return
		}

		// Merge
		p.setState(j, StateMerging)
		artifact = filepath.Join(tempDir, "merged."+sel.OutputExt())
		if err := p.mergeStage(jobCtx, videoPath, audioPath, artifact); err != nil {
			p.fail(j, classify(err, KindEncodeError), err)
			return
		}
	} else {
		artifact, err = p.fetchStage(jobCtx, sel.Combined, tempDir, progress)
		if err != nil {
			p.fail(j, classify(err, KindNetworkError), err)
			return
		}
	}
	if err := jobCtx.Err(); err != nil {
		p.fail(j, KindCanceled, err)
		return
	}

	// Organize
	p.setState(j, StateOrganizing)
	finalPath, err := p.organizer.Place(media.Publisher, media.Title, sel.OutputExt(), artifact)
	if err != nil {
		p.fail(j, classify(err, KindIOError), err)
		return
	}

	p.mu.Lock()
	j.state = StateDone
	j.finalPath = finalPath
	j.finished = time.Now()
	p.mu.Unlock()
	p.recordHistory(j)
	log.Info().Str("op", "pipeline/run").Str("job", j.id).Msgf("Done: %s", finalPath)
}

func (p *Pipeline) resolveStage(ctx context.Context, r resolve.Resolver, rawURL string) (*resolve.Media, error) {
	stageCtx, cancel := p.stageContext(ctx)
	defer cancel()
	return r.Resolve(stageCtx, rawURL)
}

func (p *Pipeline) fetchStage(ctx context.Context, desc *resolve.StreamDescriptor, tempDir string, progress fetch.Progress) (string, error) {
	stageCtx, cancel := p.stageContext(ctx)
	defer cancel()
	return fetch.Fetch(stageCtx, desc, tempDir, "combined", progress)
}

func (p *Pipeline) fetchPairStage(ctx context.Context, sel resolve.Selection, tempDir string, progress fetch.Progress) (string, string, error) {
	stageCtx, cancel := p.stageContext(ctx)
	defer cancel()
	return fetch.Pair(stageCtx, sel.Video, sel.Audio, tempDir, progress)
}

func (p *Pipeline) mergeStage(ctx context.Context, videoPath, audioPath, outPath string) error {
	stageCtx, cancel := p.stageContext(ctx)
	defer cancel()
	return p.merger.Merge(stageCtx, videoPath, audioPath, outPath)
}

func (p *Pipeline) stageContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.cfg.StageTimeout > 0 {
		return context.WithTimeout(ctx, p.cfg.StageTimeout)
	}
	return context.WithCancel(ctx)
}

func (p *Pipeline) setState(j *job, s State) {
	p.mu.Lock()
	j.state = s
	p.mu.Unlock()
	log.Debug().Str("op", "pipeline/run").Str("job", j.id).Msgf("State: %s", s)
}

func (p *Pipeline) fail(j *job, kind ErrorKind, err error) {
	p.mu.Lock()
	if j.state.Terminal() {
		p.mu.Unlock()
		return
	}
	j.state = StateFailed
	j.errKind = kind
	j.err = err
	j.finished = time.Now()
	p.mu.Unlock()
	p.recordHistory(j)
	log.Warn().Str("op", "pipeline/run").Str("job", j.id).Str("kind", string(kind)).Msgf("Failed: %v", err)
}

func (p *Pipeline) recordHistory(j *job) {
	if p.hist == nil {
		return
	}
	p.mu.Lock()
	entry := history.Entry{
		ID:        j.id,
		URL:       j.url,
		Publisher: j.publisher,
		Title:     j.title,
		State:     j.state.String(),
		ErrorKind: string(j.errKind),
		FinalPath: j.finalPath,
		Submitted: j.submitted,
		Finished:  j.finished,
	}
	if j.err != nil {
		entry.Error = j.err.Error()
	}
	p.mu.Unlock()
	if err := p.hist.Record(entry); err != nil {
		log.Warn().Str("op", "pipeline/history").Err(err).Msg("Failed to record job history")
	}
}

// classify maps a stage error to its reported kind, with kind-specific
// sentinels taking precedence over the stage default.
func classify(err error, stageDefault ErrorKind) ErrorKind {
	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, merge.ErrToolMissing):
		return KindToolMissing
	case errors.Is(err, merge.ErrEncode):
		return KindEncodeError
	case errors.Is(err, fetch.ErrDisk):
		return KindIOError
	case errors.Is(err, fetch.ErrNetwork):
		return KindNetworkError
	}
	return stageDefault
}

func selectionSize(sel resolve.Selection) int64 {
	if sel.Combined != nil {
		return sel.Combined.Size
	}
	var total int64
	if sel.Video != nil {
		total += sel.Video.Size
	}
	if sel.Audio != nil {
		total += sel.Audio.Size
	}
	return total
}

func validateURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty URL", ErrInvalidInput)
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%w: %q is not an http(s) URL", ErrInvalidInput, raw)
	}
	return nil
}

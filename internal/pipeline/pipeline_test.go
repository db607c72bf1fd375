package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vidstash/vidstash/internal/merge"
	"github.com/vidstash/vidstash/internal/resolve"
	"github.com/vidstash/vidstash/internal/utils"
)

type fakeSource struct {
	data    []byte
	block   chan struct{} // when set, Open blocks until closed
	opens   *atomic.Int32
	openErr error
}

func (s *fakeSource) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	if s.opens != nil {
		s.opens.Add(1)
	}
	if s.openErr != nil {
		return nil, 0, s.openErr
	}
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
	return io.NopCloser(bytes.NewReader(s.data)), int64(len(s.data)), nil
}

type brokenSource struct{}

func (s *brokenSource) Open(ctx context.Context) (io.ReadCloser, int64, error) {
	return io.NopCloser(&brokenReader{}), 100, nil
}

type brokenReader struct{ read bool }

func (r *brokenReader) Read(p []byte) (int, error) {
	if !r.read {
		r.read = true
		return copy(p, []byte("part")), nil
	}
	return 0, errors.New("connection reset")
}

type fakeResolver struct {
	calls   atomic.Int32
	resolve func(rawURL string) (*resolve.Media, error)
}

func (r *fakeResolver) Match(rawURL string) bool { return true }

func (r *fakeResolver) Resolve(ctx context.Context, rawURL string) (*resolve.Media, error) {
	r.calls.Add(1)
	return r.resolve(rawURL)
}

type fakeMerger struct {
	available bool
	calls     atomic.Int32
	fail      error
}

func (m *fakeMerger) Available() bool { return m.available }

func (m *fakeMerger) Merge(ctx context.Context, videoPath, audioPath, outPath string) error {
	m.calls.Add(1)
	if m.fail != nil {
		return m.fail
	}
	v, err := os.ReadFile(videoPath)
	if err != nil {
		return err
	}
	a, err := os.ReadFile(audioPath)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, append(v, a...), 0644)
}

func combinedMedia(publisher, title string, src resolve.StreamSource) *resolve.Media {
	return &resolve.Media{
		Publisher: publisher,
		Title:     title,
		Streams: []resolve.StreamDescriptor{
			{Kind: resolve.KindCombined, Height: 1080, Bitrate: 2_000_000, Container: "mp4", Size: 10, Source: src},
		},
	}
}

func splitMedia(publisher, title string, video, audio resolve.StreamSource) *resolve.Media {
	return &resolve.Media{
		Publisher: publisher,
		Title:     title,
		Streams: []resolve.StreamDescriptor{
			{Kind: resolve.KindVideo, Height: 1440, Bitrate: 6_000_000, Container: "mp4", Size: 20, Source: video},
			{Kind: resolve.KindAudio, Bitrate: 160_000, Container: "m4a", Size: 5, Source: audio},
		},
	}
}

func newTestPipeline(t *testing.T, root string, workers int, r resolve.Resolver, m Merger) *Pipeline {
	t.Helper()
	return New(Config{
		OutputRoot: root,
		Workers:    workers,
		Resolvers:  []resolve.Resolver{r},
		Merger:     m,
	})
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func assertNoTempLeftovers(t *testing.T, root string) {
	t.Helper()
	tempRoot := filepath.Join(root, utils.TempDirName)
	entries, err := os.ReadDir(tempRoot)
	if os.IsNotExist(err) {
		return
	}
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("temp leftovers present: %d entries under %s", len(entries), tempRoot)
	}
}

func TestSubmitInvalidInputFailsLocally(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return combinedMedia("P", "T", &fakeSource{data: []byte("x")}), nil
	}}
	p := newTestPipeline(t, root, 1, r, &fakeMerger{available: true})
	defer p.Shutdown()

	id, err := p.Submit("not a url")
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
	st, ok := p.Job(id)
	if !ok {
		t.Fatal("job not recorded")
	}
	if st.State != StateFailed || st.ErrKind != KindInvalidInput {
		t.Errorf("status = %s/%s, want failed/invalid_input", st.State, st.ErrKind)
	}
	p.Wait()
	if got := r.calls.Load(); got != 0 {
		t.Errorf("resolver called %d times for invalid input", got)
	}

	for _, bad := range []string{"", "   ", "ftp://example.com/x.mp4", "/local/path.mp4"} {
		if _, err := p.Submit(bad); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Submit(%q) err = %v, want ErrInvalidInput", bad, err)
		}
	}
}

func TestCombinedStreamSkipsMerge(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return combinedMedia("Publisher", "Title", &fakeSource{data: []byte("full-video")}), nil
	}}
	m := &fakeMerger{available: true}
	p := newTestPipeline(t, root, 2, r, m)
	defer p.Shutdown()

	id, err := p.Submit("https://video.example/watch?id=abc")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p.Wait()

	st, _ := p.Job(id)
	if st.State != StateDone {
		t.Fatalf("state = %s (%s), want done", st.State, st.Err)
	}
	want := filepath.Join(root, "Publisher", "Title.mp4")
	if st.FinalPath != want {
		t.Errorf("final path = %s, want %s", st.FinalPath, want)
	}
	if content, err := os.ReadFile(want); err != nil || string(content) != "full-video" {
		t.Errorf("output artifact wrong: %v", err)
	}
	if m.calls.Load() != 0 {
		t.Errorf("merge invoked %d times for combined stream", m.calls.Load())
	}
	assertNoTempLeftovers(t, root)
}

func TestSplitStreamsFetchedAndMergedOnce(t *testing.T) {
	root := t.TempDir()
	var opens atomic.Int32
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return splitMedia("Publisher", "Title",
			&fakeSource{data: []byte("vv"), opens: &opens},
			&fakeSource{data: []byte("aa"), opens: &opens}), nil
	}}
	m := &fakeMerger{available: true}
	p := newTestPipeline(t, root, 2, r, m)
	defer p.Shutdown()

	id, err := p.Submit("https://video.example/watch?id=split")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	p.Wait()

	st, _ := p.Job(id)
	if st.State != StateDone {
		t.Fatalf("state = %s (%s), want done", st.State, st.Err)
	}
	if m.calls.Load() != 1 {
		t.Errorf("merge invoked %d times, want 1", m.calls.Load())
	}
	if opens.Load() != 2 {
		t.Errorf("expected 2 stream opens, got %d", opens.Load())
	}
	if content, err := os.ReadFile(st.FinalPath); err != nil || string(content) != "vvaa" {
		t.Errorf("merged artifact wrong: %v %q", err, content)
	}
	assertNoTempLeftovers(t, root)
}

func TestToolMissingShortCircuitsSplitJobs(t *testing.T) {
	root := t.TempDir()
	var opens atomic.Int32
	r := &fakeResolver{resolve: func(rawURL string) (*resolve.Media, error) {
		if rawURL == "https://video.example/combined" {
			return combinedMedia("P", "Combined", &fakeSource{data: []byte("x"), opens: &opens}), nil
		}
		return splitMedia("P", "Split",
			&fakeSource{data: []byte("v"), opens: &opens},
			&fakeSource{data: []byte("a"), opens: &opens}), nil
	}}
	p := newTestPipeline(t, root, 2, r, &fakeMerger{available: false})
	defer p.Shutdown()

	splitID, _ := p.Submit("https://video.example/split")
	combinedID, _ := p.Submit("https://video.example/combined")
	p.Wait()

	split, _ := p.Job(splitID)
	if split.State != StateFailed || split.ErrKind != KindToolMissing {
		t.Errorf("split job = %s/%s, want failed/tool_missing", split.State, split.ErrKind)
	}
	combined, _ := p.Job(combinedID)
	if combined.State != StateDone {
		t.Errorf("combined job = %s (%s), want done", combined.State, combined.Err)
	}
	// The split job must fail before fetching anything; only the combined
	// stream is ever opened.
	if opens.Load() != 1 {
		t.Errorf("expected 1 stream open, got %d", opens.Load())
	}
	assertNoTempLeftovers(t, root)
}

func TestPoolCapWithNonBlockingSubmit(t *testing.T) {
	root := t.TempDir()
	release := make(chan struct{})
	r := &fakeResolver{resolve: func(rawURL string) (*resolve.Media, error) {
		return combinedMedia("P", "T", &fakeSource{data: []byte("x"), block: release}), nil
	}}
	p := newTestPipeline(t, root, 3, r, &fakeMerger{available: true})
	defer p.Shutdown()

	var ids []string
	submitDone := time.Now().Add(time.Second)
	for i := 0; i < 5; i++ {
		id, err := p.Submit(fmt.Sprintf("https://video.example/watch?id=%d", i))
		if err != nil {
			t.Fatalf("Submit %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	if time.Now().After(submitDone) {
		t.Fatal("Submit blocked on pool saturation")
	}

	counts := func() (fetching, queued int) {
		for _, st := range p.Jobs() {
			switch st.State {
			case StateFetching:
				fetching++
			case StateQueued:
				queued++
			}
		}
		return
	}
	waitFor(t, "3 jobs fetching", func() bool {
		fetching, queued := counts()
		return fetching == 3 && queued == 2
	})
	if fetching, _ := counts(); fetching > 3 {
		t.Fatalf("%d jobs active, cap is 3", fetching)
	}

	close(release)
	p.Wait()
	for _, id := range ids {
		st, _ := p.Job(id)
		if st.State != StateDone {
			t.Errorf("job %s = %s (%s), want done", id, st.State, st.Err)
		}
	}
	assertNoTempLeftovers(t, root)
}

func TestFailureIsIsolatedAndTempCleaned(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(rawURL string) (*resolve.Media, error) {
		if rawURL == "https://video.example/broken" {
			return combinedMedia("P", "Broken", &brokenSource{}), nil
		}
		return combinedMedia("P", "Fine", &fakeSource{data: []byte("ok")}), nil
	}}
	p := newTestPipeline(t, root, 2, r, &fakeMerger{available: true})
	defer p.Shutdown()

	brokenID, _ := p.Submit("https://video.example/broken")
	fineID, _ := p.Submit("https://video.example/fine")
	p.Wait()

	broken, _ := p.Job(brokenID)
	if broken.State != StateFailed || broken.ErrKind != KindNetworkError {
		t.Errorf("broken job = %s/%s, want failed/network_error", broken.State, broken.ErrKind)
	}
	fine, _ := p.Job(fineID)
	if fine.State != StateDone {
		t.Errorf("fine job = %s (%s), want done", fine.State, fine.Err)
	}
	assertNoTempLeftovers(t, root)
}

func TestResubmitProducesDisambiguatedFile(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return combinedMedia("Publisher", "Title", &fakeSource{data: []byte("x")}), nil
	}}
	p := newTestPipeline(t, root, 1, r, &fakeMerger{available: true})
	defer p.Shutdown()

	first, _ := p.Submit("https://video.example/watch?id=abc")
	p.Wait()
	second, _ := p.Submit("https://video.example/watch?id=abc")
	p.Wait()

	st1, _ := p.Job(first)
	st2, _ := p.Job(second)
	if st1.State != StateDone || st2.State != StateDone {
		t.Fatalf("jobs = %s/%s, want done/done", st1.State, st2.State)
	}
	if filepath.Base(st1.FinalPath) != "Title.mp4" {
		t.Errorf("first path = %s", st1.FinalPath)
	}
	if filepath.Base(st2.FinalPath) != "Title (2).mp4" {
		t.Errorf("second path = %s, want Title (2).mp4", st2.FinalPath)
	}
	if _, err := os.Stat(st1.FinalPath); err != nil {
		t.Errorf("first file missing after resubmission: %v", err)
	}
}

func TestResolutionFailure(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return nil, fmt.Errorf("%w: video is private", resolve.ErrUnavailable)
	}}
	p := newTestPipeline(t, root, 1, r, &fakeMerger{available: true})
	defer p.Shutdown()

	id, _ := p.Submit("https://video.example/watch?id=private")
	p.Wait()
	st, _ := p.Job(id)
	if st.State != StateFailed || st.ErrKind != KindResolutionFailed {
		t.Errorf("status = %s/%s, want failed/resolution_failed", st.State, st.ErrKind)
	}
	assertNoTempLeftovers(t, root)
}

func TestEncodeFailureSurfaced(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return splitMedia("P", "T", &fakeSource{data: []byte("v")}, &fakeSource{data: []byte("a")}), nil
	}}
	m := &fakeMerger{available: true, fail: fmt.Errorf("%w: exit status 1", merge.ErrEncode)}
	p := newTestPipeline(t, root, 1, r, m)
	defer p.Shutdown()

	id, _ := p.Submit("https://video.example/watch?id=bad")
	p.Wait()
	st, _ := p.Job(id)
	if st.State != StateFailed || st.ErrKind != KindEncodeError {
		t.Errorf("status = %s/%s, want failed/encode_error", st.State, st.ErrKind)
	}
	if m.calls.Load() != 1 {
		t.Errorf("merge retried: %d calls", m.calls.Load())
	}
	assertNoTempLeftovers(t, root)
}

func TestCancelQueuedJob(t *testing.T) {
	root := t.TempDir()
	release := make(chan struct{})
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return combinedMedia("P", "T", &fakeSource{data: []byte("x"), block: release}), nil
	}}
	p := newTestPipeline(t, root, 1, r, &fakeMerger{available: true})
	defer p.Shutdown()

	first, _ := p.Submit("https://video.example/watch?id=1")
	waitFor(t, "first job fetching", func() bool {
		st, _ := p.Job(first)
		return st.State == StateFetching
	})
	second, _ := p.Submit("https://video.example/watch?id=2")
	if !p.Cancel(second) {
		t.Fatal("Cancel returned false for queued job")
	}
	st, _ := p.Job(second)
	if st.State != StateFailed || st.ErrKind != KindCanceled {
		t.Errorf("canceled job = %s/%s, want failed/canceled", st.State, st.ErrKind)
	}

	close(release)
	p.Wait()
	firstStatus, _ := p.Job(first)
	if firstStatus.State != StateDone {
		t.Errorf("first job = %s, want done", firstStatus.State)
	}
	assertNoTempLeftovers(t, root)
}

func TestCancelRunningJobCleansUp(t *testing.T) {
	root := t.TempDir()
	release := make(chan struct{})
	defer close(release)
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return combinedMedia("P", "T", &fakeSource{data: []byte("x"), block: release}), nil
	}}
	p := newTestPipeline(t, root, 1, r, &fakeMerger{available: true})
	defer p.Shutdown()

	id, _ := p.Submit("https://video.example/watch?id=1")
	waitFor(t, "job fetching", func() bool {
		st, _ := p.Job(id)
		return st.State == StateFetching
	})
	if !p.Cancel(id) {
		t.Fatal("Cancel returned false for running job")
	}
	p.Wait()
	st, _ := p.Job(id)
	if st.State != StateFailed || st.ErrKind != KindCanceled {
		t.Errorf("status = %s/%s, want failed/canceled", st.State, st.ErrKind)
	}
	assertNoTempLeftovers(t, root)
}

func TestJobsSnapshotKeepsSubmissionOrder(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return combinedMedia("P", "T", &fakeSource{data: []byte("x")}), nil
	}}
	p := newTestPipeline(t, root, 2, r, &fakeMerger{available: true})
	defer p.Shutdown()

	var ids []string
	for i := 0; i < 4; i++ {
		id, err := p.Submit(fmt.Sprintf("https://video.example/watch?id=%d", i))
		if err != nil {
			t.Fatalf("Submit: %v", err)
		}
		ids = append(ids, id)
	}
	p.Wait()

	statuses := p.Jobs()
	if len(statuses) != len(ids) {
		t.Fatalf("Jobs() returned %d entries, want %d", len(statuses), len(ids))
	}
	for i, st := range statuses {
		if st.ID != ids[i] {
			t.Errorf("position %d has job %s, want %s", i, st.ID, ids[i])
		}
	}
}

func TestSubmitAfterShutdownRejected(t *testing.T) {
	root := t.TempDir()
	r := &fakeResolver{resolve: func(string) (*resolve.Media, error) {
		return combinedMedia("P", "T", &fakeSource{data: []byte("x")}), nil
	}}
	p := newTestPipeline(t, root, 1, r, &fakeMerger{available: true})
	p.Shutdown()
	if _, err := p.Submit("https://video.example/watch?id=1"); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

package reconcile

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/avtogeo/avtobot/internal/store"
	"github.com/avtogeo/avtobot/internal/transport"
)

type fakePosts struct {
	active  []*store.PostRecord
	listErr error

	markedCalls int
	marked      []int64
	markedAt    time.Time
}

func (p *fakePosts) ListActivePosts(context.Context) ([]*store.PostRecord, error) {
	if p.listErr != nil {
		return nil, p.listErr
	}
	return p.active, nil
}

func (p *fakePosts) MarkPostsDeleted(_ context.Context, ids []int64, at time.Time) (int64, error) {
	p.markedCalls++
	p.marked = ids
	p.markedAt = at
	return int64(len(ids)), nil
}

type fakeProber struct {
	results map[int]transport.ProbeResult
	errs    map[int]error
	probed  []int
}

func (f *fakeProber) ProbeMessage(_ context.Context, _ int64, messageID int) (transport.ProbeResult, error) {
	f.probed = append(f.probed, messageID)
	if err, ok := f.errs[messageID]; ok {
		return transport.ProbeFailed, err
	}
	if res, ok := f.results[messageID]; ok {
		return res, nil
	}
	return transport.ProbeUnmodified, nil
}

func newTestSweeper(posts *fakePosts, probe *fakeProber) *Sweeper {
	s := New(posts, probe, -100600)
	s.sleep = func(time.Duration) {}
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s
}

func rec(id int64, postID int) *store.PostRecord {
	return &store.PostRecord{ID: id, PostID: postID, Published: true}
}

func TestSweepMarksMissingPostsInOneWrite(t *testing.T) {
	posts := &fakePosts{active: []*store.PostRecord{rec(1, 10), rec(2, 20), rec(3, 30)}}
	probe := &fakeProber{results: map[int]transport.ProbeResult{
		10: transport.ProbeUnmodified,
		20: transport.ProbeNotFound,
		30: transport.ProbeNotFound,
	}}
	s := newTestSweeper(posts, probe)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if posts.markedCalls != 1 {
		t.Fatalf("mark calls = %d, want single batched write", posts.markedCalls)
	}
	if !reflect.DeepEqual(posts.marked, []int64{2, 3}) {
		t.Errorf("marked = %v", posts.marked)
	}
	if posts.markedAt.IsZero() {
		t.Errorf("deleted-at timestamp not set")
	}
}

func TestSweepProbesEveryActivePost(t *testing.T) {
	posts := &fakePosts{active: []*store.PostRecord{rec(1, 10), rec(2, 20)}}
	probe := &fakeProber{}
	s := newTestSweeper(posts, probe)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !reflect.DeepEqual(probe.probed, []int{10, 20}) {
		t.Errorf("probed = %v", probe.probed)
	}
	if posts.markedCalls != 0 {
		t.Errorf("mark called with nothing missing")
	}
}

func TestTransientProbeFailureLeavesPostAlone(t *testing.T) {
	posts := &fakePosts{active: []*store.PostRecord{rec(1, 10), rec(2, 20)}}
	probe := &fakeProber{
		results: map[int]transport.ProbeResult{20: transport.ProbeNotFound},
		errs:    map[int]error{10: errors.New("timeout")},
	}
	s := newTestSweeper(posts, probe)

	if err := s.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if !reflect.DeepEqual(posts.marked, []int64{2}) {
		t.Errorf("marked = %v, failed probe must not be marked", posts.marked)
	}
}

func TestSweepIsIdempotentOnCleanState(t *testing.T) {
	posts := &fakePosts{active: []*store.PostRecord{rec(1, 10)}}
	probe := &fakeProber{}
	s := newTestSweeper(posts, probe)

	for i := 0; i < 3; i++ {
		if err := s.Sweep(context.Background()); err != nil {
			t.Fatalf("sweep %d: %v", i, err)
		}
	}
	if posts.markedCalls != 0 {
		t.Errorf("mark calls = %d", posts.markedCalls)
	}
}

func TestSweepPropagatesListError(t *testing.T) {
	posts := &fakePosts{listErr: errors.New("db down")}
	s := newTestSweeper(posts, &fakeProber{})

	if err := s.Sweep(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	posts := &fakePosts{active: []*store.PostRecord{rec(1, 10), rec(2, 20)}}
	probe := &fakeProber{}
	s := newTestSweeper(posts, probe)

	ctx, cancel := context.WithCancel(context.Background())
	s.sleep = func(time.Duration) { cancel() }

	if err := s.Sweep(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v", err)
	}
	if len(probe.probed) != 1 {
		t.Errorf("probes after cancel = %v", probe.probed)
	}
}

package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLister simulates the claimable-requests query: ListClaimable
// returns up to limit ids not yet claimed. Claiming itself happens in
// Process (standing in for the real atomic claim inside
// coordinator.Process/checkpoint.Claim), so an id dropped by a full
// semaphore this tick is still unclaimed and gets listed again next
// tick — same as the real DB-backed query would behave.
type fakeLister struct {
	mu      sync.Mutex
	all     []uuid.UUID
	claimed map[uuid.UUID]bool
}

func newFakeLister(ids ...uuid.UUID) *fakeLister {
	return &fakeLister{all: ids, claimed: make(map[uuid.UUID]bool)}
}

func (f *fakeLister) ListClaimable(ctx context.Context, liveness time.Duration, limit int) ([]uuid.UUID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]uuid.UUID, 0, limit)
	for _, id := range f.all {
		if f.claimed[id] {
			continue
		}
		out = append(out, id)
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (f *fakeLister) claim(id uuid.UUID) {
	f.mu.Lock()
	f.claimed[id] = true
	f.mu.Unlock()
}

type countingProcessor struct {
	lister      *fakeLister
	processed   int32
	inFlight    int32
	maxInFlight int32
	block       <-chan struct{}
}

func (f *countingProcessor) Process(ctx context.Context, requestID uuid.UUID) error {
	f.lister.claim(requestID)

	n := atomic.AddInt32(&f.inFlight, 1)
	for {
		max := atomic.LoadInt32(&f.maxInFlight)
		if n <= max || atomic.CompareAndSwapInt32(&f.maxInFlight, max, n) {
			break
		}
	}
	if f.block != nil {
		<-f.block
	}
	atomic.AddInt32(&f.inFlight, -1)
	atomic.AddInt32(&f.processed, 1)
	return nil
}

func TestPoolProcessesClaimedRequests(t *testing.T) {
	lister := newFakeLister(uuid.New(), uuid.New(), uuid.New())
	proc := &countingProcessor{lister: lister}
	p := New(lister, proc, 4, 5*time.Millisecond, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&proc.processed) == 3
	}, 150*time.Millisecond, 5*time.Millisecond)

	p.Stop()
}

func TestPoolRespectsSemaphoreBound(t *testing.T) {
	ids := make([]uuid.UUID, 0, 20)
	for i := 0; i < 20; i++ {
		ids = append(ids, uuid.New())
	}
	lister := newFakeLister(ids...)
	block := make(chan struct{})
	close(block) // never actually blocks; keeps Process fast so the pool churns through all 20
	proc := &countingProcessor{lister: lister, block: block}
	p := New(lister, proc, 2, 2*time.Millisecond, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	p.Start(ctx)

	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&proc.processed) == 20
	}, 400*time.Millisecond, 5*time.Millisecond)

	p.Stop()
	assert.LessOrEqual(t, atomic.LoadInt32(&proc.maxInFlight), int32(2))
}

func TestStopDrainsInFlightWork(t *testing.T) {
	lister := newFakeLister(uuid.New())
	proc := &countingProcessor{lister: lister}
	p := New(lister, proc, 1, 5*time.Millisecond, time.Minute, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	time.Sleep(20 * time.Millisecond)
	cancel()
	p.Stop()

	assert.EqualValues(t, 1, atomic.LoadInt32(&proc.processed))
}

package governor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestGlobalTierBoundsInFlight(t *testing.T) {
	g := New(Limits{GlobalHTTP: 2, VideosPerSub: 10, PagesPerVideo: 10, ChunksPerFile: 10})

	var active int32
	var maxActive int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx := context.Background()
			if err := g.AcquireGlobal(ctx); err != nil {
				t.Error(err)
				return
			}
			defer g.ReleaseGlobal()

			n := atomic.AddInt32(&active, 1)
			for {
				cur := atomic.LoadInt32(&maxActive)
				if n <= cur || atomic.CompareAndSwapInt32(&maxActive, cur, n) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			atomic.AddInt32(&active, -1)
		}()
	}
	wg.Wait()

	if maxActive > 2 {
		t.Fatalf("global tier exceeded cap: max active = %d", maxActive)
	}
}

func TestHierarchicalAcquisitionOrderAndRelease(t *testing.T) {
	g := New(Limits{GlobalHTTP: 32, VideosPerSub: 1, PagesPerVideo: 1, ChunksPerFile: 4})
	subGate := g.NewSubscriptionGate()

	ctx := context.Background()
	vg, err := subGate.AcquireVideo(ctx)
	if err != nil {
		t.Fatalf("acquire video: %v", err)
	}

	// With VideosPerSub=1, a second concurrent acquire must block until
	// the first releases.
	acquired := make(chan struct{})
	go func() {
		vg2, err := subGate.AcquireVideo(ctx)
		if err != nil {
			t.Error(err)
			return
		}
		close(acquired)
		vg2.Release()
	}()

	select {
	case <-acquired:
		t.Fatalf("second video acquire should have blocked while the first is held")
	case <-time.After(20 * time.Millisecond):
	}

	pg, err := vg.AcquirePage(ctx)
	if err != nil {
		t.Fatalf("acquire page: %v", err)
	}
	limiter := pg.NewChunkLimiter()
	if limiter == nil {
		t.Fatalf("expected a non-nil chunk limiter")
	}

	pg.Release()
	vg.Release()

	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatalf("second video acquire never unblocked after release")
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	g := New(Limits{GlobalHTTP: 1, VideosPerSub: 1, PagesPerVideo: 1, ChunksPerFile: 1})
	ctx := context.Background()
	if err := g.AcquireGlobal(ctx); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	defer g.ReleaseGlobal()

	cctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()
	if err := g.AcquireGlobal(cctx); err == nil {
		t.Fatalf("expected context deadline error on a saturated semaphore")
	}
}

package worker

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestQueue_RunsJobsInSubmissionOrder(t *testing.T) {
	q := NewQueue(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}()
		// Stagger submissions so queue order is deterministic.
		time.Sleep(10 * time.Millisecond)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	for i, v := range order {
		if v != i {
			t.Fatalf("expected FIFO order, got %v", order)
		}
	}
}

func TestQueue_DoWaitsForCompletion(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	ran := false
	if err := q.Do(func() {
		time.Sleep(20 * time.Millisecond)
		ran = true
	}); err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if !ran {
		t.Fatal("Do returned before the job finished")
	}
}

func TestQueue_SerializesJobs(t *testing.T) {
	q := NewQueue(16)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go q.Run(ctx)

	var active, maxActive int
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Do(func() {
				mu.Lock()
				active++
				if active > maxActive {
					maxActive = active
				}
				mu.Unlock()
				time.Sleep(5 * time.Millisecond)
				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	if maxActive != 1 {
		t.Fatalf("expected at most one concurrent job, saw %d", maxActive)
	}
}

func TestQueue_RejectsAfterStop(t *testing.T) {
	q := NewQueue(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	cancel()
	<-done

	if err := q.Do(func() {}); err != ErrStopped {
		t.Fatalf("expected ErrStopped, got %v", err)
	}
	if q.Submit(func() {}) {
		t.Fatal("Submit must refuse after stop")
	}
}

func TestUtility_RunsAndDrains(t *testing.T) {
	u := NewUtility()
	var mu sync.Mutex
	count := 0
	for i := 0; i < 10; i++ {
		u.Go(func() {
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	u.Wait()
	if count != 10 {
		t.Fatalf("expected 10 tasks, got %d", count)
	}
}

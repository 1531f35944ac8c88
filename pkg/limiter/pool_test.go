package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name     string
		capacity int
		wantErr  bool
	}{
		{name: "one", capacity: 1},
		{name: "many", capacity: 16},
		{name: "zero", capacity: 0, wantErr: true},
		{name: "negative", capacity: -2, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.capacity)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidCapacity) {
					t.Errorf("New(%d) error = %v, want ErrInvalidCapacity", tt.capacity, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("New(%d) error = %v", tt.capacity, err)
			}
			if p.Capacity() != tt.capacity {
				t.Errorf("Capacity() = %d, want %d", p.Capacity(), tt.capacity)
			}
		})
	}
}

func TestPool_BoundsConcurrency(t *testing.T) {
	const capacity = 3
	p, _ := New(capacity)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Do(context.Background(), func(ctx context.Context) {
				if n := p.InFlight(); n > capacity {
					t.Errorf("InFlight() = %d, want <= %d", n, capacity)
				}
				time.Sleep(5 * time.Millisecond)
			})
		}()
	}
	wg.Wait()

	if p.MaxInFlight() > capacity {
		t.Errorf("MaxInFlight() = %d, want <= %d", p.MaxInFlight(), capacity)
	}
	if p.MaxInFlight() < 2 {
		t.Errorf("MaxInFlight() = %d, want concurrent use", p.MaxInFlight())
	}
	if p.InFlight() != 0 {
		t.Errorf("InFlight() after completion = %d, want 0", p.InFlight())
	}
}

func TestPool_AcquireHonoursContext(t *testing.T) {
	p, _ := New(1)
	if err := p.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Acquire(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire() error = %v, want DeadlineExceeded", err)
	}
	if p.InFlight() != 1 {
		t.Errorf("InFlight() = %d, want 1 (failed acquire holds nothing)", p.InFlight())
	}

	p.Release()
	if err := p.Acquire(context.Background()); err != nil {
		t.Errorf("Acquire() after Release error = %v", err)
	}
}

func TestPool_ReleaseWithoutAcquirePanics(t *testing.T) {
	defer func() {
		if r := recover(); r == nil {
			t.Error("Release without Acquire should panic")
		}
	}()
	p, _ := New(1)
	p.Release()
}

package cache

import (
	"testing"
	"time"
)

func TestEntry_IsExpired(t *testing.T) {
	tests := []struct {
		name    string
		expires time.Time
		want    bool
	}{
		{name: "future", expires: time.Now().Add(time.Hour), want: false},
		{name: "past", expires: time.Now().Add(-time.Hour), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := &Entry{Expires: tt.expires}
			if got := e.IsExpired(); got != tt.want {
				t.Errorf("IsExpired() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestEntry_TTL(t *testing.T) {
	expired := &Entry{Expires: time.Now().Add(-time.Minute)}
	if got := expired.TTL(); got != 0 {
		t.Errorf("TTL() = %v, want 0", got)
	}

	fresh := &Entry{Expires: time.Now().Add(10 * time.Minute)}
	got := fresh.TTL()
	if got < 9*time.Minute || got > 10*time.Minute {
		t.Errorf("TTL() = %v, want about 10m", got)
	}
}

func TestEntry_Age(t *testing.T) {
	e := &Entry{CachedAt: time.Now().Add(-2 * time.Minute)}
	if got := e.Age(); got < 2*time.Minute {
		t.Errorf("Age() = %v, want >= 2m", got)
	}
}

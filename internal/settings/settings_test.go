package settings

import (
	"context"
	"errors"
	"testing"

	"keepalive/internal/storage"
	logx "keepalive/pkg/logx"
)

func TestLoadEmptyReturnsDefaults(t *testing.T) {
	s := NewStore(storage.NewMemory(), logx.Nop())
	got := s.Load(context.Background())
	if got.PingInterval != 300000 || got.CheckInterval != 10000 {
		t.Fatalf("Load() = %+v, want defaults 300000/10000", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	s := NewStore(kv, logx.Nop())

	want := Settings{PingInterval: 60000 * 17, CheckInterval: 1000 * 42}
	if err := s.Save(ctx, want); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if got := NewStore(kv, logx.Nop()).Load(ctx); got != want {
		t.Fatalf("Load() = %+v, want %+v", got, want)
	}
}

func TestLoadOutOfRangeFallsBack(t *testing.T) {
	ctx := context.Background()
	kv := storage.NewMemory()
	_ = kv.PutUint(ctx, KeyPingInterval, 5)
	_ = kv.PutUint(ctx, KeyCheckInterval, 20000)

	got := NewStore(kv, logx.Nop()).Load(ctx)
	if got.PingInterval != DefaultPingInterval {
		t.Fatalf("PingInterval = %d, want default", got.PingInterval)
	}
	if got.CheckInterval != 20000 {
		t.Fatalf("CheckInterval = %d, want 20000", got.CheckInterval)
	}
}

type failingStore struct{ storage.Store }

func (failingStore) GetUint(context.Context, string) (uint32, bool, error) {
	return 0, false, errors.New("flash unreadable")
}

func (failingStore) PutUint(context.Context, string, uint32) error {
	return errors.New("flash full")
}

func TestStoreFailuresAreNotFatal(t *testing.T) {
	ctx := context.Background()
	s := NewStore(failingStore{}, logx.Nop())
	if got := s.Load(ctx); got != Defaults() {
		t.Fatalf("Load() = %+v, want defaults", got)
	}
	if err := s.Save(ctx, Defaults()); err == nil {
		t.Fatal("expected Save error to be reported")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name string
		s    Settings
		ok   bool
	}{
		{"defaults", Defaults(), true},
		{"ping too small", Settings{PingInterval: 59999, CheckInterval: 10000}, false},
		{"ping max", Settings{PingInterval: MaxPingInterval, CheckInterval: 10000}, true},
		{"check too large", Settings{PingInterval: 60000, CheckInterval: 60001}, false},
	}
	for _, tt := range tests {
		if err := tt.s.Validate(); (err == nil) != tt.ok {
			t.Fatalf("%s: Validate() err=%v, want ok=%v", tt.name, err, tt.ok)
		}
	}
}

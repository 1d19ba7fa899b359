package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/workforce-ai/compute/internal/domain"
)

func TestConnect_Formats(t *testing.T) {
	tests := []struct {
		name     string
		url      string
		wantAddr string
		wantDB   int
	}{
		{"host port", "localhost:6379", "localhost:6379", 0},
		{"url", "redis://cache.internal:6380/2", "cache.internal:6380", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := Connect(context.Background(), tt.url)
			if err != nil {
				t.Fatalf("Connect() error: %v", err)
			}
			defer client.Close()
			opt := client.Options()
			if opt.Addr != tt.wantAddr || opt.DB != tt.wantDB {
				t.Errorf("Addr/DB = %s/%d, want %s/%d", opt.Addr, opt.DB, tt.wantAddr, tt.wantDB)
			}
		})
	}
}

func TestConnect_BadURL(t *testing.T) {
	if _, err := Connect(context.Background(), "redis://host:6379/notadb"); err == nil {
		t.Error("expected parse error")
	}
}

func TestSessionKey(t *testing.T) {
	if got := SessionKey("alice"); got != "compute:session:alice" {
		t.Errorf("SessionKey() = %q", got)
	}
}

func TestNewSessionMirror_DefaultTTL(t *testing.T) {
	m := NewSessionMirror(nil, 0)
	if m.ttl != DefaultTTL {
		t.Errorf("ttl = %v, want %v", m.ttl, DefaultTTL)
	}
}

// Runs against a real server when COMPUTE_TEST_REDIS_URL is set.
func TestSessionMirror_Redis(t *testing.T) {
	url := os.Getenv("COMPUTE_TEST_REDIS_URL")
	if url == "" {
		t.Skip("COMPUTE_TEST_REDIS_URL not set")
	}
	ctx := context.Background()
	client, err := Connect(ctx, url)
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis unreachable: %v", err)
	}

	m := NewSessionMirror(client, time.Minute)
	identity := "test-" + time.Now().Format("150405.000000")
	acct := domain.NewAccount(identity, 975, time.Now().UTC())

	if err := m.Mirror(ctx, acct); err != nil {
		t.Fatalf("Mirror() error: %v", err)
	}
	got, ok, err := m.Session(ctx, identity)
	if err != nil || !ok {
		t.Fatalf("Session() = %v, %v", ok, err)
	}
	if got.Balance != 975 {
		t.Errorf("Balance = %d, want 975", got.Balance)
	}
	if ttl := client.TTL(ctx, SessionKey(identity)).Val(); ttl <= 0 || ttl > time.Minute {
		t.Errorf("TTL = %v", ttl)
	}

	if err := m.Clear(ctx, identity); err != nil {
		t.Fatalf("Clear() error: %v", err)
	}
	if _, ok, _ := m.Session(ctx, identity); ok {
		t.Error("session still present after Clear")
	}
}

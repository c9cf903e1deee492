package engine

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/webhookd/webhookd/internal/domain"
)

func testRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRateLimiter_AllowsUnderLimit(t *testing.T) {
	client := testRedis(t)
	rl := NewRateLimiter(client, map[domain.Source]int{domain.SourceStripe: 5}, discardLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		if !rl.Allow(ctx, domain.SourceStripe) {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
}

func TestRateLimiter_DeniesOverLimit(t *testing.T) {
	client := testRedis(t)
	rl := NewRateLimiter(client, map[domain.Source]int{domain.SourceStripe: 3}, discardLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if !rl.Allow(ctx, domain.SourceStripe) {
			t.Fatalf("request %d denied, want allowed", i+1)
		}
	}
	if rl.Allow(ctx, domain.SourceStripe) {
		t.Error("request over the limit was allowed")
	}
}

func TestRateLimiter_PerSourceIsolation(t *testing.T) {
	client := testRedis(t)
	rl := NewRateLimiter(client, map[domain.Source]int{
		domain.SourceStripe:  1,
		domain.SourceShopify: 1,
	}, discardLogger())
	ctx := context.Background()

	if !rl.Allow(ctx, domain.SourceStripe) {
		t.Fatal("first stripe request denied")
	}
	if rl.Allow(ctx, domain.SourceStripe) {
		t.Error("second stripe request allowed over limit")
	}
	// Shopify's window is independent.
	if !rl.Allow(ctx, domain.SourceShopify) {
		t.Error("shopify request denied by stripe's limit")
	}
}

func TestRateLimiter_UnlimitedSources(t *testing.T) {
	client := testRedis(t)
	rl := NewRateLimiter(client, map[domain.Source]int{domain.SourceStripe: 1}, discardLogger())
	ctx := context.Background()

	// No limit configured for this source.
	for i := 0; i < 50; i++ {
		if !rl.Allow(ctx, domain.SourceCustom) {
			t.Fatal("unlimited source was denied")
		}
	}
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	client := testRedis(t)
	rl := NewRateLimiter(client, map[domain.Source]int{domain.SourceStripe: 2}, discardLogger())
	rl.window = 50 * time.Millisecond
	ctx := context.Background()

	rl.Allow(ctx, domain.SourceStripe)
	rl.Allow(ctx, domain.SourceStripe)
	if rl.Allow(ctx, domain.SourceStripe) {
		t.Fatal("third request within the window was allowed")
	}

	time.Sleep(60 * time.Millisecond)
	if !rl.Allow(ctx, domain.SourceStripe) {
		t.Error("request after the window slid was denied")
	}
}

func TestRateLimiter_FailsOpenWhenRedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	rl := NewRateLimiter(client, map[domain.Source]int{domain.SourceStripe: 1}, discardLogger())
	mr.Close()

	if !rl.Allow(context.Background(), domain.SourceStripe) {
		t.Error("limiter should fail open when redis is unreachable")
	}
}

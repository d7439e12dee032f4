package bus

import (
	"context"
	"testing"

	"github.com/yungbote/storybook-backend/internal/platform/logger"
	"github.com/yungbote/storybook-backend/internal/realtime"
)

func TestMemoryBusForwardsToAllHandlers(t *testing.T) {
	b := NewMemoryBus()
	ctx := context.Background()

	var first, second []realtime.Message
	if err := b.StartForwarder(ctx, func(m realtime.Message) { first = append(first, m) }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}
	if err := b.StartForwarder(ctx, func(m realtime.Message) { second = append(second, m) }); err != nil {
		t.Fatalf("StartForwarder: %v", err)
	}

	msg := realtime.Message{Channel: "owner", Event: realtime.EventJobDone}
	if err := b.Publish(ctx, msg); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(first) != 1 || len(second) != 1 {
		t.Fatalf("deliveries: want=1/1 got=%d/%d", len(first), len(second))
	}
	if first[0].Event != realtime.EventJobDone {
		t.Fatalf("event: want=%s got=%s", realtime.EventJobDone, first[0].Event)
	}
}

func TestMemoryBusRejectsAfterClose(t *testing.T) {
	b := NewMemoryBus()
	_ = b.Close()
	if err := b.Publish(context.Background(), realtime.Message{Channel: "x"}); err == nil {
		t.Fatalf("expected publish error after close")
	}
	if err := b.StartForwarder(context.Background(), func(realtime.Message) {}); err == nil {
		t.Fatalf("expected forwarder error after close")
	}
}

func TestNewRedisBusValidatesConfig(t *testing.T) {
	if _, err := NewRedisBus(nil, RedisConfig{Addr: "localhost:6379"}); err == nil {
		t.Fatalf("expected error for nil logger")
	}
	if _, err := NewRedisBus(logger.Nop(), RedisConfig{Addr: "  "}); err == nil {
		t.Fatalf("expected error for empty addr")
	}
}

package bus

import (
	"context"

	"github.com/yungbote/storybook-backend/internal/realtime"
)

// Bus carries realtime messages between processes (worker -> API).
type Bus interface {
	Publish(ctx context.Context, msg realtime.Message) error
	StartForwarder(ctx context.Context, onMsg func(m realtime.Message)) error
	Close() error
}

package broker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alphadose/haxmap"
	"github.com/nats-io/nats.go"

	"github.com/agentweft/weft/events"
	"github.com/agentweft/weft/pkg/slogx"
	"github.com/agentweft/weft/pkg/uuidx"
)

type natsBroker struct {
	client *nats.Conn
	topics *haxmap.Map[string, *natsTopic]
}

// NATS returns a broker that fans conversation notifications out over a NATS
// connection, for frontends rendering in a different process.
func NATS(client *nats.Conn) Broker {
	return &natsBroker{
		client: client,
		topics: haxmap.New[string, *natsTopic](),
	}
}

func (b *natsBroker) Topic(ctx context.Context, id string) Topic {
	top, _ := b.topics.GetOrCompute(id, func() *natsTopic {
		return &natsTopic{
			subject: id,
			client:  b.client,
		}
	})
	return top
}

type natsTopic struct {
	client  *nats.Conn
	subject string
}

func (t *natsTopic) Publish(ctx context.Context, event events.Event) error {
	eb, err := events.ToJSON(event)
	if err != nil {
		return err
	}
	return t.client.Publish(t.subject, eb)
}

func (t *natsTopic) Subscribe(ctx context.Context, hook events.Hook) (Subscription, error) {
	if hook == nil {
		return nil, fmt.Errorf("hook is required")
	}

	nsub, err := t.client.Subscribe(t.subject, func(msg *nats.Msg) {
		event, err := events.FromJSON(msg.Data)
		if err != nil {
			slog.Error("failed to unmarshal event", slogx.Error(err))
			return
		}
		events.Dispatch(ctx, hook, event)
	})
	if err != nil {
		return nil, err
	}

	return &natsSubscription{id: uuidx.NewString(), sub: nsub}, nil
}

type natsSubscription struct {
	id        string
	sub       *nats.Subscription
	closeOnce sync.Once
}

func (s *natsSubscription) ID() string {
	return s.id
}

func (s *natsSubscription) Unsubscribe() {
	s.closeOnce.Do(func() {
		if err := s.sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe", slogx.Error(err))
		}
	})
}

package trigger

import (
	"context"
	"fmt"
	"sync"

	rd "github.com/redis/go-redis/v9"
	"github.com/rezenkai/crmflow/logger"
	"github.com/rezenkai/crmflow/util"
	"go.uber.org/zap"
)

// RedisBus carries events over Redis pub/sub as JSON payloads, so events
// published by other CRM services reach this engine.
type RedisBus struct {
	client    rd.UniversalClient
	namespace string
	encdec    util.EncoderDecoder[map[string]any]
	wg        *sync.WaitGroup
}

func NewRedisBus(client rd.UniversalClient, namespace string, wg *sync.WaitGroup) *RedisBus {
	return &RedisBus{
		client:    client,
		namespace: namespace,
		encdec:    util.NewJsonEncoderDecoder[map[string]any](),
		wg:        wg,
	}
}

func (b *RedisBus) channel(event string) string {
	return fmt.Sprintf("%s:event:%s", b.namespace, event)
}

func (b *RedisBus) Publish(ctx context.Context, event string, payload map[string]any) error {
	data, err := b.encdec.Encode(payload)
	if err != nil {
		return err
	}
	return b.client.Publish(ctx, b.channel(event), data).Err()
}

func (b *RedisBus) Subscribe(event string, handler EventHandler) (Subscription, error) {
	ctx := context.Background()
	pubsub := b.client.Subscribe(ctx, b.channel(event))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe to %s: %w", event, err)
	}
	ch := pubsub.Channel()
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for msg := range ch {
			payload, err := b.encdec.Decode([]byte(msg.Payload))
			if err != nil {
				logger.Error("dropping malformed event payload", zap.String("event", event), zap.Error(err))
				continue
			}
			handler(*payload)
		}
	}()
	return &redisSubscription{pubsub: pubsub}, nil
}

type redisSubscription struct {
	pubsub *rd.PubSub
}

func (s *redisSubscription) Unsubscribe() error {
	return s.pubsub.Close()
}

// Package events republishes hub notifications on a watermill pub/sub so
// that streaming consumers (the SSE endpoint) can subscribe per airport.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/yash/gateboard/pkg/models"
)

const subscriberBuffer = 16

// Update is one airport notification.
type Update struct {
	Airport string          `json:"airport"`
	Flights []models.Flight `json:"flights"`
	Version uint64          `json:"version"`
	At      time.Time       `json:"at"`
}

// Source registers a versioned notification callback and returns its
// unsubscribe handle. *notify.Hub satisfies it.
type Source interface {
	SubscribeVersioned(cb func(flights []models.Flight, code string, version uint64)) (unsubscribe func())
}

// VersionFunc reports the current version of an airport's list. It stamps
// notifications published without a version.
type VersionFunc func(code string) uint64

// Topic returns the pub/sub topic carrying code's updates.
func Topic(code string) string {
	return "flights." + strings.ToUpper(strings.TrimSpace(code))
}

// Bridge forwards every notification of a Source onto an in-process
// watermill channel.
type Bridge struct {
	pubsub  *gochannel.GoChannel
	version VersionFunc
	logger  *slog.Logger

	unsubscribe func()
	closeOnce   sync.Once
}

// NewBridge subscribes to src. version may be nil.
func NewBridge(src Source, version VersionFunc, logger *slog.Logger) *Bridge {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Bridge{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer:            subscriberBuffer,
				BlockPublishUntilSubscriberAck: false,
			},
			watermill.NewStdLogger(false, false),
		),
		version: version,
		logger:  logger,
	}
	b.unsubscribe = src.SubscribeVersioned(b.forward)
	return b
}

// forward runs on the publisher's goroutine and must not block.
func (b *Bridge) forward(flights []models.Flight, code string, version uint64) {
	u := Update{
		Airport: strings.ToUpper(code),
		Flights: flights,
		Version: version,
		At:      time.Now().UTC(),
	}
	if u.Version == 0 && b.version != nil {
		u.Version = b.version(code)
	}

	payload, err := json.Marshal(u)
	if err != nil {
		b.logger.Error("encoding update", "airport", code, "error", err)
		return
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	if err := b.pubsub.Publish(Topic(code), msg); err != nil {
		b.logger.Warn("publishing update", "airport", code, "error", err)
	}
}

// Subscribe streams code's updates until ctx is done or the bridge closes.
// The channel pub/sub hands each message over on its own goroutine, so an
// update older than one already sent is dropped.
func (b *Bridge) Subscribe(ctx context.Context, code string) (<-chan Update, error) {
	messages, err := b.pubsub.Subscribe(ctx, Topic(code))
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", Topic(code), err)
	}

	out := make(chan Update, subscriberBuffer)
	go func() {
		defer close(out)
		var last uint64
		for msg := range messages {
			var u Update
			if err := json.Unmarshal(msg.Payload, &u); err != nil {
				b.logger.Warn("decoding update", "topic", Topic(code), "error", err)
				msg.Ack()
				continue
			}
			msg.Ack()
			if u.Version != 0 {
				if u.Version <= last {
					continue
				}
				last = u.Version
			}

			select {
			case out <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close detaches from the source and closes every subscription.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.unsubscribe()
		err = b.pubsub.Close()
	})
	return err
}

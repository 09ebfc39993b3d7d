// Package redis fans render events out over redis: every event is
// published on a per-job channel and the latest one is kept in a per-job
// status hash, so a client attaching late still sees where the job is.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"montage/internal/events"
	"montage/internal/pkg/errors"
)

const statusTTL = 24 * time.Hour

type Publisher struct {
	rdb    *redis.Client
	prefix string
}

func NewPublisher(rdb *redis.Client, prefix string) *Publisher {
	if prefix == "" {
		prefix = "montage"
	}
	return &Publisher{rdb: rdb, prefix: prefix}
}

func (p *Publisher) channel(jobID string) string {
	return fmt.Sprintf("%s:job:%s:events", p.prefix, jobID)
}

func (p *Publisher) statusKey(jobID string) string {
	return fmt.Sprintf("%s:job:%s:status", p.prefix, jobID)
}

// Sink binds the publisher to one job.
func (p *Publisher) Sink(jobID string) events.Sink {
	return events.SinkFunc(func(ctx context.Context, e events.Event) error {
		e.JobID = jobID
		return p.Publish(ctx, e)
	})
}

// Publish writes the status hash and then publishes e on the job channel.
func (p *Publisher) Publish(ctx context.Context, e events.Event) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "redis.events.publish", "failed to encode event")
	}

	key := p.statusKey(e.JobID)
	fields := map[string]any{
		"last_type":  string(e.Type),
		"last_event": string(raw),
		"updated_at": e.Timestamp.UTC().Format(time.RFC3339),
	}
	if e.Type.Terminal() {
		fields["terminal"] = string(raw)
	}

	_, err = p.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fields)
		pipe.Expire(ctx, key, statusTTL)
		pipe.Publish(ctx, p.channel(e.JobID), raw)
		return nil
	})
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redis.events.publish", "failed to publish event").
			WithField("job_id", e.JobID)
	}
	return nil
}

// Status returns the job's status hash, empty when the job is unknown.
func (p *Publisher) Status(ctx context.Context, jobID string) (map[string]string, error) {
	return p.rdb.HGetAll(ctx, p.statusKey(jobID)).Result()
}

// Follow calls fn with every raw event of jobID until the terminal one or
// until ctx is done. A job that already finished yields its terminal event.
func (p *Publisher) Follow(ctx context.Context, jobID string, fn func(raw []byte) error) error {
	sub := p.rdb.Subscribe(ctx, p.channel(jobID))
	defer sub.Close()

	// Confirms the subscription before the hash is read, so no event falls
	// between the two.
	if _, err := sub.Receive(ctx); err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redis.events.follow", "failed to subscribe")
	}

	st, err := p.Status(ctx, jobID)
	if err != nil {
		return errors.WrapWithCode(err, errors.CodeUnavailable, "redis.events.follow", "failed to read job status")
	}
	if t := st["terminal"]; t != "" {
		return fn([]byte(t))
	}
	if last := st["last_event"]; last != "" {
		if err := fn([]byte(last)); err != nil {
			return err
		}
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return errors.New(errors.CodeUnavailable, "event subscription closed")
			}
			raw := []byte(msg.Payload)
			if err := fn(raw); err != nil {
				return err
			}
			var e events.Event
			if json.Unmarshal(raw, &e) == nil && e.Type.Terminal() {
				return nil
			}
		}
	}
}

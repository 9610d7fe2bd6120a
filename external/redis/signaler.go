package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/foxseedlab/lessoncall/internal/coordination"
	goredis "github.com/redis/go-redis/v9"
)

type Signaler struct {
	rdb *goredis.Client
}

func NewSignaler(rdb *goredis.Client) *Signaler {
	return &Signaler{rdb: rdb}
}

func (s *Signaler) Send(ctx context.Context, sig coordination.Signal) error {
	b, err := json.Marshal(sig)
	if err != nil {
		return err
	}
	if err := s.rdb.Publish(ctx, coordination.SignalChannel(sig.LessonID), b).Err(); err != nil {
		return fmt.Errorf("failed to publish signal: %w", err)
	}
	return nil
}

// Subscribe delivers signals for lessonID on a dedicated goroutine until the
// returned function is called or ctx is done.
func (s *Signaler) Subscribe(ctx context.Context, lessonID string, fn func(coordination.Signal)) (func(), error) {
	ps := s.rdb.Subscribe(ctx, coordination.SignalChannel(lessonID))
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe signals: %w", err)
	}

	subCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	go func() {
		ch := ps.Channel()
		for {
			select {
			case <-subCtx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				sig, err := decodeSignal(msg.Payload)
				if err != nil {
					slog.Warn("dropping malformed signal",
						"lesson_id", lessonID,
						"error", err,
					)
					continue
				}
				fn(sig)
			}
		}
	}()

	return func() {
		cancel()
		_ = ps.Close()
	}, nil
}

func decodeSignal(payload string) (coordination.Signal, error) {
	var sig coordination.Signal
	if err := json.Unmarshal([]byte(payload), &sig); err != nil {
		return coordination.Signal{}, err
	}
	if !sig.Kind.Valid() {
		return coordination.Signal{}, fmt.Errorf("unknown signal kind %q", sig.Kind)
	}
	return sig, nil
}

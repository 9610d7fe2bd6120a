package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/foxseedlab/lessoncall/internal/coordination"
	"github.com/foxseedlab/lessoncall/internal/media"
	goredis "github.com/redis/go-redis/v9"
)

type RoomDirectory struct {
	rdb *goredis.Client
}

func NewRoomDirectory(rdb *goredis.Client) *RoomDirectory {
	return &RoomDirectory{rdb: rdb}
}

func (d *RoomDirectory) Publish(ctx context.Context, lessonID string, room media.RoomRef, ttl time.Duration) error {
	b, err := json.Marshal(room)
	if err != nil {
		return err
	}
	if err := d.rdb.Set(ctx, coordination.RoomKey(lessonID), b, ttl).Err(); err != nil {
		return fmt.Errorf("failed to publish room: %w", err)
	}
	return nil
}

func (d *RoomDirectory) Lookup(ctx context.Context, lessonID string) (media.RoomRef, error) {
	b, err := d.rdb.Get(ctx, coordination.RoomKey(lessonID)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return media.RoomRef{}, coordination.ErrRoomNotPublished
	}
	if err != nil {
		return media.RoomRef{}, fmt.Errorf("failed to look up room: %w", err)
	}
	var room media.RoomRef
	if err := json.Unmarshal(b, &room); err != nil {
		return media.RoomRef{}, fmt.Errorf("published room is malformed: %w", err)
	}
	return room, nil
}

func (d *RoomDirectory) Remove(ctx context.Context, lessonID string) error {
	if err := d.rdb.Del(ctx, coordination.RoomKey(lessonID)).Err(); err != nil {
		return fmt.Errorf("failed to remove room: %w", err)
	}
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"fieldclock/internal/models"
	"fieldclock/internal/timeclock"
)

// StatusMirror copies each transition into Redis for services that only
// need "who is on site": a status snapshot per user and a pub/sub event.
type StatusMirror struct {
	rdb     *redis.Client
	channel string
	ttl     time.Duration
	log     *logrus.Entry
}

func NewStatusMirror(rdb *redis.Client, channel string, ttl time.Duration, log *logrus.Entry) *StatusMirror {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &StatusMirror{rdb: rdb, channel: channel, ttl: ttl, log: log}
}

func StatusKey(userID string) string {
	return "timeclock:status:" + userID
}

func (m *StatusMirror) Mirror(ctx context.Context, ev timeclock.Event) error {
	status, err := json.Marshal(ev.Status)
	if err != nil {
		return fmt.Errorf("marshal status: %w", err)
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	_, err = m.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, StatusKey(ev.UserID), status, m.ttl)
		if m.channel != "" {
			pipe.Publish(ctx, m.channel, payload)
		}
		return nil
	})
	return err
}

// Snapshot reads the mirrored status; ok is false when none is stored.
func (m *StatusMirror) Snapshot(ctx context.Context, userID string) (models.TimeClockStatus, bool, error) {
	var st models.TimeClockStatus
	raw, err := m.rdb.Get(ctx, StatusKey(userID)).Bytes()
	if err == redis.Nil {
		return st, false, nil
	}
	if err != nil {
		return st, false, err
	}
	if err := json.Unmarshal(raw, &st); err != nil {
		return st, false, fmt.Errorf("decode status: %w", err)
	}
	return st, true, nil
}

// OnEvent is the broker observer.
func (m *StatusMirror) OnEvent(ev timeclock.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := m.Mirror(ctx, ev); err != nil {
		m.log.WithError(err).WithFields(logrus.Fields{"user_id": ev.UserID, "event": ev.Type}).Warn("redis mirror failed")
	}
}

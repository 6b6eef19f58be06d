// Package presence tracks the last heartbeat received from each agent's
// device, which decides whether a missed punch is reminded or escalated.
package presence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/zulandar/visitline/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Tracker records and reports agent heartbeats.
type Tracker interface {
	Touch(ctx context.Context, agentID string, at time.Time) error
	// LastSeen returns the last heartbeat, or ok=false if none is known.
	LastSeen(ctx context.Context, agentID string) (at time.Time, ok bool, err error)
}

// Online reports whether the agent was seen within window of now.
func Online(ctx context.Context, t Tracker, agentID string, now time.Time, window time.Duration) (bool, error) {
	at, ok, err := t.LastSeen(ctx, agentID)
	if err != nil || !ok {
		return false, err
	}
	return now.Sub(at) <= window, nil
}

// DefaultTTL bounds how long a heartbeat is kept in Redis.
const DefaultTTL = 24 * time.Hour

// RedisTracker keeps heartbeats under presence:<agent> keys.
type RedisTracker struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTracker wraps client. ttl <= 0 uses DefaultTTL.
func NewRedisTracker(client *redis.Client, ttl time.Duration) *RedisTracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisTracker{client: client, ttl: ttl}
}

func key(agentID string) string { return "presence:" + agentID }

// Touch stores at as the agent's latest heartbeat. Older timestamps never
// replace newer ones.
func (r *RedisTracker) Touch(ctx context.Context, agentID string, at time.Time) error {
	prev, ok, err := r.LastSeen(ctx, agentID)
	if err != nil {
		return err
	}
	if ok && !at.After(prev) {
		return nil
	}
	if err := r.client.Set(ctx, key(agentID), at.UnixMilli(), r.ttl).Err(); err != nil {
		return fmt.Errorf("presence: touch %s: %w", agentID, err)
	}
	return nil
}

// LastSeen implements Tracker.
func (r *RedisTracker) LastSeen(ctx context.Context, agentID string) (time.Time, bool, error) {
	v, err := r.client.Get(ctx, key(agentID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: last seen %s: %w", agentID, err)
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: corrupt heartbeat for %s: %w", agentID, err)
	}
	return time.UnixMilli(ms), true, nil
}

// DBTracker keeps heartbeats in the agent_presences table.
type DBTracker struct {
	db *gorm.DB
}

// NewDBTracker returns a database-backed tracker.
func NewDBTracker(db *gorm.DB) *DBTracker {
	return &DBTracker{db: db}
}

// Touch implements Tracker.
func (d *DBTracker) Touch(ctx context.Context, agentID string, at time.Time) error {
	prev, ok, err := d.LastSeen(ctx, agentID)
	if err != nil {
		return err
	}
	if ok && !at.After(prev) {
		return nil
	}
	row := models.AgentPresence{EmployeeID: agentID, LastSeenAt: at}
	err = d.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "employee_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"last_seen_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("presence: touch %s: %w", agentID, err)
	}
	return nil
}

// LastSeen implements Tracker.
func (d *DBTracker) LastSeen(ctx context.Context, agentID string) (time.Time, bool, error) {
	var row models.AgentPresence
	err := d.db.WithContext(ctx).First(&row, "employee_id = ?", agentID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("presence: last seen %s: %w", agentID, err)
	}
	return row.LastSeenAt, true, nil
}

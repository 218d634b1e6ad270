package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"match-wager-system/models"

	"github.com/redis/go-redis/v9"
)

// DefaultSeekTTL is how long a ticket stays poppable before the matchmaker
// discards it on inspection.
const DefaultSeekTTL = 90 * time.Second

// ErrTicketNotFound is returned when a ticket id has no live payload.
var ErrTicketNotFound = errors.New("seek ticket not found")

const (
	laneKeyPrefix   = "seek:lane:"
	ticketKeyPrefix = "seek:ticket:"
	laneRegistryKey = "seek:lanes"
)

// claimOldestScript atomically removes up to the two oldest entries from a
// lane's ordering set and returns their ids. Because removal happens inside
// the script, two concurrent passes can never claim the same ticket.
var claimOldestScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, 1)
if #ids == 0 then
  return {}
end
redis.call('ZREM', KEYS[1], unpack(ids))
return ids
`)

// removeIfPresentScript deletes a ticket's queue entry and payload together,
// reporting whether the queue entry was still present. A cancel racing the
// matchmaker loses cleanly: exactly one caller observes the removal.
var removeIfPresentScript = redis.NewScript(`
local removed = redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return removed
`)

// SeekQueue is the per-lane FIFO of waiting players, backed by a redis sorted
// set keyed by enqueue time plus a payload record per ticket. TTL expiry is
// lazy: tickets past the TTL are discarded when the matchmaker inspects them;
// the payload key expiry below is only a garbage-collection backstop.
type SeekQueue struct {
	RDB *redis.Client
	TTL time.Duration
}

func NewSeekQueue(rdb *redis.Client, ttl time.Duration) *SeekQueue {
	if ttl <= 0 {
		ttl = DefaultSeekTTL
	}
	return &SeekQueue{RDB: rdb, TTL: ttl}
}

func laneKey(key string) string  { return laneKeyPrefix + key }
func ticketKey(id string) string { return ticketKeyPrefix + id }

func (q *SeekQueue) payloadExpiry() time.Duration { return 2 * q.TTL }

// Enqueue inserts a ticket into its lane. Idempotent per ticket id: a repeat
// call neither moves the queue position nor overwrites the payload.
func (q *SeekQueue) Enqueue(ctx context.Context, t models.SeekTicket) error {
	key := t.Lane().Key()
	pipe := q.RDB.TxPipeline()
	pipe.ZAddNX(ctx, laneKey(key), redis.Z{
		Score:  float64(t.EnqueuedAt.UnixMilli()),
		Member: t.ID,
	})
	pipe.SetNX(ctx, ticketKey(t.ID), t, q.payloadExpiry())
	pipe.SAdd(ctx, laneRegistryKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue ticket %s: %w", t.ID, err)
	}
	return nil
}

// Reinsert puts a claimed ticket back with a bumped queue position. The
// payload (and with it the original enqueue timestamp driving TTL and audit)
// is preserved as-is.
func (q *SeekQueue) Reinsert(ctx context.Context, t models.SeekTicket) error {
	key := t.Lane().Key()
	pipe := q.RDB.TxPipeline()
	pipe.ZAdd(ctx, laneKey(key), redis.Z{
		Score:  float64(time.Now().UnixMilli()),
		Member: t.ID,
	})
	pipe.SetNX(ctx, ticketKey(t.ID), t, q.payloadExpiry())
	pipe.SAdd(ctx, laneRegistryKey, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("reinsert ticket %s: %w", t.ID, err)
	}
	return nil
}

// ClaimOldest atomically pops up to the two oldest ticket ids from a lane.
func (q *SeekQueue) ClaimOldest(ctx context.Context, lane string) ([]string, error) {
	res, err := claimOldestScript.Run(ctx, q.RDB, []string{laneKey(lane)}).Result()
	if err != nil {
		return nil, fmt.Errorf("claim oldest in lane %s: %w", lane, err)
	}
	raw, ok := res.([]interface{})
	if !ok {
		return nil, fmt.Errorf("unexpected claim script result: %v", res)
	}
	ids := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			ids = append(ids, s)
		}
	}
	return ids, nil
}

// PeekOldest returns up to n of a lane's oldest tickets without claiming
// them. Entries whose payload has already vanished are skipped.
func (q *SeekQueue) PeekOldest(ctx context.Context, lane models.Lane, n int) ([]models.SeekTicket, error) {
	ids, err := q.RDB.ZRange(ctx, laneKey(lane.Key()), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("peek lane %s: %w", lane.Key(), err)
	}
	tickets := make([]models.SeekTicket, 0, len(ids))
	for _, id := range ids {
		t, ok, err := q.Payload(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

// Payload loads a ticket's stored record. ok is false when the ticket no
// longer exists.
func (q *SeekQueue) Payload(ctx context.Context, id string) (models.SeekTicket, bool, error) {
	var t models.SeekTicket
	err := q.RDB.Get(ctx, ticketKey(id)).Scan(&t)
	if err == redis.Nil {
		return t, false, nil
	}
	if err != nil {
		return t, false, fmt.Errorf("load ticket %s: %w", id, err)
	}
	return t, true, nil
}

// DeletePayload removes ticket records after pairing or expiry.
func (q *SeekQueue) DeletePayload(ctx context.Context, ids ...string) error {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = ticketKey(id)
	}
	if err := q.RDB.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("delete ticket payloads: %w", err)
	}
	return nil
}

// Cancel removes a waiting ticket, ticket id only. Returns false when the
// ticket was already paired, expired, or never existed.
func (q *SeekQueue) Cancel(ctx context.Context, ticketID string) (bool, error) {
	t, ok, err := q.Payload(ctx, ticketID)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return q.RemoveIfPresent(ctx, t.Lane(), ticketID)
}

// RemoveIfPresent atomically drops a ticket's queue entry and payload.
// Returns true only for the caller that actually removed the queue entry.
func (q *SeekQueue) RemoveIfPresent(ctx context.Context, lane models.Lane, ticketID string) (bool, error) {
	res, err := removeIfPresentScript.Run(ctx, q.RDB,
		[]string{laneKey(lane.Key()), ticketKey(ticketID)}, ticketID).Int64()
	if err != nil {
		return false, fmt.Errorf("remove ticket %s: %w", ticketID, err)
	}
	return res == 1, nil
}

// AgeOf reports how long a ticket has been waiting, computed from its stored
// enqueue timestamp.
func (q *SeekQueue) AgeOf(ctx context.Context, ticketID string) (time.Duration, error) {
	t, ok, err := q.Payload(ctx, ticketID)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrTicketNotFound
	}
	return t.Age(time.Now()), nil
}

// Expired reports whether a ticket has outlived the queue TTL.
func (q *SeekQueue) Expired(t models.SeekTicket) bool {
	return t.Age(time.Now()) > q.TTL
}

// ActiveLanes lists the lane keys with registered activity. Lanes whose
// ordering set has drained are pruned from the registry as a side effect.
func (q *SeekQueue) ActiveLanes(ctx context.Context) ([]string, error) {
	keys, err := q.RDB.SMembers(ctx, laneRegistryKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list lanes: %w", err)
	}
	active := keys[:0]
	for _, key := range keys {
		n, err := q.RDB.ZCard(ctx, laneKey(key)).Result()
		if err != nil {
			return nil, fmt.Errorf("lane %s cardinality: %w", key, err)
		}
		if n == 0 {
			q.RDB.SRem(ctx, laneRegistryKey, key)
			continue
		}
		active = append(active, key)
	}
	return active, nil
}

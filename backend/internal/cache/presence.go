package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// PresenceCache mirrors who is online on which board so processes that do
// not own the room (the board hub listing) can read it.
type PresenceCache interface {
	AddMember(ctx context.Context, boardID string, m Member, ttl time.Duration) error
	RemoveMember(ctx context.Context, boardID, userID string) error
	GetAliveMembers(ctx context.Context, boardID string) ([]Member, error)
	CountAlive(ctx context.Context, boardIDs []string) (map[string]int64, error)
	ClearBoard(ctx context.Context, boardID string) error
	// Sweep drops expired members on every board that has presence and
	// returns how many it dropped.
	Sweep(ctx context.Context) (int, error)
}

type Member struct {
	UserID string `json:"-"`
	Name   string `json:"name"`
	Color  string `json:"color"`
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// cleanupScript drops members whose logical TTL (the ZSet score) has passed.
var cleanupScript = redis.NewScript(`
-- KEYS[1] = roomKey, KEYS[2] = namesKey, ARGV[1] = now (unix seconds)
local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

// AddMember also refreshes the TTL of a member already present.
func (p *redisPresence) AddMember(ctx context.Context, boardID string, m Member, ttl time.Duration) error {
	info, err := json.Marshal(m)
	if err != nil {
		return err
	}
	expireAt := time.Now().Add(ttl).Unix()
	tx := p.rdb.TxPipeline()
	tx.ZAdd(ctx, roomKey(boardID), redis.Z{Score: float64(expireAt), Member: m.UserID})
	tx.HSet(ctx, namesKey(boardID), m.UserID, info)
	tx.SAdd(ctx, boardsKey(), boardID)
	_, err = tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, boardID, userID string) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(boardID), userID)
	tx.HDel(ctx, namesKey(boardID), userID)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) GetAliveMembers(ctx context.Context, boardID string) ([]Member, error) {
	now := time.Now().Unix()
	if err := cleanupScript.Run(ctx, p.rdb, []string{roomKey(boardID), namesKey(boardID)}, now).Err(); err != nil && err != redis.Nil {
		return nil, err
	}

	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(boardID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	infos, err := p.rdb.HMGet(ctx, namesKey(boardID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]Member, 0, len(aliveIDs))
	for i, v := range infos {
		m := Member{UserID: aliveIDs[i]}
		if s, ok := v.(string); ok {
			_ = json.Unmarshal([]byte(s), &m)
			m.UserID = aliveIDs[i]
		}
		members = append(members, m)
	}
	return members, nil
}

// CountAlive counts unexpired members per board in one round trip.
func (p *redisPresence) CountAlive(ctx context.Context, boardIDs []string) (map[string]int64, error) {
	out := make(map[string]int64, len(boardIDs))
	if len(boardIDs) == 0 {
		return out, nil
	}
	from := "(" + strconv.FormatInt(time.Now().Unix(), 10)
	pipe := p.rdb.Pipeline()
	cmds := make([]*redis.IntCmd, len(boardIDs))
	for i, id := range boardIDs {
		cmds[i] = pipe.ZCount(ctx, roomKey(id), from, "+inf")
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}
	for i, id := range boardIDs {
		out[id] = cmds[i].Val()
	}
	return out, nil
}

func (p *redisPresence) ClearBoard(ctx context.Context, boardID string) error {
	tx := p.rdb.TxPipeline()
	tx.Del(ctx, roomKey(boardID), namesKey(boardID))
	tx.SRem(ctx, boardsKey(), boardID)
	_, err := tx.Exec(ctx)
	return err
}

// Sweep runs the cleanup script for each board in the boards set and takes
// boards without members out of the set.
func (p *redisPresence) Sweep(ctx context.Context) (int, error) {
	boardIDs, err := p.rdb.SMembers(ctx, boardsKey()).Result()
	if err != nil && err != redis.Nil {
		return 0, err
	}
	now := time.Now().Unix()
	dropped := 0
	for _, id := range boardIDs {
		n, err := cleanupScript.Run(ctx, p.rdb, []string{roomKey(id), namesKey(id)}, now).Int()
		if err != nil && err != redis.Nil {
			return dropped, err
		}
		dropped += n

		left, err := p.rdb.ZCard(ctx, roomKey(id)).Result()
		if err != nil {
			return dropped, err
		}
		if left == 0 {
			if err := p.rdb.SRem(ctx, boardsKey(), id).Err(); err != nil {
				return dropped, err
			}
		}
	}
	return dropped, nil
}

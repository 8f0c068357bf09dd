package cache

import (
	"context"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
)

type PresenceMember struct {
	UserID      uint64
	DisplayName string
}

// PresenceCache 跨实例可见的在线状态镜像。全部是逻辑 TTL 的临时
// 数据，内存里的会话才是权威；这里只服务于活跃列表和心跳续期。
type PresenceCache interface {
	AddMember(ctx context.Context, sessionID string, userID uint64, displayName string, ttl time.Duration) error
	RemoveMember(ctx context.Context, sessionID string, userID uint64) error
	GetAliveMembers(ctx context.Context, sessionID string) ([]PresenceMember, error)
	SetCursor(ctx context.Context, sessionID string, userID uint64, jsonData []byte, ttl time.Duration) error
	GetCursor(ctx context.Context, sessionID string, userID uint64) ([]byte, error)
}

type redisPresence struct {
	rdb redis.UniversalClient
}

func NewRedisPresence(rdb redis.UniversalClient) PresenceCache {
	return &redisPresence{rdb: rdb}
}

// AddMember 心跳续期也直接调它。
func (p *redisPresence) AddMember(ctx context.Context, sessionID string, userID uint64, displayName string, ttl time.Duration) error {
	tx := p.rdb.TxPipeline()
	// ZSET score 用 expireAt（Unix 秒）表达逻辑 TTL
	expireAt := time.Now().Add(ttl).Unix()
	tx.ZAdd(ctx, roomKey(sessionID), redis.Z{Score: float64(expireAt), Member: userID})
	tx.HSet(ctx, namesKey(sessionID), userID, displayName)
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) RemoveMember(ctx context.Context, sessionID string, userID uint64) error {
	tx := p.rdb.TxPipeline()
	tx.ZRem(ctx, roomKey(sessionID), userID)
	tx.HDel(ctx, namesKey(sessionID), strconv.FormatUint(userID, 10))
	tx.Del(ctx, cursorKey(sessionID, userID))
	_, err := tx.Exec(ctx)
	return err
}

func (p *redisPresence) SetCursor(ctx context.Context, sessionID string, userID uint64, jsonData []byte, ttl time.Duration) error {
	return p.rdb.Set(ctx, cursorKey(sessionID, userID), jsonData, ttl).Err()
}

func (p *redisPresence) GetCursor(ctx context.Context, sessionID string, userID uint64) ([]byte, error) {
	return p.rdb.Get(ctx, cursorKey(sessionID, userID)).Bytes()
}

// 清理过期成员后再读在线成员。score=expireAt，<= now 视为过期。
var sweepScript = redis.NewScript(`
-- KEYS[1] = roomKey(sessionID)
-- KEYS[2] = namesKey(sessionID)
-- ARGV[1] = now (unix seconds)

local expired = redis.call("ZRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
if #expired > 0 then
	redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", ARGV[1])
	redis.call("HDEL", KEYS[2], unpack(expired))
end
return #expired
`)

func (p *redisPresence) GetAliveMembers(ctx context.Context, sessionID string) ([]PresenceMember, error) {
	now := time.Now().Unix()

	// step1: 剔除过期成员
	if _, err := sweepScript.Run(ctx, p.rdb, []string{roomKey(sessionID), namesKey(sessionID)}, now).Int(); err != nil && err != redis.Nil {
		return nil, err
	}

	// step2: 读在线成员
	aliveIDs, err := p.rdb.ZRangeByScore(ctx, roomKey(sessionID), &redis.ZRangeBy{
		Min: "(" + strconv.FormatInt(now, 10),
		Max: "+inf",
	}).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	if len(aliveIDs) == 0 {
		return nil, nil
	}

	// step3: 批量取名字，下标与 aliveIDs 对齐
	names, err := p.rdb.HMGet(ctx, namesKey(sessionID), aliveIDs...).Result()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	members := make([]PresenceMember, 0, len(aliveIDs))
	for i, raw := range aliveIDs {
		uid, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		name := ""
		if i < len(names) && names[i] != nil {
			name, _ = names[i].(string)
		}
		members = append(members, PresenceMember{UserID: uid, DisplayName: name})
	}
	return members, nil
}

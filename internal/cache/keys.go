package cache

import "fmt"

// 键语义：
// - roomKey(sessionID):  会话在线成员（ZSet<userId, expireAtUnix>，score=expireAt）
// - namesKey(sessionID): 会话内 userId→displayName 映射（Hash）
// - cursorKey(...):      光标镜像（String，短 TTL）

const (
	keyRoomFmt   = "presence:session:%s"
	keyNamesFmt  = "presence:names:%s"
	keyCursorFmt = "presence:cursor:%s:%d"
)

func roomKey(sessionID string) string  { return fmt.Sprintf(keyRoomFmt, sessionID) }
func namesKey(sessionID string) string { return fmt.Sprintf(keyNamesFmt, sessionID) }

func cursorKey(sessionID string, userID uint64) string {
	return fmt.Sprintf(keyCursorFmt, sessionID, userID)
}

package shared

import "hash/fnv"

// ExecutionLockKey builds the advisory lock key guarding a (support, accounting period) budget scope.
func ExecutionLockKey(supportID, periodID int64) int64 {
	return lockKey("execution", supportID, periodID)
}

func lockKey(scope string, a, b int64) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(scope))
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(a >> (8 * i))
		buf[8+i] = byte(b >> (8 * i))
	}
	_, _ = h.Write(buf[:])
	return int64(h.Sum64())
}

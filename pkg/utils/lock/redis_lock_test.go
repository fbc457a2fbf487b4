package lock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRedis 只模拟 SET NX 和释放脚本的比较删除
type fakeRedis struct {
	redis.Scripter
	mu   sync.Mutex
	keys map[string]string
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: make(map[string]string)}
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.keys[key]; ok {
		return redis.NewBoolResult(false, nil)
	}
	f.keys[key] = value.(string)
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) EvalSha(ctx context.Context, sha1 string, keys []string, args ...interface{}) *redis.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.keys[keys[0]] != args[0].(string) {
		return redis.NewCmdResult(int64(0), nil)
	}
	delete(f.keys, keys[0])
	return redis.NewCmdResult(int64(1), nil)
}

// expire 模拟 key 到期
func (f *fakeRedis) expire(key string) {
	f.mu.Lock()
	delete(f.keys, key)
	f.mu.Unlock()
}

func TestRedisLock_StaleHolderCannotReleaseSuccessor(t *testing.T) {
	ctx := context.Background()
	rdb := newFakeRedis()
	l := &RedisLock{client: rdb}

	first, err := l.Acquire(ctx, "recover", time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, first)

	busy, err := l.Acquire(ctx, "recover", time.Second)
	require.NoError(t, err)
	assert.Empty(t, busy)

	rdb.expire("lock:recover")
	second, err := l.Acquire(ctx, "recover", time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, second)

	// 第一个持有者迟到的释放不能删掉第二个持有者的锁
	require.NoError(t, l.Release(ctx, "recover", first))
	assert.Equal(t, second, rdb.keys["lock:recover"])

	require.NoError(t, l.Release(ctx, "recover", second))
	assert.NotContains(t, rdb.keys, "lock:recover")
}

package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type holder struct {
	token  string
	expiry time.Time
}

// LocalLock 进程内实现，用于单实例部署与测试
type LocalLock struct {
	mu      sync.Mutex
	holders map[string]holder
	now     func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{holders: make(map[string]holder), now: time.Now}
}

func (l *LocalLock) Acquire(ctx context.Context, key string, ttl time.Duration) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if h, held := l.holders[key]; held && l.now().Before(h.expiry) {
		return "", nil
	}
	token := uuid.NewString()
	l.holders[key] = holder{token: token, expiry: l.now().Add(ttl)}
	return token, nil
}

func (l *LocalLock) Release(ctx context.Context, key, token string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if h, held := l.holders[key]; held && h.token == token {
		delete(l.holders, key)
	}
	return nil
}

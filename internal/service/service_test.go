package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"offramp-core/internal/event"
	"offramp-core/internal/model"
	"offramp-core/internal/service/mq"
	"offramp-core/internal/service/offramp"
	"offramp-core/pkg/utils/lock"
)

type published struct {
	topic, key string
	payload    []byte
}

type fakeProducer struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (p *fakeProducer) Publish(ctx context.Context, topic, key string, payload []byte) error {
	if p.err != nil {
		return p.err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, published{topic, key, payload})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

type fakeEnqueuer struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (e *fakeEnqueuer) EnqueueAdvance(ctx context.Context, txID, reason string) error {
	if e.err != nil {
		return e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, txID+":"+reason)
	return nil
}

func newMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	mockDb, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDb.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: mockDb, DriverName: "postgres"}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db, mock
}

func TestRelayService_PublishesAndMarksSent(t *testing.T) {
	db, mock := newMockDB(t)
	producer := &fakeProducer{}
	relay := NewRelayService(db, producer)

	mock.ExpectQuery(`SELECT \* FROM "outbox_messages" WHERE status = \$1 ORDER BY id LIMIT \$2`).
		WithArgs(model.OutboxPending, 50).
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "key", "payload", "status"}).
			AddRow(1, event.TopicStatus, "tx-1", []byte(`{"to":"pending"}`), model.OutboxPending).
			AddRow(2, event.TopicStatus, "tx-1", []byte(`{"to":"token_received"}`), model.OutboxPending))
	for i := 0; i < 2; i++ {
		mock.ExpectBegin()
		mock.ExpectExec(`UPDATE "outbox_messages" SET "status"=\$1,"updated_at"=\$2 WHERE "id" = \$3`).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()
	}

	sent := relay.processPendingMessages(context.Background())
	assert.Equal(t, 2, sent)
	require.Len(t, producer.msgs, 2)
	assert.Equal(t, "tx-1", producer.msgs[0].key)
	assert.JSONEq(t, `{"to":"token_received"}`, string(producer.msgs[1].payload))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRelayService_StopsBatchOnPublishError(t *testing.T) {
	db, mock := newMockDB(t)
	relay := NewRelayService(db, &fakeProducer{err: errors.New("broker down")})

	mock.ExpectQuery(`SELECT \* FROM "outbox_messages"`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "topic", "key", "payload", "status"}).
			AddRow(1, event.TopicStatus, "tx-1", []byte(`{}`), model.OutboxPending).
			AddRow(2, event.TopicStatus, "tx-1", []byte(`{}`), model.OutboxPending))
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "outbox_messages" SET "attempts"=attempts \+ 1 WHERE "id" = \$1`).
		WithArgs(1).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	assert.Equal(t, 0, relay.processPendingMessages(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

type fakeLookup struct {
	tx  *model.OfframpTransaction
	err error
}

func (f *fakeLookup) ActiveForWallet(ctx context.Context, address string) (*model.OfframpTransaction, error) {
	return f.tx, f.err
}

func depositMessage(t *testing.T, address string) *mq.Message {
	payload, err := json.Marshal(event.DepositDetectedEvent{Network: "base", Address: address, TxHash: "0xabc"})
	require.NoError(t, err)
	return &mq.Message{ID: "1-0", Topic: event.TopicDeposit, Payload: payload}
}

func TestDepositListener_Handle(t *testing.T) {
	const addr = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"

	t.Run("enqueues active transaction", func(t *testing.T) {
		enq := &fakeEnqueuer{}
		l := NewDepositListener(nil, &fakeLookup{tx: &model.OfframpTransaction{ID: "tx-9"}}, enq)
		require.NoError(t, l.handle(context.Background(), depositMessage(t, addr)))
		assert.Equal(t, []string{"tx-9:deposit"}, enq.ids)
	})

	t.Run("no active transaction acks", func(t *testing.T) {
		enq := &fakeEnqueuer{}
		l := NewDepositListener(nil, &fakeLookup{err: offramp.ErrNotFound}, enq)
		require.NoError(t, l.handle(context.Background(), depositMessage(t, addr)))
		assert.Empty(t, enq.ids)
	})

	t.Run("lookup error is retried", func(t *testing.T) {
		l := NewDepositListener(nil, &fakeLookup{err: errors.New("db down")}, &fakeEnqueuer{})
		assert.Error(t, l.handle(context.Background(), depositMessage(t, addr)))
	})

	t.Run("malformed payload dropped", func(t *testing.T) {
		enq := &fakeEnqueuer{}
		l := NewDepositListener(nil, &fakeLookup{}, enq)
		require.NoError(t, l.handle(context.Background(), &mq.Message{Payload: []byte("not json")}))
		assert.Empty(t, enq.ids)
	})
}

type fakeStalled struct {
	ids []string
	err error
}

func (f *fakeStalled) Stalled(ctx context.Context, limit int) ([]string, error) {
	return f.ids, f.err
}

type fakeRefresher struct {
	mu    sync.Mutex
	pairs []RatePair
}

func (f *fakeRefresher) Refresh(ctx context.Context, base, quote string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pairs = append(f.pairs, RatePair{base, quote})
	return decimal.NewFromInt(1600), nil
}

func TestCronService_RecoverStalled(t *testing.T) {
	enq := &fakeEnqueuer{}
	s := NewCronService(lock.NewLocalLock(), &fakeStalled{ids: []string{"tx-1", "tx-2"}}, enq, nil, nil)

	assert.Equal(t, 2, s.RecoverStalled(context.Background()))
	assert.Equal(t, []string{"tx-1:cron", "tx-2:cron"}, enq.ids)
}

func TestCronService_SkipsWhenLockHeld(t *testing.T) {
	locker := lock.NewLocalLock()
	token, err := locker.Acquire(context.Background(), lockRecoverStalled, time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, token)

	enq := &fakeEnqueuer{}
	s := NewCronService(locker, &fakeStalled{ids: []string{"tx-1"}}, enq, nil, nil)
	assert.Equal(t, 0, s.RecoverStalled(context.Background()))
	assert.Empty(t, enq.ids)
}

func TestCronService_SyncExchangeRates(t *testing.T) {
	rates := &fakeRefresher{}
	pairs := []RatePair{{"USDC", "NGN"}}
	s := NewCronService(lock.NewLocalLock(), &fakeStalled{}, &fakeEnqueuer{}, rates, pairs)

	s.SyncExchangeRates(context.Background())
	assert.Equal(t, pairs, rates.pairs)
}

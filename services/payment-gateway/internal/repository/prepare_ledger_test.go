package repository

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"globalpay/services/payment-gateway/internal/models"
	"globalpay/shared/pkg/redis"
)

func newTestLedger(t *testing.T) (*PrepareLedger, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewRedisClient(mr.Addr(), "")
	t.Cleanup(func() { client.Close() })
	return NewPrepareLedger(client, 30*time.Minute), mr
}

func testRecord() *models.PrepareRecord {
	return &models.PrepareRecord{
		PrepareID:       "m1-prep",
		MerchantTransID: "m1",
		GatewayTransID:  "9001",
		OrderID:         "o1",
		Amount:          decimal.RequireFromString("50000"),
		CreatedAt:       time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
}

func TestPrepareLedger_PutConsume(t *testing.T) {
	ledger, mr := newTestLedger(t)
	ctx := context.Background()

	require.NoError(t, ledger.Put(ctx, testRecord()))
	assert.Equal(t, 30*time.Minute, mr.TTL(prepareKey("m1-prep")))

	stored, err := ledger.Get(ctx, "m1-prep")
	require.NoError(t, err)
	assert.Equal(t, "o1", stored.OrderID)

	// "50000.00" is the same amount as "50000".
	rec, err := ledger.Consume(ctx, "m1-prep", "m1", decimal.RequireFromString("50000.00"), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, "m1", rec.MerchantTransID)
	assert.Equal(t, "9001", rec.GatewayTransID)
	assert.Equal(t, "o1", rec.OrderID)
	assert.True(t, rec.Amount.Equal(decimal.NewFromInt(50000)))
	assert.Equal(t, testRecord().CreatedAt, rec.CreatedAt)

	_, err = ledger.Consume(ctx, "m1-prep", "m1", decimal.NewFromInt(50000), "tok-b")
	assert.ErrorIs(t, err, models.ErrPrepareNotFound)
	_, err = ledger.Get(ctx, "m1-prep")
	assert.ErrorIs(t, err, models.ErrPrepareNotFound)
	assert.Equal(t, "tok-a", mr.HGet(prepareKey("m1-prep"), "consumed_by"))
}

func TestPrepareLedger_ConsumeSameTokenIsRepeatable(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.Put(ctx, testRecord()))

	first, err := ledger.Consume(ctx, "m1-prep", "m1", decimal.NewFromInt(50000), "tok-a")
	require.NoError(t, err)
	again, err := ledger.Consume(ctx, "m1-prep", "m1", decimal.NewFromInt(50000), "tok-a")
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestPrepareLedger_ConsumeMismatchKeepsRecord(t *testing.T) {
	ledger, mr := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.Put(ctx, testRecord()))

	_, err := ledger.Consume(ctx, "m1-prep", "m2", decimal.NewFromInt(50000), "tok-a")
	assert.ErrorIs(t, err, models.ErrPrepareMismatch)

	_, err = ledger.Consume(ctx, "m1-prep", "m1", decimal.NewFromInt(49999), "tok-a")
	assert.ErrorIs(t, err, models.ErrPrepareMismatch)

	assert.Empty(t, mr.HGet(prepareKey("m1-prep"), "consumed_by"))
	_, err = ledger.Consume(ctx, "m1-prep", "m1", decimal.NewFromInt(50000), "tok-b")
	assert.NoError(t, err)
}

func TestPrepareLedger_Expiry(t *testing.T) {
	ledger, mr := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.Put(ctx, testRecord()))

	mr.FastForward(31 * time.Minute)

	_, err := ledger.Consume(ctx, "m1-prep", "m1", decimal.NewFromInt(50000), "tok-a")
	assert.ErrorIs(t, err, models.ErrPrepareNotFound)
	_, err = ledger.Get(ctx, "m1-prep")
	assert.ErrorIs(t, err, models.ErrPrepareNotFound)
}

func TestPrepareLedger_ConcurrentConsume(t *testing.T) {
	ledger, _ := newTestLedger(t)
	ctx := context.Background()
	require.NoError(t, ledger.Put(ctx, testRecord()))

	const workers = 16
	var won, lost int32
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func(token string) {
			defer wg.Done()
			_, err := ledger.Consume(ctx, "m1-prep", "m1", decimal.NewFromInt(50000), token)
			if err == nil {
				atomic.AddInt32(&won, 1)
				return
			}
			if assert.ErrorIs(t, err, models.ErrPrepareNotFound) {
				atomic.AddInt32(&lost, 1)
			}
		}(fmt.Sprintf("tok-%d", i))
	}
	wg.Wait()

	assert.EqualValues(t, 1, won)
	assert.EqualValues(t, workers-1, lost)
}

func TestPrepareLedger_StoreUnavailable(t *testing.T) {
	ledger, mr := newTestLedger(t)
	mr.Close()

	err := ledger.Put(context.Background(), testRecord())
	assert.Error(t, err)

	_, err = ledger.Consume(context.Background(), "m1-prep", "m1", decimal.NewFromInt(50000), "tok-a")
	assert.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrPrepareNotFound)
}

// services/payment-gateway/internal/repository/prepare_ledger.go
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"globalpay/services/payment-gateway/internal/models"
	"globalpay/shared/pkg/redis"
)

const prepareKeyPrefix = "click:prepare:"

// consumeScript checks the reservation against the callback and claims it
// for one consumer token in a single server-side step. Replies: nil when
// absent or claimed by another token, 0 on a partial match (record left
// untouched), the field/value list when the caller holds the claim. A
// claimed record stays until its TTL so a retried call with the same token
// can recover a lost reply.
var consumeScript = redis.NewScript(`
local rec = redis.call('HGETALL', KEYS[1])
if #rec == 0 then
  return false
end
local fields = {}
for i = 1, #rec, 2 do
  fields[rec[i]] = rec[i + 1]
end
if fields['merchant_trans_id'] ~= ARGV[1] or fields['amount'] ~= ARGV[2] then
  return 0
end
local owner = fields['consumed_by']
if owner then
  if owner ~= ARGV[3] then
    return false
  end
  return rec
end
redis.call('HSET', KEYS[1], 'consumed_by', ARGV[3])
return rec
`)

// PrepareLedger keeps in-flight Prepare reservations in Redis so every
// replica sees the same set and a consume can only succeed once.
type PrepareLedger struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewPrepareLedger(redisClient *redis.Client, ttl time.Duration) *PrepareLedger {
	return &PrepareLedger{
		redis: redisClient,
		ttl:   ttl,
	}
}

// Put stores a reservation that expires after the ledger TTL.
func (l *PrepareLedger) Put(ctx context.Context, rec *models.PrepareRecord) error {
	fields := map[string]interface{}{
		"merchant_trans_id": rec.MerchantTransID,
		"gateway_trans_id":  rec.GatewayTransID,
		"order_id":          rec.OrderID,
		"amount":            rec.Amount.String(),
		"created_at":        rec.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	if err := l.redis.HSetWithTTL(ctx, prepareKey(rec.PrepareID), fields, l.ttl); err != nil {
		return fmt.Errorf("failed to store prepare record: %w", err)
	}
	return nil
}

// Consume atomically claims the reservation for token if it matches
// merchantTransID and amount. Only one token can ever get a record back;
// repeating the call with the same token returns the same record.
func (l *PrepareLedger) Consume(ctx context.Context, prepareID, merchantTransID string, amount decimal.Decimal, token string) (*models.PrepareRecord, error) {
	res, err := l.redis.Eval(ctx, consumeScript, []string{prepareKey(prepareID)}, merchantTransID, amount.String(), token)
	if errors.Is(err, redis.ErrNotFound) {
		return nil, models.ErrPrepareNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to consume prepare record: %w", err)
	}

	switch v := res.(type) {
	case int64:
		return nil, models.ErrPrepareMismatch
	case []interface{}:
		return decodePrepareRecord(prepareID, v)
	default:
		return nil, fmt.Errorf("unexpected consume reply %T", res)
	}
}

// Get returns an unclaimed reservation without consuming it.
func (l *PrepareLedger) Get(ctx context.Context, prepareID string) (*models.PrepareRecord, error) {
	fields, err := l.redis.HGetAll(ctx, prepareKey(prepareID))
	if errors.Is(err, redis.ErrNotFound) {
		return nil, models.ErrPrepareNotFound
	}
	if err != nil {
		return nil, err
	}
	if fields["consumed_by"] != "" {
		return nil, models.ErrPrepareNotFound
	}
	return recordFromFields(prepareID, fields)
}

func decodePrepareRecord(prepareID string, pairs []interface{}) (*models.PrepareRecord, error) {
	if len(pairs)%2 != 0 {
		return nil, fmt.Errorf("malformed prepare record %s", prepareID)
	}
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		fields[k] = v
	}
	return recordFromFields(prepareID, fields)
}

func recordFromFields(prepareID string, fields map[string]string) (*models.PrepareRecord, error) {
	amount, err := decimal.NewFromString(fields["amount"])
	if err != nil {
		return nil, fmt.Errorf("prepare record %s has bad amount: %w", prepareID, err)
	}
	createdAt, err := time.Parse(time.RFC3339Nano, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("prepare record %s has bad created_at: %w", prepareID, err)
	}
	return &models.PrepareRecord{
		PrepareID:       prepareID,
		MerchantTransID: fields["merchant_trans_id"],
		GatewayTransID:  fields["gateway_trans_id"],
		OrderID:         fields["order_id"],
		Amount:          amount,
		CreatedAt:       createdAt,
	}, nil
}

func prepareKey(prepareID string) string {
	return prepareKeyPrefix + prepareID
}

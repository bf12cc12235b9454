package storage

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerStore wraps a RecordStore with a circuit breaker. It is used in
// front of remote backends (postgres) so that a dead database trips fast
// instead of stalling every tool call; the local sqlite store is not wrapped.
type BreakerStore struct {
	inner RecordStore
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerStore wraps the given store. The breaker opens after five
// consecutive failures and probes again after 30 seconds.
func NewBreakerStore(inner RecordStore) *BreakerStore {
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "record-store",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Domain errors are healthy responses; only transport-level failures
		// should open the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrInvalidInput)
		},
	})
	return &BreakerStore{inner: inner, cb: cb}
}

func (b *BreakerStore) Select(ctx context.Context, sel Selection) ([]Row, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Select(ctx, sel)
	})
	if err != nil {
		return nil, err
	}
	rows, _ := out.([]Row)
	return rows, nil
}

func (b *BreakerStore) Insert(ctx context.Context, entity string, draft bool, data Row) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, b.inner.Insert(ctx, entity, draft, data)
	})
	return err
}

func (b *BreakerStore) Update(ctx context.Context, entity string, draft bool, keys, data Row) (int64, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Update(ctx, entity, draft, keys, data)
	})
	if err != nil {
		return 0, err
	}
	n, _ := out.(int64)
	return n, nil
}

func (b *BreakerStore) NewDraft(ctx context.Context, entity string, data Row) (Row, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.NewDraft(ctx, entity, data)
	})
	if err != nil {
		return nil, err
	}
	row, _ := out.(Row)
	return row, nil
}

func (b *BreakerStore) EditDraft(ctx context.Context, entity string, keys Row) (Row, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.EditDraft(ctx, entity, keys)
	})
	if err != nil {
		return nil, err
	}
	row, _ := out.(Row)
	return row, nil
}

func (b *BreakerStore) SaveDraft(ctx context.Context, entity string, keys Row) (Row, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.SaveDraft(ctx, entity, keys)
	})
	if err != nil {
		return nil, err
	}
	row, _ := out.(Row)
	return row, nil
}

func (b *BreakerStore) DiscardDraft(ctx context.Context, entity string, keys Row) (int64, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.DiscardDraft(ctx, entity, keys)
	})
	if err != nil {
		return 0, err
	}
	n, _ := out.(int64)
	return n, nil
}

func (b *BreakerStore) Exec(ctx context.Context, stmt string, args []interface{}) ([]Row, int64, error) {
	type execResult struct {
		rows     []Row
		affected int64
	}
	out, err := b.cb.Execute(func() (interface{}, error) {
		rows, affected, err := b.inner.Exec(ctx, stmt, args)
		return execResult{rows, affected}, err
	})
	if err != nil {
		return nil, 0, err
	}
	res, _ := out.(execResult)
	return res.rows, res.affected, nil
}

func (b *BreakerStore) Close() error { return b.inner.Close() }

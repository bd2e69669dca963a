package subscription

import (
	"fmt"

	"github.com/sourcegraph/conc/panics"

	"github.com/rickgao/livedata/internal/model"
)

type operation string

const (
	opSubscribe   operation = "subscribe"
	opUnsubscribe operation = "unsubscribe"
)

// partition splits keys into consecutive batches of at most size keys.
func partition(keys []model.Key, size int) [][]model.Key {
	if len(keys) == 0 {
		return nil
	}
	if size <= 0 {
		size = len(keys)
	}

	batches := make([][]model.Key, 0, (len(keys)+size-1)/size)
	for i := 0; i < len(keys); i += size {
		end := i + size
		if end > len(keys) {
			end = len(keys)
		}
		batches = append(batches, keys[i:end:end])
	}
	return batches
}

// issue sends keys to p in batches. A failed batch is logged and counted;
// its keys keep their registry state for the monitor to retry.
//
// Must not be called with m.mu held.
func (m *Manager) issue(p Provider, op operation, keys []model.Key) {
	if p == nil || len(keys) == 0 {
		return
	}

	start := m.clock.Now()
	batches := partition(keys, m.cfg.MaxBatchSize)
	failed := 0
	for i, batch := range batches {
		if err := m.call(p, op, batch); err != nil {
			failed++
			m.batchErrors.Add(1)
			m.logger.Error("provider batch call failed",
				"op", op,
				"batch", i+1,
				"batches", len(batches),
				"batch_size", len(batch),
				"error", err,
			)
			continue
		}
		m.batches.Add(1)
	}

	m.logger.Info("issued market data batches",
		"op", op,
		"keys", len(keys),
		"batches", len(batches),
		"failed_batches", failed,
		"duration", m.clock.Since(start),
	)
}

// call runs one provider call, converting a panic into an error.
func (m *Manager) call(p Provider, op operation, batch []model.Key) error {
	var (
		pc  panics.Catcher
		err error
	)
	pc.Try(func() {
		switch op {
		case opSubscribe:
			err = p.Subscribe(batch)
		case opUnsubscribe:
			err = p.Unsubscribe(batch)
		}
	})
	if r := pc.Recovered(); r != nil {
		return fmt.Errorf("%s panicked: %w", op, r.AsError())
	}
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

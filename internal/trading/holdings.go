package trading

import (
	"context"
	"fmt"
	"sort"

	"allocator/internal/repository"
)

// ApplySource books a settled order into the holdings of every strategy in
// source. Each strategy is updated in its own transaction, which also deletes
// the intent record consumeOrderID when set.
func ApplySource(ctx context.Context, ledger repository.Ledger, mode string, instrumentID int64, source map[string]int64, consumeOrderID string) error {
	strategies := make([]string, 0, len(source))
	for s := range source {
		strategies = append(strategies, s)
	}
	sort.Strings(strategies)
	for _, s := range strategies {
		if err := ledger.ApplyHoldingsDelta(ctx, mode, s, instrumentID, source[s], consumeOrderID); err != nil {
			return fmt.Errorf("update holdings %s/%d: %w", s, instrumentID, err)
		}
	}
	return nil
}

// Mismatch is an instrument where the ledger and the broker disagree.
type Mismatch struct {
	InstrumentID int64 `json:"instrumentId"`
	Ledger       int64 `json:"ledger"`
	Broker       int64 `json:"broker"`
}

// Compare reports every instrument whose quantities differ. Missing entries
// count as zero.
func Compare(ledger, brokerSide map[int64]int64) []Mismatch {
	ids := map[int64]struct{}{}
	for id := range ledger {
		ids[id] = struct{}{}
	}
	for id := range brokerSide {
		ids[id] = struct{}{}
	}
	var out []Mismatch
	for id := range ids {
		if ledger[id] != brokerSide[id] {
			out = append(out, Mismatch{InstrumentID: id, Ledger: ledger[id], Broker: brokerSide[id]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].InstrumentID < out[j].InstrumentID })
	return out
}

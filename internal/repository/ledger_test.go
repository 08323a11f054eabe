package repository

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func TestApplyDelta_RemovesZeroKey(t *testing.T) {
	got := ApplyDelta(map[int64]int64{5: -100}, 5, 100)
	_, present := got[5]
	assert.False(t, present)
	assert.Empty(t, got)
}

func TestApplyDelta_CreatesKeyAndKeepsInput(t *testing.T) {
	in := map[int64]int64{1: 3}
	got := ApplyDelta(in, 2, -7)
	assert.Equal(t, map[int64]int64{1: 3, 2: -7}, got)
	assert.Equal(t, map[int64]int64{1: 3}, in)
}

func TestConsolidate_SumsAcrossStrategies(t *testing.T) {
	got := Consolidate(map[string]map[int64]int64{
		"s1": {1: 100, 2: 5},
		"s2": {1: -10, 2: -5},
	})
	assert.Equal(t, map[int64]int64{1: 90}, got)
}

func TestApplyDelta_NeverLeavesZeroValues(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		positions := rapid.MapOf(rapid.Int64Range(1, 5), rapid.Int64Range(-50, 50).Filter(func(v int64) bool { return v != 0 })).Draw(t, "positions")
		id := rapid.Int64Range(1, 5).Draw(t, "id")
		qty := rapid.Int64Range(-100, 100).Draw(t, "qty")

		got := ApplyDelta(positions, id, qty)
		for k, v := range got {
			if v == 0 {
				t.Fatalf("zero value retained for %d", k)
			}
		}
		if got[id] != positions[id]+qty {
			t.Fatalf("position=%d want=%d", got[id], positions[id]+qty)
		}
	})
}

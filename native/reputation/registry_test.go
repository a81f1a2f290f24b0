package reputation

import (
	"math/big"
	"testing"
)

type memStore struct {
	scores map[[20]byte]*Score
}

func (m *memStore) ScoreGet(provider [20]byte) (*Score, bool, error) {
	score, ok := m.scores[provider]
	if !ok {
		return nil, false, nil
	}
	return score.Clone(), true, nil
}

func (m *memStore) ScorePut(score *Score) error {
	m.scores[score.Provider] = score.Clone()
	return nil
}

func newTestRegistry() (*Registry, *memStore) {
	store := &memStore{scores: make(map[[20]byte]*Score)}
	registry := NewRegistry([20]byte{0x51})
	registry.SetStore(store)
	return registry, store
}

func TestUpdateOnSettlementAccumulates(t *testing.T) {
	registry, _ := newTestRegistry()
	provider := [20]byte{0xB1}

	if err := registry.UpdateOnSettlement(provider, [32]byte{1}, big.NewInt(1000), false); err != nil {
		t.Fatalf("update: %v", err)
	}
	if err := registry.UpdateOnSettlement(provider, [32]byte{2}, big.NewInt(500), true); err != nil {
		t.Fatalf("update: %v", err)
	}
	score, ok, err := registry.Score(provider)
	if err != nil || !ok {
		t.Fatalf("score: ok=%v err=%v", ok, err)
	}
	if score.Settlements != 2 || score.Disputes != 1 {
		t.Fatalf("settlements=%d disputes=%d", score.Settlements, score.Disputes)
	}
	if score.Volume.Cmp(big.NewInt(1500)) != 0 {
		t.Fatalf("volume = %s, want 1500", score.Volume)
	}
}

func TestScoreUnknownProvider(t *testing.T) {
	registry, _ := newTestRegistry()
	if _, ok, err := registry.Score([20]byte{0xEE}); ok || err != nil {
		t.Fatalf("ok=%v err=%v", ok, err)
	}
}

func TestUpdateWithoutStore(t *testing.T) {
	registry := NewRegistry([20]byte{0x51})
	if err := registry.UpdateOnSettlement([20]byte{0xB1}, [32]byte{1}, big.NewInt(1), false); err == nil {
		t.Fatalf("expected error without a store")
	}
}

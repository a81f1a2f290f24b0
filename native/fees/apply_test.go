package fees

import (
	"math/big"
	"testing"
)

func TestApplyComputesFeeAndNet(t *testing.T) {
	result := Apply(big.NewInt(1000), 100)
	if result.Fee.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("expected fee 10, got %s", result.Fee)
	}
	if result.Net.Cmp(big.NewInt(990)) != 0 {
		t.Fatalf("expected net 990, got %s", result.Net)
	}
}

func TestApplyZeroRateIsFeeExempt(t *testing.T) {
	result := Apply(big.NewInt(1_000_000), 0)
	if result.Fee.Sign() != 0 {
		t.Fatalf("expected zero fee, got %s", result.Fee)
	}
	if result.Net.Cmp(big.NewInt(1_000_000)) != 0 {
		t.Fatalf("expected full net, got %s", result.Net)
	}
}

func TestApplyRoundsFeeDown(t *testing.T) {
	result := Apply(big.NewInt(999), 100)
	if result.Fee.Cmp(big.NewInt(9)) != 0 {
		t.Fatalf("expected fee 9, got %s", result.Fee)
	}
	if result.Net.Cmp(big.NewInt(990)) != 0 {
		t.Fatalf("expected net 990, got %s", result.Net)
	}
}

func TestApplyNilAndNegativeGross(t *testing.T) {
	if result := Apply(nil, 250); result.Fee.Sign() != 0 || result.Net.Sign() != 0 {
		t.Fatalf("expected zero result for nil gross")
	}
	if result := Apply(big.NewInt(-5), 250); result.Fee.Sign() != 0 {
		t.Fatalf("expected zero fee for negative gross")
	}
}

func TestApplyFeeNeverExceedsGross(t *testing.T) {
	result := Apply(big.NewInt(3), 10_000)
	if result.Fee.Cmp(big.NewInt(3)) != 0 || result.Net.Sign() != 0 {
		t.Fatalf("expected fee==gross, net 0, got fee %s net %s", result.Fee, result.Net)
	}
}

func TestSplitConservesFee(t *testing.T) {
	fee := big.NewInt(1001)
	treasury, recipient := Split(fee, 500)
	sum := new(big.Int).Add(treasury, recipient)
	if sum.Cmp(fee) != 0 {
		t.Fatalf("split must conserve the fee: %s + %s != %s", treasury, recipient, fee)
	}
	if treasury.Cmp(big.NewInt(50)) != 0 {
		t.Fatalf("expected treasury leg 50, got %s", treasury)
	}
}

func TestSplitFullToTreasury(t *testing.T) {
	treasury, recipient := Split(big.NewInt(40), 10_000)
	if treasury.Cmp(big.NewInt(40)) != 0 || recipient.Sign() != 0 {
		t.Fatalf("expected full treasury leg, got %s/%s", treasury, recipient)
	}
}

func TestCap(t *testing.T) {
	if capped := Cap(big.NewInt(1000), 1000); capped.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("expected cap 100, got %s", capped)
	}
	if capped := Cap(nil, 1000); capped.Sign() != 0 {
		t.Fatalf("expected zero cap for nil amount")
	}
}

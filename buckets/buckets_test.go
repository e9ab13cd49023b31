package buckets

import "testing"

func TestID(t *testing.T) {
	tests := []struct {
		amount uint64
		id     uint8
		ok     bool
	}{
		{100_000_000, 0, true},
		{500_000_000, 1, true},
		{1_000_000_000, 2, true},
		{5_000_000_000, 3, true},
		{10_000_000_000, 4, true},
		{50_000_000_000, 5, true},
		{100_000_000_000, 6, true},
		{999, 0, false},
		{0, 0, false},
		{1_000_000_001, 0, false},
	}

	for _, tt := range tests {
		id, ok := ID(tt.amount)
		if ok != tt.ok {
			t.Errorf("ID(%d): ok=%v, want %v", tt.amount, ok, tt.ok)
			continue
		}
		if ok && id != tt.id {
			t.Errorf("ID(%d) = %d, want %d", tt.amount, id, tt.id)
		}
	}
}

func TestAmount(t *testing.T) {
	amount, ok := Amount(2)
	if !ok || amount != 1_000_000_000 {
		t.Errorf("Amount(2) = %d, %v, want 1000000000, true", amount, ok)
	}

	if _, ok := Amount(7); ok {
		t.Error("Amount(7) should be out of range")
	}
}

func TestTotalWithFee(t *testing.T) {
	// 0.5% fee on 1 coin
	total := TotalWithFee(1_000_000_000, 50)
	if total != 1_005_000_000 {
		t.Errorf("TotalWithFee = %d, want 1005000000", total)
	}

	if Fee(1_000_000_000, 50) != 5_000_000 {
		t.Errorf("Fee = %d, want 5000000", Fee(1_000_000_000, 50))
	}

	// Zero fee rate
	if TotalWithFee(100_000_000, 0) != 100_000_000 {
		t.Error("zero fee rate should charge exactly the amount")
	}
}

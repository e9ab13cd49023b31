// Package buckets defines the fixed deposit denominations and fee math
// shared by the relayer and the client SDK.
package buckets

// Amounts lists the seven allowed denominations in micro-units
// (10^9 micro-units per coin): 0.1, 0.5, 1, 5, 10, 50, 100.
var Amounts = [7]uint64{
	100_000_000,
	500_000_000,
	1_000_000_000,
	5_000_000_000,
	10_000_000_000,
	50_000_000_000,
	100_000_000_000,
}

// Count is the number of denomination buckets.
const Count = len(Amounts)

// Withdrawal timelock bounds in hours.
const (
	MinDelayHours = 0
	MaxDelayHours = 24
)

// ID returns the bucket index for an exact denomination amount.
func ID(amount uint64) (uint8, bool) {
	for i, a := range Amounts {
		if a == amount {
			return uint8(i), true
		}
	}
	return 0, false
}

// Amount returns the denomination for a bucket id.
func Amount(id uint8) (uint64, bool) {
	if int(id) >= Count {
		return 0, false
	}
	return Amounts[id], true
}

// Fee returns the relayer fee for an amount at the given basis points.
func Fee(amount uint64, feeBps uint16) uint64 {
	return amount * uint64(feeBps) / 10000
}

// TotalWithFee returns the full charge for a credit purchase.
func TotalWithFee(amount uint64, feeBps uint16) uint64 {
	return amount + Fee(amount, feeBps)
}

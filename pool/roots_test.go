package pool

import "testing"

func root(b byte) [32]byte {
	var r [32]byte
	r[5] = b
	return r
}

func TestHistoricalRootsRecordAndContains(t *testing.T) {
	hr := NewHistoricalRoots()

	hr.Record(0, root(1))
	if !hr.Contains(0, root(1)) {
		t.Fatal("recorded root not found")
	}
	if hr.Contains(0, root(2)) {
		t.Fatal("unknown root reported present")
	}
	if hr.Contains(1, root(1)) {
		t.Fatal("root leaked across buckets")
	}
}

func TestHistoricalRootsCapacity(t *testing.T) {
	hr := NewHistoricalRoots()

	for i := 0; i < maxHistoricalRoots+10; i++ {
		var r [32]byte
		r[0] = byte(i)
		r[1] = byte(i >> 8)
		hr.Record(0, r)
	}

	if hr.Len(0) > maxHistoricalRoots {
		t.Fatalf("cache exceeded cap: %d", hr.Len(0))
	}
}

func TestHistoricalRootsOutOfRangeBucket(t *testing.T) {
	hr := NewHistoricalRoots()
	hr.Record(200, root(1)) // must not panic
	if hr.Contains(200, root(1)) {
		t.Fatal("out-of-range bucket stored a root")
	}
}

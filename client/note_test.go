package client

import "testing"

func TestNoteCommitmentDeterministic(t *testing.T) {
	note := NewNote(1_000_000_000)

	if err := note.Validate(); err != nil {
		t.Fatalf("fresh note invalid: %v", err)
	}

	c1, err := note.Commitment()
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	c2, err := note.Commitment()
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	if c1 != c2 {
		t.Fatal("commitment not deterministic")
	}

	other := NewNote(1_000_000_000)
	c3, err := other.Commitment()
	if err != nil {
		t.Fatalf("Commitment failed: %v", err)
	}
	if c3 == c1 {
		t.Fatal("distinct notes produced the same commitment")
	}
}

func TestNoteZeroRejection(t *testing.T) {
	note := NewNote(1_000_000_000)
	note.Amount = 0
	if err := note.Validate(); err == nil {
		t.Error("zero amount accepted")
	}
	if _, err := note.Commitment(); err == nil {
		t.Error("commitment computed for zero amount")
	}

	note = NewNote(1_000_000_000)
	note.Secret = [32]byte{}
	if err := note.Validate(); err == nil {
		t.Error("zero secret accepted")
	}

	note = NewNote(1_000_000_000)
	note.Nullifier = [32]byte{}
	if err := note.Validate(); err == nil {
		t.Error("zero nullifier accepted")
	}
}

func TestNoteSerializationRoundTrip(t *testing.T) {
	note := NewNote(5_000_000_000)
	note.SetLeafIndex(17)

	data, err := note.ToBytes()
	if err != nil {
		t.Fatalf("ToBytes failed: %v", err)
	}
	restored, err := NoteFromBytes(data)
	if err != nil {
		t.Fatalf("FromBytes failed: %v", err)
	}

	if restored.Secret != note.Secret || restored.Nullifier != note.Nullifier {
		t.Fatal("note secrets lost in round trip")
	}
	if restored.LeafIndex == nil || *restored.LeafIndex != 17 {
		t.Fatal("leaf index lost in round trip")
	}
}

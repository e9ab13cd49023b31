package client

import "testing"

func TestStealthDerivationDeterministic(t *testing.T) {
	master, err := NewStealthMaster()
	if err != nil {
		t.Fatalf("NewStealthMaster failed: %v", err)
	}

	addr1 := master.Derive(0)
	addr2 := master.Derive(1)
	addr3 := master.Derive(0)

	if addr1.Address == addr2.Address {
		t.Fatal("different indices derived the same address")
	}
	if addr1.Address != addr3.Address {
		t.Fatal("same index derived different addresses")
	}

	// The derived keypair controls the address.
	if addr1.Keypair().Pubkey() != addr1.Address {
		t.Fatal("keypair does not match address")
	}
}

func TestStealthMasterRestore(t *testing.T) {
	master, err := NewStealthMaster()
	if err != nil {
		t.Fatalf("NewStealthMaster failed: %v", err)
	}

	restored := StealthMasterFromSecret(master.ExportSecret())
	if master.Derive(5).Address != restored.Derive(5).Address {
		t.Fatal("restored master derives different addresses")
	}
}

func TestStealthMnemonicBackup(t *testing.T) {
	master, mnemonic, err := NewStealthMasterWithMnemonic()
	if err != nil {
		t.Fatalf("NewStealthMasterWithMnemonic failed: %v", err)
	}
	if mnemonic == "" {
		t.Fatal("empty mnemonic")
	}

	restored, err := StealthMasterFromMnemonic(mnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic failed: %v", err)
	}
	if master.Derive(3).Address != restored.Derive(3).Address {
		t.Fatal("mnemonic restore derives different addresses")
	}

	if _, err := StealthMasterFromMnemonic("not a valid mnemonic"); err == nil {
		t.Fatal("invalid mnemonic accepted")
	}
}

func TestDeriveNext(t *testing.T) {
	master, err := NewStealthMaster()
	if err != nil {
		t.Fatalf("NewStealthMaster failed: %v", err)
	}
	next := master.DeriveNext(4)
	if next.Index != 5 {
		t.Fatalf("DeriveNext index = %d, want 5", next.Index)
	}
	if next.Address != master.Derive(5).Address {
		t.Fatal("DeriveNext mismatch")
	}
}

package aof

import (
	"os"
	"testing"

	"github.com/subfrost/alkanes-index/internal/mdb"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

func openTestStore(t *testing.T) *ordkv.Store {
	t.Helper()
	dir, err := os.MkdirTemp("", "aof-test-*")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	s, err := ordkv.Open(dir)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestRevertLastBlocksRestoresPriorValues indexes several blocks with AOF
// enabled, then reverts the last k and confirms a key only modified in a
// reverted block returns to its earlier value.
func TestRevertLastBlocksRestoresPriorValues(t *testing.T) {
	store := openTestStore(t)
	m := New(store, 6)
	essentials := mdb.New(store, "essentials:")

	write := func(height uint32, key, value []byte) {
		var hash [32]byte
		hash[0] = byte(height)
		if err := m.StartBlock(height, hash); err != nil {
			t.Fatal(err)
		}
		b := essentials.NewBatch()
		m.Attach(b)
		b.Put(key, value)
		if err := essentials.Write(b); err != nil {
			t.Fatal(err)
		}
		if err := m.FinishBlock(); err != nil {
			t.Fatal(err)
		}
	}

	key := []byte("balances/addrA")
	write(100, key, []byte("v100"))
	write(101, key, []byte("v101"))
	write(102, key, []byte("v102"))
	write(103, key, []byte("v103"))
	write(104, key, []byte("v104"))
	write(105, key, []byte("v105"))

	gens, err := m.RecentBlocks(6)
	if err != nil {
		t.Fatal(err)
	}
	if len(gens) != 6 {
		t.Fatalf("expected 6 retained generations, got %d", len(gens))
	}

	if err := m.RevertLastBlocks(2); err != nil {
		t.Fatal(err)
	}

	got, err := essentials.Get(key)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v103" {
		t.Fatalf("expected v103 after reverting 2 blocks, got %q", got)
	}

	remaining, err := m.RecentBlocks(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(remaining) != 4 {
		t.Fatalf("expected 4 remaining generations, got %d", len(remaining))
	}
}

func TestPreimageRecordedOnceOnlyPerGeneration(t *testing.T) {
	store := openTestStore(t)
	m := New(store, 6)
	ns := mdb.New(store, "essentials:")

	var hash [32]byte
	if err := m.StartBlock(1, hash); err != nil {
		t.Fatal(err)
	}
	key := []byte("k")

	b1 := ns.NewBatch()
	m.Attach(b1)
	b1.Put(key, []byte("first"))
	if err := ns.Write(b1); err != nil {
		t.Fatal(err)
	}

	b2 := ns.NewBatch()
	m.Attach(b2)
	b2.Put(key, []byte("second"))
	if err := ns.Write(b2); err != nil {
		t.Fatal(err)
	}
	if err := m.FinishBlock(); err != nil {
		t.Fatal(err)
	}

	if err := m.RevertLastBlocks(1); err != nil {
		t.Fatal(err)
	}

	got, err := ns.Get(key)
	if err != ordkv.ErrNotFound {
		t.Fatalf("expected key to be absent after revert (preimage should be 'did not exist'), got value=%q err=%v", got, err)
	}
}

package essentials

import (
	"math/big"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

// CreationInfo is the exported view of a creation record, used by the ammdata module to decide
// factory/pool candidacy by name and to read declared cap/mint-amount.
type CreationInfo struct {
	ID         alkaneid.ID
	CreateTxid alkaneid.Txid
	Height     uint32
	Timestamp  uint32
	Names      []string
	Symbols    []string
	Cap        []byte
	MintAmount []byte
}

// GetCreationRecord returns the creation record for id, if one has been
// indexed.
func (m *Module) GetCreationRecord(id alkaneid.ID) (CreationInfo, bool, error) {
	rec, exists, err := m.getCreationRecord(id)
	if err != nil || !exists {
		return CreationInfo{}, exists, err
	}
	return CreationInfo{
		ID:         rec.ID,
		CreateTxid: rec.CreateTxid,
		Height:     rec.Height,
		Timestamp:  rec.Timestamp,
		Names:      rec.Names,
		Symbols:    rec.Symbols,
		Cap:        rec.Cap,
		MintAmount: rec.MintAmount,
	}, true, nil
}

// HeldBalance is one (token, amount) pair an alkane-kind holder carries,
// the shape get_alkane_balances returns.
type HeldBalance struct {
	Token   alkaneid.ID
	Balance *big.Int
}

// GetAlkaneBalances returns every token balance currently held by owner
// (an alkane, e.g. an AMM pool), read from the held-balances table
// writeHeldBalances maintains.
func (m *Module) GetAlkaneBalances(owner alkaneid.ID) ([]HeldBalance, error) {
	ownerSB := owner.StorageBytes()
	c := m.db.Cursor(heldBalancePrefix(ownerSB))
	defer c.Close()

	var out []HeldBalance
	for ok := c.First(); ok; ok = c.Next() {
		key := c.Key()
		if len(key) < 12 {
			continue
		}
		var tokenSB [12]byte
		copy(tokenSB[:], key[len(key)-12:])
		token := alkaneid.IDFromStorageBytes(tokenSB)
		bal := new(big.Int).SetBytes(c.Value())
		out = append(out, HeldBalance{Token: token, Balance: bal})
	}
	return out, nil
}

// GetAlkaneBalance returns owner's single-token balance of token, or zero
// if it holds none.
func (m *Module) GetAlkaneBalance(owner, token alkaneid.ID) (*big.Int, error) {
	raw, err := m.db.Get(heldBalanceKey(owner.StorageBytes(), token.StorageBytes()))
	if err == ordkv.ErrNotFound {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(raw), nil
}

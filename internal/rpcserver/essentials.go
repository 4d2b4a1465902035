package rpcserver

import (
	"encoding/hex"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/modules/essentials"
)

// RegisterEssentials wires the essentials module's query surface under
// the "essentials.*" namespace.
func RegisterEssentials(s *Server, m *essentials.Module) {
	s.Register("essentials", "get_creation_record", handleGetCreationRecord(m))
	s.Register("essentials", "get_alkane_balances", handleGetAlkaneBalances(m))
	s.Register("essentials", "get_alkane_balance", handleGetAlkaneBalance(m))
	s.Register("essentials", "get_alkane_storage_value", handleGetAlkaneStorageValue(m))
	s.Register("essentials", "get_outpoint_alkane_balances", handleGetOutpointAlkaneBalances(m))
}

type idRequest struct {
	ID string `json:"id"`
}

type creationRecordResponse struct {
	ID         string   `json:"id"`
	CreateTxid string   `json:"create_txid"`
	Height     uint32   `json:"height"`
	Timestamp  uint32   `json:"timestamp"`
	Names      []string `json:"names"`
	Symbols    []string `json:"symbols"`
	Cap        string   `json:"cap"`
	MintAmount string   `json:"mint_amount"`
}

func handleGetCreationRecord(m *essentials.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req idRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "essentials.get_creation_record: decoding params")
		}
		id, err := alkaneid.ParseID(req.ID)
		if err != nil {
			return nil, err
		}
		rec, exists, err := m.GetCreationRecord(id)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("essentials.get_creation_record: no creation record for %s", req.ID)
		}
		return creationRecordResponse{
			ID:         rec.ID.String(),
			CreateTxid: rec.CreateTxid.String(),
			Height:     rec.Height,
			Timestamp:  rec.Timestamp,
			Names:      rec.Names,
			Symbols:    rec.Symbols,
			Cap:        hex.EncodeToString(rec.Cap),
			MintAmount: hex.EncodeToString(rec.MintAmount),
		}, nil
	}
}

type heldBalanceResponse struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func handleGetAlkaneBalances(m *essentials.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req idRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "essentials.get_alkane_balances: decoding params")
		}
		owner, err := alkaneid.ParseID(req.ID)
		if err != nil {
			return nil, err
		}
		balances, err := m.GetAlkaneBalances(owner)
		if err != nil {
			return nil, err
		}
		out := make([]heldBalanceResponse, len(balances))
		for i, b := range balances {
			out[i] = heldBalanceResponse{Token: b.Token.String(), Balance: b.Balance.String()}
		}
		return out, nil
	}
}

type balanceRequest struct {
	Owner string `json:"owner"`
	Token string `json:"token"`
}

func handleGetAlkaneBalance(m *essentials.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req balanceRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "essentials.get_alkane_balance: decoding params")
		}
		owner, err := alkaneid.ParseID(req.Owner)
		if err != nil {
			return nil, err
		}
		token, err := alkaneid.ParseID(req.Token)
		if err != nil {
			return nil, err
		}
		bal, err := m.GetAlkaneBalance(owner, token)
		if err != nil {
			return nil, err
		}
		return heldBalanceResponse{Token: token.String(), Balance: bal.String()}, nil
	}
}

type storageValueRequest struct {
	Owner string `json:"owner"`
	Key   string `json:"key"`
}

func handleGetAlkaneStorageValue(m *essentials.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req storageValueRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "essentials.get_alkane_storage_value: decoding params")
		}
		owner, err := alkaneid.ParseID(req.Owner)
		if err != nil {
			return nil, err
		}
		key, err := hex.DecodeString(req.Key)
		if err != nil {
			return nil, errors.Wrap(err, "essentials.get_alkane_storage_value: decoding key hex")
		}
		value, exists, err := m.GetAlkaneStorageValue(owner, key)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("essentials.get_alkane_storage_value: no value for %s/%s", req.Owner, req.Key)
		}
		return map[string]string{"value": hex.EncodeToString(value)}, nil
	}
}

type outpointRequest struct {
	Txid string `json:"txid"`
	Vout uint32 `json:"vout"`
}

type outpointBalanceResponse struct {
	Token   string `json:"token"`
	Balance string `json:"balance"`
}

func handleGetOutpointAlkaneBalances(m *essentials.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req outpointRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "essentials.get_outpoint_alkane_balances: decoding params")
		}
		txid, err := alkaneid.TxidFromDisplayHex(req.Txid)
		if err != nil {
			return nil, err
		}
		op := alkaneid.Outpoint{Txid: txid, Vout: req.Vout}
		balances, err := m.OutpointAlkaneBalances(op)
		if err != nil {
			return nil, err
		}
		out := make([]outpointBalanceResponse, len(balances))
		for i, b := range balances {
			out[i] = outpointBalanceResponse{Token: b.ID.String(), Balance: b.Balance.String()}
		}
		return out, nil
	}
}

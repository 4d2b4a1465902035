package rpcserver

import (
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/subfrost/alkanes-index/internal/alkaneid"
	"github.com/subfrost/alkanes-index/internal/modules/ammdata"
)

// RegisterAMMData wires the AMM Indexer's query surface under the
// "ammdata.*" namespace, plus a "subfrost.*" pass-through exposing the
// same pool price/TVL queries under a second name.
func RegisterAMMData(s *Server, m *ammdata.Module) {
	s.Register("ammdata", "get_pool", handleGetPool(m))
	s.Register("ammdata", "list_pools", handleListPools(m))
	s.Register("ammdata", "get_pool_activity", handleGetPoolActivity(m))
	s.Register("ammdata", "get_address_activity", handleGetAddressActivity(m))
	s.Register("ammdata", "get_candles", handleGetCandles(m))
	s.Register("ammdata", "get_tvl", handleGetTVL(m))
	s.Register("ammdata", "get_price", handleGetPrice(m))
	s.Register("ammdata", "list_canonical_quotes", handleListCanonicalQuotes())

	s.Register("subfrost", "get_tvl", handleGetTVL(m))
	s.Register("subfrost", "get_price", handleGetPrice(m))
}

type poolIDRequest struct {
	Pool string `json:"pool"`
}

type poolDefinitionResponse struct {
	Pool    string `json:"pool"`
	Factory string `json:"factory"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
	Height  uint32 `json:"height"`
	TxIndex uint32 `json:"tx_index"`
}

func toPoolDefinitionResponse(d ammdata.PoolDefinition) poolDefinitionResponse {
	return poolDefinitionResponse{
		Pool:    d.PoolID.String(),
		Factory: d.Factory.String(),
		Base:    d.Base.String(),
		Quote:   d.Quote.String(),
		Height:  d.Height,
		TxIndex: d.TxIndex,
	}
}

func handleGetPool(m *ammdata.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req poolIDRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "ammdata.get_pool: decoding params")
		}
		pool, err := alkaneid.ParseID(req.Pool)
		if err != nil {
			return nil, err
		}
		def, exists, err := m.GetPool(pool)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("ammdata.get_pool: no pool %s", req.Pool)
		}
		return toPoolDefinitionResponse(def), nil
	}
}

func handleListPools(m *ammdata.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		pools, err := m.GetAllPools()
		if err != nil {
			return nil, err
		}
		out := make([]poolDefinitionResponse, len(pools))
		for i, p := range pools {
			out[i] = toPoolDefinitionResponse(p)
		}
		return out, nil
	}
}

type activityResponse struct {
	Pool       string `json:"pool"`
	Kind       string `json:"kind"`
	Height     uint32 `json:"height"`
	TxIndex    uint32 `json:"tx_index"`
	Timestamp  uint32 `json:"timestamp"`
	Txid       string `json:"txid"`
	Address    string `json:"address"`
	BaseDelta  string `json:"base_delta"`
	QuoteDelta string `json:"quote_delta"`
	LPDelta    string `json:"lp_delta"`
}

func toActivityResponse(r ammdata.ActivityRecord) activityResponse {
	return activityResponse{
		Pool:       r.Pool.String(),
		Kind:       r.Kind.String(),
		Height:     r.Height,
		TxIndex:    r.TxIndex,
		Timestamp:  r.Timestamp,
		Txid:       r.Txid.String(),
		Address:    r.Address,
		BaseDelta:  r.BaseDelta.String(),
		QuoteDelta: r.QuoteDelta.String(),
		LPDelta:    r.LPDelta.String(),
	}
}

type poolActivityRequest struct {
	Pool      string `json:"pool"`
	BeforeTs  uint32 `json:"before_ts"`
	BeforeSeq uint64 `json:"before_seq"`
	Limit     int    `json:"limit"`
}

type poolActivityResponse struct {
	Records []activityResponse `json:"records"`
	HasMore bool               `json:"has_more"`
}

func handleGetPoolActivity(m *ammdata.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req poolActivityRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "ammdata.get_pool_activity: decoding params")
		}
		pool, err := alkaneid.ParseID(req.Pool)
		if err != nil {
			return nil, err
		}
		limit := clampLimit(req.Limit)
		page, err := m.GetPoolActivity(pool, req.BeforeTs, req.BeforeSeq, limit)
		if err != nil {
			return nil, err
		}
		out := poolActivityResponse{HasMore: page.HasMore}
		for _, r := range page.Records {
			out.Records = append(out.Records, toActivityResponse(r))
		}
		return out, nil
	}
}

type addressActivityRequest struct {
	Address string `json:"address"`
	Limit   int    `json:"limit"`
}

func handleGetAddressActivity(m *ammdata.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req addressActivityRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "ammdata.get_address_activity: decoding params")
		}
		recs, err := m.GetAddressActivity(req.Address, clampLimit(req.Limit))
		if err != nil {
			return nil, err
		}
		out := make([]activityResponse, len(recs))
		for i, r := range recs {
			out[i] = toActivityResponse(r)
		}
		return out, nil
	}
}

type candlesRequest struct {
	Pool        string `json:"pool"`
	Timeframe  uint32 `json:"timeframe"`
	FromBucket uint64 `json:"from_bucket"`
	ToBucket   uint64 `json:"to_bucket"`
}

type candleResponse struct {
	Open   string `json:"open"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Close  string `json:"close"`
	Volume string `json:"volume"`
}

func handleGetCandles(m *ammdata.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req candlesRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "ammdata.get_candles: decoding params")
		}
		pool, err := alkaneid.ParseID(req.Pool)
		if err != nil {
			return nil, err
		}
		candles, err := m.GetCandles(pool, req.Timeframe, req.FromBucket, req.ToBucket)
		if err != nil {
			return nil, err
		}
		out := make([]candleResponse, len(candles))
		for i, c := range candles {
			out[i] = candleResponse{Open: c.Open.String(), High: c.High.String(), Low: c.Low.String(), Close: c.Close.String(), Volume: c.Volume.String()}
		}
		return out, nil
	}
}

type tvlRequest struct {
	Pool      string `json:"pool"`
	Canonical string `json:"canonical"`
}

type tvlResponse struct {
	Pool           string `json:"pool"`
	Canonical      string `json:"canonical"`
	BaseReserve    string `json:"base_reserve"`
	QuoteReserve   string `json:"quote_reserve"`
	DerivedBaseUSD string `json:"derived_base_usd"`
	QuoteUSD       string `json:"quote_usd"`
	TVL            string `json:"tvl"`
	Height         uint32 `json:"height"`
}

func handleGetTVL(m *ammdata.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req tvlRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "ammdata.get_tvl: decoding params")
		}
		pool, err := alkaneid.ParseID(req.Pool)
		if err != nil {
			return nil, err
		}
		canonical, err := alkaneid.ParseID(req.Canonical)
		if err != nil {
			return nil, err
		}
		row, exists, err := m.GetLatestTVL(pool, canonical)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("ammdata.get_tvl: no TVL for pool %s against %s", req.Pool, req.Canonical)
		}
		return tvlResponse{
			Pool:           row.Pool.String(),
			Canonical:      row.Canonical.String(),
			BaseReserve:    row.BaseReserve.String(),
			QuoteReserve:   row.QuoteReserve.String(),
			DerivedBaseUSD: row.DerivedBaseUSD.String(),
			QuoteUSD:       row.QuoteUSD.String(),
			TVL:            row.TVL.String(),
			Height:         row.Height,
		}, nil
	}
}

type priceRequest struct {
	Token     string `json:"token"`
	Canonical string `json:"canonical"`
	Strategy  string `json:"strategy"`
}

func parseMergeStrategy(s string) ammdata.PriceMergeStrategy {
	switch s {
	case "optimistic":
		return ammdata.MergeOptimistic
	case "pessimistic":
		return ammdata.MergePessimistic
	case "neutral":
		return ammdata.MergeNeutral
	case "neutral_vwap", "":
		return ammdata.MergeNeutralVWAP
	default:
		return ammdata.MergeNeutralVWAP
	}
}

func handleGetPrice(m *ammdata.Module) HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		var req priceRequest
		if err := json.Unmarshal(params, &req); err != nil {
			return nil, errors.Wrap(err, "ammdata.get_price: decoding params")
		}
		token, err := alkaneid.ParseID(req.Token)
		if err != nil {
			return nil, err
		}
		canonical, err := alkaneid.ParseID(req.Canonical)
		if err != nil {
			return nil, err
		}
		price, exists, err := m.GetDerivedPrice(token, canonical, parseMergeStrategy(req.Strategy))
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, errors.Errorf("ammdata.get_price: no derivable price for %s against %s", req.Token, req.Canonical)
		}
		return map[string]interface{}{"token": req.Token, "canonical": req.Canonical, "price_scaled": price}, nil
	}
}

func handleListCanonicalQuotes() HandlerFunc {
	return func(params json.RawMessage) (interface{}, error) {
		quotes := ammdata.CanonicalQuotes()
		out := make([]string, len(quotes))
		for i, q := range quotes {
			out[i] = q.String()
		}
		return out, nil
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 500 {
		return 500
	}
	return limit
}

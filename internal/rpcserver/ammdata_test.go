package rpcserver

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/modules/ammdata"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

func openTestAMMData(t *testing.T) *ammdata.Module {
	t.Helper()
	dir, err := os.MkdirTemp("", "rpcserver-ammdata-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := ordkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return ammdata.New(store, nil, nil, 0)
}

func TestRegisterAMMDataWiresAllMethodsIncludingSubfrostAlias(t *testing.T) {
	s := New()
	RegisterAMMData(s, openTestAMMData(t))
	require.ElementsMatch(t, []string{
		"ammdata.get_pool",
		"ammdata.list_pools",
		"ammdata.get_pool_activity",
		"ammdata.get_address_activity",
		"ammdata.get_candles",
		"ammdata.get_tvl",
		"ammdata.get_price",
		"ammdata.list_canonical_quotes",
		"subfrost.get_tvl",
		"subfrost.get_price",
	}, s.Methods())
}

func TestHandleGetPoolNotFound(t *testing.T) {
	s := New()
	RegisterAMMData(s, openTestAMMData(t))

	params, _ := json.Marshal(poolIDRequest{Pool: "840000:10"})
	env := s.dispatch("ammdata.get_pool", params)
	require.False(t, env.OK)
	require.Contains(t, env.Error, "no pool")
}

func TestHandleListPoolsEmpty(t *testing.T) {
	s := New()
	RegisterAMMData(s, openTestAMMData(t))

	env := s.dispatch("ammdata.list_pools", nil)
	require.True(t, env.OK)

	var resp []poolDefinitionResponse
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	require.Empty(t, resp)
}

func TestHandleListCanonicalQuotes(t *testing.T) {
	s := New()
	RegisterAMMData(s, openTestAMMData(t))

	env := s.dispatch("ammdata.list_canonical_quotes", nil)
	require.True(t, env.OK)

	var resp []string
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	require.Equal(t, []string{"0:0", "0:1"}, resp)
}

func TestSubfrostAliasSharesAmmdataBehavior(t *testing.T) {
	s := New()
	RegisterAMMData(s, openTestAMMData(t))

	params, _ := json.Marshal(tvlRequest{Pool: "840000:10", Canonical: "0:0"})
	ammEnv := s.dispatch("ammdata.get_tvl", params)
	subEnv := s.dispatch("subfrost.get_tvl", params)
	require.Equal(t, ammEnv.OK, subEnv.OK)
	require.Equal(t, ammEnv.Error, subEnv.Error)
}

func TestParseMergeStrategyDefaultsToNeutralVWAP(t *testing.T) {
	require.Equal(t, ammdata.MergeNeutralVWAP, parseMergeStrategy(""))
	require.Equal(t, ammdata.MergeNeutralVWAP, parseMergeStrategy("bogus"))
	require.Equal(t, ammdata.MergeOptimistic, parseMergeStrategy("optimistic"))
	require.Equal(t, ammdata.MergePessimistic, parseMergeStrategy("pessimistic"))
	require.Equal(t, ammdata.MergeNeutral, parseMergeStrategy("neutral"))
}

func TestClampLimit(t *testing.T) {
	require.Equal(t, 50, clampLimit(0))
	require.Equal(t, 50, clampLimit(-5))
	require.Equal(t, 10, clampLimit(10))
	require.Equal(t, 500, clampLimit(10000))
}

package rpcserver

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/modules/essentials"
	"github.com/subfrost/alkanes-index/internal/ordkv"
)

func openTestEssentials(t *testing.T) *essentials.Module {
	t.Helper()
	dir, err := os.MkdirTemp("", "rpcserver-essentials-test-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	store, err := ordkv.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return essentials.New(store, nil, nil, 0)
}

func TestRegisterEssentialsWiresAllMethods(t *testing.T) {
	s := New()
	RegisterEssentials(s, openTestEssentials(t))
	require.ElementsMatch(t, []string{
		"essentials.get_creation_record",
		"essentials.get_alkane_balances",
		"essentials.get_alkane_balance",
		"essentials.get_alkane_storage_value",
		"essentials.get_outpoint_alkane_balances",
	}, s.Methods())
}

func TestHandleGetAlkaneBalanceDefaultsToZero(t *testing.T) {
	s := New()
	RegisterEssentials(s, openTestEssentials(t))

	params, _ := json.Marshal(map[string]string{"owner": "2:0", "token": "840000:1"})
	env := s.dispatch("essentials.get_alkane_balance", params)
	require.True(t, env.OK)

	var resp heldBalanceResponse
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	require.Equal(t, "840000:1", resp.Token)
	require.Equal(t, "0", resp.Balance)
}

func TestHandleGetAlkaneBalanceMalformedID(t *testing.T) {
	s := New()
	RegisterEssentials(s, openTestEssentials(t))

	params, _ := json.Marshal(map[string]string{"owner": "not-an-id", "token": "840000:1"})
	env := s.dispatch("essentials.get_alkane_balance", params)
	require.False(t, env.OK)
	require.NotEmpty(t, env.Error)
}

func TestHandleGetCreationRecordNotFound(t *testing.T) {
	s := New()
	RegisterEssentials(s, openTestEssentials(t))

	params, _ := json.Marshal(map[string]string{"id": "840000:5"})
	env := s.dispatch("essentials.get_creation_record", params)
	require.False(t, env.OK)
	require.Contains(t, env.Error, "no creation record")
}

func TestHandleGetAlkaneBalancesEmpty(t *testing.T) {
	s := New()
	RegisterEssentials(s, openTestEssentials(t))

	params, _ := json.Marshal(map[string]string{"id": "2:0"})
	env := s.dispatch("essentials.get_alkane_balances", params)
	require.True(t, env.OK)

	var resp []heldBalanceResponse
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	require.Empty(t, resp)
}

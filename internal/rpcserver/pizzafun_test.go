package rpcserver

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/modules/pizzafun"
	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
)

func TestRegisterPizzafunWiresStatusMethod(t *testing.T) {
	s := New()
	m := pizzafun.New(0)
	RegisterPizzafun(s, m)
	require.Equal(t, []string{"pizzafun.status"}, s.Methods())
}

func TestHandlePizzafunStatusReflectsIndexedBlocks(t *testing.T) {
	s := New()
	m := pizzafun.New(0)
	RegisterPizzafun(s, m)

	require.NoError(t, m.IndexBlock(&traceassembler.IndexedBlock{Height: 7}, &resolver.BlockResult{}))

	env := s.dispatch("pizzafun.status", nil)
	require.True(t, env.OK)

	var resp pizzafunStatusResponse
	require.NoError(t, json.Unmarshal(env.Result, &resp))
	require.Equal(t, uint32(7), resp.LastHeight)
	require.Equal(t, uint64(1), resp.BlocksSeen)
}

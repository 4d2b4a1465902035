package pizzafun

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/subfrost/alkanes-index/internal/resolver"
	"github.com/subfrost/alkanes-index/internal/traceassembler"
)

func TestModuleNameAndGenesisHeight(t *testing.T) {
	m := New(840000)
	require.Equal(t, "pizzafun", m.Name())
	require.Equal(t, Name, m.Name())
	require.Equal(t, uint32(840000), m.GenesisHeight())
}

func TestIndexBlockTracksLastHeightAndCount(t *testing.T) {
	m := New(0)

	st := m.GetStatus()
	require.Equal(t, uint32(0), st.LastHeight)
	require.Equal(t, uint64(0), st.BlocksSeen)

	for _, h := range []uint32{100, 101, 102} {
		ib := &traceassembler.IndexedBlock{Height: h}
		require.NoError(t, m.IndexBlock(ib, &resolver.BlockResult{}))
	}

	st = m.GetStatus()
	require.Equal(t, uint32(102), st.LastHeight)
	require.Equal(t, uint64(3), st.BlocksSeen)
}

func TestIndexBlockOutOfOrderHeightStillOverwrites(t *testing.T) {
	m := New(0)
	require.NoError(t, m.IndexBlock(&traceassembler.IndexedBlock{Height: 50}, &resolver.BlockResult{}))
	require.NoError(t, m.IndexBlock(&traceassembler.IndexedBlock{Height: 10}, &resolver.BlockResult{}))

	st := m.GetStatus()
	require.Equal(t, uint32(10), st.LastHeight, "module records whatever height it's last handed, it does not validate ordering")
	require.Equal(t, uint64(2), st.BlocksSeen)
}

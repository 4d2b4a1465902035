package alkaneid

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIDStringParseRoundTrip(t *testing.T) {
	cases := []ID{
		{Block: 0, Tx: 0},
		{Block: 1, Tx: 0},
		{Block: 840000, Tx: 42},
		{Block: 4294967295, Tx: 18446744073709551615},
	}
	for _, id := range cases {
		parsed, err := ParseID(id.String())
		require.NoError(t, err)
		require.True(t, id.Equal(parsed), "round trip mismatch for %s", id)
	}
}

func TestParseIDMalformed(t *testing.T) {
	for _, s := range []string{"", "840000", "840000:", ":42", "a:b", "840000:42:1"} {
		_, err := ParseID(s)
		require.Error(t, err, "expected error parsing %q", s)
	}
}

func TestIDLessEqual(t *testing.T) {
	a := ID{Block: 1, Tx: 5}
	b := ID{Block: 1, Tx: 6}
	c := ID{Block: 2, Tx: 0}

	require.True(t, a.Less(b))
	require.True(t, b.Less(c))
	require.False(t, b.Less(a))
	require.True(t, a.Equal(ID{Block: 1, Tx: 5}))
	require.False(t, a.Equal(b))
}

func TestIDBytesRoundTrip(t *testing.T) {
	id := ID{Block: 840000, Tx: 42}
	require.True(t, id.Equal(IDFromBytes(id.Bytes())))
	require.True(t, id.Equal(IDFromStorageBytes(id.StorageBytes())))
}

package bbolt

import (
	"encoding/binary"
	"path/filepath"
	"testing"

	"fiatjaf.com/nostrbus/kvstore"
	"github.com/stretchr/testify/require"
)

func TestStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	s, err := NewStore(path)
	require.NoError(t, err)

	v, err := s.Get([]byte("missing"))
	require.NoError(t, err)
	require.Nil(t, v)

	require.NoError(t, s.Set([]byte("k"), []byte("v1")))
	v, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	// only advance a counter, like the bus cursor does
	bump := func(n uint64) error {
		return s.Update([]byte("cursor"), func(old []byte) ([]byte, error) {
			if old != nil && binary.BigEndian.Uint64(old) >= n {
				return nil, kvstore.NoOp
			}
			return binary.BigEndian.AppendUint64(nil, n), nil
		})
	}
	require.NoError(t, bump(10))
	require.NoError(t, bump(5))
	v, err = s.Get([]byte("cursor"))
	require.NoError(t, err)
	require.Equal(t, uint64(10), binary.BigEndian.Uint64(v))

	require.NoError(t, s.Close())

	// survives reopening
	s, err = NewStore(path)
	require.NoError(t, err)
	defer s.Close()

	v, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete([]byte("k")))
	v, err = s.Get([]byte("k"))
	require.NoError(t, err)
	require.Nil(t, v)

	// returning nil from update deletes
	require.NoError(t, s.Update([]byte("cursor"), func([]byte) ([]byte, error) { return nil, nil }))
	v, err = s.Get([]byte("cursor"))
	require.NoError(t, err)
	require.Nil(t, v)
}

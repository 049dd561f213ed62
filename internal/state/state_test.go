package state

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nestream/nestream/internal/pairing"
)

func TestOpenCreatesFreshIdentity(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)
	require.NotEmpty(t, s.UniqueID())

	reopened, err := Open(dir)
	require.NoError(t, err)
	assert.Equal(t, s.UniqueID(), reopened.UniqueID())
}

func TestSaveAndLoadClient(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	record := pairing.ClientRecord{ID: "client-1", Certificate: []byte{0x01, 0x02, 0x03}}
	require.NoError(t, s.SaveClient(record))

	reopened, err := Open(dir)
	require.NoError(t, err)
	got, ok, err := reopened.Client("client-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, record.Certificate, got.Certificate)

	require.NoError(t, reopened.DeleteClient("client-1"))
	_, ok, err = reopened.Client("client-1")
	require.NoError(t, err)
	assert.False(t, ok)
}

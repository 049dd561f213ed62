package fec

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildShards(t *testing.T, dataShards, fecShards, shardSize int) [][]byte {
	t.Helper()
	shards := make([][]byte, dataShards+fecShards)
	for i := 0; i < dataShards; i++ {
		shards[i] = make([]byte, shardSize)
		rand.New(rand.NewSource(int64(i))).Read(shards[i])
	}
	for i := dataShards; i < dataShards+fecShards; i++ {
		shards[i] = make([]byte, shardSize)
	}
	return shards
}

func TestEncodeReconstructNoLoss(t *testing.T) {
	codec, err := New(10, 3)
	require.NoError(t, err)

	shards := buildShards(t, 10, 3, 256)
	require.NoError(t, codec.Encode(shards))

	present := make([]bool, 13)
	for i := range present {
		present[i] = true
	}
	require.NoError(t, codec.Reconstruct(shards, present))
}

// TestReconstructUpToFECShardsLost is spec.md invariant 4: losing up to
// fec_shards packets of a frame must still allow reconstruction.
func TestReconstructUpToFECShardsLost(t *testing.T) {
	const dataShards, fecShards = 22, 5
	codec, err := New(dataShards, fecShards)
	require.NoError(t, err)

	original := buildShards(t, dataShards, fecShards, 512)
	require.NoError(t, codec.Encode(original))

	lossy := make([][]byte, len(original))
	copy(lossy, original)
	present := make([]bool, len(original))
	for i := range present {
		present[i] = true
	}

	// Drop exactly fecShards data shards — the maximum recoverable loss.
	dropped := []int{0, 3, 7, 11, 19}
	for _, idx := range dropped {
		lossy[idx] = nil
		present[idx] = false
	}

	require.NoError(t, codec.Reconstruct(lossy, present))
	for _, idx := range dropped {
		require.Equal(t, original[idx], lossy[idx], "shard %d not recovered", idx)
	}
}

func TestReconstructTooManyLossesFails(t *testing.T) {
	codec, err := New(10, 3)
	require.NoError(t, err)

	shards := buildShards(t, 10, 3, 64)
	require.NoError(t, codec.Encode(shards))

	present := make([]bool, 13)
	for i := range present {
		present[i] = true
	}
	// Drop 4 data shards with only 3 parity shards available: unrecoverable.
	for _, idx := range []int{0, 1, 2, 3} {
		shards[idx] = nil
		present[idx] = false
	}
	require.Error(t, codec.Reconstruct(shards, present))
}

func TestNewRejectsOversizedShardCount(t *testing.T) {
	_, err := New(200, 100)
	require.Error(t, err)
}

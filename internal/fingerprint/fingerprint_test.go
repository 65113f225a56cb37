package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPackageHashDeterministic(t *testing.T) {
	a := Package("lodash", "4.17.21")
	b := Package("lodash", "4.17.21")
	require.Equal(t, a, b)

	sum := sha256.Sum256([]byte("lodash@4.17.21"))
	require.Equal(t, hex.EncodeToString(sum[:]), a.Encoded())
}

func TestTreeHashStableUnderPermutation(t *testing.T) {
	a := Tree(map[string]string{"b": "1.0.0", "a": "2.0.0"})
	b := Tree(map[string]string{"a": "2.0.0", "b": "1.0.0"})
	require.Equal(t, a, b)

	sum := sha256.Sum256([]byte("a@2.0.0\nb@1.0.0\n"))
	require.Equal(t, hex.EncodeToString(sum[:]), a.Encoded())
}

func TestTreeHashDiffersOnVersionChange(t *testing.T) {
	a := Tree(map[string]string{"lodash": "4.17.21"})
	b := Tree(map[string]string{"lodash": "4.17.22"})
	require.NotEqual(t, a, b)
}

func TestShardPath(t *testing.T) {
	d := Package("lodash", "4.17.21")
	shard, hash := ShardPath(d)
	require.Len(t, shard, 2)
	require.Equal(t, d.Encoded(), hash)
	require.Equal(t, hash[:2], shard)
}

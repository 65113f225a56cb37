package flashpack

import (
	"testing"

	digest "github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/require"
)

func TestDependencySetSortedByName(t *testing.T) {
	deps := DependencySet{"zod": "3.22.0", "axios": "1.6.0", "lodash": "4.17.21"}
	ids := deps.Sorted()
	require.Equal(t, []PackageID{
		{Name: "axios", Version: "1.6.0"},
		{Name: "lodash", Version: "4.17.21"},
		{Name: "zod", Version: "3.22.0"},
	}, ids)
}

func TestDependencySetHashIgnoresInsertionOrder(t *testing.T) {
	a := DependencySet{"b": "1.0.0", "a": "2.0.0"}
	b := DependencySet{"a": "2.0.0", "b": "1.0.0"}
	require.Equal(t, a.Hash(), b.Hash())
}

func TestFingerprintMatches(t *testing.T) {
	tree := digest.FromString("tree")
	lockA := digest.FromString("lock-a")
	lockB := digest.FromString("lock-b")

	base := Fingerprint{TreeHash: tree}
	withLockA := Fingerprint{TreeHash: tree, LockfileHash: &lockA}
	withLockB := Fingerprint{TreeHash: tree, LockfileHash: &lockB}

	// Tree hash alone decides when either side lacks a lockfile hash.
	require.True(t, base.Matches(withLockA))
	require.True(t, withLockA.Matches(base))

	require.True(t, withLockA.Matches(withLockA))
	require.False(t, withLockA.Matches(withLockB))

	other := Fingerprint{TreeHash: digest.FromString("other")}
	require.False(t, base.Matches(other))
}

func TestIsRetryableClassification(t *testing.T) {
	require.True(t, IsRetryable(NetworkError{URL: "u"}))
	require.False(t, IsRetryable(NotFoundError{}))
	require.False(t, IsRetryable(IoError{}))
	require.False(t, IsRetryable(nil))
}

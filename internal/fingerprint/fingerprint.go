// Package fingerprint implements the two pure hashing functions the rest of
// the engine builds identity on: a package's own hash and a whole
// dependency set's tree hash. Both are SHA-256 over an exactly specified
// byte sequence, so they agree across platforms, processes, and Go
// versions for the same logical input.
package fingerprint

import (
	"sort"

	digest "github.com/opencontainers/go-digest"
)

// Package returns the content-addressable fingerprint of one resolved
// package identity: sha256(name + "@" + version).
func Package(name, version string) digest.Digest {
	return digest.FromString(name + "@" + version)
}

// Tree returns the fingerprint of a whole name→version mapping: sha256
// over the sorted-by-name concatenation of "name@version\n" for every
// entry. It depends only on the set of (name, version) pairs, never on the
// iteration order of the map that produced it.
func Tree(dependencies map[string]string) digest.Digest {
	names := make([]string, 0, len(dependencies))
	for name := range dependencies {
		names = append(names, name)
	}
	sort.Strings(names)

	digester := digest.SHA256.Digester()
	w := digester.Hash()
	for _, name := range names {
		w.Write([]byte(name))
		w.Write([]byte{'@'})
		w.Write([]byte(dependencies[name]))
		w.Write([]byte{'\n'})
	}
	return digester.Digest()
}

// ShardPath splits a digest's hex encoding into the two-character shard
// prefix and the full hex string, matching the store's on-disk layout
// "<store>/<kind>/<xx>/<hash>".
func ShardPath(d digest.Digest) (shard, hash string) {
	hash = d.Encoded()
	if len(hash) < 2 {
		return hash, hash
	}
	return hash[:2], hash
}

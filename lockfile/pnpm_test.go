package lockfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPnpmParserScrapesPackageKeys(t *testing.T) {
	content := []byte(`
lockfileVersion: '6.0'

packages:

  /lodash@4.17.21:
    resolution: {integrity: sha512-xxx}

  /@babel/core@7.22.0(supports-color@5.5.0):
    resolution: {integrity: sha512-yyy}
`)

	deps, err := PnpmParser{}.Parse(content)
	require.NoError(t, err)
	require.Equal(t, "4.17.21", deps["lodash"])
	require.Equal(t, "7.22.0", deps["@babel/core"])
}

func TestPnpmParserEmptyInput(t *testing.T) {
	deps, err := PnpmParser{}.Parse([]byte(""))
	require.NoError(t, err)
	require.Empty(t, deps)
}

package lockfile

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNpmParserLockfileVersion3Packages(t *testing.T) {
	content := []byte(`{
		"lockfileVersion": 3,
		"packages": {
			"": {"name": "root"},
			"node_modules/lodash": {"version": "4.17.21"},
			"node_modules/react-dom/node_modules/loose-envify": {"version": "1.4.0"}
		}
	}`)

	deps, err := NpmParser{}.Parse(content)
	require.NoError(t, err)
	require.Equal(t, "4.17.21", deps["lodash"])
	require.Equal(t, "1.4.0", deps["loose-envify"])
}

func TestNpmParserLegacyDependencies(t *testing.T) {
	content := []byte(`{
		"lockfileVersion": 1,
		"dependencies": {
			"lodash": {
				"version": "4.17.21"
			},
			"react": {
				"version": "18.2.0",
				"dependencies": {
					"loose-envify": {"version": "1.4.0"}
				}
			}
		}
	}`)

	deps, err := NpmParser{}.Parse(content)
	require.NoError(t, err)
	require.Equal(t, "4.17.21", deps["lodash"])
	require.Equal(t, "18.2.0", deps["react"])
	require.Equal(t, "1.4.0", deps["loose-envify"])
}

func TestNpmParserInvalidJSON(t *testing.T) {
	_, err := NpmParser{}.Parse([]byte("not json"))
	require.Error(t, err)
}

package registryfetch

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	flashpack "github.com/flashpack/flashpack"
)

func TestTarballURLUnscoped(t *testing.T) {
	f := New("https://registry.npmjs.org", nil)
	url := f.TarballURL(flashpack.PackageID{Name: "lodash", Version: "4.17.21"})
	require.Equal(t, "https://registry.npmjs.org/lodash/-/lodash-4.17.21.tgz", url)
}

func TestTarballURLScoped(t *testing.T) {
	f := New("https://registry.npmjs.org", nil)
	url := f.TarballURL(flashpack.PackageID{Name: "@types/node", Version: "20.1.0"})
	require.Equal(t, "https://registry.npmjs.org/@types%2Fnode/-/node-20.1.0.tgz", url)
}

func TestTarballURLDefaultsRegistry(t *testing.T) {
	f := New("", nil)
	require.Equal(t, DefaultRegistryURL, f.RegistryURL)
}

func buildFixtureTarball(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	files := map[string]string{
		"package/package.json": `{"name":"demo","version":"1.0.0"}`,
		"package/index.js":     "module.exports = {}",
	}
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o644,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func TestFetchDownloadsAndExtractsStrippingRootComponent(t *testing.T) {
	body := buildFixtureTarball(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f := New(srv.URL, srv.Client())
	dir, err := f.Fetch(context.Background(), flashpack.PackageID{Name: "demo", Version: "1.0.0"}, "")
	require.NoError(t, err)
	defer os.RemoveAll(filepath.Dir(dir))

	content, err := os.ReadFile(filepath.Join(dir, "package.json"))
	require.NoError(t, err)
	require.Equal(t, `{"name":"demo","version":"1.0.0"}`, string(content))
}

func TestFetchNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	f := New(srv.URL, srv.Client())
	_, err := f.Fetch(context.Background(), flashpack.PackageID{Name: "demo", Version: "1.0.0"}, "")
	require.Error(t, err)

	var notFound flashpack.NotFoundError
	require.ErrorAs(t, err, &notFound)
}

func TestFetchIntegrityMismatch(t *testing.T) {
	body := buildFixtureTarball(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(body)
	}))
	defer srv.Close()

	f := New(srv.URL, srv.Client())
	_, err := f.Fetch(context.Background(), flashpack.PackageID{Name: "demo", Version: "1.0.0"}, "0000000000000000000000000000000000000000")
	require.Error(t, err)

	var integrity flashpack.IntegrityError
	require.ErrorAs(t, err, &integrity)
	require.True(t, integrity.Fatal)
}

package generation

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/pawtrait/pawtrait-api/internal/pkg/storage"
)

func pngFixture(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	img.Set(1, 1, color.RGBA{G: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func newTestMaterializer(t *testing.T) (*Materializer, *storage.LocalStorage) {
	t.Helper()
	local, err := storage.NewLocalStorage(t.TempDir(), "https://cdn.test/uploads")
	if err != nil {
		t.Fatalf("local storage: %v", err)
	}
	m := NewMaterializer(local, nil, &http.Client{Timeout: 5 * time.Second})
	m.now = func() time.Time { return time.UnixMilli(1700000000000) }
	return m, local
}

var keyPattern = regexp.MustCompile(`^generated/1700000000000-[0-9a-f]{6}\.png$`)

func TestMaterializeStoresPNG(t *testing.T) {
	fixture := pngFixture(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(fixture)
	}))
	t.Cleanup(srv.Close)

	m, local := newTestMaterializer(t)
	asset, err := m.Materialize(context.Background(), srv.URL+"/result.png")
	if err != nil {
		t.Fatalf("materialize: %v", err)
	}
	if !keyPattern.MatchString(asset.Key) {
		t.Fatalf("unexpected key %q", asset.Key)
	}
	if asset.URL != "https://cdn.test/uploads/"+asset.Key {
		t.Fatalf("unexpected url %q", asset.URL)
	}

	data, err := os.ReadFile(filepath.Join(local.BasePath(), filepath.FromSlash(asset.Key)))
	if err != nil {
		t.Fatalf("stored file: %v", err)
	}
	if _, err := png.Decode(bytes.NewReader(data)); err != nil {
		t.Fatalf("stored object is not png: %v", err)
	}

	m.Discard(context.Background(), asset)
	if ok, _ := local.Exists(context.Background(), asset.Key); ok {
		t.Fatal("discarded asset still exists")
	}
}

func TestMaterializeFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/html":
			_, _ = w.Write([]byte("<html>expired</html>"))
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	t.Cleanup(srv.Close)

	m, _ := newTestMaterializer(t)
	for _, u := range []string{srv.URL + "/gone", srv.URL + "/html", srv.URL + "/empty", "ftp://kie.test/x.png"} {
		_, err := m.Materialize(context.Background(), u)
		if !errors.Is(err, ErrMaterialize) {
			t.Fatalf("%s: expected ErrMaterialize, got %v", u, err)
		}
	}
}

func TestNewKeyIsUnique(t *testing.T) {
	m, _ := newTestMaterializer(t)
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		k := m.newKey()
		if !strings.HasPrefix(k, resultPrefix) || seen[k] {
			t.Fatalf("bad or duplicate key %q", k)
		}
		seen[k] = true
	}
}

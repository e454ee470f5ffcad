package blobs

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const abcHash = "ba7816bf8f01cfea414140de5dae2223b00361a396177a9cb410ff61f20015ad"

func TestHashReader(t *testing.T) {
	info, err := HashReader(strings.NewReader("abc"))
	if err != nil {
		t.Fatalf("HashReader: %v", err)
	}
	if info.Hash != abcHash {
		t.Errorf("HashReader(abc) = %s, want %s", info.Hash, abcHash)
	}
	if !ValidHash(info.Hash) {
		t.Errorf("ValidHash(%q) = false", info.Hash)
	}
	for _, bad := range []string{"", "abc", strings.Repeat("z", 64), "../" + abcHash[3:]} {
		if ValidHash(bad) {
			t.Errorf("ValidHash(%q) = true", bad)
		}
	}
}

// serveDir starts a blob server over a cache directory holding blobs.
func serveDir(t *testing.T, blobs map[string]string, upstream BlobReader) (string, *url.URL) {
	t.Helper()
	dir := t.TempDir()
	for name, content := range blobs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0644); err != nil {
			t.Fatalf("writing blob: %v", err)
		}
	}
	srv := httptest.NewServer(&Handler{Cache: &Cache{BaseDir: dir, Upstream: upstream}})
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parsing server url: %v", err)
	}
	return dir, u
}

func TestBlobServerDownload(t *testing.T) {
	ctx := context.Background()
	corruptHash := strings.Repeat("0", 64)
	_, u := serveDir(t, map[string]string{
		abcHash:     "abc",
		corruptHash: "not what the hash says",
	}, nil)
	reader := &BlobServer{BlobserverURL: u}

	dest := filepath.Join(t.TempDir(), "graph.pb")
	if err := reader.Download(ctx, BlobInfo{Hash: abcHash}, dest); err != nil {
		t.Fatalf("Download: %v", err)
	}
	got, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("reading download: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("downloaded %q, want abc", got)
	}

	missing := strings.Repeat("1", 64)
	err = reader.Download(ctx, BlobInfo{Hash: missing}, filepath.Join(t.TempDir(), "missing.pb"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Download of a missing blob = %v, want os.ErrNotExist", err)
	}

	corruptDest := filepath.Join(t.TempDir(), "corrupt.pb")
	if err := reader.Download(ctx, BlobInfo{Hash: corruptHash}, corruptDest); err == nil {
		t.Errorf("Download of a corrupt blob succeeded")
	}
	if _, err := os.Stat(corruptDest); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("corrupt download left a file behind: %v", err)
	}
}

func TestHandlerRejectsBadRequests(t *testing.T) {
	_, u := serveDir(t, nil, nil)

	for _, tc := range []struct {
		method string
		path   string
		want   int
	}{
		{method: http.MethodGet, path: "/not-a-hash", want: http.StatusBadRequest},
		{method: http.MethodGet, path: "/a/b", want: http.StatusNotFound},
		{method: http.MethodPost, path: "/" + abcHash, want: http.StatusMethodNotAllowed},
	} {
		req, err := http.NewRequest(tc.method, u.JoinPath(tc.path).String(), nil)
		if err != nil {
			t.Fatalf("NewRequest: %v", err)
		}
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("%s %s: %v", tc.method, tc.path, err)
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != tc.want {
			t.Errorf("%s %s = %d, want %d", tc.method, tc.path, resp.StatusCode, tc.want)
		}
	}
}

func TestCacheDownloadsOnMiss(t *testing.T) {
	ctx := context.Background()
	_, originURL := serveDir(t, map[string]string{abcHash: "abc"}, nil)

	cacheDir := t.TempDir()
	cache := &Cache{BaseDir: cacheDir, Upstream: &BlobServer{BlobserverURL: originURL}}

	f, err := cache.Get(ctx, BlobInfo{Hash: abcHash})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := io.ReadAll(f)
	f.Close()
	if err != nil {
		t.Fatalf("reading blob: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("Get returned %q, want abc", got)
	}
	if _, err := os.Stat(filepath.Join(cacheDir, abcHash)); err != nil {
		t.Errorf("blob was not cached: %v", err)
	}

	if _, err := cache.Get(ctx, BlobInfo{Hash: strings.Repeat("2", 64)}); err == nil {
		t.Errorf("Get of a blob missing upstream succeeded")
	}
}

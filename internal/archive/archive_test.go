package archive_test

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slok/repoready/internal/archive"
	"github.com/slok/repoready/internal/model"
)

type zipEntry struct {
	name     string
	contents []byte
}

func newZip(t *testing.T, entries ...zipEntry) []byte {
	t.Helper()

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, e := range entries {
		w, err := zw.Create(e.name)
		require.NoError(t, err)
		if e.contents != nil {
			_, err = w.Write(e.contents)
			require.NoError(t, err)
		}
	}
	require.NoError(t, zw.Close())

	return buf.Bytes()
}

func treePaths(t *testing.T, tree *model.FileTree) map[string]string {
	t.Helper()

	paths := map[string]string{}
	err := tree.Walk(func(p string, n *model.FileNode) error {
		if n.IsDir() {
			paths[p] = "<dir>"
			return nil
		}
		paths[p] = string(n.Contents)
		return nil
	})
	require.NoError(t, err)

	return paths
}

func TestDecode(t *testing.T) {
	tests := map[string]struct {
		archive  func(t *testing.T) []byte
		expPaths map[string]string
		expErr   bool
	}{
		"The wrapper folder should be stripped from every path.": {
			archive: func(t *testing.T) []byte {
				return newZip(t,
					zipEntry{name: "widget-main/"},
					zipEntry{name: "widget-main/package.json", contents: []byte(`{}`)},
					zipEntry{name: "widget-main/src/"},
					zipEntry{name: "widget-main/src/index.js", contents: []byte("console.log(1)")},
				)
			},
			expPaths: map[string]string{
				"package.json": "{}",
				"src":          "<dir>",
				"src/index.js": "console.log(1)",
			},
		},
		"Intermediate directories should be created without directory entries.": {
			archive: func(t *testing.T) []byte {
				return newZip(t,
					zipEntry{name: "x/a/b/c.txt", contents: []byte("c")},
				)
			},
			expPaths: map[string]string{
				"a":         "<dir>",
				"a/b":       "<dir>",
				"a/b/c.txt": "c",
			},
		},
		"Binary contents should be kept as they are.": {
			archive: func(t *testing.T) []byte {
				return newZip(t,
					zipEntry{name: "x/"},
					zipEntry{name: "x/logo.png", contents: []byte{0x89, 0x50, 0x00, 0xff}},
				)
			},
			expPaths: map[string]string{
				"logo.png": string([]byte{0x89, 0x50, 0x00, 0xff}),
			},
		},
		"An archive without entries should fail.": {
			archive: func(t *testing.T) []byte { return newZip(t) },
			expErr:  true,
		},
		"An archive with only the wrapper folder should fail.": {
			archive: func(t *testing.T) []byte { return newZip(t, zipEntry{name: "x/"}) },
			expErr:  true,
		},
		"An archive without wrapper folder should fail.": {
			archive: func(t *testing.T) []byte {
				return newZip(t, zipEntry{name: "package.json", contents: []byte("{}")})
			},
			expErr: true,
		},
		"An archive with entries outside the wrapper should fail.": {
			archive: func(t *testing.T) []byte {
				return newZip(t,
					zipEntry{name: "x/a.txt", contents: []byte("a")},
					zipEntry{name: "y/b.txt", contents: []byte("b")},
				)
			},
			expErr: true,
		},
		"An archive escaping the tree root should fail.": {
			archive: func(t *testing.T) []byte {
				return newZip(t, zipEntry{name: "x/../../etc/passwd", contents: []byte("a")})
			},
			expErr: true,
		},
		"Invalid archive data should fail.": {
			archive: func(t *testing.T) []byte { return []byte("not a zip") },
			expErr:  true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)

			tree, err := archive.Decode(test.archive(t))

			if test.expErr {
				var archiveErr *model.ArchiveError
				assert.ErrorAs(err, &archiveErr)
				return
			}
			if assert.NoError(err) {
				assert.Equal(test.expPaths, treePaths(t, tree))
			}
		})
	}
}

func TestDecodeWithLimit(t *testing.T) {
	tests := map[string]struct {
		entries  []zipEntry
		maxBytes int64
		expErr   bool
	}{
		"Files under the limit should be decoded.": {
			entries: []zipEntry{
				{name: "widget-HEAD/a.txt", contents: bytes.Repeat([]byte("a"), 400)},
				{name: "widget-HEAD/b.txt", contents: bytes.Repeat([]byte("b"), 400)},
			},
			maxBytes: 800,
		},
		"Files over the limit in total should fail.": {
			entries: []zipEntry{
				{name: "widget-HEAD/a.txt", contents: bytes.Repeat([]byte("a"), 600)},
				{name: "widget-HEAD/b.txt", contents: bytes.Repeat([]byte("b"), 600)},
			},
			maxBytes: 1000,
			expErr:   true,
		},
		"A highly compressed file over the limit should fail.": {
			entries: []zipEntry{
				{name: "widget-HEAD/zeros.bin", contents: make([]byte, 4<<20)},
			},
			maxBytes: 1 << 20,
			expErr:   true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			tree, err := archive.DecodeWithLimit(newZip(t, test.entries...), test.maxBytes)

			if test.expErr {
				var archiveErr *model.ArchiveError
				assert.ErrorAs(t, err, &archiveErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, len(test.entries), tree.FileCount())
		})
	}
}

func TestFetcherFetch(t *testing.T) {
	validZip := func(t *testing.T) []byte {
		return newZip(t, zipEntry{name: "widget-HEAD/package.json", contents: []byte("{}")})
	}

	tests := map[string]struct {
		handler      func(t *testing.T) http.HandlerFunc
		maxBytes     int64
		maxTreeBytes int64
		expPaths     map[string]string
		expErr       func(t *testing.T, err error)
	}{
		"The default branch archive should be downloaded and decoded.": {
			handler: func(t *testing.T) http.HandlerFunc {
				data := validZip(t)
				return func(w http.ResponseWriter, r *http.Request) {
					assert.Equal(t, "/acme/widget/archive/HEAD.zip", r.URL.Path)
					_, _ = w.Write(data)
				}
			},
			expPaths: map[string]string{"package.json": "{}"},
		},
		"A not found repository should be a fetch error.": {
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNotFound) }
			},
			expErr: func(t *testing.T, err error) {
				var fetchErr *model.FetchError
				assert.ErrorAs(t, err, &fetchErr)
			},
		},
		"An archive bigger than the limit should be a fetch error.": {
			handler: func(t *testing.T) http.HandlerFunc {
				data := validZip(t)
				return func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(data) }
			},
			maxBytes: 10,
			expErr: func(t *testing.T, err error) {
				var fetchErr *model.FetchError
				assert.ErrorAs(t, err, &fetchErr)
			},
		},
		"An archive bigger than the limit once decompressed should be an archive error.": {
			handler: func(t *testing.T) http.HandlerFunc {
				data := newZip(t, zipEntry{name: "widget-HEAD/bomb.bin", contents: make([]byte, 1<<20)})
				return func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write(data) }
			},
			maxTreeBytes: 64 * 1024,
			expErr: func(t *testing.T, err error) {
				var archiveErr *model.ArchiveError
				assert.ErrorAs(t, err, &archiveErr)
			},
		},
		"An invalid payload should be an archive error.": {
			handler: func(t *testing.T) http.HandlerFunc {
				return func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("<html>")) }
			},
			expErr: func(t *testing.T, err error) {
				var archiveErr *model.ArchiveError
				assert.ErrorAs(t, err, &archiveErr)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			require := require.New(t)

			srv := httptest.NewServer(test.handler(t))
			t.Cleanup(srv.Close)

			f, err := archive.NewFetcher(archive.FetcherConfig{
				Resolver:        archive.HEADLinkResolver{BaseURL: srv.URL},
				MaxArchiveBytes: test.maxBytes,
				MaxTreeBytes:    test.maxTreeBytes,
			})
			require.NoError(err)

			tree, err := f.Fetch(context.Background(), model.RepositoryRef{Owner: "acme", Name: "widget"})

			if test.expErr != nil {
				require.Error(err)
				test.expErr(t, err)
				return
			}
			require.NoError(err)
			assert.Equal(t, test.expPaths, treePaths(t, tree))
		})
	}
}

func TestFetcherUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	f, err := archive.NewFetcher(archive.FetcherConfig{Resolver: archive.HEADLinkResolver{BaseURL: srv.URL}})
	require.NoError(t, err)

	_, err = f.Fetch(context.Background(), model.RepositoryRef{Owner: "acme", Name: "widget"})
	var fetchErr *model.FetchError
	assert.ErrorAs(t, err, &fetchErr)
}

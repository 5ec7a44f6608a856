package build

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"

	"github.com/majorcontext/kprof/internal/ui"
)

func TestMain(m *testing.M) {
	ui.SetWriter(io.Discard)
	os.Exit(m.Run())
}

type entry struct {
	name     string
	body     string
	typeflag byte
	linkname string
	mode     int64
}

func tarball(t *testing.T, entries []entry) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := tar.NewWriter(&buf)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:     e.name,
			Typeflag: e.typeflag,
			Linkname: e.linkname,
			Mode:     e.mode,
			Size:     int64(len(e.body)),
			ModTime:  time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0o644
		}
		if hdr.Typeflag != tar.TypeReg {
			hdr.Size = 0
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if hdr.Typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.body))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	return buf.Bytes()
}

func gzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func xzipped(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw, err := xz.NewWriter(&buf)
	require.NoError(t, err)
	_, err = zw.Write(data)
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

var sourceTree = []entry{
	{name: "hello-1.0/", typeflag: tar.TypeDir, mode: 0o755},
	{name: "hello-1.0/configure", body: "#!/bin/sh\necho configured > configured.txt\n", mode: 0o755},
	{name: "hello-1.0/src/main.c", body: "int main(void) { return 0; }\n"},
	{name: "hello-1.0/src/link.c", typeflag: tar.TypeSymlink, linkname: "main.c"},
	{name: "hello-1.0/src/hard.c", typeflag: tar.TypeLink, linkname: "hello-1.0/src/main.c"},
}

// server serves archives by path and counts requests.
func server(t *testing.T, files map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, ok := files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(data)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func listTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		switch {
		case d.Type()&fs.ModeSymlink != 0:
			target, _ := os.Readlink(p)
			tree[rel] = "-> " + target
		case d.IsDir():
			tree[rel] = "dir"
		default:
			data, _ := os.ReadFile(p)
			tree[rel] = string(data)
		}
		return nil
	})
	require.NoError(t, err)
	return tree
}

func TestExtract_StripsTopLevel(t *testing.T) {
	for name, compress := range map[string]func(*testing.T, []byte) []byte{
		"plain": func(_ *testing.T, b []byte) []byte { return b },
		"gzip":  gzipped,
		"xz":    xzipped,
	} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "hello.tar")
			require.NoError(t, os.WriteFile(archive, compress(t, tarball(t, sourceTree)), 0o644))
			dest := filepath.Join(dir, "out")
			require.NoError(t, os.MkdirAll(dest, 0o755))

			require.NoError(t, extract(archive, dest))

			data, err := os.ReadFile(filepath.Join(dest, "src", "main.c"))
			require.NoError(t, err)
			assert.Equal(t, "int main(void) { return 0; }\n", string(data))

			target, err := os.Readlink(filepath.Join(dest, "src", "link.c"))
			require.NoError(t, err)
			assert.Equal(t, "main.c", target)

			hard, err := os.ReadFile(filepath.Join(dest, "src", "hard.c"))
			require.NoError(t, err)
			assert.Equal(t, string(data), string(hard))

			info, err := os.Stat(filepath.Join(dest, "configure"))
			require.NoError(t, err)
			assert.NotZero(t, info.Mode()&0o100, "configure keeps its exec bit")
			assert.Equal(t, 2024, info.ModTime().Year())

			_, err = os.Stat(filepath.Join(dest, "hello-1.0"))
			assert.True(t, os.IsNotExist(err), "top-level directory is stripped")
		})
	}
}

func TestExtract_Bzip2(t *testing.T) {
	if _, err := exec.LookPath("bzip2"); err != nil {
		t.Skip("bzip2 not installed")
	}
	dir := t.TempDir()
	plain := filepath.Join(dir, "hello.tar")
	require.NoError(t, os.WriteFile(plain, tarball(t, sourceTree), 0o644))
	require.NoError(t, exec.Command("bzip2", plain).Run())

	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))
	require.NoError(t, extract(plain+".bz2", dest))
	assert.FileExists(t, filepath.Join(dest, "src", "main.c"))
}

func TestExtract_RejectsEscapes(t *testing.T) {
	tests := []struct {
		name    string
		entries []entry
	}{
		{"symlink out", []entry{{name: "p/evil", typeflag: tar.TypeSymlink, linkname: "../../etc"}}},
		{"absolute symlink", []entry{{name: "p/evil", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"}}},
		{"hard link to top level", []entry{{name: "p/evil", typeflag: tar.TypeLink, linkname: "p"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			archive := filepath.Join(dir, "a.tar")
			require.NoError(t, os.WriteFile(archive, tarball(t, tt.entries), 0o644))
			dest := filepath.Join(dir, "out")
			require.NoError(t, os.MkdirAll(dest, 0o755))

			err := extract(archive, dest)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "escapes")
		})
	}
}

func TestExtract_DotDotNamesStayInside(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.tar")
	require.NoError(t, os.WriteFile(archive, tarball(t, []entry{{name: "p/../../x/evil.txt", body: "x"}}), 0o644))
	dest := filepath.Join(dir, "out")
	require.NoError(t, os.MkdirAll(dest, 0o755))

	require.NoError(t, extract(archive, dest))
	assert.FileExists(t, filepath.Join(dest, "evil.txt"))
	assert.NoFileExists(t, filepath.Join(dir, "evil.txt"))
}

func TestExtract_Corrupt(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "a.tar.gz")
	require.NoError(t, os.WriteFile(archive, append([]byte{0x1f, 0x8b}, []byte("garbage")...), 0o644))
	assert.Error(t, extract(archive, dir))

	empty := filepath.Join(dir, "empty.tar")
	require.NoError(t, os.WriteFile(empty, nil, 0o644))
	assert.Error(t, extract(empty, dir))
}

func TestStripFirst(t *testing.T) {
	tests := map[string]string{
		"pkg-1.0/":           "",
		"pkg-1.0":            "",
		"pkg-1.0/a/b.c":      "a/b.c",
		"./pkg-1.0/Makefile": "Makefile",
		"/pkg/abs":           "abs",
		"pkg/../../x":        "",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripFirst(in), in)
	}
}

func TestArchiveName(t *testing.T) {
	assert.Equal(t, "zlib-1.3.1.tar.gz", archiveName("https://zlib.net/fossils/zlib-1.3.1.tar.gz"))
	assert.Equal(t, "lua-5.4.6.tar.gz", archiveName("https://www.lua.org/ftp/lua-5.4.6.tar.gz?mirror=1"))
	assert.Equal(t, "source.archive", archiveName("https://example.com/"))
}

func newTestPipeline(t *testing.T) *Pipeline {
	t.Helper()
	return NewPipeline(t.TempDir(), 10*time.Second)
}

func TestRunAll(t *testing.T) {
	srv := server(t, map[string][]byte{"/hello-1.0.tar.gz": gzipped(t, tarball(t, sourceTree))})
	p := newTestPipeline(t)

	specs := []Spec{
		{Name: "missing", URL: srv.URL + "/nope.tar.gz", Command: "true"},
		{Name: "hello", URL: srv.URL + "/hello-1.0.tar.gz", Command: `./configure && echo "flags=$CFLAGS" && echo oops >&2`},
		{Name: "broken", URL: srv.URL + "/hello-1.0.tar.gz", Command: "echo compiling; exit 2"},
	}
	results := p.RunAll(context.Background(), specs)
	require.Len(t, results, 3)

	// A failed download does not stop later projects.
	missing := results[0]
	require.NotNil(t, missing.Err)
	assert.Equal(t, StageDownload, missing.Err.Stage)
	assert.Contains(t, missing.Err.Error(), "404")
	logData, err := os.ReadFile(missing.LogPath)
	require.NoError(t, err)
	assert.Contains(t, string(logData), "download failed")

	hello := results[1]
	require.True(t, hello.OK(), "hello failed: %v", hello.Err)
	assert.Equal(t, filepath.Join(p.BaseDir, "builds", "hello"), hello.WorkDir)
	assert.FileExists(t, filepath.Join(hello.WorkDir, "configured.txt"))
	assert.NoFileExists(t, filepath.Join(hello.WorkDir, "hello-1.0.tar.gz"), "archive removed after extraction")

	logData, err = os.ReadFile(filepath.Join(p.BaseDir, "logs", "hello_build.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "flags="+ProfileFlags)
	assert.Contains(t, string(logData), "oops", "stderr captured")

	broken := results[2]
	require.NotNil(t, broken.Err)
	assert.Equal(t, StageBuild, broken.Err.Stage)
	var exitErr *exec.ExitError
	assert.True(t, errors.As(broken.Err, &exitErr))
	logData, err = os.ReadFile(broken.LogPath)
	require.NoError(t, err)
	assert.Equal(t, "compiling\n", string(logData))
}

func TestRunAll_ExtractFailure(t *testing.T) {
	srv := server(t, map[string][]byte{"/bad.tar.gz": []byte("not an archive at all")})
	p := newTestPipeline(t)

	results := p.RunAll(context.Background(), []Spec{{Name: "bad", URL: srv.URL + "/bad.tar.gz", Command: "true"}})
	require.NotNil(t, results[0].Err)
	assert.Equal(t, StageExtract, results[0].Err.Stage)
}

func TestRunAll_IdempotentRerun(t *testing.T) {
	srv := server(t, map[string][]byte{"/hello-1.0.tar.gz": gzipped(t, tarball(t, sourceTree))})
	specs := []Spec{{Name: "hello", URL: srv.URL + "/hello-1.0.tar.gz", Command: "./configure"}}

	clean := newTestPipeline(t)
	require.True(t, clean.RunAll(context.Background(), specs)[0].OK())
	want := listTree(t, clean.WorkDir("hello"))

	// Leave stale artifacts from a "previous failed run" behind.
	rerun := newTestPipeline(t)
	stale := rerun.WorkDir("hello")
	require.NoError(t, os.MkdirAll(filepath.Join(stale, "obj"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "obj", "main.o"), []byte("stale"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(stale, "configured.txt"), []byte("stale"), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Dir(rerun.LogPath("hello")), 0o755))
	require.NoError(t, os.WriteFile(rerun.LogPath("hello"), []byte("old log contents\n"), 0o644))

	require.True(t, rerun.RunAll(context.Background(), specs)[0].OK())
	assert.Equal(t, want, listTree(t, stale))

	logData, err := os.ReadFile(rerun.LogPath("hello"))
	require.NoError(t, err)
	assert.NotContains(t, string(logData), "old log contents", "log truncated")
}

func TestRunAll_CancelledSkipsRemaining(t *testing.T) {
	srv := server(t, map[string][]byte{"/hello-1.0.tar.gz": gzipped(t, tarball(t, sourceTree))})
	p := newTestPipeline(t)
	ctx, cancel := context.WithCancel(context.Background())

	specs := []Spec{
		{Name: "slow", URL: srv.URL + "/hello-1.0.tar.gz", Command: "sleep 30"},
		{Name: "after", URL: srv.URL + "/hello-1.0.tar.gz", Command: "true"},
	}
	time.AfterFunc(200*time.Millisecond, cancel)

	start := time.Now()
	results := p.RunAll(ctx, specs)
	assert.Less(t, time.Since(start), 10*time.Second)

	require.NotNil(t, results[0].Err)
	assert.Equal(t, StageBuild, results[0].Err.Stage)
	require.NotNil(t, results[1].Err)
	assert.Equal(t, StageSkipped, results[1].Err.Stage)
	assert.NoDirExists(t, p.WorkDir("after"))
}

func TestPrograms(t *testing.T) {
	seen := map[string]bool{}
	var names []string
	for _, s := range Programs {
		assert.False(t, seen[s.Name], "duplicate project %s", s.Name)
		seen[s.Name] = true
		names = append(names, s.Name)
		assert.True(t, strings.HasPrefix(s.URL, "https://"), s.URL)
		assert.NotEmpty(t, s.Command)
	}
	assert.Equal(t, "zlib", names[0])
}

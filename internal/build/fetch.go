package build

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"

	"github.com/majorcontext/kprof/internal/ui"
)

// archiveName returns the file name to save rawURL under.
func archiveName(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "/" && base != "." {
			return base
		}
	}
	return "source.archive"
}

// download saves rawURL into dir and returns the file path. A non-2xx
// response is an error.
func download(ctx context.Context, client *http.Client, rawURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}

	dest := filepath.Join(dir, archiveName(rawURL))
	out, err := os.Create(dest)
	if err != nil {
		return "", err
	}

	progress := ui.NewProgress(filepath.Base(dest), resp.ContentLength)
	_, err = io.Copy(out, io.TeeReader(resp.Body, progress))
	progress.Finish()
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("saving %s: %w", filepath.Base(dest), err)
	}
	if resp.ContentLength > 0 && progress.Written() != resp.ContentLength {
		return "", fmt.Errorf("saving %s: short transfer (%d of %d bytes)", filepath.Base(dest), progress.Written(), resp.ContentLength)
	}
	return dest, nil
}

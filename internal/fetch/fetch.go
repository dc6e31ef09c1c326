// Package fetch downloads remote artifacts (apt signing keys, plugin .deb
// packages, the smb.conf template) over HTTPS with optional SHA-256
// verification. There is no retry logic: a failed fetch fails the step.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"
)

// Client downloads files. The zero value is not usable; use New.
type Client struct {
	http *http.Client
	// Progress draws a download bar when stdout is a terminal.
	Progress bool
}

func New() *Client {
	return &Client{
		http:     &http.Client{Timeout: 5 * time.Minute},
		Progress: term.IsTerminal(int(os.Stdout.Fd())),
	}
}

// Download fetches url into dest (written atomically via a .part file).
// When wantSHA256 is non-empty the digest of the body must match or the
// partial file is removed and an error returned.
func (c *Client) Download(ctx context.Context, url, dest, wantSHA256 string, mode os.FileMode) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("mkdir for %s: %w", dest, err)
	}
	part := dest + ".part"
	f, err := os.OpenFile(part, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, mode)
	if err != nil {
		return fmt.Errorf("open %s: %w", part, err)
	}

	hash := sha256.New()
	var w io.Writer = io.MultiWriter(f, hash)
	if c.Progress {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(dest))
		w = io.MultiWriter(f, hash, bar)
	}

	_, copyErr := io.Copy(w, resp.Body)
	closeErr := f.Close()
	if copyErr != nil {
		_ = os.Remove(part)
		return fmt.Errorf("download %s: %w", url, copyErr)
	}
	if closeErr != nil {
		_ = os.Remove(part)
		return fmt.Errorf("close %s: %w", part, closeErr)
	}

	if wantSHA256 != "" {
		got := hex.EncodeToString(hash.Sum(nil))
		if !strings.EqualFold(got, wantSHA256) {
			_ = os.Remove(part)
			return fmt.Errorf("checksum mismatch for %s: got %s, want %s", url, got, wantSHA256)
		}
	}

	if err := os.Rename(part, dest); err != nil {
		_ = os.Remove(part)
		return fmt.Errorf("rename %s: %w", part, err)
	}
	return nil
}

// maxFetchSize bounds in-memory fetches; anything bigger than this is not
// a config template.
const maxFetchSize = 1 << 20

// Fetch returns the body of url in memory, for small artifacts like the
// smb.conf template. Bodies over maxFetchSize are rejected.
func (c *Client) Fetch(ctx context.Context, url, wantSHA256 string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", url, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: unexpected status %s", url, resp.Status)
	}
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchSize+1))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", url, err)
	}
	if len(b) > maxFetchSize {
		return nil, fmt.Errorf("fetch %s: body exceeds %d bytes", url, maxFetchSize)
	}
	if wantSHA256 != "" {
		got := sha256.Sum256(b)
		if !strings.EqualFold(hex.EncodeToString(got[:]), wantSHA256) {
			return nil, fmt.Errorf("checksum mismatch for %s", url)
		}
	}
	return b, nil
}

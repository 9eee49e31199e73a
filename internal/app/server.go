package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"romdl/internal/config"
	"romdl/internal/romdl"
)

// ErrUnauthorized is returned when the server rejects the session token.
var ErrUnauthorized = errors.New("server rejected the session token")

// RomMClient talks to a RomM server. It resolves catalog entries to
// descriptors and implements romdl.Resolver.
type RomMClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRomMClient creates a client for the configured server. A nil client
// uses one with a 30s timeout.
func NewRomMClient(cfg config.ServerConfig, client *http.Client) (*RomMClient, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, fmt.Errorf("no server url configured")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid server url: %w", err)
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &RomMClient{baseURL: base, token: cfg.SessionToken, client: client}, nil
}

type romFile struct {
	FileName string `json:"file_name"`
	MD5Hash  string `json:"md5_hash"`
}

type rom struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	PlatformSlug string    `json:"platform_slug"`
	PlatformName string    `json:"platform_name"`
	FsName       string    `json:"fs_name"`
	FsSizeBytes  int64     `json:"fs_size_bytes"`
	Files        []romFile `json:"files"`
}

type romPage struct {
	Items []rom `json:"items"`
}

// descriptor maps a catalog entry to a Descriptor. The checksum is only
// kept for single-file entries; multi-file entries are served as a zip
// whose hash is unknown.
func (r rom) descriptor() romdl.Descriptor {
	d := romdl.Descriptor{
		RomID:        r.ID,
		FileName:     r.FsName,
		DisplayName:  r.Name,
		PlatformSlug: r.PlatformSlug,
		Size:         r.FsSizeBytes,
	}
	if len(r.Files) == 1 {
		d.MD5 = r.Files[0].MD5Hash
	}
	return d
}

// Rom fetches one catalog entry.
func (c *RomMClient) Rom(ctx context.Context, id int64) (romdl.Descriptor, error) {
	var r rom
	if err := c.get(ctx, "/api/roms/"+strconv.FormatInt(id, 10), nil, &r); err != nil {
		return romdl.Descriptor{}, fmt.Errorf("fetching rom %d: %w", id, err)
	}
	return r.descriptor(), nil
}

// Search returns catalog entries whose name matches term.
func (c *RomMClient) Search(ctx context.Context, term string) ([]romdl.Descriptor, error) {
	var page romPage
	if err := c.get(ctx, "/api/roms", url.Values{"search_term": {term}}, &page); err != nil {
		return nil, fmt.Errorf("searching roms: %w", err)
	}
	descs := make([]romdl.Descriptor, 0, len(page.Items))
	for _, r := range page.Items {
		descs = append(descs, r.descriptor())
	}
	return descs, nil
}

// DownloadURL returns the content URL for desc.
func (c *RomMClient) DownloadURL(_ context.Context, desc romdl.Descriptor) (string, error) {
	if desc.FileName == "" {
		return "", fmt.Errorf("rom %d has no file name", desc.RomID)
	}
	return fmt.Sprintf("%s/api/roms/%d/content/%s", c.baseURL, desc.RomID, url.PathEscape(desc.FileName)), nil
}

// Headers returns the session cookie, if a token is configured.
func (c *RomMClient) Headers() map[string]string {
	if c.token == "" {
		return nil
	}
	return map[string]string{"Cookie": "romm_session=" + c.token}
}

func (c *RomMClient) get(ctx context.Context, path string, query url.Values, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range c.Headers() {
		req.Header.Set(k, v)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return romdl.ErrNotFound
	case resp.StatusCode != http.StatusOK:
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

var _ romdl.Resolver = (*RomMClient)(nil)

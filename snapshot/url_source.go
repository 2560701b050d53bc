package snapshot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const (
	urlSourceName        = "url"
	maxDownloadBodyBytes = 32 << 20
)

type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// URLSource restores from explicitly configured table URLs. Tables without a
// URL load as empty.
type URLSource struct {
	urls   map[string]string
	client HTTPDoer
}

type URLSourceConfig struct {
	AdministratorsURL string
	ServersURL        string
	BindingsURL       string
	Client            HTTPDoer
}

func NewURLSource(cfg URLSourceConfig) *URLSource {
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultRemoteTimeout}
	}
	urls := map[string]string{}
	for file, raw := range map[string]string{
		AdministratorsFile: cfg.AdministratorsURL,
		ServersFile:        cfg.ServersURL,
		BindingsFile:       cfg.BindingsURL,
	} {
		if trimmed := strings.TrimSpace(raw); trimmed != "" {
			urls[file] = trimmed
		}
	}
	return &URLSource{urls: urls, client: client}
}

func (s *URLSource) Name() string {
	return urlSourceName
}

func (s *URLSource) Configured() bool {
	return s != nil && len(s.urls) > 0
}

// List reports a single pseudo snapshot when any URL is configured.
func (s *URLSource) List(context.Context) ([]string, error) {
	if !s.Configured() {
		return nil, nil
	}
	return []string{urlSourceName}, nil
}

func (s *URLSource) Fetch(ctx context.Context, name string) (Bundle, error) {
	if !s.Configured() {
		return Bundle{}, fmt.Errorf("snapshot: url source: %w", ErrNoSnapshot)
	}
	if strings.TrimSpace(name) == "" {
		name = urlSourceName
	}
	bundle := Bundle{Name: name, Files: map[string][]byte{}}
	for _, file := range Files() {
		target, ok := s.urls[file]
		if !ok {
			continue
		}
		data, err := s.download(ctx, target)
		if err != nil {
			return Bundle{}, fmt.Errorf("snapshot: download %s: %w", file, err)
		}
		bundle.Files[file] = data
	}
	return bundle, nil
}

func (s *URLSource) download(ctx context.Context, target string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxDownloadBodyBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxDownloadBodyBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxDownloadBodyBytes)
	}
	return data, nil
}

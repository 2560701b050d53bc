package snapshot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/google/go-github/v68/github"
	"golang.org/x/oauth2"
)

const (
	defaultGitHubRef       = "main"
	defaultGitHubDirectory = "data"
	githubListPageSize     = 100
)

type GitHubConfig struct {
	Token string
	// Repository is owner/name.
	Repository string
	Ref        string
	Directory  string
	// BaseURL overrides the API root, for GitHub Enterprise or tests.
	BaseURL    string
	HTTPClient *http.Client
}

// GitHubRemote publishes snapshots through the contents API under
// <directory>/<backup-name>/ and restores them from there.
type GitHubRemote struct {
	client    *github.Client
	owner     string
	repo      string
	ref       string
	directory string
}

func NewGitHubRemote(ctx context.Context, cfg GitHubConfig) (*GitHubRemote, error) {
	owner, repo, ok := strings.Cut(strings.Trim(strings.TrimSpace(cfg.Repository), "/"), "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return nil, fmt.Errorf("snapshot: github repository must be owner/name, got %q", cfg.Repository)
	}
	if ctx == nil {
		ctx = context.Background()
	}

	httpClient := cfg.HTTPClient
	if token := strings.TrimSpace(cfg.Token); token != "" {
		if httpClient != nil {
			ctx = context.WithValue(ctx, oauth2.HTTPClient, httpClient)
		}
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRemoteTimeout}
	} else if httpClient.Timeout == 0 {
		bounded := *httpClient
		bounded.Timeout = defaultRemoteTimeout
		httpClient = &bounded
	}
	client := github.NewClient(httpClient)
	if baseURL := strings.TrimSpace(cfg.BaseURL); baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		parsed, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("snapshot: invalid github base url: %w", err)
		}
		client.BaseURL = parsed
	}

	ref := strings.TrimSpace(cfg.Ref)
	if ref == "" {
		ref = defaultGitHubRef
	}
	directory := strings.Trim(strings.TrimSpace(cfg.Directory), "/")
	if directory == "" {
		directory = defaultGitHubDirectory
	}
	return &GitHubRemote{
		client:    client,
		owner:     owner,
		repo:      repo,
		ref:       ref,
		directory: directory,
	}, nil
}

func (r *GitHubRemote) Name() string {
	return "github"
}

// Publish creates one commit per file on the configured ref.
func (r *GitHubRemote) Publish(ctx context.Context, bundle Bundle) (string, error) {
	if err := validateBackupName(bundle.Name); err != nil {
		return "", err
	}
	for _, file := range Files() {
		data, ok := bundle.file(file)
		if !ok {
			continue
		}
		filePath := path.Join(r.directory, bundle.Name, file)
		_, _, err := r.client.Repositories.CreateFile(ctx, r.owner, r.repo, filePath, &github.RepositoryContentFileOptions{
			Message: github.Ptr(fmt.Sprintf("Relay snapshot %s: %s", bundle.Name, file)),
			Content: data,
			Branch:  github.Ptr(r.ref),
		})
		if err != nil {
			return "", fmt.Errorf("snapshot: upload %s: %w", filePath, err)
		}
	}
	return r.location(bundle.Name), nil
}

// List walks the snapshot directory 100 entries per page.
func (r *GitHubRemote) List(ctx context.Context) ([]string, error) {
	names := []string{}
	page := 1
	for {
		query := url.Values{}
		query.Set("ref", r.ref)
		query.Set("per_page", strconv.Itoa(githubListPageSize))
		query.Set("page", strconv.Itoa(page))
		endpoint := fmt.Sprintf("repos/%s/%s/contents/%s?%s",
			url.PathEscape(r.owner), url.PathEscape(r.repo), r.directory, query.Encode())

		req, err := r.client.NewRequest(http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, err
		}
		var entries []*github.RepositoryContent
		resp, err := r.client.Do(ctx, req, &entries)
		if err != nil {
			if isGitHubNotFound(resp, err) {
				return names, nil
			}
			return nil, fmt.Errorf("snapshot: list %s: %w", r.directory, err)
		}
		for _, entry := range entries {
			if entry.GetType() == "dir" && isBackupName(entry.GetName()) {
				names = append(names, entry.GetName())
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		page = resp.NextPage
	}
	SortNewestFirst(names)
	return names, nil
}

// Fetch downloads every known snapshot file. Missing files load as empty
// tables; a snapshot with no files at all reports ErrNoSnapshot.
func (r *GitHubRemote) Fetch(ctx context.Context, name string) (Bundle, error) {
	if err := validateBackupName(name); err != nil {
		return Bundle{}, err
	}
	bundle := Bundle{Name: name, Files: map[string][]byte{}}
	for _, file := range Files() {
		filePath := path.Join(r.directory, name, file)
		content, _, resp, err := r.client.Repositories.GetContents(ctx, r.owner, r.repo, filePath, &github.RepositoryContentGetOptions{
			Ref: r.ref,
		})
		if err != nil {
			if isGitHubNotFound(resp, err) {
				continue
			}
			return Bundle{}, fmt.Errorf("snapshot: download %s: %w", filePath, err)
		}
		if content == nil {
			return Bundle{}, fmt.Errorf("snapshot: %s is not a file", filePath)
		}
		decoded, err := content.GetContent()
		if err != nil {
			return Bundle{}, fmt.Errorf("snapshot: decode %s: %w", filePath, err)
		}
		bundle.Files[file] = []byte(decoded)
	}
	if len(bundle.Files) == 0 {
		return Bundle{}, fmt.Errorf("snapshot: %s: %w", r.location(name), ErrNoSnapshot)
	}
	return bundle, nil
}

func (r *GitHubRemote) location(name string) string {
	return fmt.Sprintf("github:%s/%s/%s", r.owner, r.repo, path.Join(r.directory, name))
}

func isGitHubNotFound(resp *github.Response, err error) bool {
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return true
	}
	var ghErr *github.ErrorResponse
	return errors.As(err, &ghErr) && ghErr.Response != nil && ghErr.Response.StatusCode == http.StatusNotFound
}

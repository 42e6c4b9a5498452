package versioncheck

import (
	"context"
	"fmt"
	"net/http"

	gogithub "github.com/google/go-github/v69/github"
)

// Source returns the tag of the latest published release.
type Source interface {
	LatestTag(ctx context.Context) (string, error)
}

// GitHubSource reads the latest release of a GitHub repository.
type GitHubSource struct {
	client *gogithub.Client
	owner  string
	repo   string
}

// NewGitHubSource creates a source for owner/repo.
//
// token may be empty for anonymous access. A non-empty baseURL points the
// client at a GitHub Enterprise style endpoint (used by tests).
func NewGitHubSource(httpClient *http.Client, owner, repo, token, baseURL string) (*GitHubSource, error) {
	if owner == "" || repo == "" {
		return nil, fmt.Errorf("versioncheck: repository %q/%q incomplete", owner, repo)
	}

	client := gogithub.NewClient(httpClient)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	if baseURL != "" {
		var err error
		client, err = client.WithEnterpriseURLs(baseURL, baseURL)
		if err != nil {
			return nil, fmt.Errorf("versioncheck: base url: %w", err)
		}
	}

	return &GitHubSource{client: client, owner: owner, repo: repo}, nil
}

// Repository returns "owner/repo".
func (s *GitHubSource) Repository() string {
	return s.owner + "/" + s.repo
}

// LatestTag returns the tag name of the latest non-draft, non-prerelease release.
func (s *GitHubSource) LatestTag(ctx context.Context) (string, error) {
	release, _, err := s.client.Repositories.GetLatestRelease(ctx, s.owner, s.repo)
	if err != nil {
		return "", fmt.Errorf("versioncheck: latest release of %s: %w", s.Repository(), err)
	}
	return release.GetTagName(), nil
}

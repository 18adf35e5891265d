package archive

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogh "github.com/google/go-github/v68/github"

	"github.com/slok/repoready/internal/model"
)

const defaultDownloadBase = "https://github.com"

// LinkResolver knows how to get the download URL of a repository default branch archive.
type LinkResolver interface {
	ArchiveURL(ctx context.Context, ref model.RepositoryRef) (string, error)
}

// HEADLinkResolver uses the `HEAD` alias of the repository, it always points to the
// default branch so there is no need to know the branch name.
type HEADLinkResolver struct {
	// BaseURL is the repository host base URL, by default GitHub.
	BaseURL string
}

func (r HEADLinkResolver) ArchiveURL(_ context.Context, ref model.RepositoryRef) (string, error) {
	base := r.BaseURL
	if base == "" {
		base = defaultDownloadBase
	}
	base = strings.TrimSuffix(base, "/")

	return fmt.Sprintf("%s/%s/%s/archive/HEAD.zip", base, url.PathEscape(ref.Owner), url.PathEscape(ref.Name)), nil
}

// GitHubAPILinkResolverConfig is the configuration of the GitHub API link resolver.
type GitHubAPILinkResolverConfig struct {
	// Token is optional, authenticated requests have higher rate limits and can access private repositories.
	Token string
	// APIBaseURL overrides the GitHub API URL.
	APIBaseURL string
	HTTPClient *http.Client
}

func (c *GitHubAPILinkResolverConfig) defaults() error {
	if c.APIBaseURL != "" && !strings.HasSuffix(c.APIBaseURL, "/") {
		c.APIBaseURL += "/"
	}
	return nil
}

// GitHubAPILinkResolver resolves the default branch zipball link using the GitHub REST API.
type GitHubAPILinkResolver struct {
	gh *gogh.Client
}

// NewGitHubAPILinkResolver returns a new GitHubAPILinkResolver.
func NewGitHubAPILinkResolver(cfg GitHubAPILinkResolverConfig) (*GitHubAPILinkResolver, error) {
	if err := cfg.defaults(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	gh := gogh.NewClient(cfg.HTTPClient)
	if cfg.Token != "" {
		gh = gh.WithAuthToken(cfg.Token)
	}
	if cfg.APIBaseURL != "" {
		u, err := url.Parse(cfg.APIBaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		gh.BaseURL = u
	}

	return &GitHubAPILinkResolver{gh: gh}, nil
}

func (r *GitHubAPILinkResolver) ArchiveURL(ctx context.Context, ref model.RepositoryRef) (string, error) {
	// An empty ref resolves to the default branch.
	u, _, err := r.gh.Repositories.GetArchiveLink(ctx, ref.Owner, ref.Name, gogh.Zipball, &gogh.RepositoryContentGetOptions{}, 3)
	if err != nil {
		return "", fmt.Errorf("could not get %s archive link: %w", ref, err)
	}

	return u.String(), nil
}

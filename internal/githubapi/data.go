package githubapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/go-github/v75/github"

	"github.com/Ad1tya-007/prodlines/internal/apperror"
)

// Repository is the repository metadata the aggregator needs.
type Repository struct {
	Owner         string
	Name          string
	FullName      string
	DefaultBranch string
	Private       bool
}

// Contributor is one entry from the repository contributor list.
type Contributor struct {
	Login     string
	AvatarURL string
	Commits   int
}

// Commit is one commit summary from the branch commit list.
type Commit struct {
	SHA         string
	AuthorLogin string
	AuthorName  string
	CommittedAt time.Time
}

// CommitFile is one touched file inside a commit detail.
type CommitFile struct {
	Path      string
	Additions int
	Deletions int
}

// CommitDetail carries per-commit diff statistics.
type CommitDetail struct {
	SHA         string
	AuthorLogin string
	Additions   int
	Deletions   int
	Files       []CommitFile
}

// PullRequest is one merged change-request summary.
type PullRequest struct {
	Number      int
	Title       string
	AuthorLogin string
	MergedAt    time.Time
}

// DataClient is the typed hosting-API surface the aggregator consumes.
type DataClient interface {
	GetRepository(ctx context.Context, owner, repo string) (Repository, error)
	GetBranch(ctx context.Context, owner, repo, branch string) error
	ListContributors(ctx context.Context, owner, repo string, perPage int) ([]Contributor, error)
	ListCommits(ctx context.Context, owner, repo, branch string, perPage int) ([]Commit, error)
	GetCommitDetail(ctx context.Context, owner, repo, sha string) (CommitDetail, error)
	ListMergedPullRequests(ctx context.Context, owner, repo, baseBranch string, perPage int) ([]PullRequest, error)
}

// Client implements DataClient over the go-github REST client.
type Client struct {
	rest *github.Client
}

// NewClient wraps a go-github REST client.
func NewClient(rest *github.Client) *Client {
	return &Client{rest: rest}
}

// GetRepository fetches repository metadata. A 401 here is fatal to the
// whole aggregation; it must not be retried with the same credential.
func (c *Client) GetRepository(ctx context.Context, owner, repo string) (Repository, error) {
	repository, resp, err := c.rest.Repositories.Get(ctx, owner, repo)
	if err != nil {
		return Repository{}, classifyError(fmt.Sprintf("repository %s/%s", owner, repo), resp, err)
	}
	return Repository{
		Owner:         owner,
		Name:          repo,
		FullName:      repository.GetFullName(),
		DefaultBranch: repository.GetDefaultBranch(),
		Private:       repository.GetPrivate(),
	}, nil
}

// GetBranch confirms the branch exists.
func (c *Client) GetBranch(ctx context.Context, owner, repo, branch string) error {
	_, resp, err := c.rest.Repositories.GetBranch(ctx, owner, repo, branch, 0)
	if err != nil {
		return classifyError(fmt.Sprintf("branch %s on %s/%s", branch, owner, repo), resp, err)
	}
	return nil
}

// ListContributors fetches the first page of repository contributors.
func (c *Client) ListContributors(ctx context.Context, owner, repo string, perPage int) ([]Contributor, error) {
	options := &github.ListContributorsOptions{
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	contributors, resp, err := c.rest.Repositories.ListContributors(ctx, owner, repo, options)
	if err != nil {
		return nil, classifyError(fmt.Sprintf("contributors of %s/%s", owner, repo), resp, err)
	}

	result := make([]Contributor, 0, len(contributors))
	for _, contributor := range contributors {
		result = append(result, Contributor{
			Login:     contributor.GetLogin(),
			AvatarURL: contributor.GetAvatarURL(),
			Commits:   contributor.GetContributions(),
		})
	}
	return result, nil
}

// ListCommits fetches the most recent commits on a branch, newest first.
func (c *Client) ListCommits(ctx context.Context, owner, repo, branch string, perPage int) ([]Commit, error) {
	options := &github.CommitsListOptions{
		SHA:         branch,
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	commits, resp, err := c.rest.Repositories.ListCommits(ctx, owner, repo, options)
	if err != nil {
		return nil, classifyError(fmt.Sprintf("commits of %s/%s@%s", owner, repo, branch), resp, err)
	}

	result := make([]Commit, 0, len(commits))
	for _, commit := range commits {
		entry := Commit{
			SHA:         commit.GetSHA(),
			AuthorLogin: commit.GetAuthor().GetLogin(),
		}
		if inner := commit.GetCommit(); inner != nil {
			entry.AuthorName = inner.GetAuthor().GetName()
			entry.CommittedAt = inner.GetAuthor().GetDate().Time
		}
		result = append(result, entry)
	}
	return result, nil
}

// GetCommitDetail fetches one commit's diff statistics and touched files.
func (c *Client) GetCommitDetail(ctx context.Context, owner, repo, sha string) (CommitDetail, error) {
	commit, resp, err := c.rest.Repositories.GetCommit(ctx, owner, repo, sha, nil)
	if err != nil {
		return CommitDetail{}, classifyError(fmt.Sprintf("commit %s of %s/%s", sha, owner, repo), resp, err)
	}

	detail := CommitDetail{
		SHA:         commit.GetSHA(),
		AuthorLogin: commit.GetAuthor().GetLogin(),
	}
	if stats := commit.GetStats(); stats != nil {
		detail.Additions = stats.GetAdditions()
		detail.Deletions = stats.GetDeletions()
	}
	for _, file := range commit.Files {
		detail.Files = append(detail.Files, CommitFile{
			Path:      file.GetFilename(),
			Additions: file.GetAdditions(),
			Deletions: file.GetDeletions(),
		})
	}
	return detail, nil
}

// ListMergedPullRequests fetches recently updated closed pull requests
// targeting the base branch and keeps the merged ones.
func (c *Client) ListMergedPullRequests(ctx context.Context, owner, repo, baseBranch string, perPage int) ([]PullRequest, error) {
	options := &github.PullRequestListOptions{
		State:       "closed",
		Base:        baseBranch,
		Sort:        "updated",
		Direction:   "desc",
		ListOptions: github.ListOptions{PerPage: perPage},
	}
	pulls, resp, err := c.rest.PullRequests.List(ctx, owner, repo, options)
	if err != nil {
		return nil, classifyError(fmt.Sprintf("pull requests of %s/%s", owner, repo), resp, err)
	}

	result := make([]PullRequest, 0, len(pulls))
	for _, pull := range pulls {
		if pull.MergedAt == nil {
			continue
		}
		result = append(result, PullRequest{
			Number:      pull.GetNumber(),
			Title:       pull.GetTitle(),
			AuthorLogin: pull.GetUser().GetLogin(),
			MergedAt:    pull.GetMergedAt().Time,
		})
	}
	return result, nil
}

func classifyError(resource string, resp *github.Response, err error) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return apperror.Upstream("rate limited fetching "+resource, err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return apperror.Upstream("secondary rate limited fetching "+resource, err)
	}

	statusCode := 0
	if resp != nil && resp.Response != nil {
		statusCode = resp.StatusCode
	}
	switch statusCode {
	case http.StatusUnauthorized:
		return apperror.Unauthorized("credential rejected fetching " + resource)
	case http.StatusForbidden:
		return apperror.Forbidden("access denied fetching " + resource)
	case http.StatusNotFound:
		return apperror.NotFound(resource)
	default:
		return apperror.Upstream("fetch "+resource, err)
	}
}

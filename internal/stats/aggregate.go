// Package stats computes per-contributor production-line-ownership metrics
// from hosting-API data. The aggregator is a pure function of its inputs
// plus network state; it never persists anything.
package stats

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Ad1tya-007/prodlines/internal/githubapi"
	"github.com/Ad1tya-007/prodlines/internal/store"
)

const (
	// maxRecentMergedChanges caps the merged change-request titles kept
	// per contributor.
	maxRecentMergedChanges = 3
	// maxTopFiles caps the touched-file paths kept per contributor.
	maxTopFiles = 5
	// excludedLinesPercent approximates the share of total production
	// lines that live under excluded (vendored/build-output) paths.
	excludedLinesPercent = 15
	// trendDeadZone is the percent-share delta below which movement is
	// reported as neutral.
	trendDeadZone = 0.5
)

// Config bounds the aggregation fetches.
type Config struct {
	CommitPageSize   int
	PullPageSize     int
	MaxCommitDetails int
	TopContributors  int
	// Now is injected for deterministic tests.
	Now func() time.Time
}

// Aggregator computes ownership snapshots for one repository branch.
type Aggregator struct {
	cfg    Config
	logger *zap.Logger
}

// NewAggregator creates an aggregator.
func NewAggregator(cfg Config, logger *zap.Logger) *Aggregator {
	if cfg.CommitPageSize <= 0 {
		cfg.CommitPageSize = 100
	}
	if cfg.PullPageSize <= 0 {
		cfg.PullPageSize = 50
	}
	if cfg.MaxCommitDetails <= 0 {
		cfg.MaxCommitDetails = 100
	}
	if cfg.TopContributors <= 0 {
		cfg.TopContributors = 12
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{cfg: cfg, logger: logger}
}

type authorAccumulator struct {
	identity      string
	avatarURL     string
	commits       int
	linesAdded    int
	linesRemoved  int
	fileAdditions map[string]int
	mergedTitles  []string
}

// Aggregate fetches repository activity and computes an ownership snapshot.
// The repository and branch existence checks are load-bearing; contributor,
// commit, and pull-request fetch failures degrade to empty result sets.
// prev, when non-nil, is the previous snapshot for the same tuple and
// drives the deterministic trend computation.
func (a *Aggregator) Aggregate(
	ctx context.Context,
	client githubapi.DataClient,
	owner string,
	repo string,
	branch string,
	prev *store.StatsSnapshot,
) (*store.StatsSnapshot, error) {
	repository, err := client.GetRepository(ctx, owner, repo)
	if err != nil {
		return nil, fmt.Errorf("aggregate %s/%s: %w", owner, repo, err)
	}
	if branch == "" {
		branch = repository.DefaultBranch
	}
	if err := client.GetBranch(ctx, owner, repo, branch); err != nil {
		return nil, fmt.Errorf("aggregate %s/%s@%s: %w", owner, repo, branch, err)
	}

	var contributors []githubapi.Contributor
	var commits []githubapi.Commit
	var pulls []githubapi.PullRequest

	// The three list fetches are independent. Each degrades to an empty
	// result set on failure instead of aborting the aggregation.
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		listed, listErr := client.ListContributors(groupCtx, owner, repo, a.cfg.CommitPageSize)
		if listErr != nil {
			a.logger.Warn("contributor list fetch degraded to empty",
				zap.String("repo", owner+"/"+repo), zap.Error(listErr))
			return nil
		}
		contributors = listed
		return nil
	})
	group.Go(func() error {
		listed, listErr := client.ListCommits(groupCtx, owner, repo, branch, a.cfg.CommitPageSize)
		if listErr != nil {
			a.logger.Warn("commit list fetch degraded to empty",
				zap.String("repo", owner+"/"+repo), zap.Error(listErr))
			return nil
		}
		commits = listed
		return nil
	})
	group.Go(func() error {
		listed, listErr := client.ListMergedPullRequests(groupCtx, owner, repo, branch, a.cfg.PullPageSize)
		if listErr != nil {
			a.logger.Warn("pull request fetch degraded to empty",
				zap.String("repo", owner+"/"+repo), zap.Error(listErr))
			return nil
		}
		pulls = listed
		return nil
	})
	_ = group.Wait()

	avatarsByLogin := make(map[string]string, len(contributors))
	for _, contributor := range contributors {
		avatarsByLogin[contributor.Login] = contributor.AvatarURL
	}

	accumulators := make(map[string]*authorAccumulator)
	accumulatorFor := func(identity string) *authorAccumulator {
		accumulator, ok := accumulators[identity]
		if !ok {
			accumulator = &authorAccumulator{
				identity:      identity,
				avatarURL:     avatarsByLogin[identity],
				fileAdditions: make(map[string]int),
			}
			accumulators[identity] = accumulator
		}
		return accumulator
	}

	detailCalls := 0
	for _, commit := range commits {
		identity := commit.AuthorLogin
		if identity == "" {
			identity = commit.AuthorName
		}
		if identity == "" || IsBotIdentity(identity) {
			continue
		}
		if detailCalls >= a.cfg.MaxCommitDetails {
			break
		}
		detailCalls++

		detail, detailErr := client.GetCommitDetail(ctx, owner, repo, commit.SHA)
		if detailErr != nil {
			a.logger.Debug("commit detail fetch skipped",
				zap.String("sha", commit.SHA), zap.Error(detailErr))
			continue
		}

		accumulator := accumulatorFor(identity)
		accumulator.commits++
		accumulator.linesAdded += detail.Additions
		accumulator.linesRemoved += detail.Deletions
		for _, file := range detail.Files {
			if isExcludedPath(file.Path) {
				continue
			}
			accumulator.fileAdditions[file.Path] += file.Additions
		}
	}

	for _, pull := range pulls {
		if pull.AuthorLogin == "" || IsBotIdentity(pull.AuthorLogin) {
			continue
		}
		accumulator, ok := accumulators[pull.AuthorLogin]
		if !ok {
			continue
		}
		if len(accumulator.mergedTitles) < maxRecentMergedChanges {
			accumulator.mergedTitles = append(accumulator.mergedTitles, pull.Title)
		}
	}

	return a.buildSnapshot(accumulators, prev), nil
}

func (a *Aggregator) buildSnapshot(accumulators map[string]*authorAccumulator, prev *store.StatsSnapshot) *store.StatsSnapshot {
	totalLines := 0
	for _, accumulator := range accumulators {
		totalLines += accumulator.linesAdded
	}

	prevShares := make(map[string]float64)
	if prev != nil {
		for _, contributor := range prev.Contributors {
			prevShares[contributor.Username] = contributor.PercentShare
		}
	}

	entries := make([]store.ContributorStat, 0, len(accumulators))
	for _, accumulator := range accumulators {
		share := 0.0
		if totalLines > 0 {
			share = roundToOneDecimal(float64(accumulator.linesAdded) / float64(totalLines) * 100)
		}

		trend, magnitude := classifyTrend(share, prevShares[accumulator.identity], prev != nil)
		entries = append(entries, store.ContributorStat{
			Username:             accumulator.identity,
			AvatarURL:            accumulator.avatarURL,
			ProductionLinesOwned: accumulator.linesAdded,
			PercentShare:         share,
			Trend:                trend,
			TrendMagnitude:       magnitude,
			TopFiles:             topFiles(accumulator.fileAdditions),
			RecentMergedChanges:  accumulator.mergedTitles,
		})
	}

	// Rank by owned lines descending; ties break by username ascending
	// so identical input data always yields identical snapshots.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ProductionLinesOwned != entries[j].ProductionLinesOwned {
			return entries[i].ProductionLinesOwned > entries[j].ProductionLinesOwned
		}
		return entries[i].Username < entries[j].Username
	})

	activeCount := len(entries)
	if len(entries) > a.cfg.TopContributors {
		entries = entries[:a.cfg.TopContributors]
	}

	return &store.StatsSnapshot{
		TotalProductionLines:   totalLines,
		ActiveContributorCount: activeCount,
		ExcludedLines:          totalLines * excludedLinesPercent / 100,
		SyncedAt:               a.cfg.Now().UTC(),
		Contributors:           entries,
	}
}

func classifyTrend(share, prevShare float64, hasPrev bool) (store.Trend, float64) {
	if !hasPrev {
		return store.TrendNeutral, 0
	}
	delta := roundToOneDecimal(share - prevShare)
	if math.Abs(delta) <= trendDeadZone {
		return store.TrendNeutral, 0
	}
	if delta > 0 {
		return store.TrendUp, delta
	}
	return store.TrendDown, -delta
}

func topFiles(fileAdditions map[string]int) []string {
	paths := make([]string, 0, len(fileAdditions))
	for path := range fileAdditions {
		paths = append(paths, path)
	}
	sort.Slice(paths, func(i, j int) bool {
		if fileAdditions[paths[i]] != fileAdditions[paths[j]] {
			return fileAdditions[paths[i]] > fileAdditions[paths[j]]
		}
		return paths[i] < paths[j]
	})
	if len(paths) > maxTopFiles {
		paths = paths[:maxTopFiles]
	}
	return paths
}

func roundToOneDecimal(value float64) float64 {
	return math.Round(value*10) / 10
}

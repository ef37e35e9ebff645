package activity

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/halloran/daybook/internal/datekey"
)

// field and record separators in the git log pretty format
const (
	gitFieldSep  = "\x1f"
	gitRecordSep = "\x1e"
	gitLogFormat = "%H" + gitFieldSep + "%at" + gitFieldSep + "%an" + gitFieldSep + "%ae" + gitFieldSep + "%D" + gitFieldSep + "%s" + gitRecordSep
)

// GitSource reads commit activity from one repository by shelling out to the
// git binary.
type GitSource struct {
	repo string // path to the working copy
}

// NewGitSource creates a source for the repository at repo.
func NewGitSource(repo string) *GitSource {
	return &GitSource{repo: repo}
}

// ID returns the repository path, which identifies this source in buckets.
func (g *GitSource) ID() string { return g.repo }

// Query returns one Record per commit authored in [from, to), across all refs.
func (g *GitSource) Query(ctx context.Context, from, to time.Time) ([]Record, error) {
	out, err := g.run(ctx, "log", "--all",
		"--since="+from.Format(time.RFC3339),
		"--until="+to.Format(time.RFC3339),
		"--pretty=format:"+gitLogFormat)
	if err != nil {
		return nil, err
	}
	remote := g.remoteURL(ctx)
	return parseGitLog(out, g.repo, remote, from, to), nil
}

// Fetch updates the repository from its remotes so subsequent queries see new
// commits. Failures are reported per repository, not fatal to siblings.
func (g *GitSource) Fetch(ctx context.Context) error {
	if _, err := g.run(ctx, "fetch", "--all", "--quiet"); err != nil {
		return err
	}
	return nil
}

func (g *GitSource) run(ctx context.Context, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, "git", append([]string{"-C", g.repo}, args...)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("activity: git %s in %s: %w: %s",
			args[0], g.repo, err, strings.TrimSpace(string(out)))
	}
	return string(out), nil
}

func (g *GitSource) remoteURL(ctx context.Context) string {
	out, err := g.run(ctx, "config", "--get", "remote.origin.url")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(out)
}

// parseGitLog turns the separator-delimited log output into Records. Commits
// outside [from, to) or with unparsable fields are dropped.
func parseGitLog(out, repo, remoteURL string, from, to time.Time) []Record {
	var records []Record
	for _, raw := range strings.Split(out, gitRecordSep) {
		raw = strings.TrimLeft(raw, "\n")
		if raw == "" {
			continue
		}
		fields := strings.Split(raw, gitFieldSep)
		if len(fields) != 6 {
			continue
		}
		unix, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			continue
		}
		ts := time.Unix(unix, 0)
		if ts.Before(from) || !ts.Before(to) {
			continue
		}

		meta := map[string]string{"repo": repo}
		if refs := strings.TrimSpace(fields[4]); refs != "" {
			meta["refs"] = refs
		}
		if url := CommitURL(remoteURL, fields[0]); url != "" {
			meta["url"] = url
		}
		if fields[3] != "" {
			meta["author_email"] = fields[3]
		}

		records = append(records, Record{
			ID:        fields[0],
			SourceID:  repo,
			Kind:      KindCommit,
			DateKey:   datekey.FromTime(ts),
			Timestamp: ts,
			Message:   fields[5],
			Author:    fields[2],
			Meta:      meta,
		})
	}
	return records
}

// CommitURL derives a browseable URL for a commit from the remote URL,
// normalizing ssh-style remotes and the per-host commit path shapes. Returns
// "" when no sensible URL can be built.
func CommitURL(remoteURL, commitID string) string {
	if remoteURL == "" || commitID == "" {
		return ""
	}
	var base string
	switch {
	case strings.HasPrefix(remoteURL, "git@"):
		host, path, ok := strings.Cut(strings.TrimPrefix(remoteURL, "git@"), ":")
		if !ok {
			return ""
		}
		base = "https://" + host + "/" + strings.TrimSuffix(path, ".git")
	case strings.HasPrefix(remoteURL, "https://"), strings.HasPrefix(remoteURL, "http://"):
		base = strings.TrimSuffix(remoteURL, ".git")
	default:
		return ""
	}

	switch {
	case strings.Contains(base, "gitlab.com"), strings.Contains(base, "gitlab."):
		return base + "/-/commit/" + commitID
	case strings.Contains(base, "bitbucket.org"):
		return base + "/commits/" + commitID
	default:
		// GitHub and most self-hosted forges.
		return base + "/commit/" + commitID
	}
}

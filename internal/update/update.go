// Package update checks for newer client releases and fetches the
// maintainer notice.
package update

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const noticeSeparator = "||"

// ErrNoRelease is returned when the release document carries no tag.
var ErrNoRelease = errors.New("release has no tag")

// Checker fetches release and notice documents.
type Checker struct {
	// Client defaults to a client with a 10 second timeout.
	Client     *http.Client
	ReleaseURL string
	NoticeURL  string
	UserAgent  string
}

// Release is the subset of a GitHub release this package reads.
type Release struct {
	Tag string `json:"tag_name"`
	URL string `json:"html_url"`
}

// LatestRelease fetches the latest release.
func (c *Checker) LatestRelease(ctx context.Context) (Release, error) {
	body, err := c.get(ctx, c.ReleaseURL)
	if err != nil {
		return Release{}, err
	}
	var rel Release
	if err := json.Unmarshal(body, &rel); err != nil {
		return Release{}, fmt.Errorf("failed to decode release: %w", err)
	}
	if rel.Tag == "" {
		return Release{}, ErrNoRelease
	}
	return rel, nil
}

// Notice fetches the notice document and returns its non-empty entries.
// Entries are separated by "||".
func (c *Checker) Notice(ctx context.Context) ([]string, error) {
	body, err := c.get(ctx, c.NoticeURL)
	if err != nil {
		return nil, err
	}
	var notices []string
	for part := range strings.SplitSeq(string(body), noticeSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			notices = append(notices, part)
		}
	}
	return notices, nil
}

func (c *Checker) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	if c.UserAgent != "" {
		req.Header.Set("User-Agent", c.UserAgent)
	}

	client := c.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch %s: %s", url, resp.Status)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", url, err)
	}
	return body, nil
}

// IsNewer reports whether latest is a higher dotted version than current.
// A leading "v" and any "-suffix" are ignored; missing components count as
// zero.
func IsNewer(current, latest string) bool {
	cur := parseVersion(current)
	lat := parseVersion(latest)
	for i := range max(len(cur), len(lat)) {
		var a, b int
		if i < len(cur) {
			a = cur[i]
		}
		if i < len(lat) {
			b = lat[i]
		}
		if a != b {
			return b > a
		}
	}
	return false
}

func parseVersion(s string) []int {
	s = strings.TrimPrefix(strings.TrimSpace(s), "v")
	if i := strings.IndexAny(s, "-+ "); i >= 0 {
		s = s[:i]
	}
	var parts []int
	for p := range strings.SplitSeq(s, ".") {
		n, err := strconv.Atoi(p)
		if err != nil {
			break
		}
		parts = append(parts, n)
	}
	return parts
}

// Package update checks GitHub releases for a newer medsearch build.
package update

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const DefaultAPI = "https://api.github.com"

// Result holds the outcome of a version check.
type Result struct {
	LatestVersion string
	URL           string
}

type ghRelease struct {
	TagName string `json:"tag_name"`
	HTMLURL string `json:"html_url"`
}

// Checker queries the latest release of Repo ("owner/name").
type Checker struct {
	Repo string
	API  string // DefaultAPI when empty
	HTTP *http.Client
}

// Check reports a release newer than currentVersion. Returns nil when
// the build is current or on any error (non-fatal).
func (c Checker) Check(ctx context.Context, currentVersion string) *Result {
	if c.Repo == "" || currentVersion == "dev" {
		return nil
	}
	api := c.API
	if api == "" {
		api = DefaultAPI
	}
	client := c.HTTP
	if client == nil {
		client = http.DefaultClient
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	url := fmt.Sprintf("%s/repos/%s/releases/latest", strings.TrimRight(api, "/"), c.Repo)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil
	}
	req.Header.Set("Accept", "application/vnd.github+json")

	resp, err := client.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil
	}

	var release ghRelease
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		return nil
	}

	latest := strings.TrimPrefix(release.TagName, "v")
	current := strings.TrimPrefix(currentVersion, "v")

	if latest == "" || latest == current {
		return nil
	}

	return &Result{LatestVersion: latest, URL: release.HTMLURL}
}

// Package browser opens articles and health topics in the system browser.
package browser

import (
	"fmt"
	"net/url"
	"os/exec"
	"runtime"
	"strings"

	"github.com/Nellodipolito/pubmed-search-api/internal/model"
)

// Resolve turns a PMID, a "PMID:" reference or an http(s) URL into the
// URL to open.
func Resolve(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if id, ok := pmid(ref); ok {
		return model.PubMedURL(id), nil
	}
	u, err := url.Parse(ref)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("refusing to open URL with scheme %q (only http/https allowed)", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid URL %q: missing host", ref)
	}
	return ref, nil
}

func pmid(ref string) (string, bool) {
	id := strings.TrimSpace(strings.TrimPrefix(strings.ToUpper(ref), "PMID:"))
	if id == "" || len(id) > 9 {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

// Open launches the browser for ref. The command is started, not awaited.
func Open(ref string) error {
	target, err := Resolve(ref)
	if err != nil {
		return err
	}
	return command(target).Start()
}

func command(target string) *exec.Cmd {
	switch runtime.GOOS {
	case "darwin":
		return exec.Command("open", target)
	case "windows":
		// Use rundll32 instead of cmd /c start to avoid shell interpretation
		return exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		return exec.Command("xdg-open", target)
	}
}

package github

import (
	"fmt"
	"net/url"
	"strings"
)

// Identifier turns "owner/name", "https://github.com/owner/name(.git)" or
// "git@github.com:owner/name.git" into "owner/name".
func Identifier(repo string) (string, error) {
	s := strings.TrimSpace(repo)

	switch {
	case strings.HasPrefix(s, "git@"):
		if i := strings.Index(s, ":"); i >= 0 {
			s = s[i+1:]
		}
	case strings.Contains(s, "://"):
		u, err := url.Parse(s)
		if err != nil {
			return "", fmt.Errorf("parsing repository url: %w", err)
		}
		s = u.Path
	}

	s = strings.Trim(strings.TrimSuffix(strings.TrimSuffix(s, "/"), ".git"), "/")

	parts := strings.Split(s, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", fmt.Errorf("invalid repository %q, expected owner/name", repo)
	}

	return s, nil
}

package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	gogithub "github.com/google/go-github/github"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/pulsefile"
	"github.com/sirupsen/logrus"
)

// PulsefilePath is where a repository keeps its pipeline definition.
const PulsefilePath = pulsefile.DefaultFile

// ErrPulsefileNotFound is returned when a repository has no Pulsefile.
var ErrPulsefileNotFound = errors.New("pulsefile not found")

// Fetcher reads Pulsefiles out of GitHub repositories through the
// contents API.
type Fetcher struct {
	client *gogithub.Client
}

// NewFetcher returns a Fetcher. An empty token makes anonymous requests,
// which only see public repositories. An empty baseURL talks to
// api.github.com.
func NewFetcher(token, baseURL string) (*Fetcher, error) {
	httpClient := &http.Client{}
	if token != "" {
		httpClient.Transport = &tokenTransport{token: token, base: http.DefaultTransport}
	}

	client := gogithub.NewClient(httpClient)

	if baseURL != "" {
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}

		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing github url: %w", err)
		}
		client.BaseURL = u
	}

	return &Fetcher{client: client}, nil
}

// FetchPulsefile returns the Pulsefile on the repository's default
// branch, or on the server's default when the repository doesn't say.
func (f *Fetcher) FetchPulsefile(ctx context.Context, repo pipeline.Repository) (string, error) {
	logger := logger.WithFields(logrus.Fields{
		"repository": repo.FullName,
		"ref":        repo.DefaultBranch,
	})
	logger.Debug("fetching pulsefile")

	owner, name := repo.Owner, repo.Name
	if owner == "" || name == "" {
		parts := strings.SplitN(repo.FullName, "/", 2)
		if len(parts) != 2 {
			return "", fmt.Errorf("invalid repository name %q", repo.FullName)
		}
		owner, name = parts[0], parts[1]
	}

	opts := &gogithub.RepositoryContentGetOptions{Ref: repo.DefaultBranch}
	file, _, resp, err := f.client.Repositories.GetContents(ctx, owner, name, PulsefilePath, opts)
	if resp != nil && resp.StatusCode == http.StatusNotFound {
		return "", ErrPulsefileNotFound
	}
	if err != nil {
		logger.WithError(err).Debug("unable to fetch pulsefile")
		return "", err
	}

	// A directory named Pulsefile isn't a Pulsefile.
	if file == nil {
		return "", ErrPulsefileNotFound
	}

	content, err := file.GetContent()
	if err != nil {
		logger.WithError(err).Debug("unable to decode pulsefile")
		return "", err
	}

	return content, nil
}

type tokenTransport struct {
	token string
	base  http.RoundTripper
}

func (t *tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	r := req.Clone(req.Context())
	r.Header.Set("Authorization", "token "+t.token)

	return t.base.RoundTrip(r)
}

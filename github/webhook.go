// Package github turns GitHub webhook deliveries into pipeline events and
// fetches Pulsefiles from GitHub repositories.
package github

import (
	"errors"
	"io/ioutil"
	"net/http"
	"strings"

	gogithub "github.com/google/go-github/github"
	"github.com/run-ci/pulse/pipeline"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

var (
	// ErrUnsupportedEvent is returned for deliveries that don't map to a
	// pipeline event. They should be acknowledged and dropped.
	ErrUnsupportedEvent = errors.New("unsupported github event")
	// ErrMissingRepository is returned when a delivery has no repository.
	ErrMissingRepository = errors.New("event has no repository")
)

const (
	headsPrefix = "refs/heads/"
	tagsPrefix  = "refs/tags/"
)

func init() {
	logger = logrus.WithField("package", "github")
}

// EventType returns the event name GitHub sent the delivery as.
func EventType(r *http.Request) string {
	return gogithub.WebHookType(r)
}

// ReadPayload reads the JSON payload of a webhook delivery. When secret
// isn't empty the X-Hub-Signature header has to match it.
func ReadPayload(r *http.Request, secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return ioutil.ReadAll(r.Body)
	}

	return gogithub.ValidatePayload(r, secret)
}

// ParseEvent normalizes a webhook payload of the given event type.
func ParseEvent(eventType string, payload []byte) (pipeline.GitEvent, error) {
	logger := logger.WithField("event_type", eventType)

	switch eventType {
	case "push", "pull_request", "create", "delete", "release":
	default:
		logger.Debug("ignoring event type")
		return pipeline.GitEvent{}, ErrUnsupportedEvent
	}

	parsed, err := gogithub.ParseWebHook(eventType, payload)
	if err != nil {
		logger.WithError(err).Debug("unable to parse payload")
		return pipeline.GitEvent{}, err
	}

	switch ev := parsed.(type) {
	case *gogithub.PushEvent:
		return pushEvent(ev)
	case *gogithub.PullRequestEvent:
		return pullRequestEvent(ev)
	case *gogithub.CreateEvent:
		return refEvent(pipeline.EventBranchCreate, ev.GetRefType(), ev.GetRef(), ev.Repo, ev.GetSender())
	case *gogithub.DeleteEvent:
		if ev.GetRefType() == "tag" {
			return pipeline.GitEvent{}, ErrUnsupportedEvent
		}
		return refEvent(pipeline.EventBranchDelete, ev.GetRefType(), ev.GetRef(), ev.Repo, ev.GetSender())
	case *gogithub.ReleaseEvent:
		return releaseEvent(ev)
	}

	return pipeline.GitEvent{}, ErrUnsupportedEvent
}

func pushEvent(ev *gogithub.PushEvent) (pipeline.GitEvent, error) {
	if ev.Repo == nil {
		return pipeline.GitEvent{}, ErrMissingRepository
	}

	r := ev.GetRepo()
	out := pipeline.GitEvent{
		Kind: pipeline.EventPush,
		Repository: repository(r.GetFullName(), r.GetName(), r.GetCloneURL(),
			r.GetDefaultBranch()),
		Sender: ev.GetSender().GetLogin(),
	}

	// A new tag also arrives as a create delivery, which is the one that
	// becomes the Tag event.
	ref := ev.GetRef()
	if strings.HasPrefix(ref, tagsPrefix) {
		logger.WithField("ref", ref).Debug("ignoring tag push")
		return pipeline.GitEvent{}, ErrUnsupportedEvent
	}
	if strings.HasPrefix(ref, headsPrefix) {
		out.Branch = pipeline.StringPtr(strings.TrimPrefix(ref, headsPrefix))
	}

	if sha := ev.GetHeadCommit().GetID(); sha != "" {
		out.CommitSHA = pipeline.StringPtr(sha)
	} else if sha := ev.GetAfter(); sha != "" {
		out.CommitSHA = pipeline.StringPtr(sha)
	}

	return out, nil
}

func pullRequestEvent(ev *gogithub.PullRequestEvent) (pipeline.GitEvent, error) {
	if ev.Repo == nil {
		return pipeline.GitEvent{}, ErrMissingRepository
	}

	pr := ev.GetPullRequest()
	out := pipeline.GitEvent{
		Kind:       pipeline.EventPullRequest,
		Repository: fromRepository(ev.GetRepo()),
		Sender:     ev.GetSender().GetLogin(),
		PullRequest: &pipeline.PullRequest{
			Number:     pr.GetNumber(),
			Title:      pr.GetTitle(),
			BaseBranch: pr.GetBase().GetRef(),
			HeadBranch: pr.GetHead().GetRef(),
			State:      pr.GetState(),
		},
	}

	if base := pr.GetBase().GetRef(); base != "" {
		out.Branch = pipeline.StringPtr(base)
	}

	if sha := pr.GetHead().GetSHA(); sha != "" {
		out.CommitSHA = pipeline.StringPtr(sha)
	}

	if ev.GetAction() == "closed" && pr.GetMerged() {
		out.Kind = pipeline.EventMerge
		if sha := pr.GetMergeCommitSHA(); sha != "" {
			out.CommitSHA = pipeline.StringPtr(sha)
		}
	}

	return out, nil
}

// refEvent handles create and delete deliveries. Their ref is usually the
// short name, but a full ref is accepted too.
func refEvent(kind pipeline.EventKind, refType, ref string, repo *gogithub.Repository, sender *gogithub.User) (pipeline.GitEvent, error) {
	if repo == nil {
		return pipeline.GitEvent{}, ErrMissingRepository
	}

	out := pipeline.GitEvent{
		Kind:       kind,
		Repository: fromRepository(repo),
		Sender:     sender.GetLogin(),
	}

	switch {
	case refType == "tag" || strings.HasPrefix(ref, tagsPrefix):
		out.Kind = pipeline.EventTag
		out.Tag = pipeline.StringPtr(strings.TrimPrefix(ref, tagsPrefix))
	case refType == "branch" || strings.HasPrefix(ref, headsPrefix):
		out.Branch = pipeline.StringPtr(strings.TrimPrefix(ref, headsPrefix))
	default:
		// "repository" creations have nothing to build.
		return pipeline.GitEvent{}, ErrUnsupportedEvent
	}

	return out, nil
}

func releaseEvent(ev *gogithub.ReleaseEvent) (pipeline.GitEvent, error) {
	if ev.Repo == nil {
		return pipeline.GitEvent{}, ErrMissingRepository
	}

	if action := ev.GetAction(); action != "" && action != "published" {
		return pipeline.GitEvent{}, ErrUnsupportedEvent
	}

	out := pipeline.GitEvent{
		Kind:       pipeline.EventRelease,
		Repository: fromRepository(ev.GetRepo()),
		Sender:     ev.GetSender().GetLogin(),
	}

	if tag := ev.GetRelease().GetTagName(); tag != "" {
		out.Tag = pipeline.StringPtr(tag)
	}

	return out, nil
}

func fromRepository(r *gogithub.Repository) pipeline.Repository {
	repo := repository(r.GetFullName(), r.GetName(), r.GetCloneURL(), r.GetDefaultBranch())
	if login := r.GetOwner().GetLogin(); login != "" {
		repo.Owner = login
	}

	return repo
}

// repository fills in the owner from the full name, which every payload
// carries in the same shape.
func repository(fullName, name, cloneURL, defaultBranch string) pipeline.Repository {
	owner := ""
	if i := strings.Index(fullName, "/"); i >= 0 {
		owner = fullName[:i]
		if name == "" {
			name = fullName[i+1:]
		}
	}

	return pipeline.Repository{
		Owner:         owner,
		Name:          name,
		FullName:      fullName,
		CloneURL:      cloneURL,
		DefaultBranch: defaultBranch,
	}
}

package pipeline

import "strings"

// Enabled reports whether events of kind k are turned on.
func (t GitTriggers) Enabled(k EventKind) bool {
	switch k {
	case EventPush:
		return t.OnPush
	case EventPullRequest:
		return t.OnPullRequest
	case EventMerge:
		return t.OnMerge
	case EventTag:
		return t.OnTag
	case EventRelease:
		return t.OnRelease
	case EventBranchCreate:
		return t.OnBranchCreate
	case EventBranchDelete:
		return t.OnBranchDelete
	}

	return false
}

// Matches reports whether ev should start a pipeline with these triggers.
//
// The event kind has to be enabled first. After that, events with a branch
// are filtered by the branch patterns. Tag events carry no pattern list, so
// they only need OnTag, which the kind check has already required for
// EventTag. Events with neither a branch nor a tag match on kind alone.
func (t GitTriggers) Matches(ev GitEvent) bool {
	if !t.Enabled(ev.Kind) {
		return false
	}

	if ev.Branch != nil {
		return t.MatchesBranch(*ev.Branch)
	}

	if ev.Tag != nil {
		return t.OnTag
	}

	return true
}

// MatchesBranch reports whether branch matches any of the patterns.
func (t GitTriggers) MatchesBranch(branch string) bool {
	for _, pattern := range t.Branches {
		if matchPattern(pattern, branch) {
			return true
		}
	}

	return false
}

func matchPattern(pattern, branch string) bool {
	if pattern == "*" || pattern == branch {
		return true
	}

	if strings.HasSuffix(pattern, "/*") {
		// Keep the slash so "feature/*" doesn't match "feature".
		return strings.HasPrefix(branch, strings.TrimSuffix(pattern, "*"))
	}

	return false
}

package pipeline

import "testing"

func testRepo() Repository {
	return Repository{
		Owner:         "test",
		Name:          "repo",
		FullName:      "test/repo",
		CloneURL:      "https://github.com/test/repo.git",
		DefaultBranch: "main",
	}
}

func TestDefaultGitTriggers(t *testing.T) {
	trig := DefaultGitTriggers()

	for _, k := range EventKinds {
		if trig.Enabled(k) {
			t.Fatalf("expected %v to be disabled by default", k)
		}
	}

	if len(trig.Branches) != 1 || trig.Branches[0] != "*" {
		t.Fatalf("expected default branches [*], got %v", trig.Branches)
	}
}

func TestMatchesBranch(t *testing.T) {
	tests := []struct {
		label    string
		patterns []string
		branch   string
		expected bool
	}{
		{"wildcard main", []string{"*"}, "main", true},
		{"wildcard nested", []string{"*"}, "feature/abc", true},
		{"exact", []string{"main"}, "main", true},
		{"exact mismatch", []string{"main"}, "develop", false},
		{"prefix", []string{"feature/*"}, "feature/abc", true},
		{"prefix empty rest", []string{"feature/*"}, "feature/", true},
		{"prefix other branch", []string{"feature/*"}, "main", false},
		{"prefix bare", []string{"feature/*"}, "feature", false},
		{"prefix lookalike", []string{"feature/*"}, "features/abc", false},
		{"no patterns", []string{}, "main", false},
		{"nil patterns", nil, "main", false},
		{"second pattern", []string{"release/*", "main"}, "main", true},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			trig := GitTriggers{Branches: test.patterns}

			actual := trig.MatchesBranch(test.branch)
			if actual != test.expected {
				t.Fatalf("expected %v for %q against %v, got %v",
					test.expected, test.branch, test.patterns, actual)
			}
		})
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		label    string
		triggers GitTriggers
		event    GitEvent
		expected bool
	}{
		{
			label:    "push on main",
			triggers: GitTriggers{OnPush: true, Branches: []string{"main"}},
			event:    GitEvent{Kind: EventPush, Branch: StringPtr("main")},
			expected: true,
		},
		{
			label:    "push on other branch",
			triggers: GitTriggers{OnPush: true, Branches: []string{"main"}},
			event:    GitEvent{Kind: EventPush, Branch: StringPtr("develop")},
			expected: false,
		},
		{
			label:    "kind disabled",
			triggers: GitTriggers{OnPush: true, Branches: []string{"*"}},
			event:    GitEvent{Kind: EventPullRequest},
			expected: false,
		},
		{
			label:    "kind only",
			triggers: GitTriggers{OnPullRequest: true, Branches: []string{}},
			event:    GitEvent{Kind: EventPullRequest},
			expected: true,
		},
		{
			label:    "tag ignores branch patterns",
			triggers: GitTriggers{OnTag: true, Branches: []string{}},
			event:    GitEvent{Kind: EventTag, Tag: StringPtr("v1.0.0")},
			expected: true,
		},
		{
			label:    "tag disabled",
			triggers: GitTriggers{OnPush: true, Branches: []string{"*"}},
			event:    GitEvent{Kind: EventTag, Tag: StringPtr("v1.0.0")},
			expected: false,
		},
		{
			label:    "release with tag and no tag trigger",
			triggers: GitTriggers{OnRelease: true},
			event:    GitEvent{Kind: EventRelease, Tag: StringPtr("v1.0.0")},
			expected: false,
		},
		{
			label:    "branch delete with prefix",
			triggers: GitTriggers{OnBranchDelete: true, Branches: []string{"feature/*"}},
			event:    GitEvent{Kind: EventBranchDelete, Branch: StringPtr("feature/x")},
			expected: true,
		},
		{
			label:    "empty patterns with branch",
			triggers: GitTriggers{OnMerge: true, Branches: []string{}},
			event:    GitEvent{Kind: EventMerge, Branch: StringPtr("main")},
			expected: false,
		},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			test.event.Repository = testRepo()

			actual := test.triggers.Matches(test.event)
			if actual != test.expected {
				t.Fatalf("expected %v, got %v", test.expected, actual)
			}
		})
	}
}

func TestParseEventKind(t *testing.T) {
	for _, k := range EventKinds {
		actual, err := ParseEventKind(string(k))
		if err != nil {
			t.Fatalf("got error parsing %v: %v", k, err)
		}

		if actual != k {
			t.Fatalf("expected %v, got %v", k, actual)
		}
	}

	if _, err := ParseEventKind("deploy"); err == nil {
		t.Fatal("expected error parsing unknown kind")
	}
}

package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
)

type storeFactory func(t *testing.T) PulseStore

func backends() map[string]storeFactory {
	return map[string]storeFactory{
		"memory": func(t *testing.T) PulseStore {
			return NewMemory()
		},
		"sqlite": func(t *testing.T) PulseStore {
			st, err := NewSQLite(filepath.Join(t.TempDir(), "pulse.db"))
			if err != nil {
				t.Fatalf("got error opening sqlite store: %v", err)
			}
			t.Cleanup(func() { st.Close() })

			return st
		},
	}
}

func execution(repo string, started time.Time, status pipeline.Status) pipeline.Execution {
	return pipeline.Execution{
		ID:           uuid.New(),
		PipelineName: "ci",
		Repository:   pipeline.Repository{FullName: repo},
		GitEvent: pipeline.GitEvent{
			Kind:       pipeline.EventPush,
			Repository: pipeline.Repository{FullName: repo},
			Branch:     pipeline.StringPtr("main"),
		},
		Status:      status,
		StepResults: []pipeline.StepResult{},
		StartedAt:   started,
	}
}

func TestRepos(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)

			if _, err := st.GetRepo("acme/web"); err != ErrRepoNotFound {
				t.Fatalf("expected %v, got %v", ErrRepoNotFound, err)
			}

			repo := RegisteredRepo{
				URL:        "https://github.com/acme/web",
				Identifier: "acme/web",
				Pulsefile:  "pipeline {}",
				Type:       RepoGitHub,
			}
			if err := st.RegisterRepo(repo); err != nil {
				t.Fatalf("got error registering repo: %v", err)
			}

			repo.Pulsefile = `pipeline { name: "v2"; }`
			if err := st.RegisterRepo(repo); err != nil {
				t.Fatalf("got error re-registering repo: %v", err)
			}

			got, err := st.GetRepo("acme/web")
			if err != nil {
				t.Fatalf("got error getting repo: %v", err)
			}

			if got.Pulsefile != repo.Pulsefile {
				t.Fatalf("expected pulsefile %q, got %q", repo.Pulsefile, got.Pulsefile)
			}

			if got.Type != RepoGitHub || got.URL != repo.URL {
				t.Fatalf("expected %+v, got %+v", repo, got)
			}

			if got.CreatedAt.IsZero() {
				t.Fatal("expected created_at to be set")
			}

			err = st.RegisterRepo(RegisteredRepo{Identifier: "acme/api", Type: RepoLocal})
			if err != nil {
				t.Fatalf("got error registering repo: %v", err)
			}

			repos, err := st.ListRepos()
			if err != nil {
				t.Fatalf("got error listing repos: %v", err)
			}

			if len(repos) != 2 || repos[0].Identifier != "acme/api" || repos[1].Identifier != "acme/web" {
				t.Fatalf("expected [acme/api acme/web], got %+v", repos)
			}

			if err := st.UnregisterRepo("acme/web"); err != nil {
				t.Fatalf("got error unregistering repo: %v", err)
			}

			if err := st.UnregisterRepo("acme/web"); err != ErrRepoNotFound {
				t.Fatalf("expected %v, got %v", ErrRepoNotFound, err)
			}
		})
	}
}

func TestExecutions(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)

			if _, err := st.GetExecution(uuid.New()); err != ErrExecutionNotFound {
				t.Fatalf("expected %v, got %v", ErrExecutionNotFound, err)
			}

			base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
			old := execution("acme/web", base, pipeline.StatusSuccess)
			mid := execution("acme/api", base.Add(time.Minute), pipeline.StatusFailed)
			recent := execution("acme/web", base.Add(2*time.Minute), pipeline.StatusSkipped)

			for _, e := range []pipeline.Execution{old, mid, recent} {
				if err := st.SaveExecution(e); err != nil {
					t.Fatalf("got error saving execution: %v", err)
				}
			}

			got, err := st.GetExecution(mid.ID)
			if err != nil {
				t.Fatalf("got error getting execution: %v", err)
			}

			if got.ID != mid.ID || got.Status != pipeline.StatusFailed {
				t.Fatalf("expected %v with status failed, got %v with status %v", mid.ID, got.ID, got.Status)
			}

			if got.GitEvent.Branch == nil || *got.GitEvent.Branch != "main" {
				t.Fatalf("expected branch main to survive storage, got %v", got.GitEvent.Branch)
			}

			all, err := st.ListExecutions()
			if err != nil {
				t.Fatalf("got error listing executions: %v", err)
			}

			if len(all) != 3 || all[0].ID != recent.ID || all[2].ID != old.ID {
				t.Fatalf("expected 3 executions newest first, got %v", len(all))
			}

			byRepo, err := st.ListExecutionsByRepo("acme/web", 0)
			if err != nil {
				t.Fatalf("got error listing executions: %v", err)
			}

			if len(byRepo) != 2 || byRepo[0].ID != recent.ID {
				t.Fatalf("expected 2 acme/web executions newest first, got %v", len(byRepo))
			}

			limited, err := st.ListExecutionsByRepo("acme/web", 1)
			if err != nil {
				t.Fatalf("got error listing executions: %v", err)
			}

			if len(limited) != 1 || limited[0].ID != recent.ID {
				t.Fatalf("expected only the most recent execution, got %v", len(limited))
			}

			none, err := st.ListExecutionsByRepo("acme/none", 10)
			if err != nil {
				t.Fatalf("got error listing executions: %v", err)
			}

			if len(none) != 0 {
				t.Fatalf("expected no executions, got %v", len(none))
			}

			old.Status = pipeline.StatusFailed
			if err := st.SaveExecution(old); err != nil {
				t.Fatalf("got error updating execution: %v", err)
			}

			all, _ = st.ListExecutions()
			if len(all) != 3 {
				t.Fatalf("expected saving twice to replace, got %v executions", len(all))
			}
		})
	}
}

func TestUsers(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			st := open(t)

			u := &User{Email: "dev@example.com", Name: "Dev", Password: "hunter2"}
			if err := st.CreateUser(u); err != nil {
				t.Fatalf("got error creating user: %v", err)
			}

			if err := st.CreateUser(&User{Email: "dev@example.com", Password: "x"}); err != ErrUserExists {
				t.Fatalf("expected %v, got %v", ErrUserExists, err)
			}

			if err := st.Authenticate("dev@example.com", "hunter2"); err != nil {
				t.Fatalf("expected authentication to pass, got %v", err)
			}

			if err := st.Authenticate("dev@example.com", "wrong"); err != ErrNotAuthenticated {
				t.Fatalf("expected %v, got %v", ErrNotAuthenticated, err)
			}

			if err := st.Authenticate("nobody@example.com", "hunter2"); err != ErrNotAuthenticated {
				t.Fatalf("expected %v, got %v", ErrNotAuthenticated, err)
			}
		})
	}
}

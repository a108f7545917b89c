package store

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// Memory is a PulseStore that keeps everything in process memory. One
// lock guards all of it: writers are exclusive, readers share.
type Memory struct {
	mu sync.RWMutex

	repos      map[string]RegisteredRepo
	executions map[uuid.UUID]pipeline.Execution
	byRepo     map[string][]uuid.UUID
	users      map[string]User
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	logger.WithField("store", "memory").Debug("initializing store")

	return &Memory{
		repos:      make(map[string]RegisteredRepo),
		executions: make(map[uuid.UUID]pipeline.Execution),
		byRepo:     make(map[string][]uuid.UUID),
		users:      make(map[string]User),
	}
}

// Close is a no-op. It's here to satisfy PulseStore.
func (st *Memory) Close() error {
	return nil
}

// RegisterRepo is part of the RepoStore interface.
func (st *Memory) RegisterRepo(r RegisteredRepo) error {
	r.SetCreated()

	st.mu.Lock()
	defer st.mu.Unlock()

	st.repos[r.Identifier] = r
	return nil
}

// UnregisterRepo is part of the RepoStore interface.
func (st *Memory) UnregisterRepo(identifier string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.repos[identifier]; !ok {
		return ErrRepoNotFound
	}

	delete(st.repos, identifier)
	return nil
}

// GetRepo is part of the RepoStore interface.
func (st *Memory) GetRepo(identifier string) (RegisteredRepo, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	r, ok := st.repos[identifier]
	if !ok {
		return RegisteredRepo{}, ErrRepoNotFound
	}

	return r, nil
}

// ListRepos returns every registered repo sorted by identifier.
func (st *Memory) ListRepos() ([]RegisteredRepo, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	repos := make([]RegisteredRepo, 0, len(st.repos))
	for _, r := range st.repos {
		repos = append(repos, r)
	}

	sort.Slice(repos, func(i, j int) bool {
		return repos[i].Identifier < repos[j].Identifier
	})

	return repos, nil
}

// SaveExecution is part of the ExecutionStore interface. Saving an
// execution with an ID that's already stored replaces it.
func (st *Memory) SaveExecution(e pipeline.Execution) error {
	logger.WithFields(log.Fields{
		"store":        "memory",
		"execution_id": e.ID,
		"status":       e.Status,
	}).Debug("saving execution")

	st.mu.Lock()
	defer st.mu.Unlock()

	repo := e.Repository.FullName
	if _, ok := st.executions[e.ID]; !ok {
		st.byRepo[repo] = append(st.byRepo[repo], e.ID)
	}

	st.executions[e.ID] = e
	return nil
}

// GetExecution is part of the ExecutionStore interface.
func (st *Memory) GetExecution(id uuid.UUID) (pipeline.Execution, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	e, ok := st.executions[id]
	if !ok {
		return pipeline.Execution{}, ErrExecutionNotFound
	}

	return e, nil
}

// ListExecutions is part of the ExecutionStore interface.
func (st *Memory) ListExecutions() ([]pipeline.Execution, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	execs := make([]pipeline.Execution, 0, len(st.executions))
	for _, e := range st.executions {
		execs = append(execs, e)
	}

	sortNewestFirst(execs)
	return execs, nil
}

// ListExecutionsByRepo is part of the ExecutionStore interface.
func (st *Memory) ListExecutionsByRepo(identifier string, limit int) ([]pipeline.Execution, error) {
	st.mu.RLock()
	defer st.mu.RUnlock()

	ids := st.byRepo[identifier]
	execs := make([]pipeline.Execution, 0, len(ids))
	for _, id := range ids {
		if e, ok := st.executions[id]; ok {
			execs = append(execs, e)
		}
	}

	sortNewestFirst(execs)

	if limit > 0 && len(execs) > limit {
		execs = execs[:limit]
	}

	return execs, nil
}

// CreateUser is part of the UserStore interface.
func (st *Memory) CreateUser(u *User) error {
	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Debug("unable to encrypt password")
		return err
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if _, ok := st.users[u.Email]; ok {
		return ErrUserExists
	}

	stored := *u
	stored.Password = string(password)
	st.users[u.Email] = stored

	return nil
}

// Authenticate is part of the UserStore interface.
func (st *Memory) Authenticate(email, pass string) error {
	st.mu.RLock()
	u, ok := st.users[email]
	st.mu.RUnlock()

	if !ok {
		return ErrNotAuthenticated
	}

	err := bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(pass))
	if err != nil {
		logger.WithError(err).Debug("unable to authenticate")
		return ErrNotAuthenticated
	}

	return nil
}

func sortNewestFirst(execs []pipeline.Execution) {
	sort.SliceStable(execs, func(i, j int) bool {
		return execs[i].StartedAt.After(execs[j].StartedAt)
	})
}

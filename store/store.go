package store

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
	log "github.com/sirupsen/logrus"
)

var logger *log.Entry

var (
	// ErrExecutionNotFound is returned when no execution has the
	// requested ID.
	ErrExecutionNotFound = errors.New("execution not found")
	// ErrRepoNotFound is returned when a repository isn't registered.
	ErrRepoNotFound = errors.New("repository not registered")
	// ErrNotAuthenticated is returned when a user's credentials don't
	// check out.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrUserExists is returned when creating a user whose email is
	// already taken.
	ErrUserExists = errors.New("user already exists")
)

func init() {
	logger = log.WithFields(log.Fields{
		"package": "store",
	})
}

// PulseStore is an all-encompassing interface for all the behaviors
// a store can exhibit, so that implementations can be swapped out.
// Consumers should define their own interfaces that use a subset of it.
//
// Implementations are safe for concurrent use.
type PulseStore interface {
	RepoStore
	ExecutionStore
	UserStore

	Close() error
}

// RepoStore keeps the Pulsefile registered for each repository.
type RepoStore interface {
	// RegisterRepo saves the repo, replacing any repo registered under
	// the same identifier.
	RegisterRepo(RegisteredRepo) error
	// UnregisterRepo removes the repo with the given identifier. If
	// there isn't one it returns ErrRepoNotFound.
	UnregisterRepo(identifier string) error
	// GetRepo returns the repo with the given identifier, or
	// ErrRepoNotFound.
	GetRepo(identifier string) (RegisteredRepo, error)
	ListRepos() ([]RegisteredRepo, error)
}

// ExecutionStore keeps finished pipeline executions.
type ExecutionStore interface {
	SaveExecution(pipeline.Execution) error
	// GetExecution returns ErrExecutionNotFound if there's no execution
	// with the given ID.
	GetExecution(id uuid.UUID) (pipeline.Execution, error)
	// ListExecutions returns every execution, newest first.
	ListExecutions() ([]pipeline.Execution, error)
	// ListExecutionsByRepo returns up to limit executions for the repo,
	// newest first. A limit of zero or less returns all of them.
	ListExecutionsByRepo(identifier string, limit int) ([]pipeline.Execution, error)
}

// UserStore keeps the users allowed to manage repositories.
type UserStore interface {
	// CreateUser hashes the user's password and saves them.
	CreateUser(*User) error
	// Authenticate checks the password for the user with the given email
	// address and returns ErrNotAuthenticated if it doesn't match.
	Authenticate(email, pass string) error
}

// RepoType is the kind of source control a registered repository lives in.
type RepoType string

// Known repository types. Anything else is stored as given.
const (
	RepoGitHub RepoType = "github"
	RepoLocal  RepoType = "local"
)

// RegisteredRepo is a repository with a Pulsefile uploaded for it. A
// registered Pulsefile takes precedence over the one in the repository.
type RegisteredRepo struct {
	URL        string    `json:"repo_url" yaml:"repo_url"`
	Identifier string    `json:"repo_identifier" yaml:"repo_identifier"`
	Pulsefile  string    `json:"pulsefile" yaml:"pulsefile"`
	Type       RepoType  `json:"repo_type" yaml:"repo_type"`
	CreatedAt  time.Time `json:"created_at" yaml:"-"`
}

// User is an entity that's authorized to manage repositories.
type User struct {
	Email    string `json:"email" yaml:"email"`
	Name     string `json:"name" yaml:"name"`
	Password string `json:"password,omitempty" yaml:"password"`
}

// SetCreated is a convenience method for stamping the creation time if
// it hasn't been set.
func (r *RegisteredRepo) SetCreated() {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
}

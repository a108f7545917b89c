package store

import (
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// schema is written so it means the same thing to Postgres and SQLite.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS repos (
		identifier TEXT PRIMARY KEY,
		url TEXT NOT NULL,
		pulsefile TEXT NOT NULL,
		repo_type TEXT NOT NULL,
		created_at BIGINT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS executions (
		id TEXT PRIMARY KEY,
		repository TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at BIGINT NOT NULL,
		record TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS executions_repository ON executions (repository, started_at)`,
	`CREATE TABLE IF NOT EXISTS users (
		email TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		password TEXT NOT NULL
	)`,
}

// SQL is a PulseStore kept in a relational database. The same queries
// serve Postgres and SQLite; only the placeholder syntax differs.
type SQL struct {
	db     *sql.DB
	driver string
	logger *log.Entry
}

func openSQL(driver, dsn string) (*SQL, error) {
	logger := logger.WithField("store", driver)
	logger.Debug("connecting to database")

	db, err := sql.Open(driver, dsn)
	if err != nil {
		logger.WithError(err).Debug("unable to connect to database")
		return nil, err
	}

	// SQLite allows one writer at a time.
	if driver == "sqlite" {
		db.SetMaxOpenConns(1)
	}

	st := &SQL{
		db:     db,
		driver: driver,
		logger: logger,
	}

	if err := st.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return st, nil
}

func (st *SQL) migrate() error {
	for _, stmt := range schema {
		if _, err := st.db.Exec(stmt); err != nil {
			st.logger.WithError(err).Debug("unable to apply schema")
			return err
		}
	}

	return nil
}

// rebind rewrites Postgres-style placeholders for drivers that want
// SQLite's numbered ?NNN form.
func (st *SQL) rebind(q string) string {
	if st.driver == "postgres" {
		return q
	}

	return strings.ReplaceAll(q, "$", "?")
}

// Close closes the underlying database handle.
func (st *SQL) Close() error {
	return st.db.Close()
}

// RegisterRepo saves the repo, replacing any repo with the same
// identifier.
func (st *SQL) RegisterRepo(r RegisteredRepo) error {
	logger := st.logger.WithField("repo", r.Identifier)
	logger.Debug("saving repo")

	r.SetCreated()

	sqlq := `
	INSERT INTO repos (identifier, url, pulsefile, repo_type, created_at)
	VALUES
		($1, $2, $3, $4, $5)
	ON CONFLICT (identifier) DO UPDATE SET
		url = excluded.url,
		pulsefile = excluded.pulsefile,
		repo_type = excluded.repo_type
	`

	_, err := st.db.Exec(st.rebind(sqlq), r.Identifier, r.URL, r.Pulsefile,
		string(r.Type), r.CreatedAt.UnixNano())
	if err != nil {
		logger.WithError(err).Debug("unable to save repo")
	}
	return err
}

// UnregisterRepo deletes the repo with the given identifier.
func (st *SQL) UnregisterRepo(identifier string) error {
	logger := st.logger.WithField("repo", identifier)
	logger.Debug("deleting repo")

	sqlq := `DELETE FROM repos WHERE identifier = $1`

	res, err := st.db.Exec(st.rebind(sqlq), identifier)
	if err != nil {
		logger.WithError(err).Debug("unable to delete repo")
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		logger.WithError(err).Debug("unable to count deleted rows")
		return err
	}

	if n == 0 {
		return ErrRepoNotFound
	}

	return nil
}

// GetRepo retrieves the repo with the given identifier.
func (st *SQL) GetRepo(identifier string) (RegisteredRepo, error) {
	logger := st.logger.WithField("repo", identifier)
	logger.Debug("getting repo")

	sqlq := `
	SELECT identifier, url, pulsefile, repo_type, created_at
	FROM repos
	WHERE identifier = $1
	`

	r, err := scanRepo(st.db.QueryRow(st.rebind(sqlq), identifier))
	if err == sql.ErrNoRows {
		return RegisteredRepo{}, ErrRepoNotFound
	}
	if err != nil {
		logger.WithError(err).Debug("unable to scan row")
	}

	return r, err
}

// ListRepos retrieves every repo, sorted by identifier.
func (st *SQL) ListRepos() ([]RegisteredRepo, error) {
	st.logger.Debug("getting repos")

	sqlq := `
	SELECT identifier, url, pulsefile, repo_type, created_at
	FROM repos
	ORDER BY identifier
	`

	rows, err := st.db.Query(sqlq)
	if err != nil {
		st.logger.WithError(err).Debug("unable to query database")
		return nil, err
	}
	defer rows.Close()

	repos := []RegisteredRepo{}
	for rows.Next() {
		r, err := scanRepo(rows)
		if err != nil {
			st.logger.WithError(err).Debug("unable to scan row")
			return repos, err
		}

		repos = append(repos, r)
	}

	return repos, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRepo(row scanner) (RegisteredRepo, error) {
	var r RegisteredRepo
	var typ string
	var created int64

	err := row.Scan(&r.Identifier, &r.URL, &r.Pulsefile, &typ, &created)
	if err != nil {
		return RegisteredRepo{}, err
	}

	r.Type = RepoType(typ)
	r.CreatedAt = time.Unix(0, created).UTC()

	return r, nil
}

// SaveExecution stores the whole record as JSON next to the columns
// it's looked up by.
func (st *SQL) SaveExecution(e pipeline.Execution) error {
	logger := st.logger.WithFields(log.Fields{
		"execution_id": e.ID,
		"status":       e.Status,
	})
	logger.Debug("saving execution")

	record, err := json.Marshal(e)
	if err != nil {
		logger.WithError(err).Debug("unable to marshal execution")
		return err
	}

	sqlq := `
	INSERT INTO executions (id, repository, status, started_at, record)
	VALUES
		($1, $2, $3, $4, $5)
	ON CONFLICT (id) DO UPDATE SET
		status = excluded.status,
		record = excluded.record
	`

	_, err = st.db.Exec(st.rebind(sqlq), e.ID.String(), e.Repository.FullName,
		string(e.Status), e.StartedAt.UnixNano(), string(record))
	if err != nil {
		logger.WithError(err).Debug("unable to save execution")
	}
	return err
}

// GetExecution retrieves the execution with the given ID.
func (st *SQL) GetExecution(id uuid.UUID) (pipeline.Execution, error) {
	logger := st.logger.WithField("execution_id", id)
	logger.Debug("getting execution")

	sqlq := `SELECT record FROM executions WHERE id = $1`

	var record string
	err := st.db.QueryRow(st.rebind(sqlq), id.String()).Scan(&record)
	if err == sql.ErrNoRows {
		return pipeline.Execution{}, ErrExecutionNotFound
	}
	if err != nil {
		logger.WithError(err).Debug("unable to scan row")
		return pipeline.Execution{}, err
	}

	var e pipeline.Execution
	err = json.Unmarshal([]byte(record), &e)
	if err != nil {
		logger.WithError(err).Debug("unable to unmarshal execution")
	}

	return e, err
}

// ListExecutions retrieves every execution, newest first.
func (st *SQL) ListExecutions() ([]pipeline.Execution, error) {
	sqlq := `SELECT record FROM executions ORDER BY started_at DESC`

	return st.queryExecutions(sqlq)
}

// ListExecutionsByRepo retrieves up to limit executions for the repo,
// newest first.
func (st *SQL) ListExecutionsByRepo(identifier string, limit int) ([]pipeline.Execution, error) {
	sqlq := `
	SELECT record
	FROM executions
	WHERE repository = $1
	ORDER BY started_at DESC
	`

	if limit > 0 {
		sqlq += `LIMIT $2`
		return st.queryExecutions(st.rebind(sqlq), identifier, limit)
	}

	return st.queryExecutions(st.rebind(sqlq), identifier)
}

func (st *SQL) queryExecutions(sqlq string, args ...interface{}) ([]pipeline.Execution, error) {
	st.logger.Debug("getting executions")

	rows, err := st.db.Query(sqlq, args...)
	if err != nil {
		st.logger.WithError(err).Debug("unable to query database")
		return nil, err
	}
	defer rows.Close()

	execs := []pipeline.Execution{}
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			st.logger.WithError(err).Debug("unable to scan row")
			return execs, err
		}

		var e pipeline.Execution
		if err := json.Unmarshal([]byte(record), &e); err != nil {
			st.logger.WithError(err).Debug("unable to unmarshal execution")
			return execs, err
		}

		execs = append(execs, e)
	}

	return execs, rows.Err()
}

// CreateUser creates the passed in user in the database.
func (st *SQL) CreateUser(u *User) error {
	logger := st.logger.WithField("email", u.Email)
	logger.Debug("saving user")

	password, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
	if err != nil {
		logger.WithError(err).Debug("unable to encrypt password")
		return err
	}

	sqlq := `
	INSERT INTO users (email, name, password)
	VALUES
		($1, $2, $3)
	ON CONFLICT (email) DO NOTHING
	`

	res, err := st.db.Exec(st.rebind(sqlq), u.Email, u.Name, string(password))
	if err != nil {
		logger.WithError(err).Debug("unable to create user")
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}

	if n == 0 {
		return ErrUserExists
	}

	return nil
}

// Authenticate checks the password for the user with the given email address.
func (st *SQL) Authenticate(email, pass string) error {
	logger := st.logger.WithField("email", email)
	logger.Debug("authenticating user")

	sqlq := `
	SELECT password
	FROM users
	WHERE users.email = $1
	`

	var cryptpass string
	err := st.db.QueryRow(st.rebind(sqlq), email).Scan(&cryptpass)
	if err != nil {
		logger.WithError(err).Debug("unable to query row")
		return ErrNotAuthenticated
	}

	err = bcrypt.CompareHashAndPassword([]byte(cryptpass), []byte(pass))
	if err != nil {
		logger.WithError(err).Debug("unable to authenticate")
		return ErrNotAuthenticated
	}

	return nil
}

package main

import (
	"fmt"
	"io/ioutil"
	"os"
	"strings"

	"github.com/run-ci/pulse/pulsefile"
	"github.com/run-ci/pulse/store"
	yaml "gopkg.in/yaml.v2"
)

func usage() {
	fmt.Println("usage: go run dev/seed-db/main.go -- $STORE $DATA_YAML_PATH")
	fmt.Println()
	fmt.Println("$STORE is a postgres:// connection string or the path of a SQLite file.")
}

type data struct {
	Repos []store.RegisteredRepo `yaml:"repos"`
	Users []store.User           `yaml:"users"`
}

// load reads seed data and checks every Pulsefile in it parses.
func load(buf []byte) (data, error) {
	var d data
	err := yaml.UnmarshalStrict(buf, &d)
	if err != nil {
		return d, fmt.Errorf("loading YAML: %w", err)
	}

	for i, r := range d.Repos {
		if r.Identifier == "" {
			return d, fmt.Errorf("repo %v has no repo_identifier", i)
		}

		if r.Type == "" {
			d.Repos[i].Type = store.RepoGitHub
		}

		if _, err := pulsefile.Parse(r.Pulsefile); err != nil {
			return d, fmt.Errorf("repo %v: %w", r.Identifier, err)
		}
	}

	return d, nil
}

func seed(st store.PulseStore, d data) error {
	for _, r := range d.Repos {
		fmt.Printf("registering %v\n", r.Identifier)

		if err := st.RegisterRepo(r); err != nil {
			return fmt.Errorf("registering %v: %w", r.Identifier, err)
		}
	}

	for _, u := range d.Users {
		fmt.Printf("creating user %v\n", u.Email)

		err := st.CreateUser(&u)
		if err == store.ErrUserExists {
			fmt.Printf("user %v already exists, skipping\n", u.Email)
			continue
		}
		if err != nil {
			return fmt.Errorf("creating user %v: %w", u.Email, err)
		}
	}

	return nil
}

func main() {
	// This is 4 because passing arguments to `go run` requires the `--` and
	// that also counts as one of the arguments in `os.Args`.
	if len(os.Args) != 4 {
		usage()
		os.Exit(1)
	}

	args := os.Args[2:]

	dsn := args[0]
	if dsn == "" {
		usage()
		return
	}

	path := args[1]
	if path == "" {
		usage()
		return
	}

	fmt.Printf("seeding %v with data from %v\n", dsn, path)

	buf, err := ioutil.ReadFile(path)
	if err != nil {
		fmt.Printf("got error reading file: %v\n", err)
		os.Exit(1)
	}

	d, err := load(buf)
	if err != nil {
		fmt.Printf("got error: %v\n", err)
		os.Exit(1)
	}

	var st store.PulseStore
	if strings.HasPrefix(dsn, "postgres://") {
		st, err = store.NewPostgres(dsn)
	} else {
		st, err = store.NewSQLite(dsn)
	}
	if err != nil {
		fmt.Printf("got error opening store: %v\n", err)
		os.Exit(1)
	}
	defer st.Close()

	if err := seed(st, d); err != nil {
		fmt.Printf("got error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("seeded %v repos and %v users\n", len(d.Repos), len(d.Users))
}

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/pulsefile"
)

func TestLocalEvent(t *testing.T) {
	tests := []struct {
		label    string
		kind     string
		repo     string
		tag      string
		fullName string
		branch   string
		wantTag  string
		wantErr  bool
	}{
		{label: "push", kind: "push", repo: "web", fullName: "local/web", branch: "main"},
		{label: "owner given", kind: "push", repo: "acme/web", fullName: "acme/web", branch: "main"},
		{label: "pull request", kind: "pull_request", repo: "web", fullName: "local/web", branch: "main"},
		{label: "tag", kind: "tag", repo: "web", tag: "v1.0.0", fullName: "local/web", wantTag: "v1.0.0"},
		{label: "release without tag", kind: "release", repo: "web", wantErr: true},
		{label: "unknown kind", kind: "deploy", repo: "web", wantErr: true},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			ev, err := localEvent(test.kind, test.repo, "main", test.tag)
			if test.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", ev)
				}
				return
			}
			if err != nil {
				t.Fatalf("got error: %v", err)
			}

			if ev.Repository.FullName != test.fullName {
				t.Errorf("FullName = %q, want %q", ev.Repository.FullName, test.fullName)
			}

			if test.branch != "" && (ev.Branch == nil || *ev.Branch != test.branch) {
				t.Errorf("Branch = %v, want %q", ev.Branch, test.branch)
			}

			if test.wantTag != "" && (ev.Tag == nil || *ev.Tag != test.wantTag) {
				t.Errorf("Tag = %v, want %q", ev.Tag, test.wantTag)
			}
		})
	}
}

func TestLocalEventMatchesTemplate(t *testing.T) {
	def, err := pulsefile.Parse(pulsefile.Template)
	if err != nil {
		t.Fatalf("got error parsing template: %v", err)
	}

	ev, err := localEvent("push", "web", "main", "")
	if err != nil {
		t.Fatalf("got error: %v", err)
	}

	if !def.Triggers.Matches(ev) {
		t.Error("expected a push to main to match the template's triggers")
	}
}

func TestWriteTemplate(t *testing.T) {
	path := filepath.Join(t.TempDir(), pulsefile.DefaultFile)

	if err := writeTemplate(path); err != nil {
		t.Fatalf("got error writing template: %v", err)
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("got error reading template: %v", err)
	}
	if string(buf) != pulsefile.Template {
		t.Error("written file doesn't match the template")
	}

	if err := os.WriteFile(path, []byte("mine"), 0644); err != nil {
		t.Fatalf("got error writing file: %v", err)
	}

	if err := writeTemplate(path); err == nil {
		t.Fatal("expected writing over an existing Pulsefile to fail")
	}

	buf, _ = os.ReadFile(path)
	if string(buf) != "mine" {
		t.Errorf("existing Pulsefile was changed to %q", buf)
	}
}

func TestReadPassword(t *testing.T) {
	t.Setenv("PULSE_PASSWORD", "")

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatalf("got error creating file: %v", err)
	}
	defer f.Close()

	f.WriteString("hunter2\n")
	f.Seek(0, 0)

	pass, err := readPassword(f)
	if err != nil {
		t.Fatalf("got error reading password: %v", err)
	}
	if pass != "hunter2" {
		t.Errorf("password = %q, want %q", pass, "hunter2")
	}

	t.Setenv("PULSE_PASSWORD", "from-env")
	pass, err = readPassword(f)
	if err != nil {
		t.Fatalf("got error reading password: %v", err)
	}
	if pass != "from-env" {
		t.Errorf("password = %q, want %q", pass, "from-env")
	}
}

func TestReadPasswordEmpty(t *testing.T) {
	t.Setenv("PULSE_PASSWORD", "")

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatalf("got error creating file: %v", err)
	}
	defer f.Close()

	if _, err := readPassword(f); err == nil {
		t.Fatal("expected an error for empty stdin")
	}
}

func TestPrintExecution(t *testing.T) {
	start := time.Now().UTC().Add(-time.Minute)
	end := start.Add(1500 * time.Millisecond)
	code := 2

	e := pipeline.Execution{
		ID:           uuid.New(),
		PipelineName: "ci",
		Repository:   pipeline.Repository{FullName: "acme/web"},
		GitEvent: pipeline.GitEvent{
			Kind:   pipeline.EventPush,
			Branch: pipeline.StringPtr("main"),
		},
		Status: pipeline.StatusFailed,
		StepResults: []pipeline.StepResult{
			{StepName: "test", Status: pipeline.StepFailed, Stdout: "running\n", Stderr: "boom\n", ExitCode: &code},
		},
		StartedAt:   start,
		CompletedAt: &end,
	}

	var buf bytes.Buffer
	printExecution(&buf, e, true)
	out := buf.String()

	for _, want := range []string{"acme/web", "push on main", "failed", "1.5s", "--- test", "stderr:\nboom"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	printExecutions(&buf, []pipeline.Execution{e})
	if !strings.Contains(buf.String(), e.ID.String()) {
		t.Errorf("table missing execution ID:\n%s", buf.String())
	}
}

func TestLoadConfigServerOverride(t *testing.T) {
	configPath = filepath.Join(t.TempDir(), "config.toml")
	serverURL = "http://ci.example.com/"
	defer func() {
		configPath = ""
		serverURL = ""
	}()

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("got error loading config: %v", err)
	}

	if cfg.Server.URL != "http://ci.example.com" {
		t.Errorf("Server.URL = %q, want %q", cfg.Server.URL, "http://ci.example.com")
	}
}

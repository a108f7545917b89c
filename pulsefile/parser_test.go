package pulsefile

import (
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/run-ci/pulse/pipeline"
)

func TestParseSimplePipeline(t *testing.T) {
	input := `
pipeline {
  name: "test-pipeline";
  version: "2.1";
  triggers {
    git {
      on_push: true;
      branches: ["main"];
    }
  }
  steps {
    step "test" {
      run: """
        echo "test"
      """;
    }
  }
}
`
	def, err := Parse(input)
	if err != nil {
		t.Fatalf("got error parsing pipeline: %v", err)
	}

	if def.Name != "test-pipeline" {
		t.Fatalf("expected name test-pipeline, got %v", def.Name)
	}

	if def.Version != "2.1" {
		t.Fatalf("expected version 2.1, got %v", def.Version)
	}

	if !def.Triggers.OnPush {
		t.Fatal("expected on_push to be set")
	}

	if !reflect.DeepEqual(def.Triggers.Branches, []string{"main"}) {
		t.Fatalf("expected branches [main], got %v", def.Triggers.Branches)
	}

	if len(def.Steps) != 1 {
		t.Fatalf("expected 1 step, got %v", len(def.Steps))
	}

	expected := pipeline.Step{Name: "test", Run: `echo "test"`}
	if def.Steps[0] != expected {
		t.Fatalf("expected step %+v, got %+v", expected, def.Steps[0])
	}
}

func TestParseAllTriggers(t *testing.T) {
	input := `
pipeline {
  name: "build-and-deploy";
  triggers {
    git {
      on_push: true;
      on_pull_request: true;
      on_merge: true;
      on_tag: true;
      on_release: true;
      on_branch_create: true;
      on_branch_delete: true;
      branches: ["*", "release/*"];
    }
  }
  steps {
    step "install" {
      run: """
        npm install
        pip install -r requirements.txt
      """;
    }
    step "lint" {
      run: """npm run lint""";
      allow_failure: true;
    }
    step "deploy" {
      run: """./deploy.sh""";
      allow_failure: false;
    }
  }
}
`
	def, err := Parse(input)
	if err != nil {
		t.Fatalf("got error parsing pipeline: %v", err)
	}

	for _, k := range pipeline.EventKinds {
		if !def.Triggers.Enabled(k) {
			t.Fatalf("expected %v to be enabled", k)
		}
	}

	if !reflect.DeepEqual(def.Triggers.Branches, []string{"*", "release/*"}) {
		t.Fatalf("expected branches [* release/*], got %v", def.Triggers.Branches)
	}

	names := []string{}
	for _, s := range def.Steps {
		names = append(names, s.Name)
	}
	if !reflect.DeepEqual(names, []string{"install", "lint", "deploy"}) {
		t.Fatalf("expected steps in declared order, got %v", names)
	}

	if def.Steps[0].Run != "npm install\n        pip install -r requirements.txt" {
		t.Fatalf("expected multiline run to keep inner newlines, got %q", def.Steps[0].Run)
	}

	if def.Steps[0].AllowFailure || !def.Steps[1].AllowFailure || def.Steps[2].AllowFailure {
		t.Fatalf("unexpected allow_failure flags: %+v", def.Steps)
	}
}

func TestParseDefaults(t *testing.T) {
	tests := []struct {
		label string
		input string
	}{
		{"empty blocks", "pipeline {\n  triggers {\n    git {\n    }\n  }\n  steps {\n  }\n}\n"},
		{"bare pipeline", "pipeline {}"},
		{"empty name", `pipeline { name: ""; version: ""; }`},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			def, err := Parse(test.input)
			if err != nil {
				t.Fatalf("got error parsing pipeline: %v", err)
			}

			if def.Name != "default" {
				t.Fatalf("expected name default, got %v", def.Name)
			}

			if def.Version != "1.0" {
				t.Fatalf("expected version 1.0, got %v", def.Version)
			}

			if len(def.Steps) != 0 {
				t.Fatalf("expected no steps, got %v", len(def.Steps))
			}

			if !reflect.DeepEqual(def.Triggers, pipeline.DefaultGitTriggers()) {
				t.Fatalf("expected default triggers, got %+v", def.Triggers)
			}
		})
	}
}

func TestParseEmptyBranchList(t *testing.T) {
	def, err := Parse(`pipeline { triggers { git { on_push: true; branches: []; } } }`)
	if err != nil {
		t.Fatalf("got error parsing pipeline: %v", err)
	}

	if def.Triggers.Branches == nil || len(def.Triggers.Branches) != 0 {
		t.Fatalf("expected empty branch list, got %#v", def.Triggers.Branches)
	}
}

func TestParseQuotesInsideMultiline(t *testing.T) {
	input := `
pipeline {
  steps {
    step "step1" {
      run: """echo "step1"""";
    }
    step "step2" {
      run: """echo "step2"""";
      allow_failure: true;
    }
  }
}
`
	def, err := Parse(input)
	if err != nil {
		t.Fatalf("got error parsing pipeline: %v", err)
	}

	if len(def.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %v", len(def.Steps))
	}

	if def.Steps[0].Run != `echo "step1"` {
		t.Fatalf(`expected run echo "step1", got %q`, def.Steps[0].Run)
	}

	if !def.Steps[1].AllowFailure {
		t.Fatal("expected step2 to allow failure")
	}
}

func TestParseIgnoresUnknown(t *testing.T) {
	input := `
# comments are fine
pipeline {
  name: "forward";
  owner: "someone";
  labels: ["a", "b"];
  notify {
    slack { channel: "#ci"; }
  }
  triggers {
    schedule { cron: "0 * * * *"; }
    git {
      on_push: true; // trailing comment
      on_comment: true;
      paths: ["src/*"];
    }
  }
  steps {
    step "build" {
      run: """make""";
      timeout: "10m";
      env { FOO: "bar"; }
    }
    matrix "os" { values: ["linux"]; }
  }
}
`
	def, err := Parse(input)
	if err != nil {
		t.Fatalf("got error parsing pipeline: %v", err)
	}

	if def.Name != "forward" {
		t.Fatalf("expected name forward, got %v", def.Name)
	}

	if !def.Triggers.OnPush {
		t.Fatal("expected on_push to be set")
	}

	if len(def.Steps) != 1 || def.Steps[0].Run != "make" {
		t.Fatalf("expected one step running make, got %+v", def.Steps)
	}
}

func TestParseSkipsNumericFields(t *testing.T) {
	input := `
pipeline {
  retries: 3;
  steps {
    step "build" {
      run: """make""";
      timeout: 30;
      weight: -1.5;
      sizes: [1, 2, 3];
    }
  }
}
`
	def, err := Parse(input)
	if err != nil {
		t.Fatalf("got error parsing pipeline: %v", err)
	}

	if len(def.Steps) != 1 || def.Steps[0].Run != "make" {
		t.Fatalf("expected one step running make, got %+v", def.Steps)
	}
}

func TestParseEmptyRunAndName(t *testing.T) {
	def, err := Parse(`pipeline { steps { step "" { run: """   """; } } }`)
	if err != nil {
		t.Fatalf("got error parsing pipeline: %v", err)
	}

	if len(def.Steps) != 1 {
		t.Fatalf("expected 1 step, got %v", len(def.Steps))
	}

	if def.Steps[0].Name != "" || def.Steps[0].Run != "" {
		t.Fatalf("expected empty step, got %+v", def.Steps[0])
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		label    string
		input    string
		contains string
	}{
		{"empty", "", `expected "pipeline"`},
		{"whitespace", "  \n\t ", `expected "pipeline"`},
		{"missing keyword", `{ name: "x"; }`, `expected "pipeline"`},
		{"wrong keyword", "invalid syntax here", `expected "pipeline"`},
		{"unbalanced", `pipeline { steps { step "a" { run: """x"""; } }`, "never closed"},
		{"extra brace", `pipeline { } }`, "after pipeline block"},
		{"unterminated string", "pipeline {\n  name: \"oops;\n}", "unterminated string"},
		{"unterminated multiline", `pipeline { steps { step "a" { run: """echo; } } }`, `unterminated """`},
		{"missing semicolon", `pipeline { name: "x" }`, "';' after name"},
		{"bad bool", `pipeline { triggers { git { on_push: yes; } } }`, "expected true or false"},
		{"bad branch list", `pipeline { triggers { git { branches: ["a" "b"]; } } }`, "expected ',' or ']'"},
		{"missing run", `pipeline { steps { step "a" { allow_failure: true; } } }`, "has no run field"},
		{"bad character", `pipeline { name: "x"; @ }`, "unexpected character"},
		{"number for string", `pipeline { name: 7; }`, "expected string value for name, found number 7"},
	}

	for _, test := range tests {
		t.Run(test.label, func(t *testing.T) {
			_, err := Parse(test.input)
			if err == nil {
				t.Fatalf("expected parse error for %q", test.input)
			}

			var perr *ParseError
			if !errors.As(err, &perr) {
				t.Fatalf("expected *ParseError, got %T: %v", err, err)
			}

			if !strings.Contains(err.Error(), test.contains) {
				t.Fatalf("expected error containing %q, got %q", test.contains, err.Error())
			}
		})
	}
}

func TestParseErrorLocation(t *testing.T) {
	_, err := Parse("pipeline {\n  name: \"x\";\n  version: 1;\n}")

	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Fatalf("expected *ParseError, got %v", err)
	}

	if perr.Line != 3 || perr.Column != 12 {
		t.Fatalf("expected error at 3:12, got %v:%v", perr.Line, perr.Column)
	}
}

func TestTemplateParses(t *testing.T) {
	def, err := Parse(Template)
	if err != nil {
		t.Fatalf("got error parsing template: %v", err)
	}

	if def.Name != "my-pipeline" {
		t.Fatalf("expected name my-pipeline, got %v", def.Name)
	}

	if len(def.Steps) != 4 {
		t.Fatalf("expected 4 steps, got %v", len(def.Steps))
	}
}

func TestParseFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "Pulsefile")
	if err := os.WriteFile(path, []byte(Template), 0644); err != nil {
		t.Fatalf("got error writing pulsefile: %v", err)
	}

	if _, err := ParseFile(path); err != nil {
		t.Fatalf("got error parsing file: %v", err)
	}

	if _, err := ParseFile(filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

package pulsefile

// DefaultFile is the name a Pulsefile goes by in a repository.
const DefaultFile = "Pulsefile"

// Template is the starter Pulsefile written by `pulse init`.
const Template = `# Pulsefile
pipeline {
  name: "my-pipeline";
  version: "1.0";

  triggers {
    git {
      on_push: true;
      on_pull_request: true;
      branches: ["main", "develop"];
    }
  }

  steps {
    step "install" {
      run: """
        echo "Installing dependencies..."
      """;
    }

    step "test" {
      run: """
        echo "Running tests..."
      """;
    }

    step "lint" {
      run: """
        echo "Linting..."
      """;
      allow_failure: true;
    }

    step "build" {
      run: """
        echo "Building..."
      """;
    }
  }
}
`

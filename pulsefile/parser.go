// Package pulsefile parses the Pulsefile pipeline language.
//
// A Pulsefile holds one pipeline block:
//
//	pipeline {
//	  name: "build";
//	  version: "1.0";
//	  triggers {
//	    git {
//	      on_push: true;
//	      branches: ["main", "feature/*"];
//	    }
//	  }
//	  steps {
//	    step "test" {
//	      run: """
//	        go test ./...
//	      """;
//	      allow_failure: false;
//	    }
//	  }
//	}
//
// Fields and blocks the parser doesn't know about are skipped so older
// versions can read newer files.
package pulsefile

import (
	"fmt"
	"io/ioutil"
	"strings"

	"github.com/run-ci/pulse/pipeline"
	"github.com/sirupsen/logrus"
)

var logger *logrus.Entry

func init() {
	logger = logrus.WithField("package", "pulsefile")
}

// Parse turns Pulsefile source into a pipeline definition. Any syntax
// problem comes back as a *ParseError.
func Parse(src string) (pipeline.Definition, error) {
	toks, err := tokenize(src)
	if err != nil {
		return pipeline.Definition{}, err
	}

	p := &parser{toks: toks}
	raw, err := p.file()
	if err != nil {
		return pipeline.Definition{}, err
	}

	def := raw.resolveDefaults()

	logger.WithFields(logrus.Fields{
		"name":  def.Name,
		"steps": len(def.Steps),
	}).Debug("parsed pulsefile")

	return def, nil
}

// ParseFile reads the file at path and parses it.
func ParseFile(path string) (pipeline.Definition, error) {
	buf, err := ioutil.ReadFile(path)
	if err != nil {
		return pipeline.Definition{}, fmt.Errorf("reading pulsefile: %w", err)
	}

	return Parse(string(buf))
}

// rawPipeline is what the grammar produced before defaults are applied.
// Nil means the field wasn't in the source.
type rawPipeline struct {
	name     *string
	version  *string
	triggers *rawGitTriggers
	steps    []pipeline.Step
}

type rawGitTriggers struct {
	flags    pipeline.GitTriggers
	branches *[]string
}

// resolveDefaults is the one place defaults are filled in.
func (raw rawPipeline) resolveDefaults() pipeline.Definition {
	def := pipeline.Definition{
		Name:     pipeline.DefaultName,
		Version:  pipeline.DefaultVersion,
		Triggers: pipeline.DefaultGitTriggers(),
		Steps:    []pipeline.Step{},
	}

	if raw.name != nil && *raw.name != "" {
		def.Name = *raw.name
	}

	if raw.version != nil && *raw.version != "" {
		def.Version = *raw.version
	}

	if raw.triggers != nil {
		branches := def.Triggers.Branches
		if raw.triggers.branches != nil {
			branches = *raw.triggers.branches
		}

		def.Triggers = raw.triggers.flags
		def.Triggers.Branches = branches
	}

	if raw.steps != nil {
		def.Steps = raw.steps
	}

	return def
}

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token {
	return p.toks[p.pos]
}

func (p *parser) peekAt(off int) token {
	if p.pos+off >= len(p.toks) {
		return p.toks[len(p.toks)-1]
	}
	return p.toks[p.pos+off]
}

func (p *parser) next() token {
	tok := p.toks[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) errorf(tok token, format string, args ...interface{}) error {
	return &ParseError{
		Line:   tok.line,
		Column: tok.col,
		Msg:    fmt.Sprintf(format, args...),
	}
}

func (p *parser) unclosed(tok token, block string) error {
	return p.errorf(tok, "unbalanced braces: %v block is never closed", block)
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	tok := p.next()
	if tok.kind != kind {
		return tok, p.errorf(tok, "expected %v, found %v", what, tok.describe())
	}
	return tok, nil
}

func (p *parser) file() (rawPipeline, error) {
	var raw rawPipeline

	tok := p.next()
	if tok.kind != tokIdent || tok.text != "pipeline" {
		return raw, p.errorf(tok, `expected "pipeline", found %v`, tok.describe())
	}

	if _, err := p.expect(tokLBrace, "'{' after pipeline"); err != nil {
		return raw, err
	}

	for {
		tok := p.peek()
		if tok.kind == tokRBrace {
			p.next()
			break
		}

		if tok.kind == tokEOF {
			return raw, p.unclosed(tok, "pipeline")
		}

		if tok.kind != tokIdent {
			return raw, p.errorf(tok, "expected field or block in pipeline, found %v", tok.describe())
		}

		var err error
		switch {
		case tok.text == "name" && p.peekAt(1).kind == tokColon:
			raw.name, err = p.stringField()
		case tok.text == "version" && p.peekAt(1).kind == tokColon:
			raw.version, err = p.stringField()
		case tok.text == "triggers" && p.peekAt(1).kind == tokLBrace:
			raw.triggers, err = p.triggers(raw.triggers)
		case tok.text == "steps" && p.peekAt(1).kind == tokLBrace:
			raw.steps, err = p.steps(raw.steps)
		default:
			err = p.skipUnknown()
		}
		if err != nil {
			return raw, err
		}
	}

	if tok := p.next(); tok.kind != tokEOF {
		return raw, p.errorf(tok, "unexpected %v after pipeline block", tok.describe())
	}

	return raw, nil
}

// stringField parses `ident: "value";`.
func (p *parser) stringField() (*string, error) {
	name := p.next()
	p.next() // colon

	tok := p.next()
	if tok.kind != tokString && tok.kind != tokMultiline {
		return nil, p.errorf(tok, "expected string value for %v, found %v", name.text, tok.describe())
	}

	if _, err := p.expect(tokSemicolon, fmt.Sprintf("';' after %v", name.text)); err != nil {
		return nil, err
	}

	val := tok.text
	return &val, nil
}

// boolField parses `ident: true|false;`.
func (p *parser) boolField() (bool, error) {
	name := p.next()
	p.next() // colon

	tok := p.next()
	if tok.kind != tokIdent || (tok.text != "true" && tok.text != "false") {
		return false, p.errorf(tok, "expected true or false for %v, found %v", name.text, tok.describe())
	}

	if _, err := p.expect(tokSemicolon, fmt.Sprintf("';' after %v", name.text)); err != nil {
		return false, err
	}

	return tok.text == "true", nil
}

func (p *parser) triggers(prev *rawGitTriggers) (*rawGitTriggers, error) {
	p.next() // triggers
	p.next() // {

	git := prev
	for {
		tok := p.peek()
		if tok.kind == tokRBrace {
			p.next()
			return git, nil
		}

		if tok.kind == tokEOF {
			return nil, p.unclosed(tok, "triggers")
		}

		if tok.kind != tokIdent {
			return nil, p.errorf(tok, "expected trigger source in triggers, found %v", tok.describe())
		}

		if tok.text == "git" && p.peekAt(1).kind == tokLBrace {
			var err error
			git, err = p.gitTriggers()
			if err != nil {
				return nil, err
			}
			continue
		}

		if err := p.skipUnknown(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) gitTriggers() (*rawGitTriggers, error) {
	p.next() // git
	p.next() // {

	git := &rawGitTriggers{}
	flags := map[string]*bool{
		"on_push":          &git.flags.OnPush,
		"on_pull_request":  &git.flags.OnPullRequest,
		"on_merge":         &git.flags.OnMerge,
		"on_tag":           &git.flags.OnTag,
		"on_release":       &git.flags.OnRelease,
		"on_branch_create": &git.flags.OnBranchCreate,
		"on_branch_delete": &git.flags.OnBranchDelete,
	}

	for {
		tok := p.peek()
		if tok.kind == tokRBrace {
			p.next()
			return git, nil
		}

		if tok.kind == tokEOF {
			return nil, p.unclosed(tok, "git")
		}

		if tok.kind != tokIdent {
			return nil, p.errorf(tok, "expected field in git triggers, found %v", tok.describe())
		}

		if p.peekAt(1).kind == tokColon {
			if flag, ok := flags[tok.text]; ok {
				val, err := p.boolField()
				if err != nil {
					return nil, err
				}
				*flag = val
				continue
			}

			if tok.text == "branches" {
				branches, err := p.branchList()
				if err != nil {
					return nil, err
				}
				git.branches = &branches
				continue
			}
		}

		if err := p.skipUnknown(); err != nil {
			return nil, err
		}
	}
}

// branchList parses `branches: ["a", "b"];`. An empty list is allowed and
// matches no branch.
func (p *parser) branchList() ([]string, error) {
	p.next() // branches
	p.next() // colon

	if _, err := p.expect(tokLBracket, "'[' to open branch list"); err != nil {
		return nil, err
	}

	branches := []string{}
	for {
		tok := p.next()
		if tok.kind == tokRBracket {
			break
		}

		if tok.kind != tokString {
			return nil, p.errorf(tok, "expected branch pattern string, found %v", tok.describe())
		}
		branches = append(branches, tok.text)

		sep := p.next()
		if sep.kind == tokRBracket {
			break
		}
		if sep.kind != tokComma {
			return nil, p.errorf(sep, "expected ',' or ']' in branch list, found %v", sep.describe())
		}
	}

	if _, err := p.expect(tokSemicolon, "';' after branch list"); err != nil {
		return nil, err
	}

	return branches, nil
}

func (p *parser) steps(prev []pipeline.Step) ([]pipeline.Step, error) {
	p.next() // steps
	p.next() // {

	steps := prev
	if steps == nil {
		steps = []pipeline.Step{}
	}

	for {
		tok := p.peek()
		if tok.kind == tokRBrace {
			p.next()
			return steps, nil
		}

		if tok.kind == tokEOF {
			return nil, p.unclosed(tok, "steps")
		}

		if tok.kind != tokIdent {
			return nil, p.errorf(tok, "expected step in steps, found %v", tok.describe())
		}

		if tok.text == "step" && (p.peekAt(1).kind == tokString || p.peekAt(1).kind == tokLBrace) {
			step, err := p.step()
			if err != nil {
				return nil, err
			}
			steps = append(steps, step)
			continue
		}

		if err := p.skipUnknown(); err != nil {
			return nil, err
		}
	}
}

func (p *parser) step() (pipeline.Step, error) {
	var step pipeline.Step

	kw := p.next() // step
	if p.peek().kind == tokString {
		step.Name = p.next().text
	}

	if _, err := p.expect(tokLBrace, fmt.Sprintf("'{' to open step %q", step.Name)); err != nil {
		return step, err
	}

	hasRun := false
	for {
		tok := p.peek()
		if tok.kind == tokRBrace {
			p.next()
			break
		}

		if tok.kind == tokEOF {
			return step, p.unclosed(tok, fmt.Sprintf("step %q", step.Name))
		}

		if tok.kind != tokIdent {
			return step, p.errorf(tok, "expected field in step %q, found %v", step.Name, tok.describe())
		}

		switch {
		case tok.text == "run" && p.peekAt(1).kind == tokColon:
			run, err := p.stringField()
			if err != nil {
				return step, err
			}
			step.Run = strings.TrimSpace(*run)
			hasRun = true
		case tok.text == "allow_failure" && p.peekAt(1).kind == tokColon:
			val, err := p.boolField()
			if err != nil {
				return step, err
			}
			step.AllowFailure = val
		default:
			if err := p.skipUnknown(); err != nil {
				return step, err
			}
		}
	}

	if !hasRun {
		return step, p.errorf(kw, "step %q has no run field", step.Name)
	}

	return step, nil
}

// skipUnknown consumes a field or block the parser doesn't understand.
// Fields look like `ident: value;` where value may be a list. Blocks look
// like `ident ["label"...] { ... }` and may nest.
func (p *parser) skipUnknown() error {
	name := p.next()

	if p.peek().kind == tokColon {
		p.next()
		depth := 0
		for {
			tok := p.next()
			switch tok.kind {
			case tokEOF:
				return p.errorf(name, "unterminated field %v", name.text)
			case tokLBracket:
				depth++
			case tokRBracket:
				depth--
			case tokLBrace, tokRBrace:
				return p.errorf(tok, "expected ';' after field %v, found %v", name.text, tok.describe())
			case tokSemicolon:
				if depth <= 0 {
					logger.WithField("field", name.text).Debug("skipping unknown field")
					return nil
				}
			}
		}
	}

	for p.peek().kind == tokString || p.peek().kind == tokIdent {
		p.next()
	}

	if _, err := p.expect(tokLBrace, fmt.Sprintf("':' or '{' after %v", name.text)); err != nil {
		return err
	}

	depth := 1
	for depth > 0 {
		tok := p.next()
		switch tok.kind {
		case tokEOF:
			return p.errorf(name, "unbalanced braces: block %v is never closed", name.text)
		case tokLBrace:
			depth++
		case tokRBrace:
			depth--
		}
	}

	logger.WithField("block", name.text).Debug("skipping unknown block")
	return nil
}

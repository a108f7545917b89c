package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/run-ci/pulse/client"
	"github.com/run-ci/pulse/config"
	"github.com/run-ci/pulse/github"
	"github.com/run-ci/pulse/pipeline"
	"github.com/run-ci/pulse/pulsefile"
	"github.com/run-ci/pulse/runner"
	"github.com/run-ci/pulse/store"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var errPipelineFailed = errors.New("pipeline failed")

var (
	runPulsefile  string
	runRepo       string
	runBranch     string
	runTag        string
	runEvent      string
	runWorkdir    string
	listLocal     bool
	statusLocal   bool
	repoPulsefile string
	repoType      string
	statusLimit   int
)

func init() {
	// health command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "health",
		Short: "Check that the API server is up",
		Args:  cobra.NoArgs,
		RunE:  runHealth,
	})

	// init command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Write a template Pulsefile to the current directory",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	})

	// validate command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate [FILE]",
		Short: "Check that a Pulsefile parses",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runValidate,
	})

	// run command
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a pipeline locally",
		Args:  cobra.NoArgs,
		RunE:  runRun,
	}
	runCmd.Flags().StringVar(&runPulsefile, "pulsefile", pulsefile.DefaultFile, "Pulsefile to run")
	runCmd.Flags().StringVar(&runRepo, "repo", "", "repository name, defaults to local/<workdir>")
	runCmd.Flags().StringVar(&runBranch, "branch", "main", "branch the event happened on")
	runCmd.Flags().StringVar(&runTag, "tag", "", "tag for tag and release events")
	runCmd.Flags().StringVar(&runEvent, "event", string(pipeline.EventPush), "event kind to simulate")
	runCmd.Flags().StringVar(&runWorkdir, "workdir", ".", "directory steps run in")
	rootCmd.AddCommand(runCmd)

	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List executions",
		Args:  cobra.NoArgs,
		RunE:  runList,
	}
	listCmd.Flags().BoolVar(&listLocal, "local", false, "list local executions instead of the server's")
	rootCmd.AddCommand(listCmd)

	// status command
	statusCmd := &cobra.Command{
		Use:   "status ID",
		Short: "Show an execution",
		Args:  cobra.ExactArgs(1),
		RunE:  runStatus,
	}
	statusCmd.Flags().BoolVar(&statusLocal, "local", false, "look the execution up in the local history")
	rootCmd.AddCommand(statusCmd)

	// repo commands
	repoCmd := &cobra.Command{
		Use:   "repo",
		Short: "Manage registered repositories",
	}
	repoAddCmd := &cobra.Command{
		Use:   "add URL",
		Short: "Register a repository with its Pulsefile",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoAdd,
	}
	repoAddCmd.Flags().StringVar(&repoPulsefile, "pulsefile", pulsefile.DefaultFile, "Pulsefile to upload")
	repoAddCmd.Flags().StringVar(&repoType, "type", string(store.RepoGitHub), "repository type")
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(&cobra.Command{
		Use:   "remove URL",
		Short: "Unregister a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runRepoRemove,
	})
	rootCmd.AddCommand(repoCmd)

	// pipeline commands
	pipelineCmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Inspect a repository's pipeline runs",
	}
	pipelineStatusCmd := &cobra.Command{
		Use:   "status REPO",
		Short: "Show the most recent executions for a repository",
		Args:  cobra.ExactArgs(1),
		RunE:  runPipelineStatus,
	}
	pipelineStatusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of executions to show")
	pipelineCmd.AddCommand(pipelineStatusCmd)
	pipelineCmd.AddCommand(&cobra.Command{
		Use:   "logs REPO RUN_ID",
		Short: "Show the step output of an execution",
		Args:  cobra.ExactArgs(2),
		RunE:  runPipelineLogs,
	})
	rootCmd.AddCommand(pipelineCmd)

	// login command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "login EMAIL",
		Short: "Get an API token and save it in the config file",
		Args:  cobra.ExactArgs(1),
		RunE:  runLogin,
	})
}

func configFile() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile())
	if err != nil {
		return nil, err
	}

	if serverURL != "" {
		cfg.Server.URL = strings.TrimSuffix(serverURL, "/")
	}

	return cfg, nil
}

func newClient() (*client.Client, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	return client.New(cfg.Server.URL, cfg.Auth.Token), nil
}

// openHistory opens the local execution history. It returns a nil store
// when the history is disabled.
func openHistory(cfg *config.Config) (*store.SQL, error) {
	if cfg.Local.DatabasePath == "" {
		return nil, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Local.DatabasePath), 0700); err != nil {
		return nil, err
	}

	return store.NewSQLite(cfg.Local.DatabasePath)
}

func runHealth(cmd *cobra.Command, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	status, err := c.Health(cmd.Context())
	if err != nil {
		return err
	}

	fmt.Println(status)
	return nil
}

func runInit(cmd *cobra.Command, args []string) error {
	if err := writeTemplate(pulsefile.DefaultFile); err != nil {
		return err
	}

	fmt.Printf("Wrote %s\n", pulsefile.DefaultFile)
	return nil
}

// writeTemplate writes the template Pulsefile to path. It never replaces
// an existing file.
func writeTemplate(path string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if os.IsExist(err) {
		return fmt.Errorf("%s already exists", path)
	}
	if err != nil {
		return err
	}

	if _, err := io.WriteString(f, pulsefile.Template); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

func runValidate(cmd *cobra.Command, args []string) error {
	path := pulsefile.DefaultFile
	if len(args) > 0 {
		path = args[0]
	}

	def, err := pulsefile.ParseFile(path)
	if err != nil {
		return err
	}

	fmt.Printf("%s is valid\n", path)
	printDefinition(os.Stdout, def)
	return nil
}

func printDefinition(w io.Writer, def pipeline.Definition) {
	enabled := []string{}
	for _, k := range pipeline.EventKinds {
		if def.Triggers.Enabled(k) {
			enabled = append(enabled, string(k))
		}
	}
	if len(enabled) == 0 {
		enabled = append(enabled, "none")
	}

	fmt.Fprintf(w, "  pipeline: %s (version %s)\n", def.Name, def.Version)
	fmt.Fprintf(w, "  triggers: %s\n", strings.Join(enabled, ", "))
	fmt.Fprintf(w, "  branches: [%s]\n", strings.Join(def.Triggers.Branches, ", "))
	fmt.Fprintf(w, "  steps:    %d\n", len(def.Steps))

	for i, s := range def.Steps {
		allow := ""
		if s.AllowFailure {
			allow = " (failure allowed)"
		}
		fmt.Fprintf(w, "    %d. %s%s\n", i+1, s.Name, allow)
	}
}

// localEvent builds the event `pulse run` simulates.
func localEvent(kind, repo, branch, tag string) (pipeline.GitEvent, error) {
	k, err := pipeline.ParseEventKind(kind)
	if err != nil {
		return pipeline.GitEvent{}, err
	}

	owner, name := "local", repo
	if i := strings.Index(repo, "/"); i >= 0 {
		owner, name = repo[:i], repo[i+1:]
	}

	ev := pipeline.GitEvent{
		Kind: k,
		Repository: pipeline.Repository{
			Owner:         owner,
			Name:          name,
			FullName:      owner + "/" + name,
			DefaultBranch: branch,
		},
		Sender: "local",
	}

	switch k {
	case pipeline.EventTag, pipeline.EventRelease:
		if tag == "" {
			return pipeline.GitEvent{}, fmt.Errorf("%v events need a --tag", k)
		}
		ev.Tag = pipeline.StringPtr(tag)
	case pipeline.EventPullRequest:
		ev.Branch = pipeline.StringPtr(branch)
		ev.PullRequest = &pipeline.PullRequest{
			BaseBranch: branch,
			State:      "open",
		}
	default:
		ev.Branch = pipeline.StringPtr(branch)
	}

	return ev, nil
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	def, err := pulsefile.ParseFile(runPulsefile)
	if err != nil {
		return err
	}

	workdir, err := filepath.Abs(runWorkdir)
	if err != nil {
		return err
	}

	repo := runRepo
	if repo == "" {
		repo = filepath.Base(workdir)
	}

	ev, err := localEvent(runEvent, repo, runBranch, runTag)
	if err != nil {
		return err
	}

	fmt.Printf("Running %s (version %s) for %s on %s\n", def.Name, def.Version, ev.Kind, ev.Repository.FullName)

	e := runner.NewEngine(workdir).Execute(def, ev)
	printExecution(os.Stdout, e, true)

	history, err := openHistory(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "unable to open local history: %v\n", err)
	} else if history != nil {
		defer history.Close()
		if err := history.SaveExecution(e); err != nil {
			fmt.Fprintf(os.Stderr, "unable to save execution: %v\n", err)
		}
	}

	if e.Failed() {
		return errPipelineFailed
	}
	return nil
}

func runList(cmd *cobra.Command, args []string) error {
	var execs []pipeline.Execution

	if listLocal {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		history, err := openHistory(cfg)
		if err != nil {
			return err
		}
		if history == nil {
			return errors.New("local history is disabled")
		}
		defer history.Close()

		execs, err = history.ListExecutions()
		if err != nil {
			return err
		}
	} else {
		c, err := newClient()
		if err != nil {
			return err
		}

		execs, err = c.ListExecutions(cmd.Context())
		if err != nil {
			return err
		}
	}

	if len(execs) == 0 {
		fmt.Println("No executions")
		return nil
	}

	printExecutions(os.Stdout, execs)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	id, err := uuid.Parse(args[0])
	if err != nil {
		return fmt.Errorf("invalid execution ID %q", args[0])
	}

	var e pipeline.Execution
	if statusLocal {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		history, err := openHistory(cfg)
		if err != nil {
			return err
		}
		if history == nil {
			return errors.New("local history is disabled")
		}
		defer history.Close()

		e, err = history.GetExecution(id)
		if err != nil {
			return err
		}
	} else {
		e, err = getExecution(cmd.Context(), id)
		if err != nil {
			return err
		}
	}

	printExecution(os.Stdout, e, false)
	return nil
}

func getExecution(ctx context.Context, id uuid.UUID) (pipeline.Execution, error) {
	c, err := newClient()
	if err != nil {
		return pipeline.Execution{}, err
	}

	e, err := c.GetExecution(ctx, id)
	if err == client.ErrNotFound {
		return e, fmt.Errorf("execution %v not found", id)
	}
	return e, err
}

func runRepoAdd(cmd *cobra.Command, args []string) error {
	identifier, err := github.Identifier(args[0])
	if err != nil {
		return err
	}

	buf, err := os.ReadFile(repoPulsefile)
	if err != nil {
		return err
	}

	// Catch mistakes before the server does.
	if _, err := pulsefile.Parse(string(buf)); err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	id, err := c.RegisterRepo(cmd.Context(), store.RegisteredRepo{
		URL:        args[0],
		Identifier: identifier,
		Pulsefile:  string(buf),
		Type:       store.RepoType(repoType),
	})
	if err != nil {
		return err
	}

	fmt.Printf("Registered %s\n", id)
	return nil
}

func runRepoRemove(cmd *cobra.Command, args []string) error {
	identifier, err := github.Identifier(args[0])
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	err = c.UnregisterRepo(cmd.Context(), identifier)
	if err == client.ErrNotFound {
		return fmt.Errorf("%s isn't registered", identifier)
	}
	if err != nil {
		return err
	}

	fmt.Printf("Unregistered %s\n", identifier)
	return nil
}

func runPipelineStatus(cmd *cobra.Command, args []string) error {
	identifier, err := github.Identifier(args[0])
	if err != nil {
		return err
	}

	c, err := newClient()
	if err != nil {
		return err
	}

	execs, err := c.PipelineStatus(cmd.Context(), identifier, statusLimit)
	if err == client.ErrNotFound {
		return fmt.Errorf("%s has no executions and isn't registered", identifier)
	}
	if err != nil {
		return err
	}

	if len(execs) == 0 {
		fmt.Printf("No executions for %s\n", identifier)
		return nil
	}

	printExecutions(os.Stdout, execs)
	return nil
}

func runPipelineLogs(cmd *cobra.Command, args []string) error {
	identifier, err := github.Identifier(args[0])
	if err != nil {
		return err
	}

	id, err := uuid.Parse(args[1])
	if err != nil {
		return fmt.Errorf("invalid run ID %q", args[1])
	}

	e, err := getExecution(cmd.Context(), id)
	if err != nil {
		return err
	}

	if !strings.EqualFold(e.Repository.FullName, identifier) {
		return fmt.Errorf("execution %v belongs to %s, not %s", id, e.Repository.FullName, identifier)
	}

	printExecution(os.Stdout, e, true)
	return nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	password, err := readPassword(os.Stdin)
	if err != nil {
		return err
	}

	c := client.New(cfg.Server.URL, "")
	token, err := c.Login(cmd.Context(), args[0], password)
	if err != nil {
		return err
	}

	cfg.Auth.Email = args[0]
	cfg.Auth.Token = token

	if err := config.Save(configFile(), cfg); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", args[0])
	return nil
}

// readPassword takes the password from PULSE_PASSWORD, then an echo-less
// terminal prompt, then the first line of stdin.
func readPassword(stdin *os.File) (string, error) {
	if pass := os.Getenv("PULSE_PASSWORD"); pass != "" {
		return pass, nil
	}

	fd := int(stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, "Password: ")
		buf, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(buf), nil
	}

	line, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return "", fmt.Errorf("reading password: %w", err)
	}

	pass := strings.TrimRight(line, "\r\n")
	if pass == "" {
		return "", errors.New("no password given, set PULSE_PASSWORD or pipe it on stdin")
	}
	return pass, nil
}

func printExecutions(w io.Writer, execs []pipeline.Execution) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tREPOSITORY\tPIPELINE\tEVENT\tSTATUS\tSTARTED\tDURATION")
	for _, e := range execs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			e.ID, e.Repository.FullName, e.PipelineName, e.GitEvent.Kind,
			e.Status, humanize.Time(e.StartedAt), duration(e))
	}
	tw.Flush()
}

// printExecution writes a summary of e, followed by every step's output
// when logs is set.
func printExecution(w io.Writer, e pipeline.Execution, logs bool) {
	fmt.Fprintf(w, "Execution %s\n", e.ID)
	fmt.Fprintf(w, "  pipeline:   %s (version %s)\n", e.PipelineName, e.PipelineVersion)
	fmt.Fprintf(w, "  repository: %s\n", e.Repository.FullName)
	fmt.Fprintf(w, "  event:      %s\n", describeEvent(e.GitEvent))
	fmt.Fprintf(w, "  status:     %s\n", e.Status)
	fmt.Fprintf(w, "  started:    %s (%s)\n", e.StartedAt.Local().Format(time.RFC1123), humanize.Time(e.StartedAt))
	fmt.Fprintf(w, "  duration:   %s\n", duration(e))

	if len(e.StepResults) == 0 {
		return
	}

	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "STEP\tSTATUS\tEXIT\tDURATION")
	for _, res := range e.StepResults {
		code := "-"
		if res.ExitCode != nil {
			code = fmt.Sprint(*res.ExitCode)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", res.StepName, res.Status, code,
			time.Duration(res.DurationMS)*time.Millisecond)
	}
	tw.Flush()

	if !logs {
		return
	}

	for _, res := range e.StepResults {
		fmt.Fprintf(w, "\n--- %s\n", res.StepName)
		if res.Stdout != "" {
			fmt.Fprintln(w, strings.TrimRight(res.Stdout, "\n"))
		}
		if res.Stderr != "" {
			fmt.Fprintf(w, "stderr:\n%s\n", strings.TrimRight(res.Stderr, "\n"))
		}
	}
}

func describeEvent(ev pipeline.GitEvent) string {
	s := string(ev.Kind)
	switch {
	case ev.Tag != nil:
		s += " " + *ev.Tag
	case ev.Branch != nil:
		s += " on " + *ev.Branch
	}
	if ev.PullRequest != nil && ev.PullRequest.Number > 0 {
		s += fmt.Sprintf(" (#%d)", ev.PullRequest.Number)
	}
	return s
}

func duration(e pipeline.Execution) string {
	if e.CompletedAt == nil {
		return "-"
	}
	return e.CompletedAt.Sub(e.StartedAt).Round(time.Millisecond).String()
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/yalochat/sdlc-assistant/internal/engine"
	"github.com/yalochat/sdlc-assistant/internal/tui"
)

var (
	runManifest string
	runAuto     bool
	runLogFile  string
	runExportTo string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Walk a run in the terminal",
	Long: `Start a run in the terminal decision surface.

With --manifest the problem statement (and an optional GitHub target) is read
from a YAML file. Adding --auto approves every stage without prompting,
publishes when the manifest names a repo and writes the artifacts to
--export-dir at the end.`,
	RunE: runInteractive,
}

func init() {
	runCmd.Flags().StringVar(&runManifest, "manifest", "", "Run manifest (YAML with input and github.repo)")
	runCmd.Flags().BoolVar(&runAuto, "auto", false, "Approve every stage without the terminal UI")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Write logs to this file (the UI owns the terminal)")
	runCmd.Flags().StringVar(&runExportTo, "export-dir", "", "With --auto, write the finished artifacts here")
}

func runInteractive(cmd *cobra.Command, args []string) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var manifest *engine.Manifest
	if runManifest != "" {
		m, err := engine.LoadManifest(runManifest)
		if err != nil {
			return err
		}
		manifest = m
	}

	logOut, closeLog, err := openLogFile(runLogFile)
	if err != nil {
		return err
	}
	defer closeLog()
	if runAuto && runLogFile == "" {
		logOut = os.Stderr
	}

	a, err := newApp(logOut)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.newEngine()
	if err != nil {
		return err
	}

	if runAuto {
		if manifest == nil {
			return fmt.Errorf("--auto needs --manifest")
		}
		return autoRun(ctx, a, eng, manifest)
	}

	defaults := tui.PublishDefaults{
		Repo:   a.cfg.GitHub.Repo,
		Token:  a.cfg.GitHub.Token,
		Branch: a.cfg.GitHub.Branch,
	}
	if manifest != nil {
		if manifest.GitHub.Repo != "" {
			defaults.Repo = manifest.GitHub.Repo
		}
		if manifest.GitHub.Branch != "" {
			defaults.Branch = manifest.GitHub.Branch
		}
		v, err := eng.Decide(ctx, engine.SubmitInput(manifest.Input))
		if err != nil {
			printView(v)
		}
	}
	if defaults.Repo != "" && defaults.Token == "" {
		token, err := promptSecret("GitHub token for " + defaults.Repo + " (enter to skip): ")
		if err != nil {
			return err
		}
		defaults.Token = token
	}

	return tui.Run(ctx, eng, defaults)
}

// autoRun approves every stage, publishing at Deployment when a repo is set.
func autoRun(ctx context.Context, a *app, eng *engine.Engine, m *engine.Manifest) error {
	v, err := eng.Decide(ctx, engine.SubmitInput(m.Input))
	printView(v)
	if err != nil {
		return err
	}

	terminal := eng.Registry().Terminal().Name
	for v.Stage != terminal {
		d := engine.Approve()
		if v.Stage == engine.StageDeployment && m.GitHub.Repo != "" {
			d = engine.Publish(engine.PublishTarget{
				Repo:       m.GitHub.Repo,
				Credential: a.cfg.GitHub.Token,
				Branch:     m.GitHub.Branch,
			})
		}
		v, err = eng.Decide(ctx, d)
		printView(v)
		if err != nil {
			return err
		}
	}

	usage := eng.Metrics.Snapshot()
	printStatus("✓", fmt.Sprintf("Run %s finished: %d tokens in, %d tokens out", v.RunID, usage.TokensIn, usage.TokensOut), color.FgGreen)

	if runExportTo == "" {
		return nil
	}
	files, err := eng.Export()
	if err != nil {
		return err
	}
	return writeExport(runExportTo, files)
}

// promptSecret reads a line without echo when stdin is a terminal.
func promptSecret(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", nil
	}
	fmt.Fprint(os.Stderr, prompt)
	b, err := term.ReadPassword(fd)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("read secret: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

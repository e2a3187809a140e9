// Package commands provides the CLI commands for stratum.
package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/config"
	"github.com/dshills/stratum/internal/logging"
	"github.com/dshills/stratum/internal/staging"
	"github.com/dshills/stratum/internal/store"
	"github.com/dshills/stratum/internal/txn"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "dev"
)

// globalOptions holds the persistent flags.
type globalOptions struct {
	root          string
	logLevel      string
	activeMode    string
	activeScope   string
	activeProject string
}

// app is the state shared by every command once the root command has
// loaded the configuration.
type app struct {
	opts globalOptions

	fs        afero.Fs
	openStore func(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error)

	cfg     *config.Config
	log     zerolog.Logger
	store   store.Store
	journal *txn.Journal
	index   *staging.FileIndex
}

func openGitStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.Store, error) {
	return store.InitGit(ctx, cfg.RepoDir,
		store.WithAuthor(cfg.Author, cfg.AuthorEmail),
		store.WithLogger(log),
	)
}

// Execute runs the root command.
func Execute(ctx context.Context) error {
	a := &app{fs: afero.NewOsFs(), openStore: openGitStore}
	return newRootCmd(a).ExecuteContext(ctx)
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "stratum",
		Short: "Layered configuration kept in git",
		Long: `stratum keeps configuration files in nine precedence layers (global,
mode, scope, project, local ...) stored as git refs, and merges the layers
active for the current mode, scope and project into one workspace.

Stage files with 'stratum add', record them with 'stratum commit' and
write the merged result with 'stratum apply'.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.opts.root, "root", "", "Workspace root (default $STRATUM_ROOT or the current directory)")
	root.PersistentFlags().StringVar(&a.opts.logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")
	root.PersistentFlags().StringVar(&a.opts.activeMode, "active-mode", "", "Active mode for this run")
	root.PersistentFlags().StringVar(&a.opts.activeScope, "active-scope", "", "Active scope for this run")
	root.PersistentFlags().StringVar(&a.opts.activeProject, "active-project", "", "Active project for this run")

	root.SetVersionTemplate(fmt.Sprintf("stratum %s (%s)\n", Version, BuildTime))

	root.AddCommand(
		newRouteCmd(a),
		newAddCmd(a),
		newStatusCmd(a),
		newCommitCmd(a),
		newApplyCmd(a),
		newShowCmd(a),
		newPullMergeCmd(a),
		newRecoverCmd(a),
		newResolveCmd(a),
	)
	return root
}

// setup loads the configuration, initialises logging and opens the store.
func (a *app) setup(cmd *cobra.Command) error {
	root, err := a.resolveRoot()
	if err != nil {
		return err
	}

	cfg, err := config.Load(a.fs, root)
	if err != nil {
		return err
	}
	cfg.Override(config.Overrides{
		Mode:     a.opts.activeMode,
		Scope:    a.opts.activeScope,
		Project:  a.opts.activeProject,
		LogLevel: a.opts.logLevel,
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	errOut := cmd.ErrOrStderr()
	logCfg := logging.DefaultConfig()
	logCfg.Level = cfg.Level()
	logCfg.Output = errOut
	logCfg.Pretty = logging.IsTerminal(errOut)
	a.log = logging.Init(logCfg)
	for _, name := range config.NewEnvLoader(config.EnvPrefix).Unknown() {
		logging.Warn().Str("variable", name).Msg("ignoring unknown environment variable")
	}

	a.store, err = a.openStore(cmd.Context(), cfg, a.log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.journal = txn.NewJournal(a.fs, cfg.StateDir)
	a.index = staging.NewFileIndex(a.fs, cfg.StateDir)

	logging.Debug().
		Str("root", cfg.Root).
		Str("repo", cfg.RepoDir).
		Str("context", cfg.Context().String()).
		Msg("configuration loaded")
	return nil
}

func (a *app) resolveRoot() (string, error) {
	if a.opts.root != "" {
		return a.opts.root, nil
	}
	if root := config.RootFromEnv(); root != "" {
		return root, nil
	}
	return os.Getwd()
}

// recover resolves transaction logs left by an interrupted run. Mutating
// commands call it first.
func (a *app) recover(ctx context.Context, out io.Writer) error {
	report, err := txn.Recover(ctx, a.store, a.journal, a.log)
	if err != nil {
		return err
	}
	for _, id := range report.Replayed {
		fmt.Fprintf(out, "recovered interrupted transaction %s\n", id)
	}
	for _, id := range report.Discarded {
		logging.Info().Str("txn", id).Msg("discarded stale transaction log")
	}
	return nil
}

// workspacePath maps a path given on the command line to a tree path
// relative to the workspace root.
func (a *app) workspacePath(arg string) (string, error) {
	p := arg
	if !filepath.IsAbs(p) {
		cwd, err := os.Getwd()
		if err != nil {
			return "", err
		}
		abs := filepath.Join(cwd, p)
		if rel, err := filepath.Rel(a.cfg.Root, abs); err == nil && !isOutside(rel) {
			p = rel
		}
	} else {
		rel, err := filepath.Rel(a.cfg.Root, p)
		if err != nil || isOutside(rel) {
			return "", fmt.Errorf("%s is outside the workspace %s", arg, a.cfg.Root)
		}
		p = rel
	}
	return store.CleanPath(filepath.ToSlash(p))
}

func isOutside(rel string) bool {
	return rel == ".." || len(rel) > 2 && rel[:3] == ".."+string(filepath.Separator)
}

// target returns the on-disk location of a tree path.
func (a *app) target(path string) string {
	return filepath.Join(a.cfg.Root, filepath.FromSlash(path))
}

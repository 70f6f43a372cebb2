// Package main provides the termit CLI entry point.
// termit anchors vocabulary terms to the text of annotated files and manages
// the lifecycle of the resulting term occurrences.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/MichalMed/termit/cmd"
	"github.com/MichalMed/termit/config"
	"github.com/MichalMed/termit/pkg/buildinfo"
	"github.com/MichalMed/termit/pkg/logging"
)

// Global flags.
type rootFlags struct {
	configDir    string
	outputFormat string
	store        string
	metricsAddr  string
	debug        bool
}

// overrides applies the global flags to a loaded configuration.
func (f *rootFlags) overrides(cfg *config.Config) {
	if f.outputFormat != "" {
		cfg.OutputFormat = config.OutputFormat(f.outputFormat)
	}
	if f.store != "" {
		cfg.Store = config.StoreKind(f.store)
	}
	if f.metricsAddr != "" {
		cfg.Metrics.Addr = f.metricsAddr
	}
	if f.debug {
		cfg.Logging.Level = logging.LevelDebug
	}
}

// newRootCommand builds the termit command tree around deps.
func newRootCommand(deps *cmd.CommandDeps) *cobra.Command {
	flags := &rootFlags{}
	deps.Overrides = flags.overrides

	root := &cobra.Command{
		Use:   "termit",
		Short: "termit - term occurrence anchoring and lifecycle",
		Long: `termit anchors vocabulary terms to the text of files.

A text analysis service marks where terms occur in a file's content. termit
turns each marked span into a term occurrence anchored by a quote of the span
and its surrounding context, keeps occurrences a reviewer confirmed, replaces
the rest on every run and assigns well-scoring terms to the file.

Commands support --output json and --output yaml for structured data. Run
'termit <command> --help' to discover subcommands, flags, and examples.

COMMON WORKFLOWS:
  Register content:   termit resources add <file> --document <doc> --content ./file.html
  Analyze:            termit analyze <file>
  Review:             termit occurrences list --resource <file>  →  termit occurrences confirm <id>
  Inspect:            termit resources show <file>  |  termit records latest <file>
  Set up storage:     termit config init  →  termit credentials set-db-password  →  termit db migrate`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(c *cobra.Command, args []string) {
			if flags.configDir != "" {
				_ = os.Setenv(config.ConfigDirEnvVar, flags.configDir)
			}
			if deps.Out == nil {
				deps.Out = c.OutOrStdout()
			}
		},
	}

	root.PersistentFlags().StringVar(&flags.configDir, "config-dir", "", "configuration directory (default is ~/.termit)")
	root.PersistentFlags().StringVar(&flags.outputFormat, "output", "", "output format: text, json, yaml")
	root.PersistentFlags().StringVar(&flags.store, "store", "", "store: postgres, memory")
	root.PersistentFlags().StringVar(&flags.metricsAddr, "metrics-addr", "", "serve /metrics and /version on this address while the command runs")
	root.PersistentFlags().BoolVar(&flags.debug, "debug", false, "enable debug logging")

	root.AddGroup(
		&cobra.Group{ID: "occurrences", Title: "Term Occurrences:"},
		&cobra.Group{ID: "ops", Title: "Operations:"},
		&cobra.Group{ID: "setup", Title: "Setup:"},
	)

	for _, c := range []*cobra.Command{
		cmd.NewAnalyzeCommand(deps),
		cmd.NewOccurrencesCommand(deps),
		cmd.NewResourcesCommand(deps),
		cmd.NewRecordsCommand(deps),
	} {
		c.GroupID = "occurrences"
		root.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewDbCommand(deps),
		cmd.NewHealthCommand(deps),
	} {
		c.GroupID = "ops"
		root.AddCommand(c)
	}

	for _, c := range []*cobra.Command{
		cmd.NewConfigCommand(deps),
		cmd.NewCredentialsCommand(deps),
		newVersionCommand(),
		newCompletionCommand(root),
	} {
		c.GroupID = "setup"
		root.AddCommand(c)
	}

	return root
}

// Version command flags.
var versionOutputJSON bool

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long: `Print the version, commit hash, and build time of termit.

Examples:
  termit version
  termit version --output-json`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			info := buildinfo.Get()
			out := c.OutOrStdout()
			if versionOutputJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(info)
			}
			fmt.Fprintf(out, "termit version %s\n", info.Version)
			fmt.Fprintf(out, "  commit:     %s\n", info.Commit)
			fmt.Fprintf(out, "  built:      %s\n", info.BuildTime)
			fmt.Fprintf(out, "  go:         %s\n", info.GoVersion)
			if info.Modified {
				fmt.Fprintln(out, "  modified:   true")
			}
			return nil
		},
	}
	c.Flags().BoolVar(&versionOutputJSON, "output-json", false, "Output as JSON")
	return c
}

func newCompletionCommand(root *cobra.Command) *cobra.Command {
	return &cobra.Command{
		Use:   "completion [bash|zsh|fish|powershell]",
		Short: "Generate shell completion scripts",
		Long: `Generate shell completion scripts for termit.

To load completions:

Bash:
  $ source <(termit completion bash)

Zsh:
  # If shell completion is not already enabled in your environment,
  # you will need to enable it. Execute the following once:
  $ echo "autoload -U compinit; compinit" >> ~/.zshrc

  $ termit completion zsh > "${fpath[1]}/_termit"

Fish:
  $ termit completion fish | source

PowerShell:
  PS> termit completion powershell | Out-String | Invoke-Expression
`,
		DisableFlagsInUseLine: true,
		ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
		Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
		RunE: func(c *cobra.Command, args []string) error {
			return genCompletion(root, c.OutOrStdout(), args[0])
		},
	}
}

func genCompletion(root *cobra.Command, w io.Writer, shell string) error {
	switch shell {
	case "bash":
		return root.GenBashCompletion(w)
	case "zsh":
		return root.GenZshCompletion(w)
	case "fish":
		return root.GenFishCompletion(w, true)
	case "powershell":
		return root.GenPowerShellCompletionWithDesc(w)
	default:
		return fmt.Errorf("unsupported shell: %s", shell)
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(cmd.DefaultDeps())
	if err := root.ExecuteContext(ctx); err != nil {
		stop()
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

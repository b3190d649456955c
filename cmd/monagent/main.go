package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"monagent/internal/agent"
	"monagent/internal/auth"
	"monagent/internal/config"
	"monagent/internal/crashlog"
	"monagent/internal/server"
	"monagent/pkg/section"

	"github.com/mattn/go-runewidth"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var (
	stateDir   string
	configPath string
	logLevel   string
	allowRoot  bool

	dumpSections []string
	fromStdin    bool
)

var rootCmd = &cobra.Command{
	Use:   "monagent",
	Short: "monagent - monitoring agent",
	Long: `monagent collects host metrics and writes them as named sections of plain text,
for example <<<mem>>>, to stdout, a TCP port or HTTP clients.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogging(logLevel)
	},
}

func setupLogging(level string) error {
	var l slog.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})))
	return nil
}

// checkRootUser returns an error if running as root and allowRoot is false
func checkRootUser(allowRoot bool) error {
	if os.Geteuid() == 0 && !allowRoot {
		return fmt.Errorf("running as root is not allowed for security reasons. Use --allow-root to override")
	}
	return nil
}

// loadAgent resolves state directory and configuration and builds the agent. The
// returned crash log must be closed by the caller.
func loadAgent() (*config.Config, *agent.Agent, *crashlog.Log, error) {
	dir, err := server.GetStateDir(stateDir, true)
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := config.Resolve(configPath, dir)
	if err != nil {
		return nil, nil, nil, err
	}

	crashLog, err := crashlog.Open(filepath.Join(cfg.StateDir, crashlog.FileName))
	if err != nil {
		return nil, nil, nil, err
	}

	a, err := agent.Build(cfg, crashLog)
	if err != nil {
		_ = crashLog.Close()
		return nil, nil, nil, err
	}
	return cfg, a, crashLog, nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Write the agent output once to stdout",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkRootUser(allowRoot); err != nil {
			return err
		}
		_, a, crashLog, err := loadAgent()
		if err != nil {
			return err
		}
		defer func() { _ = crashLog.Close() }()

		out := bufio.NewWriter(os.Stdout)
		if len(dumpSections) == 0 {
			err = a.Produce(out)
		} else {
			for _, name := range dumpSections {
				if err = a.ProduceSection(out, name); err != nil {
					break
				}
			}
		}
		if err != nil {
			return err
		}
		return out.Flush()
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the agent output on TCP and HTTP",
	Long: `Serve the agent output.

Every connection to the TCP port (default :6556) receives one full agent output.
The HTTP server (default localhost:22124) offers:

  GET /agent            full agent output
  GET /agent/{section}  a single section
  GET /status           HTML rendering of the agent output
  GET /realtime         websocket pushing the realtime sections`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkRootUser(allowRoot); err != nil {
			return err
		}
		cfg, a, crashLog, err := loadAgent()
		if err != nil {
			return err
		}
		defer func() { _ = crashLog.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return server.Run(ctx, cfg, a)
	},
}

var addPasswordCmd = &cobra.Command{
	Use:           "add-password",
	Short:         "Add a password for the HTTP endpoints",
	Long:          fmt.Sprintf("Read a password from stdin and add it to the hashed-passwords directory. The password must be at least %d characters long.", auth.MinPasswordLength),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := checkRootUser(allowRoot); err != nil {
			return err
		}

		dir, err := server.GetStateDir(stateDir, true)
		if err != nil {
			return err
		}

		var password string
		if fromStdin {
			passwordBytes, err := io.ReadAll(os.Stdin)
			if err != nil {
				return fmt.Errorf("failed to read password from stdin: %w", err)
			}
			password = strings.TrimSpace(string(passwordBytes))
		} else {
			fmt.Fprintf(os.Stderr, "Enter password (min %d characters, hint: openssl rand -base64 32): ", auth.MinPasswordLength)
			passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
			fmt.Fprintln(os.Stderr)
			if err != nil {
				return fmt.Errorf("failed to read password: %w", err)
			}
			password = strings.TrimSpace(string(passwordBytes))
		}

		if err := auth.AddPassword(dir, password); err != nil {
			return fmt.Errorf("add password failed: %w", err)
		}

		fmt.Fprintln(os.Stderr, "Password added successfully!")
		return nil
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse [file]",
	Short: "List the sections of an agent output",
	Long:  `Read agent output from a file, or from stdin if no file is given, and list the sections found.`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = os.Stdin
		if len(args) == 1 {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer func() { _ = f.Close() }()
			in = f
		}
		return writeSectionTable(cmd.OutOrStdout(), section.NewReader(in).All())
	},
}

// writeSectionTable prints one row per section: name, separator, line count,
// subsections and any header error.
func writeSectionTable(w io.Writer, blocks []section.Block) error {
	rows := [][]string{{"SECTION", "SEP", "LINES", "SUBSECTIONS", "ERROR"}}
	for _, block := range blocks {
		name := block.Name
		if name == "" {
			name = "-"
		}
		var subs []string
		for _, sub := range block.Subsections() {
			if sub.Name != "" {
				subs = append(subs, sub.Name)
			}
		}
		errText := ""
		if block.Err != nil {
			errText = block.Err.Error()
		}
		rows = append(rows, []string{
			name,
			fmt.Sprintf("%d", block.Separator),
			fmt.Sprintf("%d", strings.Count(string(block.Body), "\n")),
			strings.Join(subs, ","),
			errText,
		})
	}

	widths := make([]int, len(rows[0]))
	for _, row := range rows {
		for i, cell := range row {
			widths[i] = max(widths[i], runewidth.StringWidth(cell))
		}
	}

	for _, row := range rows {
		var sb strings.Builder
		for i, cell := range row {
			if i == len(row)-1 {
				sb.WriteString(cell)
				break
			}
			sb.WriteString(runewidth.FillRight(cell, widths[i]))
			sb.WriteString("  ")
		}
		if _, err := fmt.Fprintln(w, strings.TrimRight(sb.String(), " ")); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&stateDir, "state-dir", "s", "", "State directory for crash log, config and passwords (default: $STATE_DIRECTORY or .monagent)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Configuration file (default: $MONAGENT_CONFIG or <state-dir>/monagent.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level: debug, info, warn or error")
	rootCmd.PersistentFlags().BoolVar(&allowRoot, "allow-root", false, "Allow running as root user")

	dumpCmd.Flags().StringArrayVar(&dumpSections, "section", nil, "Only write the named section (repeatable)")
	addPasswordCmd.Flags().BoolVar(&fromStdin, "from-stdin", false, "Read password from stdin without prompting (for scripts)")

	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addPasswordCmd)
	rootCmd.AddCommand(parseCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"askweb/internal/channel"
	"askweb/internal/config"
	"askweb/internal/domain"
	"askweb/internal/logging"
	"askweb/internal/store"
	"askweb/internal/view"
)

var (
	version    = "0.1.0"
	configPath string // overridable via --config flag
	logLevel   string
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "askweb",
		Short:         "askweb: an answer engine that searches the web for you",
		Long:          "askweb classifies your question, asks for clarification when needed, searches the web and writes a sourced answer.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.askweb/config.json)")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "override general.logLevel (debug, info, warn, error)")

	root.AddCommand(initCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(historyCmd())
	root.AddCommand(chatsCmd())
	root.AddCommand(searchCmd())
	root.AddCommand(configCmd())
	root.AddCommand(doctorCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), "askweb", version)
		},
	})
	return root
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig reads the config (defaults when the file is missing) and
// builds the logger it describes.
func loadConfig() (*config.Config, *slog.Logger, func() error, error) {
	cfg, err := config.LoadOrDefaults(resolveConfigPath())
	if err != nil {
		return nil, nil, nil, err
	}
	if logLevel != "" {
		cfg.General.LogLevel = logLevel
	}
	logger, closeLog, err := logging.New(cfg.General)
	if err != nil {
		return nil, nil, nil, err
	}
	slog.SetDefault(logger)
	return cfg, logger, closeLog, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func initCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			cfg := config.Defaults()
			if err := config.Save(path, cfg); err != nil {
				return err
			}
			if err := os.MkdirAll(config.ExpandPath(cfg.General.DataDir), 0o755); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\nSet OPENAI_API_KEY and TAVILY_API_KEY (or edit the file), then run 'askweb chat'.\n", path)
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	return cmd
}

func chatCmd() *cobra.Command {
	var (
		chatID    string
		ephemeral bool
	)
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger, appOptions{Ephemeral: ephemeral})
			if err != nil {
				return err
			}
			defer a.Close()

			sess, err := a.controller.Sessions().GetOrCreate(ctx, chatID)
			if err != nil {
				return err
			}
			cli := channel.NewCLI(channel.CLIConfig{
				Controller: a.controller,
				Session:    sess,
				Logger:     logger,
				In:         cmd.InOrStdin(),
				Out:        cmd.OutOrStdout(),
				Spinner:    isTerminal(os.Stdout),
			})
			return cli.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&chatID, "chat-id", "", "resume an existing chat")
	cmd.Flags().BoolVar(&ephemeral, "ephemeral", false, "keep the chat in memory only")
	return cmd
}

func isTerminal(f *os.File) bool {
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

func serveCmd() *cobra.Command {
	var (
		host string
		port int
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API (JSON, SSE and websocket)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()
			if host != "" {
				cfg.Server.Host = host
			}
			if port != 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			metricsPath := ""
			if cfg.Metrics.Enabled {
				metricsPath = cfg.Metrics.Path
			}
			api := channel.NewAPI(channel.APIConfig{
				Host:           cfg.Server.Host,
				Port:           cfg.Server.Port,
				AllowedOrigins: cfg.Server.AllowedOrigins,
				WebSocket:      cfg.Server.WebSocket,
				MetricsPath:    metricsPath,
				Version:        version,
				Controller:     a.controller,
				Store:          a.store,
				UserID:         cfg.General.UserID,
				Logger:         logger,
			})
			return api.Start(ctx)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "override server.host")
	cmd.Flags().IntVar(&port, "port", 0, "override server.port")
	return cmd
}

func historyCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "history <chat-id>",
		Short: "Print the conversation of a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, st, closeAll, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			chat, err := st.GetChat(cmd.Context(), args[0])
			if errors.Is(err, domain.ErrChatNotFound) {
				return fmt.Errorf("no chat with id %s", args[0])
			}
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				return writeIndented(out, view.ProjectAll(chat.Messages))
			}
			fmt.Fprintf(out, "# %s (%s)\n\n", chat.Title, chat.CreatedAt.Format("2006-01-02 15:04"))
			for _, n := range view.ProjectAll(chat.Messages) {
				printNode(out, n)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print view nodes as JSON")
	return cmd
}

func printNode(w io.Writer, n *view.Node) {
	switch n.Kind {
	case view.KindUserMessage, view.KindInquiryReply:
		fmt.Fprintf(w, "> %s\n\n", n.Text)
	case view.KindInquiry:
		if n.Inquiry != nil {
			fmt.Fprintf(w, "? %s\n\n", n.Inquiry.Question)
		}
	case view.KindSearchResults:
		if n.Search != nil {
			fmt.Fprintf(w, "[search %q: %d results]\n", n.Search.Query, len(n.Search.Results))
		}
	case view.KindRetrieve, view.KindVideo, view.KindTool:
		fmt.Fprintf(w, "[%s]\n", n.Kind)
	case view.KindAnswer:
		fmt.Fprintf(w, "%s\n\n", n.Text)
	case view.KindRelated:
		qs := make([]string, len(n.Related))
		for i, r := range n.Related {
			qs[i] = r.Query
		}
		fmt.Fprintf(w, "Related: %s\n\n", strings.Join(qs, " | "))
	}
}

func chatsCmd() *cobra.Command {
	var (
		limit    int
		allUsers bool
	)
	cmd := &cobra.Command{
		Use:   "chats",
		Short: "List recent chats",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, st, closeAll, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer closeAll()

			userID := cfg.General.UserID
			if allUsers {
				userID = ""
			}
			chats, err := st.ListChats(cmd.Context(), userID, limit)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tCREATED\tTITLE")
			for _, c := range chats {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", c.ID, c.CreatedAt.Local().Format("2006-01-02 15:04"), c.Title)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of chats")
	cmd.Flags().BoolVar(&allUsers, "all", false, "list chats of every user")
	return cmd
}

// openStore opens only the configured chat store.
func openStore(ctx context.Context) (*config.Config, domain.ChatStore, func(), error) {
	cfg, logger, closeLog, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	st, err := store.New(ctx, cfg.Store, logger)
	if err != nil {
		closeLog()
		return nil, nil, nil, fmt.Errorf("open chat store: %w", err)
	}
	return cfg, st, func() {
		st.Close()
		closeLog()
	}, nil
}

func searchCmd() *cobra.Command {
	var (
		maxResults int
		depth      string
		include    []string
		exclude    []string
	)
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Run the configured search provider once and print the results",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, closeLog, err := loadConfig()
			if err != nil {
				return err
			}
			defer closeLog()

			ctx, stop := signalContext()
			defer stop()

			a, err := newApp(ctx, cfg, logger, appOptions{SearchOnly: true})
			if err != nil {
				return err
			}
			defer a.Close()

			res, err := a.search.Search(ctx, strings.Join(args, " "), domain.SearchOptions{
				MaxResults:     maxResults,
				Depth:          domain.SearchDepth(depth),
				IncludeDomains: include,
				ExcludeDomains: exclude,
			})
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), res)
		},
	}
	cmd.Flags().IntVarP(&maxResults, "max-results", "n", 10, "maximum number of results")
	cmd.Flags().StringVar(&depth, "depth", "basic", "search depth (basic or advanced)")
	cmd.Flags().StringSliceVar(&include, "include-domain", nil, "only search these domains")
	cmd.Flags().StringSliceVar(&exclude, "exclude-domain", nil, "never search these domains")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and list configuration values. Changes are saved to the config file.",
	}

	var reveal bool
	get := &cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. search.provider)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefaults(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if !reveal {
				cfg = config.Sanitize(cfg)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), val)
		},
	}
	get.Flags().BoolVar(&reveal, "reveal", false, "show secrets unmasked")
	cmd.AddCommand(get)

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. agent.maxIterations 5)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := resolveConfigPath()
			cfg, err := config.LoadOrDefaults(path)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated in %s\n", args[0], path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config values (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOrDefaults(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return writeIndented(cmd.OutOrStdout(), config.Sanitize(cfg))
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), resolveConfigPath())
		},
	})
	return cmd
}

func writeIndented(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

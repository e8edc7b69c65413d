package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"askweb/internal/config"
	"askweb/internal/search"
	"askweb/internal/store"
)

// doctorReport counts check outcomes and prints them as it goes.
type doctorReport struct {
	out                    io.Writer
	passed, warned, failed int
}

func (r *doctorReport) pass(check, detail string) {
	fmt.Fprintf(r.out, "  [PASS] %-20s %s\n", check, detail)
	r.passed++
}

func (r *doctorReport) fail(check, detail string) {
	fmt.Fprintf(r.out, "  [FAIL] %-20s %s\n", check, detail)
	r.failed++
}

func (r *doctorReport) warn(check, detail string) {
	fmt.Fprintf(r.out, "  [WARN] %-20s %s\n", check, detail)
	r.warned++
}

func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Run diagnostic checks on your askweb setup",
		Long: `Verifies that the configuration, model providers, search provider,
chat store and server port are set up. Reports pass/fail for each check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := &doctorReport{out: cmd.OutOrStdout()}
			fmt.Fprintf(r.out, "askweb doctor v%s\n\n", version)

			cfgPath := config.ExpandPath(resolveConfigPath())
			if _, err := os.Stat(cfgPath); err != nil {
				r.warn("Config file", fmt.Sprintf("not found at %s, using defaults and environment", cfgPath))
			} else {
				r.pass("Config file", cfgPath)
			}

			cfg, err := config.LoadOrDefaults(cfgPath)
			if err != nil {
				r.fail("Config validation", err.Error())
				return r.summary()
			}
			r.pass("Config validation", "valid")

			runDoctorChecks(cmd.Context(), cfg, r)
			return r.summary()
		},
	}
}

func runDoctorChecks(ctx context.Context, cfg *config.Config, r *doctorReport) {
	// Model providers
	name := cfg.Model.Default
	if pc, ok := cfg.Providers.ByName(name); !ok || !pc.Enabled {
		r.fail("Model provider", fmt.Sprintf("%s is not enabled", name))
	} else if pc.APIKey == "" && name != "ollama" {
		r.fail("Model provider", fmt.Sprintf("%s has no API key", name))
	} else {
		r.pass("Model provider", fmt.Sprintf("%s (%s)", name, pc.DefaultModel))
	}
	if w := cfg.WriterProvider(); w != name {
		if pc, ok := cfg.Providers.ByName(w); ok && pc.Enabled {
			r.pass("Writer provider", w)
		} else {
			r.fail("Writer provider", fmt.Sprintf("%s is not enabled", w))
		}
	}

	// Search provider credentials
	switch cfg.Search.Provider {
	case search.ProviderExa:
		checkSecret(r, "Search (exa)", cfg.Search.ExaAPIKey)
	case search.ProviderSearXNG:
		checkSecret(r, "Search (searxng)", cfg.Search.SearXNGURL)
	default:
		checkSecret(r, "Search (tavily)", cfg.Search.TavilyAPIKey)
	}
	if cfg.Tools.VideoSearch && cfg.Tools.SerperAPIKey == "" {
		r.warn("Video search", "SERPER_API_KEY not set, tool disabled")
	}

	// Chat store
	sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	st, err := store.New(sctx, cfg.Store, nil)
	if err != nil {
		r.fail("Chat store", err.Error())
	} else {
		if _, err := st.ListChats(sctx, cfg.General.UserID, 1); err != nil {
			r.fail("Chat store", err.Error())
		} else {
			r.pass("Chat store", cfg.Store.Type)
		}
		st.Close()
	}

	// Server port
	if err := checkPort(cfg.Server.Host, cfg.Server.Port); err != nil {
		r.warn("Server port", fmt.Sprintf("port %d may be in use: %v", cfg.Server.Port, err))
	} else {
		r.pass("Server port", fmt.Sprintf("%s:%d available", cfg.Server.Host, cfg.Server.Port))
	}
}

func checkSecret(r *doctorReport, check, value string) {
	if value == "" {
		r.fail(check, "not configured")
		return
	}
	r.pass(check, "configured")
}

func (r *doctorReport) summary() error {
	fmt.Fprintf(r.out, "\nResults: %d passed, %d warnings, %d failed\n", r.passed, r.warned, r.failed)
	if r.failed > 0 {
		return fmt.Errorf("%d check(s) failed", r.failed)
	}
	return nil
}

func checkPort(host string, port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return err
	}
	return ln.Close()
}

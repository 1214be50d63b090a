package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hrygo/vibes/internal/bot"
	"github.com/hrygo/vibes/internal/diag"
	"github.com/hrygo/vibes/internal/profile"
	"github.com/hrygo/vibes/internal/session"
	"github.com/hrygo/vibes/internal/state"
	"github.com/hrygo/vibes/internal/telegram"
	"github.com/hrygo/vibes/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "vibes",
	Short: `A single-user Telegram control plane for Codex CLI sessions: run prompts, watch live output, manage working directories.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Try to load .env from the current directory; absence is fine.
		_ = godotenv.Load()
		return nil
	},
	Run: func(_ *cobra.Command, _ []string) {
		instanceProfile := &profile.Profile{
			Token:           viper.GetString("token"),
			AdminID:         viper.GetInt64("admin-id"),
			RuntimeDir:      viper.GetString("runtime-dir"),
			CodexBin:        viper.GetString("codex-bin"),
			SandboxMode:     viper.GetString("sandbox"),
			ApprovalPolicy:  viper.GetString("approval-policy"),
			MaxAttachmentMB: viper.GetInt("max-attachment-mb"),
			DebugAddr:       viper.GetString("debug-addr"),
			Version:         version.String(),
		}
		instanceProfile.FromEnv()
		if err := instanceProfile.Validate(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		if err := instanceProfile.PrepareRuntime(); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		setupLogging(instanceProfile.BotLogPath())

		if err := run(instanceProfile); err != nil {
			slog.Error("fatal", "error", err)
			os.Exit(1)
		}
	},
}

func run(p *profile.Profile) error {
	tgBot, err := telegram.NewBot(p.Token)
	if err != nil {
		return err
	}
	slog.Info("starting vibes",
		"version", version.StringFull(), "runtime_dir", p.RuntimeDir, "bot", tgBot.Username())

	store := state.NewStore(p.StatePath(), p.LogDir(), p.LegacyLogDir())
	registry := session.NewRegistry(p, store, tgBot)

	restart := make(chan struct{}, 1)
	shell := bot.NewShell(tgBot, registry, restart)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if p.DebugAddr != "" {
		go diag.NewServer(p.DebugAddr, p.Version).Start(ctx)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, terminationSignals...)

	loopDone := make(chan error, 1)
	go func() {
		loopDone <- shell.Run(ctx)
	}()

	restartRequested := false
	select {
	case s := <-sig:
		slog.Info("shutting down", "signal", s)
	case <-restart:
		slog.Info("restart requested")
		restartRequested = true
	case err := <-loopDone:
		if err != nil && ctx.Err() == nil {
			slog.Error("update loop stopped", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		slog.Warn("shutdown: stopping runs failed", "error", err)
	}

	if restartRequested {
		return reexec()
	}
	return nil
}

// setupLogging mirrors slog output into the operational log file next to the
// state; startup keeps working on stderr alone if the file cannot be opened.
func setupLogging(path string) {
	var w io.Writer = os.Stderr
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		slog.Warn("unable to open bot log file", "path", path, "error", err)
	} else {
		w = io.MultiWriter(os.Stderr, f)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, nil)))
}

func init() {
	viper.SetEnvPrefix("VIBES")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	viper.SetDefault("codex-bin", "codex")

	rootCmd.PersistentFlags().String("token", "", "telegram bot token")
	rootCmd.PersistentFlags().Int64("admin-id", 0, "telegram user id allowed to control the bot (0 captures the first user)")
	rootCmd.PersistentFlags().String("runtime-dir", "", "directory for state and logs (default ./.vibes)")
	rootCmd.PersistentFlags().String("codex-bin", "codex", "codex CLI binary")
	rootCmd.PersistentFlags().String("sandbox", "", "codex sandbox mode")
	rootCmd.PersistentFlags().String("approval-policy", "", "codex approval policy")
	rootCmd.PersistentFlags().Int("max-attachment-mb", 0, "per-file download limit in MB (0 = unlimited)")
	rootCmd.PersistentFlags().String("debug-addr", "", "listen address for /healthz and /metrics (empty disables)")

	for _, name := range []string{
		"token", "admin-id", "runtime-dir", "codex-bin",
		"sandbox", "approval-policy", "max-attachment-mb", "debug-addr",
	} {
		if err := viper.BindPFlag(name, rootCmd.PersistentFlags().Lookup(name)); err != nil {
			panic(err)
		}
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Println(version.StringFull())
		},
	})
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

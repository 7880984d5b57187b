package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/a-marczewski/fridgevision/internal/app"
	"github.com/a-marczewski/fridgevision/internal/infer"
	"github.com/a-marczewski/fridgevision/internal/ledger"
	"github.com/a-marczewski/fridgevision/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "fridgevision",
	Short: "fridgevision - produce recognition and shelf-life tracking",
	Long:  `fridgevision classifies photos of produce, estimates shelf life, and keeps an append-only record of every estimate for downstream displays.`,
}

var servePort int

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (overrides config)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(latestCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(completionCmd)
}

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate the autocompletion script for the specified shell",
	Long: `Generate the autocompletion script for fridgevision for the specified shell.
See each command's help for details on how to use the generated script.
	`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.ExactValidArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		switch args[0] {
		case "bash":
			err = cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			err = cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			err = cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			err = cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error generating completion script: %v\n", err)
			os.Exit(1)
		}
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
}

func runVersionCmd(a *app.App, cmd *cobra.Command, args []string) {
	fmt.Println("fridgevision v0.1.0")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
}

func runServeCmd(a *app.App, cmd *cobra.Command, args []string) {
	if servePort != 0 {
		a.Config.Port = servePort
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	classifier, err := a.NewClassifier(ctx)
	if err != nil {
		a.Logger.Error("Failed to initialize classifier", zap.Error(err))
		os.Exit(1)
	}

	pipeline := infer.NewPipeline(
		classifier,
		a.Policy,
		a.Store,
		a.Config.TopK,
		time.Duration(a.Config.ClassifyTimeoutSeconds)*time.Second,
		a.Logger,
	)
	srv := server.NewServer(pipeline, a.Store, a.Logger, a.Config.Port)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Error("Server failed", zap.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error("Shutdown failed", zap.Error(err))
		}
	}
}

var latestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the most recent expiry record",
}

func runLatestCmd(a *app.App, cmd *cobra.Command, args []string) {
	rec, err := a.Store.Latest(cmd.Context())
	if errors.Is(err, ledger.ErrNoRecords) {
		fmt.Println("No records yet.")
		return
	}
	if err != nil {
		a.Logger.Error("Failed to read latest record", zap.Error(err))
		fmt.Printf("Error reading ledger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Fruit:       %s\n", rec.Fruit)
	fmt.Printf("Added:       %s\n", rec.AddedAt)
	fmt.Printf("Expires:     %s\n", rec.ExpiryAt)
	fmt.Printf("Shelf life:  %d days\n", rec.ExpiryDays)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger statistics",
}

func runStatsCmd(a *app.App, cmd *cobra.Command, args []string) {
	records, err := a.Store.All(cmd.Context())
	if err != nil {
		a.Logger.Error("Failed to read records", zap.Error(err))
		fmt.Printf("Error reading ledger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Total records: %d\n", len(records))
	if len(records) == 0 {
		return
	}

	counts := make(map[string]int)
	for _, rec := range records {
		counts[rec.Fruit]++
	}
	fmt.Println("By produce:")
	for fruit, count := range counts {
		fmt.Printf("  %s: %d\n", fruit, count)
	}

	last := records[len(records)-1]
	fmt.Printf("Latest: %s (added %s, expires %s)\n", last.Fruit, last.AddedAt, last.ExpiryAt)
}

// newAppRunner creates a Cobra Run function closure with the app.App instance.
func newAppRunner(a *app.App, runFunc func(*app.App, *cobra.Command, []string)) func(*cobra.Command, []string) {
	return func(cmd *cobra.Command, args []string) {
		runFunc(a, cmd, args)
	}
}

func main() {
	appInstance, err := app.NewApp()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize application: %v\n", err)
		os.Exit(1)
	}
	defer appInstance.Close()

	versionCmd.Run = newAppRunner(appInstance, runVersionCmd)
	serveCmd.Run = newAppRunner(appInstance, runServeCmd)
	latestCmd.Run = newAppRunner(appInstance, runLatestCmd)
	statsCmd.Run = newAppRunner(appInstance, runStatsCmd)

	if err := rootCmd.Execute(); err != nil {
		appInstance.Logger.Error("Root command execution failed", zap.Error(err))
		os.Exit(1)
	}
}

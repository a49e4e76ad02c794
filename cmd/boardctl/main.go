// Command boardctl joins a live board from the terminal using the client SDK.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/taskboard-live/backend/internal/logging"
	"github.com/taskboard-live/backend/internal/model"
	"github.com/taskboard-live/backend/pkg/gateway"
	"github.com/taskboard-live/backend/pkg/notify"
	"github.com/taskboard-live/backend/pkg/persist"
)

var Version = "dev"

type globalOptions struct {
	wsURL    string
	apiURL   string
	boardID  string
	userName string
	logLevel string
}

var opts globalOptions

func main() {
	rootCmd := &cobra.Command{
		Use:     "boardctl",
		Short:   "Work on a live task board from the terminal",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return logging.Setup(opts.logLevel, logging.FormatText)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.wsURL, "ws", "ws://localhost:3001/ws", "realtime endpoint")
	flags.StringVar(&opts.apiURL, "api", "http://localhost:3001", "REST API base URL")
	flags.StringVarP(&opts.boardID, "board", "b", "", "board ID")
	flags.StringVarP(&opts.userName, "name", "n", "", "display name shown to other participants")
	flags.StringVar(&opts.logLevel, "log-level", "warn", "log level")
	_ = rootCmd.MarkPersistentFlagRequired("board")

	rootCmd.AddCommand(watchCmd())
	rootCmd.AddCommand(createTaskCmd())
	rootCmd.AddCommand(moveTaskCmd())
	rootCmd.AddCommand(deleteTaskCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// openBoard connects a gateway and joins the selected board. Notifications
// are printed as they arrive.
func openBoard(ctx context.Context, extra ...gateway.Option) (*gateway.Gateway, error) {
	notes := notify.NewCenter(notify.WithListener(func(n notify.Notification) {
		fmt.Printf("[%s] %s\n", n.Type, n.Message)
	}))

	cfg := gateway.DefaultConfig(opts.wsURL)
	if opts.userName != "" {
		cfg.UserData = &model.UserData{Name: opts.userName}
	}

	g := gateway.New(cfg, persist.NewClient(opts.apiURL, persist.WithLogger(log.StandardLogger())),
		append([]gateway.Option{gateway.WithNotifications(notes)}, extra...)...)
	if err := g.Connect(ctx); err != nil {
		return nil, err
	}
	if err := g.JoinBoard(ctx, opts.boardID); err != nil {
		g.Close()
		return nil, err
	}
	return g, nil
}

// settle waits for in-flight persistence and fails when the mutation issued
// at since was rolled back. Earlier errors, e.g. from connect retries, are ignored.
func settle(g *gateway.Gateway, taskID string, since time.Time) error {
	g.Wait()
	for _, n := range g.Notifications().History() {
		if n.Type == notify.Error && !n.CreatedAt.Before(since) {
			return fmt.Errorf("task %s: %s", taskID, n.Message)
		}
	}
	return nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

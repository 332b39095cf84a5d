package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/modoterra/logrelay/internal/buildinfo"
	"github.com/modoterra/logrelay/pkg/codec"
	"github.com/modoterra/logrelay/pkg/config"
	"github.com/modoterra/logrelay/pkg/core"
	"github.com/modoterra/logrelay/pkg/daemon"
	"github.com/modoterra/logrelay/pkg/daemon/service"
	"github.com/modoterra/logrelay/pkg/enrich"
	"github.com/modoterra/logrelay/pkg/listener"
	"github.com/modoterra/logrelay/pkg/producer"
	"github.com/modoterra/logrelay/pkg/transport/resolve"
	"github.com/modoterra/logrelay/pkg/transport/uds"
	tuimodel "github.com/modoterra/logrelay/pkg/tui/model"
)

var (
	socketPath string
	configPath string
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "logrelay",
	Short:        "Queue-backed log entry relay",
	Long:         "logrelay publishes enriched log entries to a queue and talks to the logrelayd distributor that relays them to listeners.",
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", config.DefaultSocket, "daemon control socket path")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "logrelay.yaml", "configuration file")

	rootCmd.AddCommand(pingCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(deadLettersCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(serviceCmd)
}

func dialDaemon() (*uds.Client, error) {
	client, err := uds.Dial(socketPath)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to daemon at %s: %w", socketPath, err)
	}
	return client, nil
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// --- Ping ---

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check if the daemon is running",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var pong uds.PingResponse
		if err := client.Call(ctx, uds.MethodPing, nil, &pong); err != nil {
			return err
		}
		if pong.Pong {
			fmt.Fprintf(cmd.OutOrStdout(), "pong ✓ (logrelayd %s)\n", pong.Version)
		}
		return nil
	},
}

// --- Version ---

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "logrelay %s (%s) built %s\n", buildinfo.Version, buildinfo.Commit, buildinfo.Date)
	},
}

// --- Status ---

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show distributor counters and recent failures",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		var st daemon.Status
		if err := client.Call(ctx, uds.MethodStatus, nil, &st); err != nil {
			return err
		}
		if statusJSON {
			return printJSON(cmd, st)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", st.ServiceName, st.State)
		fmt.Fprintf(out, "  transport:  %s every %dms\n", st.Transport, st.PollIntervalMs)
		fmt.Fprintf(out, "  listeners:  %s\n", strings.Join(st.Listeners, ", "))
		fmt.Fprintf(out, "  providers:  %d\n", st.Providers)
		fmt.Fprintf(out, "  received %d, delivered %d, malformed %d\n", st.Received, st.Delivered, st.Malformed)
		fmt.Fprintf(out, "  listener errors %d, transport errors %d\n", st.ListenerFailures, st.TransportErrors)
		fmt.Fprintf(out, "  acked %d, requeued %d, dead-lettered %d\n", st.Acked, st.Requeued, st.DeadLettered)
		if len(st.Recent) > 0 {
			fmt.Fprintln(out, "recent failures:")
			for _, d := range st.Recent {
				ts := time.UnixMilli(d.TsUnixMs).Format(time.TimeOnly)
				fmt.Fprintf(out, "  %s %-15s %s\n", ts, d.Kind, d.Message)
			}
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "output as JSON")
}

// --- Watch ---

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Open the live dashboard",
	RunE: func(_ *cobra.Command, _ []string) error {
		app := tuimodel.New(socketPath)
		p := tea.NewProgram(app, tea.WithAltScreen())
		_, err := p.Run()
		return err
	},
}

// --- Tail ---

var tailNoColor bool

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print entries as the daemon relays them",
	RunE: func(cmd *cobra.Command, _ []string) error {
		client, err := dialDaemon()
		if err != nil {
			return err
		}
		defer client.Close()

		out := cmd.OutOrStdout()
		client.OnEvent(func(m uds.Message) {
			if m.Method != uds.EventEntryRelayed {
				return
			}
			var e core.LogEntry
			if err := m.UnmarshalData(&e); err != nil {
				return
			}
			fmt.Fprintln(out, listener.FormatLine(&e, !tailNoColor))
		})

		// Confirm the daemon answers before waiting for events.
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = client.Call(ctx, uds.MethodPing, nil, nil)
		cancel()
		if err != nil {
			return err
		}

		select {
		case <-client.Done():
			return errors.New("daemon closed the connection")
		case <-cmd.Context().Done():
			return nil
		}
	},
}

func init() {
	tailCmd.Flags().BoolVar(&tailNoColor, "no-color", false, "disable severity colors")
}

// --- Send ---

var (
	sendSeverity      string
	sendCategories    []string
	sendTitle         string
	sendProps         []string
	sendTransactionID string
	sendActivityID    string
	sendStack         bool
)

var sendCmd = &cobra.Command{
	Use:   "send <message>",
	Short: "Publish a log entry to the configured queue",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := config.Load(configPath)
		if err != nil {
			return err
		}
		sev, err := core.ParseSeverity(sendSeverity)
		if err != nil {
			return err
		}
		cd, err := codec.New(codec.Format(f.Codec.Format), codec.Compression(f.Codec.Compression))
		if err != nil {
			return err
		}

		e := core.NewEntry(sev, strings.Join(args, " "), sendCategories...)
		e.Title = sendTitle
		for _, kv := range sendProps {
			k, v, ok := strings.Cut(kv, "=")
			if !ok || k == "" {
				return fmt.Errorf("invalid --prop %q, want key=value", kv)
			}
			e.Set(k, v)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		registry := enrich.NewRegistry(enrich.NewMachineProvider())
		if sendTransactionID != "" || sendActivityID != "" {
			ctx = enrich.WithTransaction(ctx, enrich.Transaction{
				ActivityID:    sendActivityID,
				TransactionID: sendTransactionID,
			})
			registry.Add(enrich.NewTransactionProvider())
		}
		if sendStack {
			registry.Add(enrich.NewStackProvider(0))
		}

		sender, err := resolve.OpenSender(ctx, f.Distributor.Transport)
		if err != nil {
			return err
		}
		pub := producer.NewPublisher(sender, cd, registry)
		defer pub.Close()

		if err := pub.Publish(ctx, e); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "sent %s to %s\n", e.ID, resolve.Backend(f.Distributor.Transport))
		return nil
	},
}

func init() {
	sendCmd.Flags().StringVarP(&sendSeverity, "severity", "s", "info", "critical, error, warning, info or debug")
	sendCmd.Flags().StringSliceVar(&sendCategories, "category", nil, "entry category (repeatable)")
	sendCmd.Flags().StringVar(&sendTitle, "title", "", "entry title")
	sendCmd.Flags().StringArrayVarP(&sendProps, "prop", "p", nil, "property key=value (repeatable)")
	sendCmd.Flags().StringVar(&sendTransactionID, "transaction-id", "", "ambient transaction id")
	sendCmd.Flags().StringVar(&sendActivityID, "activity-id", "", "ambient activity id")
	sendCmd.Flags().BoolVar(&sendStack, "stack", false, "record the sender's call stack")
}

// --- Dead letters ---

var (
	deadLimit int
	deadJSON  bool
)

var deadLettersCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List dead-lettered messages of the configured queue",
	RunE: func(cmd *cobra.Command, _ []string) error {
		f, err := config.Load(configPath)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		records, err := resolve.DeadLetters(ctx, f.Distributor.Transport, deadLimit)
		if err != nil {
			return err
		}
		if deadJSON {
			return printJSON(cmd, records)
		}
		out := cmd.OutOrStdout()
		if len(records) == 0 {
			fmt.Fprintln(out, "no dead letters")
			return nil
		}
		for _, r := range records {
			fmt.Fprintf(out, "%s  %s  %s (%d bytes)\n", r.FailedAt.Format(time.RFC3339), r.MessageID, r.Reason, len(r.Payload))
		}
		return nil
	},
}

func init() {
	deadLettersCmd.Flags().IntVarP(&deadLimit, "limit", "n", 20, "maximum records to show (0 for all)")
	deadLettersCmd.Flags().BoolVar(&deadJSON, "json", false, "output as JSON")
}

// --- Config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Create and check logrelay.yaml",
}

var (
	configInitOutput string
	configInitForce  bool
)

var configInitCmd = &cobra.Command{
	Use:   "init <transport>",
	Short: "Write a starter configuration",
	Long:  "The transport is a redis:// URL or a file queue path.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := os.Stat(configInitOutput); err == nil && !configInitForce {
			return fmt.Errorf("%s already exists (use --force to overwrite)", configInitOutput)
		}
		f := config.Sample(args[0])
		if err := config.Save(f, configInitOutput); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Generated %s (%s transport, %d listeners)\n",
			configInitOutput, resolve.Backend(args[0]), len(f.Listeners))
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate [file]",
	Short: "Validate a configuration file",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := configPath
		if len(args) > 0 {
			path = args[0]
		}

		f, err := config.Load(path)
		if err != nil {
			return err
		}

		errs := config.Validate(f)
		if len(errs) == 0 {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: valid (%d listeners)\n", path, len(f.Listeners))
			return nil
		}

		w := cmd.ErrOrStderr()
		fmt.Fprintf(w, "%s: %d error(s)\n", path, len(errs))
		for _, e := range errs {
			fmt.Fprintf(w, "  • %s\n", e)
		}
		return fmt.Errorf("%s is invalid", path)
	},
}

func init() {
	configInitCmd.Flags().StringVarP(&configInitOutput, "output", "o", "logrelay.yaml", "output file path")
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configValidateCmd)
}

// --- Service ---

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the logrelayd systemd user service",
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install and start logrelayd as a user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Install(configPath); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logrelayd service installed ✓")
		return nil
	},
}

var serviceUninstallCmd = &cobra.Command{
	Use:   "uninstall",
	Short: "Stop and remove the logrelayd user service",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if err := service.Uninstall(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "logrelayd service removed ✓")
		return nil
	},
}

var serviceStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show socket and service state",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintln(cmd.OutOrStdout(), service.Status(socketPath))
	},
}

func init() {
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceUninstallCmd)
	serviceCmd.AddCommand(serviceStatusCmd)
}

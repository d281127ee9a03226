package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/frostdev-ops/devtest-backend-go/internal/config"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/discovery"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/execution"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/registry"
	"github.com/frostdev-ops/devtest-backend-go/internal/core/testplan"
	"github.com/frostdev-ops/devtest-backend-go/pkg/logger"
	"github.com/frostdev-ops/devtest-backend-go/pkg/version"
	"github.com/spf13/cobra"
)

// errPlanFailed makes the process exit non-zero without printing usage.
var errPlanFailed = errors.New("test plan failed")

type runOptions struct {
	logLevel       string
	settleDelay    time.Duration
	defaultTimeout time.Duration
	attachmentsDir string
	jsonOutput     bool
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "devtest",
		Short:         "Run device test plans from the command line",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version.GetVersion(),
	}

	root.AddCommand(newRunCmd(), newValidateCmd(), newDiscoverCmd(), newVersionCmd())
	return root
}

func newRunCmd() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run <plan-file>",
		Short: "Execute a plan file and print progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			err := runPlan(ctx, args[0], opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
			if errors.Is(err, errPlanFailed) {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
			return err
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")
	f.DurationVar(&opts.settleDelay, "settle", time.Second, "pause after each directly executed step")
	f.DurationVar(&opts.defaultTimeout, "timeout", 10*time.Second, "step timeout when the plan sets none")
	f.StringVar(&opts.attachmentsDir, "attachments", "./plans", "root directory of upload attachments")
	f.BoolVar(&opts.jsonOutput, "json", false, "print raw progress events as JSON lines")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <plan-file>",
		Short: "Check that a plan file parses and names known protocols",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			plan, err := testplan.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d schemes, %d steps\n", plan.Name, len(plan.Schemes), plan.StepCount())
			return nil
		},
	}
}

func newDiscoverCmd() *cobra.Command {
	cfg := config.DiscoveryConfig{}
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Browse the local network for SSH, SFTP and MQTT endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := logger.NewWithOutput("warn", cmd.ErrOrStderr())
			devices, err := discovery.NewService(cfg, log.Logger).Scan(cmd.Context())
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(devices)
		},
	}
	cmd.Flags().DurationVar(&cfg.BrowseTimeout, "timeout", 5*time.Second, "how long to browse")
	cmd.Flags().StringSliceVar(&cfg.Services, "service", nil, "service types to browse (default all)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.GetFullVersion())
		},
	}
}

func runPlan(ctx context.Context, path string, opts runOptions, stdout, stderr io.Writer) error {
	plan, err := testplan.Load(path)
	if err != nil {
		return err
	}

	log := logger.NewWithOutput(opts.logLevel, stderr)
	printer := &eventPrinter{out: stdout, json: opts.jsonOutput}

	executor := execution.New(plan,
		execution.WithLogger(log.Logger),
		execution.WithBroadcaster(printer),
		execution.WithSettleDelay(opts.settleDelay),
		execution.WithDefaultTimeout(opts.defaultTimeout),
		execution.WithAttachmentsDir(opts.attachmentsDir),
		execution.WithFactory(registry.NewFactory(registry.DefaultSettings(), log.Logger)),
	)

	if !executor.Run(ctx) {
		return fmt.Errorf("%w: %s", errPlanFailed, plan.Name)
	}
	fmt.Fprintf(stdout, "PASS %s\n", plan.Name)
	return nil
}

// eventPrinter renders progress broadcasts as one line per event.
type eventPrinter struct {
	mu   sync.Mutex
	out  io.Writer
	json bool
}

type node struct {
	ID         string               `json:"id"`
	Name       string               `json:"name"`
	Status     testplan.Status      `json:"status"`
	TestResult *testplan.StepResult `json:"testresult"`
}

func (p *eventPrinter) Broadcast(event string, payload interface{}) {
	ev, ok := payload.(execution.Event)
	if !ok {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.json {
		if b, err := json.Marshal(ev); err == nil {
			fmt.Fprintln(p.out, string(b))
		}
		return
	}

	var n node
	if err := json.Unmarshal(ev.Data.Data, &n); err != nil {
		return
	}
	if n.Status == "" || n.Status == testplan.StatusUnknown {
		return
	}

	line := fmt.Sprintf("%-8s %-8s %-10s %s", strings.ToUpper(string(n.Status)), ev.Data.Type, n.ID, n.Name)
	if ev.Data.Type == execution.KindStep && n.TestResult != nil && n.TestResult.ReceiveData != "" {
		line += fmt.Sprintf(" <- %q", n.TestResult.ReceiveData)
	}
	fmt.Fprintln(p.out, line)
}

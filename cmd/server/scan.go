package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/VisualEdit/backend/internal/controller"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/logging"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/infrastructure/server"
	"github.com/GriffinCanCode/VisualEdit/backend/internal/session"
)

var errScanTimeout = errors.New("scan: element list not received in time")

var scanCmd = &cobra.Command{
	Use:   "scan <url>",
	Short: "Fetch a page, run the agent against it and print its editable elements",
	Args:  cobra.ExactArgs(1),
	RunE:  runScan,
}

func init() {
	scanCmd.Flags().Duration("timeout", 15*time.Second, "overall scan timeout")
	scanCmd.Flags().String("mode", "local", "hosting mode: local or browser")
	scanCmd.Flags().Bool("pretty", false, "indent the JSON output")
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	timeout, _ := cmd.Flags().GetDuration("timeout")
	rawMode, _ := cmd.Flags().GetString("mode")
	pretty, _ := cmd.Flags().GetBool("pretty")

	mode, err := session.ParseMode(rawMode)
	if err != nil {
		return err
	}
	if mode == session.Proxy {
		return fmt.Errorf("%w: proxy sessions need an operator browser", session.ErrUnsupported)
	}

	// stdout carries the JSON.
	logger, err := logging.New(logging.Config{
		Level:       "warn",
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return err
	}
	cfg.RateLimit.Enabled = false
	if mode == session.Browser {
		cfg.Browser.Enabled = true
	}
	srv, err := server.New(cfg, logger)
	if err != nil {
		return err
	}
	defer srv.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	sessions := srv.Sessions()
	defer sessions.CloseAll(context.Background())

	s, err := sessions.Create(ctx, "", args[0], mode)
	if err != nil {
		return err
	}

	loaded := make(chan controller.Snapshot, 1)
	unsubscribe := s.Subscribe(func(ev controller.Event) {
		if ev.Kind != controller.EventState || ev.Snapshot == nil || ev.Snapshot.State != controller.Idle {
			return
		}
		select {
		case loaded <- *ev.Snapshot:
		default:
		}
	})
	defer unsubscribe()

	if snap := s.Controller().Snapshot(); snap.State == controller.Idle {
		loaded <- snap
	}

	var snap controller.Snapshot
	select {
	case snap = <-loaded:
	case <-ctx.Done():
		return errScanTimeout
	}

	var out []byte
	if pretty {
		out, err = sonic.ConfigStd.MarshalIndent(snap.Elements, "", "  ")
	} else {
		out, err = sonic.Marshal(snap.Elements)
	}
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}

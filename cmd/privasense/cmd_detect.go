package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"privasense/internal/browser"
	"privasense/internal/detect"
	"privasense/internal/logging"
	"privasense/internal/sense"
)

var (
	incognito  bool
	jsonOutput bool
)

var errNoURL = errors.New("no page URL: pass one as an argument or set browser.url")

var detectCmd = &cobra.Command{
	Use:   "detect [url]",
	Short: "Report whether the page's browsing context is private",
	Long: `Opens url (or browser.url from the config) and runs incognito detection.
Prints the configured normal or incognito label, or the full result with --json.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDetect,
}

var infoCmd = &cobra.Command{
	Use:   "info [url]",
	Short: "Report every enabled feature for the page",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runInfo,
}

// detectOutput is the JSON shape of a detection result.
type detectOutput struct {
	Label     string `json:"label"`
	Private   bool   `json:"private"`
	Engine    string `json:"engine"`
	Signature int    `json:"signature"`
	Source    string `json:"source"`
	ElapsedMs int64  `json:"elapsed_ms"`
}

func newDetectOutput(res detect.Result) detectOutput {
	return detectOutput{
		Label: detect.Labels{
			Normal:  cfg.Incognito.NormalLabel,
			Private: cfg.Incognito.IncognitoLabel,
		}.For(res.Private),
		Private:   res.Private,
		Engine:    res.Engine.String(),
		Signature: res.Signature,
		Source:    res.Source.String(),
		ElapsedMs: res.Elapsed.Milliseconds(),
	}
}

func runDetect(cmd *cobra.Command, args []string) error {
	return withClient(cmd, args, func(ctx context.Context, client *sense.Client) error {
		res, err := client.DetectIncognitoResult(ctx)
		if err != nil {
			return err
		}
		out := newDetectOutput(res)
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), out)
		}
		fmt.Fprintln(cmd.OutOrStdout(), out.Label)
		return nil
	})
}

func runInfo(cmd *cobra.Command, args []string) error {
	return withClient(cmd, args, func(ctx context.Context, client *sense.Client) error {
		info, err := client.Info(ctx)
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(cmd.OutOrStdout(), info)
		}
		printInfo(cmd.OutOrStdout(), info)
		return nil
	})
}

func printInfo(w io.Writer, info sense.Info) {
	if info.Incognito != "" {
		fmt.Fprintf(w, "Incognito: %s\n", info.Incognito)
	}
	if info.Activity != "" {
		fmt.Fprintf(w, "Activity:  %s\n", info.Activity)
	}
	if info.Storage != "" {
		fmt.Fprintf(w, "Storage:   %s\n", info.Storage)
	}
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func resolveURL(args []string) (string, error) {
	if len(args) > 0 && args[0] != "" {
		return args[0], nil
	}
	if cfg.Browser.URL != "" {
		return cfg.Browser.URL, nil
	}
	return "", errNoURL
}

// withClient opens the target page, wires a client to it, runs fn and
// tears the browser down again.
func withClient(cmd *cobra.Command, args []string, fn func(context.Context, *sense.Client) error) error {
	url, err := resolveURL(args)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	browserLog := logs.Get(logging.CategoryBrowser)
	mgr := browser.NewSessionManager(cfg.Browser, browserLog)
	if err := mgr.Start(ctx); err != nil {
		return fmt.Errorf("failed to start browser: %w", err)
	}
	browserLog.Debug("browser ready", zap.String("control_url", mgr.ControlURL()))
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			browserLog.Warn("failed to shutdown browser", zap.Error(err))
		}
	}()

	session, err := mgr.CreateSession(ctx, url, incognito)
	if err != nil {
		return fmt.Errorf("failed to open page: %w", err)
	}
	browserLog.Info("page opened",
		zap.String("session", session.ID),
		zap.String("url", session.URL),
		zap.Bool("incognito", session.Incognito))
	defer func() {
		if err := mgr.CloseSession(session.ID); err != nil {
			browserLog.Warn("failed to close session", zap.String("session", session.ID), zap.Error(err))
		}
	}()

	host, err := mgr.Host(session.ID)
	if err != nil {
		return err
	}

	client := sense.New(cfg, sense.Deps{
		Host:      host,
		Motion:    host,
		Estimator: host,
		Logs:      logs,
	})
	defer client.Close()

	return fn(ctx, client)
}

package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/trendcast/go-mediautils/mediaupload"
	"github.com/trendcast/go-mediautils/metrics"
)

var (
	uploadTitle  string
	uploadDryRun bool
)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Upload a media file",
	Long: `Upload a media file to the service and print the committed asset as JSON.

Examples:
  # Upload with endpoints from the environment
  MEDIA_INIT_UPLOAD_URL=... MEDIA_COMMIT_UPLOAD_URL=... mediaupload upload clip.mp4

  # Write a preview instead of uploading
  mediaupload upload clip.mp4 --dry-run`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

func init() {
	uploadCmd.Flags().StringVar(&uploadTitle, "title", "", "Title of the media (default: file name)")
	uploadCmd.Flags().BoolVar(&uploadDryRun, "dry-run", false, "Write an upload preview to the output dir instead of uploading")
}

func runUpload(cmd *cobra.Command, args []string) error {
	config, err := mediaupload.ParseStateConfig(envRepo)
	if err != nil {
		return err
	}
	if uploadDryRun {
		config.DryRun = true
	}
	if config.Verbose {
		logger.EnableDebugLog(true)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var m *metrics.Prometheus
	if config.MetricsAddr != "" {
		reg := prometheus.NewRegistry()
		m = metrics.New(reg)
		shutdown := serveMetrics(config.MetricsAddr, reg)
		defer shutdown()
	}

	result, err := mediaupload.Upload(ctx, mediaupload.UploadParams{
		FilePath: args[0],
		Title:    uploadTitle,
		Config:   config,
		Metrics:  m,
	}, logger)
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return nil
}

func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}

	go func() {
		logger.Debugf("Serving metrics on %s/metrics", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warnf("Metrics server stopped: %s", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			logger.Warnf("Failed to stop metrics server: %s", err)
		}
	}
}

// Command crowdrisk watches a camera, video or frame directory and records
// crowd risk incidents to SQLite.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/nvr-ai/go-crowdrisk/capture"
	"github.com/nvr-ai/go-crowdrisk/config"
	"github.com/nvr-ai/go-crowdrisk/controller"
	"github.com/nvr-ai/go-crowdrisk/onnx"
	"github.com/nvr-ai/go-crowdrisk/profiler"
	"github.com/nvr-ai/go-crowdrisk/store"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const usage = `usage: crowdrisk <command> [flags]

commands:
  run       process a camera, video, image or frame directory
  export    write incidents or the detection log as CSV
  history   print the most recent incidents
  clear     delete all incidents and detections
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "run":
		err = runCommand(ctx, args)
	case "export":
		err = exportCommand(ctx, args)
	case "history":
		err = historyCommand(ctx, args)
	case "clear":
		err = clearCommand(ctx, args)
	case "-h", "--help", "help":
		fmt.Fprint(os.Stdout, usage)
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}
	if err != nil {
		log.Error().Err(err).Msg("crowdrisk failed")
		os.Exit(1)
	}
}

// configFlags registers the flags shared by every command.
func configFlags(fs *flag.FlagSet) (configPath, envFile *string) {
	configPath = fs.String("config", "", "Path to a YAML configuration file")
	envFile = fs.String("env", ".env", "Path to a .env file with CROWDRISK_* overrides")
	return configPath, envFile
}

func loadConfig(configPath, envFile string) (config.Config, error) {
	cfg, err := config.Load(configPath, envFile)
	if err != nil {
		return config.Config{}, err
	}
	log.Logger = cfg.Logger(os.Stderr)
	return cfg, nil
}

func runCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	configPath, envFile := configFlags(fs)
	var (
		videoPath  = fs.String("video", "", "Path to video file (.mp4, .avi, .mov, .mkv)")
		imagePath  = fs.String("image", "", "Path to image file (.jpg, .jpeg, .png, .bmp)")
		framesDir  = fs.String("dir", "", "Directory of frame-<n> images")
		device     = fs.Int("device", -1, "Camera device index")
		statsEvery = fs.Int("stats-every", 30, "Print stats every N processed frames, 0 to disable")
		profile    = fs.Duration("profile", 0, "Log runtime and pipeline metrics at this interval, 0 to disable")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	switch {
	case *videoPath != "":
		cfg.Source.Kind, cfg.Source.Path = capture.KindVideo, *videoPath
	case *imagePath != "":
		cfg.Source.Kind, cfg.Source.Path = capture.KindImage, *imagePath
	case *framesDir != "":
		cfg.Source.Kind, cfg.Source.Path = capture.KindDirectory, *framesDir
	case *device >= 0:
		cfg.Source.Kind, cfg.Source.Device = capture.KindCamera, *device
	}
	logger := log.Logger

	detector, err := onnx.NewDetector(cfg.Detector)
	if err != nil {
		return err
	}
	defer detector.Close()

	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	recorder := controller.NewIncidentRecorder(st, cfg.Session.IncidentQueueSize, controller.WithRecorderLogger(logger))
	defer recorder.Close()

	source, err := capture.Open(cfg.Source)
	if err != nil {
		return err
	}

	out := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	opts := []controller.SessionOption{
		controller.WithSessionLogger(logger),
		controller.WithRecorder(recorder),
		controller.WithStatsHandler(func(stats controller.Stats) {
			if *statsEvery > 0 && stats.FramesProcessed%int64(*statsEvery) == 0 {
				printStats(out, stats)
			}
		}),
	}

	var rp *profiler.RuntimeProfiler
	if *profile > 0 {
		rp = profiler.NewRuntimeProfiler(profiler.Options{ReportInterval: *profile}, logger)
		opts = append(opts, controller.WithOperationTimer(rp))
	}

	session := controller.NewSession(
		source,
		controller.NewPipeline(detector, cfg.Pipeline, controller.WithLogger(logger)),
		cfg.Session,
		opts...,
	)

	manager := controller.NewManager(controller.WithManagerLogger(logger))
	if err := manager.Start(ctx, session); err != nil {
		session.Close()
		return err
	}

	if rp != nil {
		rp.AddMetricsCollector(session)
		rp.Start(ctx)
		defer rp.Stop()
	}

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case <-session.Done():
	}
	if err := manager.Stop(); err != nil {
		logger.Warn().Err(err).Msg("failed to stop session")
	}

	printStats(out, session.Stats())
	if dropped := recorder.Dropped(); dropped > 0 {
		logger.Warn().Int64("dropped", dropped).Msg("store writes were dropped")
	}
	return session.Err()
}

func printStats(w *tabwriter.Writer, stats controller.Stats) {
	fmt.Fprintf(w, "frame\t%d\tpeople\t%d\tscore\t%.3f\tlevel\t%s\talert\t%s\tfps\t%.1f\tincidents\t%d\n",
		stats.FrameID,
		stats.PeopleCount,
		stats.Assessment.Score,
		stats.Assessment.Level,
		stats.Alert,
		stats.FPS,
		stats.Incidents,
	)
	w.Flush()
}

func exportCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	configPath, envFile := configFlags(fs)
	var (
		kind    = fs.String("kind", "incidents", "What to export: incidents or detections")
		outPath = fs.String("out", "", "Output CSV file (default stdout)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	var w io.Writer = os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			return errors.Wrapf(err, "create %s", *outPath)
		}
		defer f.Close()
		w = f
	}

	switch *kind {
	case "incidents":
		err = st.ExportIncidentsCSV(ctx, w)
	case "detections":
		err = st.ExportDetectionsCSV(ctx, w)
	default:
		return errors.Errorf("unknown export kind %q", *kind)
	}
	if err != nil {
		return err
	}
	if *outPath != "" {
		log.Info().Str("kind", *kind).Str("path", *outPath).Msg("export written")
	}
	return nil
}

func historyCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	configPath, envFile := configFlags(fs)
	var (
		limit      = fs.Int("limit", store.DefaultHistoryLimit, "Number of rows to show")
		detections = fs.Bool("detections", false, "Show the detection log instead of incidents")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	if *detections {
		records, err := st.RecentDetections(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, "TIMESTAMP\tLABEL\tCONFIDENCE")
		for _, r := range records {
			fmt.Fprintf(w, "%s\t%s\t%.2f\n", r.Timestamp.Format(time.RFC3339), r.Label, r.Confidence)
		}
		return nil
	}

	incidents, err := st.Recent(ctx, *limit)
	if err != nil {
		return err
	}
	fmt.Fprintln(w, "TIMESTAMP\tLEVEL\tPEOPLE\tSCORE\tSESSION")
	for _, incident := range incidents {
		fmt.Fprintf(w, "%s\t%s\t%d\t%.3f\t%s\n",
			incident.Timestamp.Format(time.RFC3339),
			incident.Level,
			incident.PeopleCount,
			incident.Score,
			incident.SessionID,
		)
	}
	return nil
}

func clearCommand(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("clear", flag.ExitOnError)
	configPath, envFile := configFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadConfig(*configPath, *envFile)
	if err != nil {
		return err
	}
	st, err := store.Open(ctx, cfg.Store.Path)
	if err != nil {
		return err
	}
	defer st.Close()

	return st.Clear(ctx)
}

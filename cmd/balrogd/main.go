// Command balrogd is the service entrypoint: it wires the config
// loader, logger, ring, camera producer, cascade worker pool,
// aggregator, message sender, flap controller, bot, janitor and
// metrics/debug HTTP surface together, and hosts the whole thing as an
// OS service via kardianos/service.
package main

import (
	"context"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/pprof"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/kardianos/service"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dieriver/balrog-go/internal/aggregator"
	"github.com/dieriver/balrog-go/internal/camera"
	"github.com/dieriver/balrog-go/internal/cascade"
	"github.com/dieriver/balrog-go/internal/cascadepool"
	"github.com/dieriver/balrog-go/internal/config"
	"github.com/dieriver/balrog-go/internal/flap"
	"github.com/dieriver/balrog-go/internal/janitor"
	"github.com/dieriver/balrog-go/internal/metrics"
	"github.com/dieriver/balrog-go/internal/mjpeg"
	"github.com/dieriver/balrog-go/internal/ring"
	"github.com/dieriver/balrog-go/internal/sender"
	"github.com/dieriver/balrog-go/internal/servicelog"
	"github.com/dieriver/balrog-go/internal/telegrambot"
)

// exitCode carries the process exit status across the kardianos/service
// lifecycle: 0 means the aggregator reached a clean scoped exit (operator
// `restart`), non-zero means a fatal condition that a supervisor should
// not blindly retry.
var exitCode int32

type program struct {
	configPath string
	cancel     context.CancelFunc
	done       chan struct{}
}

func (p *program) Start(s service.Service) error {
	svcLogger, err := s.Logger(nil)
	if err != nil {
		svcLogger = nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	p.done = make(chan struct{})
	go func() {
		defer close(p.done)
		run(ctx, p.configPath, svcLogger)
	}()
	return nil
}

func (p *program) Stop(s service.Service) error {
	if p.cancel != nil {
		p.cancel()
	}
	select {
	case <-p.done:
	case <-time.After(10 * time.Second):
	}
	return nil
}

func main() {
	configPath := flag.String("config", "balrog.toml", "path to the TOML configuration file")
	flag.Parse()

	svcConfig := &service.Config{
		Name:        "balrogd",
		DisplayName: "Balrog cat-flap prey detector",
		Description: "Watches a cat flap camera stream and notifies an operator when prey is suspected.",
	}
	prg := &program{configPath: *configPath}
	s, err := service.New(prg, svcConfig)
	if err != nil {
		fmt.Fprintf(os.Stderr, "balrogd: failed to create service: %v\n", err)
		os.Exit(1)
	}

	if len(flag.Args()) > 0 {
		if err := service.Control(s, flag.Args()[0]); err != nil {
			fmt.Fprintf(os.Stderr, "balrogd: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := s.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "balrogd: service run failed: %v\n", err)
		os.Exit(1)
	}
	os.Exit(int(atomic.LoadInt32(&exitCode)))
}

// run wires and drives the full pipeline until ctx is cancelled (operator
// `restart` or OS service stop). A fatal error during wiring sets
// exitCode non-zero before returning; a clean ctx-cancelled return keeps
// the default exit code of 0 so the supervisor restarts the process.
func run(parentCtx context.Context, configPath string, svcLogger service.Logger) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "balrogd: %v\n", err)
		atomic.StoreInt32(&exitCode, 1)
		return
	}

	logFolder := cfg.Logging.LogBaseFolder
	if cfg.Env.LogFolder != "" {
		logFolder = cfg.Env.LogFolder
	}
	logger := servicelog.New(svcLogger, servicelog.Options{
		BaseFolder:    logFolder,
		FileName:      cfg.Logging.LogFileName,
		DebugFileName: cfg.Logging.LogDbgFileName,
		MaxSizeMB:     cfg.Logging.MaxLogFileSizeMB,
		MaxFiles:      cfg.Logging.MaxLogFilesKept,
	}, cfg.Logging.StdoutDebugLevel)

	logger.Info("balrogd starting", servicelog.String("config", configPath))

	r := ring.New(cfg.General.MaxFrameBuffers,
		logger.With(servicelog.String("component", "ring")),
		cfg.Logging.EnableCircularBufferLogging)

	var src camera.Source
	if cfg.Env.UseNullCamera {
		src = camera.NewDebugSource(os.DirFS("."), "internal/cascade/assets/warmup.jpg")
	} else {
		src = camera.NewStreamSource(cfg.Env.CameraStreamURI)
	}
	producer := camera.New(r, src, logger.With(servicelog.String("component", "camera")), camera.Config{
		FPS:           cfg.Camera.CameraFPS,
		CleanupFrames: cfg.Camera.CameraCleanupFramesThreshold,
	})

	// The detection cascade's CV stages live behind an external
	// contract; Stub stands in as the wired placeholder a real model
	// binary would replace behind the same interface.
	debugDir := filepath.Join(logFolder, "cascade-errors")
	pool := cascadepool.New(r, cascade.Stub{}, logger.With(servicelog.String("component", "cascade")),
		cascadepool.Options{
			Size:         cfg.General.MaxFrameProcessorThreads,
			DebugDir:     debugDir,
			TimestampFmt: cfg.General.TimestampFormat,
			DebugLog:     cfg.Logging.EnableCascadeLogging,
		})

	var msgSender sender.Sender
	var botAPI *tgbotapi.BotAPI
	if cfg.Env.UseNullTelegram {
		msgSender = sender.NewNull(logger.With(servicelog.String("component", "sender")))
	} else {
		botAPI, err = tgbotapi.NewBotAPI(cfg.Env.TelegramBotToken)
		if err != nil {
			logger.Error("failed to initialize telegram bot API", servicelog.Error(err))
			atomic.StoreInt32(&exitCode, 1)
			return
		}
		msgSender = sender.NewTelegram(botAPI, cfg.Env.TelegramChatID, logger.With(servicelog.String("component", "sender")))
	}

	agg := aggregator.New(r, aggregator.Thresholds{
		EventResetThreshold:           cfg.Model.EventResetThreshold,
		CatCounterThreshold:           cfg.Model.CatCounterThreshold,
		CumulusPreyThreshold:          cfg.Model.CumulusPreyThreshold,
		CumulusNoPreyThreshold:        cfg.Model.CumulusNoPreyThreshold,
		PreyValHardThreshold:          cfg.Model.PreyValHardThreshold,
		MinAggregationFramesThreshold: cfg.General.MinAggregationFramesThreshold,
	}, logger.With(servicelog.String("component", "aggregator")), msgSender, cfg.General.MaxMessageSenderThreads)

	flapClient := flap.NewHTTPClient("https://app.api.surehub.io", cfg.Env.SurepetUser, cfg.Env.SurepetPassword,
		10*time.Second, logger.With(servicelog.String("component", "flap")))
	flapController := flap.New(flapClient, logger.With(servicelog.String("component", "flap")))

	clean := janitor.New(logger.With(servicelog.String("component", "janitor")),
		[]string{logFolder, debugDir}, 7*24*time.Hour, time.Hour)

	collector := metrics.NewCollector(r, msgSender, time.Second)

	requestStop := func() {
		logger.Info("restart requested by operator")
		cancel()
	}

	var tgBot *telegrambot.Bot
	if botAPI != nil {
		bot, err := telegrambot.New(ctx, botAPI, cfg.Env.TelegramChatID, msgSender, flapController, agg, clean,
			cfg.Flap.LetInOpenSeconds, requestStop, logger.With(servicelog.String("component", "bot")))
		if err != nil {
			logger.Error("failed to initialize bot", servicelog.Error(err))
		} else {
			tgBot = bot
		}
	}

	liveFeed := mjpeg.NewBroadcaster()
	defer liveFeed.Close()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.HandleFunc("/livepic", diagnosticImageHandler(func() image.Image { return msgSender.LiveImage() }))
	mux.HandleFunc("/lastcascpic", diagnosticImageHandler(func() image.Image { return msgSender.LastCascadeImage() }))
	mux.Handle("/live", mjpeg.Handler(logger.With(servicelog.String("component", "mjpeg")), liveFeed))
	httpSrv := &http.Server{
		Addr:           ":8080",
		Handler:        mux,
		ReadTimeout:    5 * time.Second,
		WriteTimeout:   7 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("debug/metrics http server failed", servicelog.Error(err))
		}
	}()

	go producer.Run(ctx)
	go pool.Run(ctx)
	go flapController.Run(ctx)
	go clean.Run(ctx)
	go collector.Run(ctx)
	go publishLiveFeed(ctx, liveFeed, msgSender)
	if tgBot != nil {
		go tgBot.Run(ctx)
	}

	logger.Info("balrogd ready")
	agg.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	httpSrv.Shutdown(shutdownCtx)

	logger.Info("balrogd stopped")
}

// publishLiveFeed republishes the sender's live-image diagnostic slot
// into the MJPEG broadcaster on a fixed cadence, turning the
// aggregator's last-writer-wins snapshot into a pollable operator stream.
func publishLiveFeed(ctx context.Context, feed *mjpeg.Broadcaster, s sender.Sender) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if img := s.LiveImage(); img != nil {
				feed.Publish(img)
			}
		}
	}
}

func diagnosticImageHandler(get func() image.Image) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		img := get()
		if img == nil {
			http.Error(w, "no image available yet", http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/jpeg")
		if err := jpeg.Encode(w, img, &jpeg.Options{Quality: 90}); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	}
}

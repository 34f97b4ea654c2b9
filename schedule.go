package main

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"nutrikb/services"
)

func newScheduleCmd() *cobra.Command {
	var opts importOptions
	var spec string
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Re-run the import on a cron schedule and serve /metrics and /healthz",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSchedule(cmd.Context(), opts, spec)
		},
	}
	bindImportFlags(cmd, &opts)
	cmd.Flags().StringVar(&spec, "cron", "", `Cron spec, e.g. "0 3 * * *" or "@every 6h" (required)`)
	_ = cmd.MarkFlagRequired("cron")
	return cmd
}

// runState ist der Zustand des letzten geplanten Laufs für /healthz.
type runState struct {
	mu         sync.Mutex
	running    bool
	lastStart  time.Time
	lastFinish time.Time
	lastRunID  string
	lastError  string
}

func (s *runState) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.lastStart = time.Now().UTC()
}

func (s *runState) finish(res *services.Result, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastFinish = time.Now().UTC()
	s.lastRunID = ""
	if res != nil {
		s.lastRunID = res.RunID
	}
	s.lastError = ""
	if err != nil {
		s.lastError = err.Error()
	}
}

func (s *runState) snapshot() gin.H {
	s.mu.Lock()
	defer s.mu.Unlock()
	h := gin.H{"status": "ok", "running": s.running}
	if !s.lastStart.IsZero() {
		h["last_start"] = s.lastStart
	}
	if !s.lastFinish.IsZero() {
		h["last_finish"] = s.lastFinish
		h["last_run_id"] = s.lastRunID
	}
	if s.lastError != "" {
		h["status"] = "degraded"
		h["last_error"] = s.lastError
	}
	return h
}

// cronLogger leitet die Meldungen von robfig/cron an zap weiter.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}

func newRouter(a *app, state *runState) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(a.metrics.Registry, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, state.snapshot())
	})
	return router
}

func runSchedule(ctx context.Context, opts importOptions, spec string) error {
	a, mode, err := setup(ctx, opts)
	if err != nil {
		return err
	}
	defer a.logger.Sync()
	defer a.Close()
	log := a.logger.With(zap.String("cron", spec))

	state := &runState{}
	clog := cronLogger{log: log.Sugar()}
	scheduler := cron.New(cron.WithLogger(clog), cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)))
	if _, err := scheduler.AddFunc(spec, func() {
		log.Info("Running scheduled import", zap.String("file", opts.file))
		state.start()
		res, err := a.importOnce(ctx, opts, mode)
		state.finish(res, err)
		if err != nil {
			log.Error("Scheduled import failed", zap.Error(err))
		}
	}); err != nil {
		return err
	}
	scheduler.Start()

	srv := &http.Server{
		Addr:              ":" + a.cfg.HTTPPort,
		Handler:           newRouter(a, state),
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		log.Info("Starting server", zap.String("port", a.cfg.HTTPPort))
		serveErr <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("Shutting down")
	case err = <-serveErr:
	}

	// Laufende Imports dürfen fertig werden; der Ledger schließt sie auch bei Abbruch ab.
	<-scheduler.Stop().Done()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Warn("Server shutdown failed", zap.Error(shutdownErr))
	}
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	adactor "sauna2hap/internal/adapter/actor"
	"sauna2hap/internal/adapter/harvia"
	"sauna2hap/internal/adapter/homekit"
	"sauna2hap/internal/config"
	"sauna2hap/internal/core/actor"
	"sauna2hap/internal/core/domain"
	"sauna2hap/internal/core/service"
	"sauna2hap/internal/server"
	"sauna2hap/internal/util/actorutil"

	pactor "github.com/asynkron/protoactor-go/actor"
	"github.com/asynkron/protoactor-go/eventstream"
	"github.com/carlmjohnson/versioninfo"
	"github.com/reugn/go-quartz/job"
	"github.com/reugn/go-quartz/quartz"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())

	logger.Info("sauna2hap starting", zap.String("version", versioninfo.Short()))

	// init actor system
	as := actorutil.NewActorSystemWithZapLogger(logger)
	ctx := as.Root

	defer logger.Sync()

	// harvia cloud wiring
	client := harvia.NewClient(cfg.Harvia.BaseURL, logger)
	session := harvia.NewSession(client, cfg.Harvia, cfg.Session, logger)
	control := harvia.NewControl(client, session, logger)
	registry := harvia.NewRegistry(control, logger)
	dialer := harvia.NewDialer(client, session, logger)

	// authenticate and resolve the device before anything is spawned;
	// bad credentials or a missing device are startup failures
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 60*time.Second)
	if _, err := session.Token(startupCtx); err != nil {
		cancelStartup()
		logger.Fatal("cloud authentication failed", zap.Error(err))
	}
	device, err := registry.Resolve(startupCtx, cfg.Device.Id)
	cancelStartup()
	if err != nil {
		logger.Fatal("device resolution failed", zap.Error(err))
	}
	if cfg.Device.Name != "" {
		device.Name = cfg.Device.Name
	}
	logger.Info("bridging device", zap.String("id", device.ID), zap.String("name", device.Name))

	store := service.NewStateStore(logger)
	eventStream := &eventstream.EventStream{}

	props := pactor.PropsFromProducer(func() pactor.Actor {
		return actor.NewMasterActor(*cfg, eventStream,
			func() *adactor.StreamActor {
				return adactor.NewStreamActor(cfg.Stream, store, dialer, control, device, eventStream, logger)
			},
			func() *actor.CommandDispatcherActor {
				return actor.NewCommandDispatcherActor(cfg.Command, store, control, device, eventStream, logger)
			},
			func(streamPID *pactor.PID) *actor.ReconnectSupervisorActor {
				return actor.NewReconnectSupervisorActor(cfg.Stream, session, streamPID, eventStream, logger)
			},
			logger)
	})
	pid, err := ctx.SpawnNamed(props, domain.ACTOR_ID_MASTER)
	if err != nil {
		return
	}

	// periodic token keep-alive so push subscriptions never ride an
	// expired session
	sched := quartz.NewStdScheduler()
	sched.Start(context.Background())
	keepAlive := job.NewFunctionJob(func(jobCtx context.Context) (bool, error) {
		if _, err := session.Token(jobCtx); err != nil {
			logger.Warn("session keep-alive failed", zap.Error(err))
			return false, err
		}
		return true, nil
	})
	err = sched.ScheduleJob(
		quartz.NewJobDetail(keepAlive, quartz.NewJobKey("session-keepalive")),
		quartz.NewSimpleTrigger(cfg.Session.KeepAliveInterval()))
	if err != nil {
		logger.Error("could not schedule keep-alive job", zap.Error(err))
	}

	// homekit accessory server
	hk, err := homekit.NewAdapter(cfg.HomeKit, device, store, eventStream, as, pid, logger)
	if err != nil {
		logger.Fatal("homekit setup failed", zap.Error(err))
	}
	hkCtx, cancelHK := context.WithCancel(context.Background())
	go func() {
		if err := hk.Start(hkCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("homekit server stopped", zap.Error(err))
		}
	}()

	apiServer := server.NewServer(*cfg, ctx, pid)
	done := make(chan bool, 1)

	go gracefulShutdown(apiServer, done)

	err = apiServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	<-done
	log.Println("Graceful shutdown complete.")

	cancelHK()
	sched.Stop()
	ctx.Stop(pid)
	as.Shutdown()
}

func initConfig() (*config.Config, error) {

	// alias PORT => SAUNA2HAP_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("SAUNA2HAP_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("sauna2hap")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// required credentials
	if cfg.Harvia.Username == "" || cfg.Harvia.Password == "" {
		return nil, errors.New("config params harvia.username and harvia.password are required")
	}

	// check pairing pin
	if err := config.CheckPin(cfg.HomeKit.Pin); err != nil {
		return nil, err
	}

	// check bounds
	if cfg.Command.TimeoutSeconds < 5 {
		return nil, errors.New("config param command.timeout_seconds should be >= 5")
	}
	if cfg.Stream.HeartbeatTimeoutSeconds < 30 {
		return nil, errors.New("config param stream.heartbeat_timeout_seconds should be >= 30")
	}
	if cfg.Stream.BackoffBaseMillis < 100 {
		return nil, errors.New("config param stream.backoff_base_millis should be >= 100")
	}
	if cfg.Stream.BackoffFactor < 1 {
		return nil, errors.New("config param stream.backoff_factor should be >= 1")
	}
	if cfg.Stream.BackoffMaxMillis < cfg.Stream.BackoffBaseMillis {
		return nil, errors.New("config param stream.backoff_max_millis should be >= stream.backoff_base_millis")
	}
	if cfg.Session.KeepAliveIntervalMinutes < 1 {
		return nil, errors.New("config param session.keepalive_interval_minutes should be >= 1")
	}

	return &cfg, nil
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("harvia.base_url", harvia.DefaultBaseURL)
	viper.SetDefault("device.id", "")
	viper.SetDefault("device.name", "")
	viper.SetDefault("homekit.pin", "00102003")
	viper.SetDefault("homekit.port", 0)
	viper.SetDefault("homekit.storage_path", "./db")
	viper.SetDefault("homekit.bridge_name", "Sauna Bridge")
	viper.SetDefault("stream.heartbeat_timeout_seconds", 120)
	viper.SetDefault("stream.stability_threshold_seconds", 60)
	viper.SetDefault("stream.backoff_base_millis", 1000)
	viper.SetDefault("stream.backoff_max_millis", 60000)
	viper.SetDefault("stream.backoff_factor", 2)
	viper.SetDefault("command.timeout_seconds", 30)
	viper.SetDefault("session.refresh_margin_seconds", 300)
	viper.SetDefault("session.keepalive_interval_minutes", 10)
	viper.SetDefault("session.max_retry_attempts", 5)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.Harvia.Username = "*redacted*"
	cfg.Harvia.Password = "*redacted*"
	cfg.HomeKit.Pin = "*redacted*"
	slog.Info("Using", "config", cfg)
}

package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"robolab/simserver/internal/arena"
	"robolab/simserver/internal/auth"
	"robolab/simserver/internal/config"
	grpcsvc "robolab/simserver/internal/grpc"
	"robolab/simserver/internal/httpapi"
	"robolab/simserver/internal/logging"
	"robolab/simserver/internal/replay"
	"robolab/simserver/internal/sensors"
	"robolab/simserver/internal/simulation"
)

const shutdownTimeout = 5 * time.Second

// server owns every long-lived component of the simulator process.
type server struct {
	cfg      *config.Config
	log      *logging.Logger
	engine   *simulation.Engine
	loop     *simulation.Loop
	broker   *Broker
	handlers *httpapi.HandlerSet
	recorder *replay.Recorder
	cleaner  *replay.Cleaner
}

func newServer(cfg *config.Config, logger *logging.Logger) (*server, error) {
	if logger == nil {
		logger = logging.L()
	}

	//1.- Resolve the arena, falling back to the built-in classroom layout.
	env := arena.Default()
	if cfg.ArenaPath != "" {
		loaded, err := arena.Load(cfg.ArenaPath)
		if err != nil {
			return nil, err
		}
		env = loaded
	}

	s := &server{cfg: cfg, log: logger}
	monitor := simulation.NewTickMonitor(cfg.TickInterval)
	opts := []simulation.Option{
		simulation.WithSampler(sensors.NewModel(nil, cfg.RandomSeed)),
		simulation.WithStep(cfg.TickInterval),
		simulation.WithTickMonitor(monitor),
		simulation.WithLogger(logger.With(logging.String("component", "engine"))),
	}

	//2.- Record the session when a replay directory is configured.
	if cfg.ReplayDir != "" {
		writer, manifest, err := replay.NewWriter(cfg.ReplayDir, uuid.NewString(), nil)
		if err != nil {
			return nil, fmt.Errorf("open replay: %w", err)
		}
		writer.SetHeaderMetadata(cfg.RandomSeed, env)
		s.recorder = replay.NewRecorder(writer, logger)
		s.cleaner = replay.NewCleaner(cfg.ReplayDir, writer.Directory(), replay.RetentionPolicy{
			MaxSessions: cfg.ReplayRetention.MaxSessions,
			MaxAge:      cfg.ReplayRetention.MaxAge,
		}, logger)
		opts = append(opts, simulation.WithRecorder(s.recorder))
		logger.Info("recording replay", logging.String("session_id", manifest.SessionID), logging.String("directory", writer.Directory()))
	}

	s.engine = simulation.NewEngine(env, opts...)
	s.loop = simulation.NewLoop(cfg.TickInterval, s.engine.Step)

	//3.- One verifier guards the websocket and every HTTP route that drives the robot.
	var (
		brokerOpts []BrokerOption
		verifier   *auth.Verifier
	)
	if cfg.WSAuthSecret != "" {
		var err error
		verifier, err = auth.NewVerifier(cfg.WSAuthSecret, config.DefaultAuthLeeway)
		if err != nil {
			return nil, fmt.Errorf("auth: %w", err)
		}
		brokerOpts = append(brokerOpts, WithAuthenticator(verifier))
	}
	s.broker = NewBroker(cfg, s.engine, logger.With(logging.String("component", "broker")), brokerOpts...)

	handlerOpts := httpapi.Options{
		Logger:       logger.With(logging.String("component", "http")),
		Simulation:   s.engine,
		Readiness:    s.broker,
		ResetLimiter: httpapi.NewSlidingWindowLimiter(cfg.ResetWindow, cfg.ResetBurst, nil),
		OnCommand:    s.broker.NotifyCommand,
		MaxBodyBytes: cfg.MaxPayloadBytes,
	}
	if verifier != nil {
		handlerOpts.Authenticator = verifier
	}
	if s.recorder != nil {
		handlerOpts.ReplayStats = s.recorder.Stats
		handlerOpts.StorageStats = s.cleaner.Stats
	}
	s.handlers = httpapi.NewHandlerSet(handlerOpts)
	return s, nil
}

// routes builds the HTTP surface: the JSON API, the websocket endpoint and broker diagnostics.
func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	s.handlers.Register(mux)
	mux.HandleFunc(websocketPath, s.broker.serveWS)
	mux.Handle("/api/broker", statsHandler(s.broker))
	mux.Handle("/api/logs", logsHandler(s.broker))
	return logging.HTTPTraceMiddleware(s.log)(mux)
}

// run serves until ctx is cancelled, then drains every component.
func (s *server) run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	tlsEnabled := s.cfg.TLSCertPath != ""
	advertised := advertisedEndpoints(s.cfg)

	var (
		grpcServer *grpc.Server
		listener   net.Listener
	)
	if s.cfg.GRPCAddress != "" {
		serverOpts, err := grpcsvc.ServerOptions(s.cfg, s.log)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer(serverOpts...)
		grpcsvc.Register(grpcServer, grpcsvc.NewService(s.engine, grpcsvc.WithLogger(s.log.With(logging.String("component", "grpc")))))
		listener, err = net.Listen("tcp", s.cfg.GRPCAddress)
		if err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return s.loop.Run(gctx) })
	g.Go(func() error { return s.broker.Run(gctx) })
	if s.cleaner != nil {
		g.Go(func() error { return s.cleaner.Run(gctx, s.cfg.ReplayRetention.SweepInterval) })
	}

	g.Go(func() error {
		s.log.Info("simulation server listening",
			logging.String("url", advertised.HTTP),
			logging.String("websocket", advertised.WebSocket),
			logging.Strings("allowed_origins", s.cfg.AllowedOrigins),
			logging.Float64("client_bandwidth", s.cfg.ClientBandwidth),
			logging.Bool("auth_required", s.cfg.WSAuthSecret != ""),
		)
		var err error
		if tlsEnabled {
			err = httpServer.ListenAndServeTLS(s.cfg.TLSCertPath, s.cfg.TLSKeyPath)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcServer != nil {
		g.Go(func() error {
			s.log.Info("gRPC server listening", logging.String("address", listener.Addr().String()), logging.String("target", advertised.GRPC))
			if err := grpcServer.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return fmt.Errorf("grpc server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		//1.- Fail readiness first so load balancers stop routing new clients.
		s.broker.SetStartupError(errShuttingDown)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		err := httpServer.Shutdown(shutdownCtx)
		//2.- Closing the engine ends every state stream so gRPC can stop gracefully.
		s.broker.Close()
		s.engine.Close()
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return err
	})

	err := g.Wait()
	if s.recorder != nil {
		if closeErr := s.recorder.Close(); closeErr != nil {
			s.log.Warn("close replay", logging.Error(closeErr))
		}
	}
	return err
}

func statsHandler(b interface{ Stats() BrokerStats }) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.Stats())
	})
}

func logsHandler(b *Broker) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(b.RecentLogs())
	})
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logging:", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	srv, err := newServer(cfg, logger)
	if err != nil {
		logger.Fatal("initialise simulator", logging.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := srv.run(ctx); err != nil {
		logger.Error("simulator stopped with error", logging.Error(err))
		os.Exit(1)
	}
	logger.Info("simulator stopped")
}

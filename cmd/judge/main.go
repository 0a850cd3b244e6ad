package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"

	"supermafia/judge/internal/adminrpc"
	"supermafia/judge/internal/api"
	"supermafia/judge/internal/config"
	"supermafia/judge/internal/feed"
	"supermafia/judge/internal/floor"
	"supermafia/judge/internal/judge"
	"supermafia/judge/internal/logging"
	"supermafia/judge/internal/loop"
	"supermafia/judge/internal/room"
	"supermafia/judge/internal/store"
	"supermafia/judge/internal/supervisor"
	"supermafia/judge/internal/types"
	"supermafia/judge/internal/workerws"
)

func main() {
	// Load env files if present; .env.local wins over .env.
	_ = godotenv.Load(".env.local")
	_ = godotenv.Load()

	cfg := config.Load()
	log := logging.Setup(cfg.Server.LogLevel, cfg.Server.LogPretty)

	if !cfg.HasLiveKitCredentials() {
		log.Warn().Msg("LIVEKIT_URL, LIVEKIT_API_KEY or LIVEKIT_API_SECRET not set; rooms cannot be joined")
	}

	st := store.New()
	hub := feed.NewHub(log)
	reg := workerws.NewRegistry()
	host := judge.NewHostClient(cfg.Host.BaseURL, cfg.Host.Provider, &http.Client{})

	connector := room.NewLiveKitConnector(room.LiveKitOptions{
		URL:       cfg.LiveKit.URL,
		APIKey:    cfg.LiveKit.APIKey,
		APISecret: cfg.LiveKit.APISecret,
		Identity:  cfg.Agent.Identity,
		Name:      cfg.Agent.Name,

		TranscriberPrefix: cfg.Agent.TranscriberPrefix,
	}, log)

	var disp *loop.Dispatcher
	sup := supervisor.New(connector, st, supervisor.Options{
		RoomPrefix:        cfg.Agent.RoomPrefix,
		AgentIdentity:     cfg.Agent.Identity,
		Welcome:           cfg.Agent.Welcome,
		TranscriptTimeout: cfg.Turn.TranscriptTimeout,
		FlushDuration:     cfg.Turn.FlushDuration,
		MonitorInterval:   cfg.Supervisor.MonitorInterval,
		IdleEvictAfter:    cfg.Supervisor.IdleEvictAfter,
		NewGenerator: func(players func() []string) floor.Generator {
			return judge.NewGenerator(host, judge.GeneratorOptions{
				Timeout:       cfg.Host.Timeout,
				FallbackReply: cfg.Host.FallbackReply,
				DefaultAnswer: cfg.Host.DefaultAnswer,
				Players:       players,
				Logger:        log,
			})
		},
		NewSpeaker: func(conn room.Conn) room.Speaker {
			code, _ := room.Admit(conn.Name(), cfg.Agent.RoomPrefix)
			return reg.Speaker(code)
		},
		OnReply: hub.Publish,
		OnRemoved: func(code string) {
			hub.CloseRoom(code)
			disp.Forget(code)
		},
		Logger: log,
	})

	known := func(code string) bool {
		_, ok := sup.Get(code)
		return ok
	}
	disp = loop.New(func(code string) (loop.Transcriber, bool) {
		a, ok := sup.Get(code)
		if !ok {
			return nil, false
		}
		return a.Controller(), true
	}, func(code, typ string, payload map[string]any) {
		st.AppendEvent(code, typ, payload)
	}, cfg.Worker.TTSTimeout, log)

	wss := &workerws.Server{
		TokenSecret:   cfg.Auth.TokenSecret,
		TokenSkewSecs: cfg.Auth.TokenSkewSecs,
		Reg:           reg,
		Known:         known,
		OnMessage:     disp.OnMessage,
		Log:           log.With().Str("component", "workerws").Logger(),
	}

	h := api.NewHandlers(cfg, sup, st, host, log)
	h.Annotate = func(info *types.RoomInfo) {
		info.VoiceWorker = reg.Connected(info.Code)
		info.Speaking = disp.Speaking(info.Code)
		info.Spectators = hub.Subscribers(info.Code)
	}
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: logMiddleware(log, api.NewRouter(h, api.Streams{
			Feed:   hub.Handler(known),
			Worker: http.HandlerFunc(wss.HandleWorkerWS),
		})),
		ReadHeaderTimeout: 5 * time.Second,
	}

	gs := grpc.NewServer(grpc.UnaryInterceptor(logInterceptor(log)))
	adminrpc.Register(gs, adminrpc.NewServer(sup, log))
	if cfg.Admin.GRPCAddr != "" {
		l, err := net.Listen("tcp", cfg.Admin.GRPCAddr)
		if err != nil {
			log.Fatal().Err(err).Str("addr", cfg.Admin.GRPCAddr).Msg("admin listen")
		}
		go func() {
			log.Info().Str("addr", cfg.Admin.GRPCAddr).Msg("admin gRPC listening")
			if err := gs.Serve(l); err != nil {
				log.Error().Err(err).Msg("admin gRPC stopped")
			}
		}()
	}

	// Graceful shutdown on SIGINT/SIGTERM
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigc
		log.Info().Msg("shutdown signal received; stopping server...")
		// Leave rooms before draining HTTP
		sup.Close()
		gs.GracefulStop()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()

	log.Info().Str("addr", cfg.Server.Addr).Str("room_prefix", cfg.Agent.RoomPrefix).Msg("judge starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error().Err(err).Msg("server error")
		os.Exit(1)
	}
}

func logMiddleware(log zerolog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		log.Debug().Str("method", r.Method).Str("path", r.URL.Path).Dur("took", time.Since(start)).Msg("http")
	})
}

func logInterceptor(log zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		ev := log.Info()
		if err != nil {
			ev = log.Warn().Err(err)
		}
		ev.Str("method", info.FullMethod).Dur("took", time.Since(start)).Msg("admin rpc")
		return resp, err
	}
}

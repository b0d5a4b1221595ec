package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"relaychat/internal/auth"
	"relaychat/internal/config"
	"relaychat/internal/db"
	"relaychat/internal/events"
	clog "relaychat/internal/log"
	"relaychat/internal/server"
	"relaychat/internal/service"
	"relaychat/internal/ws"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	mint := flag.Bool("mint-token", false, "print an access token for <userId> <username> and exit")
	flag.Parse()

	// main 函数负责加载配置、初始化日志、连接数据库并启动 Gin 服务。
	cfg := config.Load()
	clog.Init(cfg.Env, cfg.LogLevel)

	if *mint {
		if flag.NArg() != 2 {
			fmt.Fprintln(os.Stderr, "usage: server -mint-token <userId> <username>")
			os.Exit(2)
		}
		tok, err := auth.GenerateAccessToken(flag.Arg(0), flag.Arg(1), cfg.JWTSecret, cfg.AccessTokenTTLMinutes)
		if err != nil {
			log.Fatal().Err(err).Msg("mint token")
		}
		fmt.Println(tok)
		return
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatal().Err(err).Msg("config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gdb, err := db.Connect(ctx, cfg.DatabaseDSN)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect")
	}
	if err := db.Migrate(gdb); err != nil {
		log.Fatal().Err(err).Msg("db migrate")
	}

	var publisher events.Publisher = events.Nop{}
	if cfg.NatsURL != "" {
		nc, err := events.Connect(cfg.NatsURL, "relaychat")
		if err != nil {
			log.Fatal().Err(err).Str("url", cfg.NatsURL).Msg("nats connect")
		}
		publisher = nc
	}

	userSvc := service.NewUserService(gdb)
	msgSvc := service.NewMessageService(gdb)
	hub := ws.NewHub(msgSvc, auth.NewJWTVerifier(cfg.JWTSecret), ws.Options{
		HeartbeatInterval: cfg.HeartbeatInterval,
		HeartbeatTimeout:  cfg.HeartbeatTimeout,
		NotifyRejections:  cfg.NotifyRejections,
		Publisher:         publisher,
		SubjectPrefix:     cfg.NatsSubjectPrefix,
		Users:             userSvc,
	})
	r := server.SetupRouter(cfg, server.NewHandler(userSvc, msgSvc, hub), hub)
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info().Str("addr", srv.Addr).Msg("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		hub.CloseAll()
		err := srv.Shutdown(shutdownCtx)
		if cerr := publisher.Close(); cerr != nil {
			log.Warn().Err(cerr).Msg("publisher close")
		}
		return err
	})
	if err := g.Wait(); err != nil {
		log.Fatal().Err(err).Msg("server run")
	}
	log.Info().Msg("server stopped")
}

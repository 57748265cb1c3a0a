package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"framegate/internal/config"
	"framegate/internal/logging"
	"framegate/internal/protocol"
	"framegate/internal/server"
	"framegate/internal/source"
	"framegate/internal/store"
)

func main() {
	configFile := flag.String("config", "", "TOML config file")
	issueToken := flag.String("issue-token", "", "print a bearer token for this subject and exit")
	flag.Parse()

	logging.Configure(logging.Runtime)
	logger := logging.For("gateway")

	cfg, err := config.Load(*configFile)
	if err != nil {
		logger.Fatal().Err(err).Msg("config load failed")
	}

	if *issueToken != "" {
		if cfg.JWTSecret == "" {
			logger.Fatal().Msg("jwt_secret is not configured")
		}
		token, err := server.IssueToken(cfg.JWTSecret, *issueToken, nil)
		if err != nil {
			logger.Fatal().Err(err).Msg("token signing failed")
		}
		fmt.Println(token)
		return
	}

	logger.Info().
		Str("gateway_id", cfg.GatewayID).
		Str("protocol", cfg.Protocol).
		Strs("known_protocols", protocol.Names()).
		Int("tcp_port", cfg.GatewayPort).
		Int("http_port", cfg.HTTPPort).
		Msg("starting framegate")

	opts := []server.Option{server.WithLogger(logging.For("server"))}

	if cfg.RedisURL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr: cfg.RedisURL,
			DB:   0,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			logger.Fatal().Err(err).Str("addr", cfg.RedisURL).Msg("redis connect failed")
		}
		defer redisClient.Close()
		opts = append(opts, server.WithStore(store.NewRedisSessions(redisClient, cfg.SessionTTL)))
		logger.Info().Str("addr", cfg.RedisURL).Msg("connected to redis")
	}

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL, nats.Name("framegate-"+cfg.GatewayID))
		if err != nil {
			logger.Fatal().Err(err).Str("url", cfg.NATSURL).Msg("nats connect failed")
		}
		defer natsConn.Close()
		opts = append(opts, server.WithPublisher(natsConn))
		logger.Info().Str("url", cfg.NATSURL).Msg("connected to nats")
	}

	if cfg.DatabaseURL != "" {
		archive, err := store.OpenArchive(cfg.DatabaseURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("archive open failed")
		}
		defer archive.Close()
		opts = append(opts, server.WithArchive(archive))
		logger.Info().Msg("frame archive enabled")
	}

	srv, err := server.New(cfg, opts...)
	if err != nil {
		logger.Fatal().Err(err).Msg("server init failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		srv.Hub().Run(ctx)
		return nil
	})
	eg.Go(func() error { return srv.ServeHTTP(ctx) })

	if cfg.GatewayPort > 0 {
		listener, err := srv.ListenTCP()
		if err != nil {
			logger.Fatal().Err(err).Msg("tcp listen failed")
		}
		eg.Go(func() error { return srv.ServeTCP(ctx, listener) })
	}

	if natsConn != nil {
		eg.Go(func() error { return srv.ConsumeDownlink(ctx, natsConn) })
	}

	if cfg.Serial.Device != "" {
		port, err := source.NewSerial(source.SerialOptions{
			Device:      cfg.Serial.Device,
			BaudRate:    cfg.Serial.BaudRate,
			DataBits:    cfg.Serial.DataBits,
			Parity:      cfg.Serial.Parity,
			StopBits:    cfg.Serial.StopBits,
			ReadTimeout: cfg.Serial.ReadTimeout,
			ReadSize:    cfg.ReadBufferSize,
		})
		if err != nil {
			logger.Fatal().Err(err).Msg("serial config invalid")
		}
		eg.Go(func() error { return srv.ServeSource(ctx, server.KindSerial, port) })
	}

	if cfg.Replay.File != "" {
		replay := source.NewFile(cfg.Replay.File, cfg.Replay.ChunkSize, cfg.Replay.Interval)
		eg.Go(func() error {
			err := srv.ServeSource(ctx, server.KindReplay, replay)
			if err == nil {
				logger.Info().Str("file", cfg.Replay.File).Msg("replay finished")
			}
			return err
		})
	}

	if err := eg.Wait(); err != nil {
		logger.Error().Err(err).Msg("framegate stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("framegate stopped")
}

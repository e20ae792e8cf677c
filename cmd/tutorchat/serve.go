package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"tutorme/tutorchat/internal/certificate"
	"tutorme/tutorchat/internal/chat"
	"tutorme/tutorchat/internal/contacts"
	"tutorme/tutorchat/internal/dispatch"
	rankinggrpc "tutorme/tutorchat/internal/grpc"
	internalhttp "tutorme/tutorchat/internal/http"
	"tutorme/tutorchat/internal/jobs"
	"tutorme/tutorchat/internal/logging"
	"tutorme/tutorchat/internal/messages"
	"tutorme/tutorchat/internal/tutors"
	"tutorme/tutorchat/internal/votes"
)

var migrateOnStart bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP, websocket and gRPC servers",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().BoolVar(&migrateOnStart, "migrate", false, "Apply the schema before serving")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	logger := logging.Component("main")

	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()
	if migrateOnStart && b.dbStore != nil {
		if err := b.dbStore.Migrate(ctx); err != nil {
			return err
		}
	}

	adapter := messages.NewAdapter(b.store, b.notifier)
	tutorSvc := tutors.NewService(b.store, isDuplicate, cfg.OperationTimeout)
	renderer := certificate.NewHTTPRenderer(cfg.RendererURL, cfg.RendererTimeout)
	chatSvc := chat.NewService(adapter, tutorSvc, renderer, cfg.OperationTimeout)
	aggregator := votes.NewAggregator(b.store, cfg.OperationTimeout)
	directory := contacts.NewDirectory(adapter, cfg.Location(), cfg.ContactsCacheTTL)
	adapter.OnInsert(directory.Invalidate)
	inserts, err := adapter.Subscribe(ctx, messages.Filter{All: true})
	if err != nil {
		return err
	}
	defer inserts.Close()
	hub := dispatch.NewHub(adapter, chatSvc, dispatch.Options{
		Policy:       dispatch.ParseEchoPolicy(cfg.EchoPolicy),
		FetchTimeout: cfg.OperationTimeout,
	})

	server := internalhttp.NewServer(cfg, internalhttp.Deps{
		Chat:     chatSvc,
		Tutors:   tutorSvc,
		Votes:    aggregator,
		Contacts: directory,
		Hub:      hub,
	})
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.ServiceAuthToken != "" {
		interceptor, err := rankinggrpc.NewServiceAuthUnaryInterceptor(cfg.ServiceAuthToken)
		if err != nil {
			return err
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(interceptor))
		rankinggrpc.RegisterRankingServiceServer(grpcServer, rankinggrpc.NewRankingServer(aggregator))
	} else {
		logger.Warn().Msg("SERVICE_AUTH_TOKEN not set; gRPC ranking service disabled")
	}

	jobs.StartReconcileJob(ctx, cfg, aggregator)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		directory.Follow(gctx, inserts)
		return nil
	})
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("tutorchat http listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if grpcServer != nil {
		g.Go(func() error {
			listener, err := net.Listen("tcp", cfg.GRPCAddr)
			if err != nil {
				return err
			}
			logger.Info().Str("addr", cfg.GRPCAddr).Msg("tutorchat grpc listening")
			return grpcServer.Serve(listener)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http shutdown error")
		}
		if grpcServer != nil {
			grpcServer.GracefulStop()
		}
		return nil
	})

	err = g.Wait()
	<-hub.Stopped()
	logger.Info().Msg("tutorchat stopped")
	return err
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	httpSwagger "github.com/swaggo/http-swagger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	deskapi "github.com/BearBump/OrderDesk/internal/api/desk_api"
	"github.com/BearBump/OrderDesk/internal/auth"
	"github.com/BearBump/OrderDesk/internal/broker/messages"
	"github.com/BearBump/OrderDesk/internal/metrics"
)

type deskAPIOpts struct {
	grpcAddr     string
	httpAddr     string
	grpcDialAddr string
	swaggerPath  string

	topic         string
	consumerGroup string

	onListen func(grpcAddr, httpAddr string)
}

type kafkaConsumer interface {
	Consume(ctx context.Context, handler func(key, value []byte) error) error
}

type deliveryReportHandler interface {
	ApplyDeliveryReport(ctx context.Context, msg messages.DeliveryReported) error
}

type deskAPIDeps struct {
	api      *deskapi.DeskAPI
	auth     *auth.Authenticator
	reports  deliveryReportHandler
	consumer kafkaConsumer
	// ready проверяет зависимости для /readyz; nil: всегда готов.
	ready func(ctx context.Context) error
}

func runDeskAPI(ctx context.Context, opts deskAPIOpts, deps deskAPIDeps) error {
	if opts.swaggerPath == "" {
		return fmt.Errorf("swaggerPath env var is required")
	}
	if _, err := os.Stat(opts.swaggerPath); os.IsNotExist(err) {
		return fmt.Errorf("swagger file not found: %s", opts.swaggerPath)
	}

	grpcLis, err := net.Listen("tcp", opts.grpcAddr)
	if err != nil {
		return err
	}
	httpLis, err := net.Listen("tcp", opts.httpAddr)
	if err != nil {
		_ = grpcLis.Close()
		return err
	}

	if opts.onListen != nil {
		opts.onListen(grpcLis.Addr().String(), httpLis.Addr().String())
	}

	dialAddr := opts.grpcDialAddr
	if dialAddr == "" || strings.HasSuffix(dialAddr, ":0") {
		dialAddr = grpcLis.Addr().String()
	}

	grpcErr := make(chan error, 1)
	go func() {
		grpcErr <- runGRPCServer(ctx, grpcLis, deps.api, deps.auth)
	}()

	httpErr := make(chan error, 1)
	go func() {
		httpErr <- runGatewayServer(ctx, httpLis, dialAddr, opts.swaggerPath, deps.ready)
	}()

	if deps.consumer != nil && deps.reports != nil {
		go runReportConsumer(ctx, opts, deps.consumer, deps.reports)
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-grpcErr:
		return err
	case err := <-httpErr:
		return err
	}
}

// runReportConsumer перезапускает чтение после ошибки fetch/commit. Ошибки
// обработчика повторяются внутри Consume на том же сообщении.
func runReportConsumer(ctx context.Context, opts deskAPIOpts, consumer kafkaConsumer, h deliveryReportHandler) {
	slog.Info("kafka consumer started", "topic", opts.topic, "group", opts.consumerGroup)
	for {
		err := consumer.Consume(ctx, func(_ []byte, value []byte) error {
			return handleDeliveryReport(ctx, h, value)
		})
		if ctx.Err() != nil {
			return
		}
		slog.Error("kafka consumer stopped", "topic", opts.topic, "error", err)
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}

// handleDeliveryReport drops malformed messages and returns only failures worth
// a retry.
func handleDeliveryReport(ctx context.Context, h deliveryReportHandler, value []byte) error {
	var m messages.DeliveryReported
	if err := json.Unmarshal(value, &m); err != nil {
		slog.Warn("skip malformed delivery report", "error", err.Error())
		metrics.ObserveDeliveryReport("malformed")
		return nil
	}
	if err := h.ApplyDeliveryReport(ctx, m); err != nil {
		metrics.ObserveDeliveryReport("error")
		return err
	}
	if m.Delivered() {
		metrics.ObserveDeliveryReport("delivered")
	} else {
		metrics.ObserveDeliveryReport("recorded")
	}
	return nil
}

func runGRPCServer(ctx context.Context, lis net.Listener, api *deskapi.DeskAPI, authn *auth.Authenticator) error {
	s := grpc.NewServer(grpc.UnaryInterceptor(deskapi.AuthInterceptor(authn)))
	deskapi.RegisterDeskServiceServer(s, api)

	hs := health.NewServer()
	hs.SetServingStatus(deskapi.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)

	go func() {
		<-ctx.Done()
		hs.Shutdown()
		stopped := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(2 * time.Second):
			s.Stop()
		}
		_ = lis.Close()
	}()

	slog.Info("gRPC server listening", "addr", lis.Addr().String())
	return s.Serve(lis)
}

func runGatewayServer(ctx context.Context, lis net.Listener, grpcAddr string, swaggerPath string, ready func(ctx context.Context) error) error {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if ready != nil {
			pingCtx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ready(pingCtx); err != nil {
				slog.Warn("readiness check failed", "error", err.Error())
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"status":"unavailable"}`))
				return
			}
		}
		_, _ = w.Write([]byte(`{"status":"ready"}`))
	})
	r.Handle("/metrics", metrics.Handler())

	r.Get("/swagger.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		http.ServeFile(w, r, swaggerPath)
	})
	r.Get("/docs/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger.json"),
	))

	mux := runtime.NewServeMux()
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if err := deskapi.RegisterDeskServiceHandlerFromEndpoint(ctx, mux, grpcAddr, opts); err != nil {
		return err
	}
	r.Mount("/", mux)

	srv := &http.Server{Handler: r, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("HTTP gateway listening", "addr", lis.Addr().String())
	return srv.Serve(lis)
}

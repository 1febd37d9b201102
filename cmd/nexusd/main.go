// Package main implements the nexus daemon entry point: config load,
// dispatcher/target bring-up, RPC and metrics server startup, and
// signal-driven shutdown.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nexusd/nexusd/pkg/config"
	"github.com/nexusd/nexusd/pkg/dispatch"
	"github.com/nexusd/nexusd/pkg/nexuscore"
	"github.com/nexusd/nexusd/pkg/nvmf/target"
	"github.com/nexusd/nexusd/pkg/nvmf/transport"
	"github.com/nexusd/nexusd/pkg/rpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health"
	healthgrpc "google.golang.org/grpc/health/grpc_health_v1"
	"k8s.io/klog/v2"
)

var (
	version = "dev"

	configPath  = flag.String("config", "/etc/nexusd/nexusd.yaml", "Path to the nexusd YAML config file")
	rpcAddr     = flag.String("rpc-addr", ":10124", "Address for the gRPC health/control endpoint")
	metricsAddr = flag.String("metrics-addr", ":9100", "Address to expose Prometheus metrics")
	tcpAddr     = flag.String("nvmf-address", "0.0.0.0", "NVMe-oF TCP transport bind address")
	tcpPort     = flag.Uint("nvmf-port", 4420, "NVMe-oF TCP transport bind port")
	showVersion = flag.Bool("show-version", false, "Show version and exit")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *showVersion {
		fmt.Printf("nexusd version: %s\n", version)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		klog.Warningf("config: %v, falling back to defaults", err)
		cfg = config.Default()
	}

	d := newServer(cfg)
	if err := d.run(); err != nil {
		klog.Fatalf("nexusd: %v", err)
	}
}

type server struct {
	cfg        config.Config
	dispatcher *dispatch.Dispatcher
	target     *target.Target
	manager    *nexuscore.Manager
	rpcServer  *rpc.Server
	grpcSrv    *grpc.Server
	metricsSrv *http.Server
}

func newServer(cfg config.Config) *server {
	d := dispatch.New(1024)
	tg := target.New(
		[]transport.Transport{{Kind: transport.TCP, Address: *tcpAddr, Port: uint16(*tcpPort)}},
		cfg.ReactorCount,
	)
	m := nexuscore.NewManager(d, nexuscore.NopRebuildNotifier{}, func(ev nexuscore.StateChangeEvent) {
		klog.Infof("nexus %s: %s -> %s", ev.NexusName, ev.Old, ev.New)
	})
	return &server{
		cfg:        cfg,
		dispatcher: d,
		target:     tg,
		manager:    m,
		rpcServer:  rpc.NewServer(m, tg, cfg),
	}
}

func (s *server) run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.dispatcher.Start(ctx)
	s.manager.SetProcessStart(time.Now())

	if err := s.target.Start(ctx); err != nil {
		return fmt.Errorf("target bring-up: %w", err)
	}

	s.startMetricsServer()
	if err := s.startGRPCServer(); err != nil {
		return err
	}

	klog.Infof("nexusd %s ready: nvmf %s:%d, rpc %s, metrics %s", version, *tcpAddr, *tcpPort, *rpcAddr, *metricsAddr)
	s.waitForShutdown(ctx)
	return nil
}

func (s *server) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	s.metricsSrv = &http.Server{
		Addr:              *metricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			klog.Errorf("metrics server: %v", err)
		}
	}()
}

// startGRPCServer registers only the standard health service. The RPC
// method table itself (spec.md section 6) is a call boundary, not a wire
// protocol: this module exposes it via rpc.Service for an in-process or
// future transport to call directly, and uses grpc only where it has a
// concrete, standard job (liveness/readiness probing).
func (s *server) startGRPCServer() error {
	lis, err := net.Listen("tcp", *rpcAddr)
	if err != nil {
		return fmt.Errorf("rpc listen on %s: %w", *rpcAddr, err)
	}
	s.grpcSrv = grpc.NewServer()
	healthSrv := healthpb.NewServer()
	healthgrpc.RegisterHealthServer(s.grpcSrv, healthSrv)
	go func() {
		if err := s.grpcSrv.Serve(lis); err != nil {
			klog.Errorf("rpc server: %v", err)
		}
	}()
	return nil
}

func (s *server) waitForShutdown(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	klog.Info("nexusd: shutting down")
	if s.grpcSrv != nil {
		s.grpcSrv.GracefulStop()
	}
	if s.metricsSrv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsSrv.Shutdown(shutdownCtx); err != nil {
			klog.Errorf("metrics server shutdown: %v", err)
		}
	}
	s.target.Stop(ctx)
	s.dispatcher.Stop()
}

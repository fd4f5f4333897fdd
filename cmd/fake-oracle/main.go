// ABOUTME: Minimal oracle server for E2E testing, serves the echo oracle over gRPC.
// ABOUTME: Usage: fake-oracle [-addr localhost:50061] [-latency 200ms] [-fail-every 0]
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"os"
	"os/signal"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/coven-assist/internal/oracle"
)

func main() {
	addr := flag.String("addr", "localhost:50061", "gRPC listen address")
	latency := flag.Duration("latency", 200*time.Millisecond, "Delay before every reply")
	failEvery := flag.Int("fail-every", 0, "Fail every Nth turn (0 disables)")
	flag.Parse()

	if err := run(*addr, oracle.EchoConfig{Latency: *latency, FailEvery: *failEvery}); err != nil {
		log.Fatal(err)
	}
}

func run(addr string, cfg oracle.EchoConfig) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	srv := grpc.NewServer(
		// Clients ping every 30s by default; allow it.
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             10 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.UnaryInterceptor(logCalls),
	)
	oracle.RegisterServer(srv, oracle.NewEcho(cfg))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	go func() {
		<-ctx.Done()
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "fake oracle listening on %s (latency %s, fail every %d)\n", ln.Addr(), cfg.Latency, cfg.FailEvery)
	return srv.Serve(ln)
}

func logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	if err != nil {
		log.Printf("%s failed after %s: %v", info.FullMethod, time.Since(start), err)
	} else {
		log.Printf("%s ok in %s", info.FullMethod, time.Since(start))
	}
	return resp, err
}

// Command gateway is the vllora gateway process: it loads static
// configuration, wires the Execution Pipeline and its collaborators, and
// serves the OTLP Ingest gRPC endpoints. The HTTP/gRPC surface in front of
// the Execution Pipeline itself is an external collaborator (not part of
// this process, see config.ServerConfig) — this binary only owns the
// telemetry ingestion listener and the background refresh/flush loops
// every collaborator needs.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"goa.design/clue/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/reflection"

	"github.com/vllora/gateway/config"
)

func main() {
	var (
		configF = flag.String("config", "", "path to the gateway YAML config file (defaults built in if empty)")
		dbgF    = flag.Bool("debug", false, "log request and response bodies")
	)
	flag.Parse()

	format := log.FormatJSON
	if log.IsTerminal() {
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if *dbgF {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	cfg := config.Default()
	if *configF != "" {
		loaded, err := config.Load(*configF)
		if err != nil {
			log.Fatalf(ctx, err, "loading config from %q", *configF)
		}
		cfg = loaded
	}
	log.Print(ctx, log.KV{K: "otlp-grpc-addr", V: cfg.OTLP.GRPCAddr}, log.KV{K: "storage-backend", V: string(cfg.Storage.Backend)})

	deps, err := wire(ctx, cfg)
	if err != nil {
		log.Fatalf(ctx, err, "wiring gateway dependencies")
	}

	errc := make(chan error)
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
		errc <- fmt.Errorf("%s", <-c)
	}()

	var wg sync.WaitGroup
	ctx, cancel := context.WithCancel(ctx)

	handleGRPCServer(ctx, cfg.OTLP.GRPCAddr, deps, &wg, errc, *dbgF)

	log.Printf(ctx, "exiting (%v)", <-errc)

	cancel()
	wg.Wait()
	deps.Close(context.Background())
	log.Printf(ctx, "exited")
}

// handleGRPCServer configures and starts the OTLP ingest gRPC server on
// addr. It shuts the server down once ctx is cancelled. Grounded on
// example/cmd/assistant/grpc.go's handleGRPCServer shape: chained logging
// interceptors, reflection, a goroutine pair (serve / wait-for-cancel)
// tracked by wg.
func handleGRPCServer(ctx context.Context, addr string, deps *dependencies, wg *sync.WaitGroup, errc chan error, dbg bool) {
	chain := grpc.ChainUnaryInterceptor(log.UnaryServerInterceptor(ctx))
	streamChain := grpc.ChainStreamInterceptor(log.StreamServerInterceptor(ctx))

	srv := grpc.NewServer(chain, streamChain)
	deps.ingest.Register(srv)
	reflection.Register(srv)

	for svc, info := range srv.GetServiceInfo() {
		for _, m := range info.Methods {
			log.Printf(ctx, "serving gRPC method %s", svc+"/"+m.Name)
		}
	}

	wg.Add(1)
	go func() {
		defer wg.Done()

		go func() {
			lis, err := net.Listen("tcp", addr)
			if err != nil {
				errc <- err
				return
			}
			log.Printf(ctx, "OTLP gRPC ingest listening on %q", addr)
			errc <- srv.Serve(lis)
		}()

		<-ctx.Done()
		log.Printf(ctx, "shutting down OTLP gRPC ingest at %q", addr)
		srv.GracefulStop()
	}()
}

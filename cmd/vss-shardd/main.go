package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/goccy/go-yaml"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"

	"vshadow.io/vss/internal/logging"
	"vshadow.io/vss/memshard"
	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stderr))
}

type options struct {
	listen      string
	prefix      string
	lockTTL     time.Duration
	seed        string
	metricsAddr string
	verbosity   int
}

func parseFlags(args []string, errOut io.Writer) (options, error) {
	var o options
	fs := pflag.NewFlagSet("vss-shardd", pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&o.listen, "listen", "127.0.0.1:50051", "gRPC listen address")
	fs.StringVar(&o.prefix, "prefix", "", "signal path prefix this shard serves (informational)")
	fs.DurationVar(&o.lockTTL, "lock-ttl", 0, "expire locks after this long (0 keeps them until unlocked)")
	fs.StringVar(&o.seed, "seed", "", "YAML file mapping signal paths to initial values")
	fs.StringVar(&o.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")
	fs.IntVarP(&o.verbosity, "verbosity", "v", 0, "log verbosity")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if fs.NArg() != 0 {
		return o, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return o, nil
}

func run(ctx context.Context, args []string, errOut io.Writer) int {
	o, err := parseFlags(args, errOut)
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(errOut, err)
		return 2
	}
	log, flush := logging.New(errOut, o.verbosity)
	defer flush()

	shard := memshard.New(memshard.Options{LockTTL: o.lockTTL, Log: log})
	if o.seed != "" {
		n, err := seedFile(shard, o.seed, time.Now())
		if err != nil {
			log.Error(err, "Failed to seed shard", "file", o.seed)
			return 2
		}
		log.Info("Seeded shard", "file", o.seed, "signals", n)
	}

	lis, err := net.Listen("tcp", o.listen)
	if err != nil {
		log.Error(err, "Failed to listen", "addr", o.listen)
		return 1
	}
	if err := serve(ctx, log, lis, shard, o); err != nil {
		log.Error(err, "Server stopped")
		return 1
	}
	return 0
}

// serve runs the gRPC server, and the metrics endpoint when configured, until
// ctx ends.
func serve(ctx context.Context, log logr.Logger, lis net.Listener, svc shadowrpc.Service, o options) error {
	s := grpc.NewServer()
	shadowrpc.Register(s, svc)

	if o.metricsAddr != "" {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		hs := &http.Server{Addr: o.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "Metrics server failed", "addr", o.metricsAddr)
			}
		}()
		defer hs.Close()
	}

	go func() {
		<-ctx.Done()
		log.Info("Shutting down")
		s.GracefulStop()
	}()

	log.Info("vss-shardd listening", "addr", lis.Addr().String(), "prefix", o.prefix, "lockTTL", o.lockTTL)
	if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// seedFile stores the values of a YAML document of the form
//
//	Vehicle.Speed: 0
//	Vehicle.Cabin.Door.Row1.IsOpen: false
func seedFile(shard *memshard.Shard, path string, now time.Time) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	var values yaml.MapSlice
	if err := yaml.Unmarshal(b, &values); err != nil {
		return 0, fmt.Errorf("seed %s: %w", path, err)
	}
	for _, item := range values {
		key, ok := item.Key.(string)
		if !ok {
			return 0, fmt.Errorf("seed %s: non-string path %v", path, item.Key)
		}
		p := shadow.Path(key)
		if err := p.Validate(); err != nil {
			return 0, fmt.Errorf("seed %s: %w", path, err)
		}
		st, err := shadow.NewState(normalize(item.Value), now)
		if err != nil {
			return 0, fmt.Errorf("seed %s: %s: %w", path, key, err)
		}
		shard.Put(p, st)
	}
	return len(values), nil
}

// normalize converts YAML-decoded values into the forms structpb accepts.
func normalize(v any) any {
	switch x := v.(type) {
	case uint64:
		return float64(x)
	case int64:
		return float64(x)
	case int:
		return float64(x)
	case []any:
		out := make([]any, len(x))
		for i := range x {
			out[i] = normalize(x[i])
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalize(e)
		}
		return out
	default:
		return v
	}
}

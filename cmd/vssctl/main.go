package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/pflag"

	"vshadow.io/vss/client"
	"vshadow.io/vss/clientconfig"
	"vshadow.io/vss/internal/logging"
	"vshadow.io/vss/metrics/prommetrics"
	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shard"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	os.Exit(run(ctx, os.Args[1:], os.Stdout, os.Stderr))
}

func run(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	if len(args) == 0 {
		printUsage(errOut)
		return 2
	}

	switch args[0] {
	case "get":
		return cmdGet(ctx, args[1:], out, errOut)
	case "set":
		return cmdSet(ctx, args[1:], out, errOut)
	case "subscribe":
		return cmdSubscribe(ctx, args[1:], out, errOut)
	case "unsubscribe":
		return cmdUnsubscribe(ctx, args[1:], out, errOut)
	case "lock":
		return cmdLock(ctx, args[1:], out, errOut)
	case "unlock":
		return cmdUnlock(ctx, args[1:], out, errOut)
	case "shards":
		return cmdShards(ctx, args[1:], out, errOut)
	case "help", "-h", "--help":
		printUsage(out)
		return 0
	default:
		fmt.Fprintf(errOut, "unknown command: %s\n\n", args[0])
		printUsage(errOut)
		return 2
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "vssctl: sharded Vehicle Signal Shadow client")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  vssctl get <path> [<path> ...]")
	fmt.Fprintln(w, "  vssctl set [--token <t>] <path>=<value> [<path>=<value> ...]")
	fmt.Fprintln(w, "  vssctl subscribe [--count <n>] <path>")
	fmt.Fprintln(w, "  vssctl unsubscribe <path> [<path> ...]")
	fmt.Fprintln(w, "  vssctl lock <path> [<path> ...]")
	fmt.Fprintln(w, "  vssctl unlock <token>")
	fmt.Fprintln(w, "  vssctl shards")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Shard flags (every command):")
	fmt.Fprintln(w, "  --config <file>            YAML or JSON shard config")
	fmt.Fprintln(w, "  --shard <prefix>=<addr>    bind a shard (repeatable, after --config shards)")
	fmt.Fprintln(w, "  --match-mode prefix|segment, --unresolved skip|fail, --parallelism <n>")
	fmt.Fprintln(w, "  --timeout <d>, --metrics-addr <addr>, -v <level>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  - values are JSON (42, true, \"text\", [1,2]); anything else is sent as a string")
	fmt.Fprintln(w, "  - lock is routed by its first path; unlock is sent to every shard")
	fmt.Fprintln(w, "  - get/set skip paths no shard owns unless --unresolved fail")
}

// common holds the flags every subcommand shares.
type common struct {
	config      string
	shards      []string
	matchMode   string
	unresolved  string
	parallelism int
	timeout     time.Duration
	metricsAddr string
	verbosity   int
}

func newFlagSet(name string, errOut io.Writer, c *common) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(errOut)
	fs.StringVar(&c.config, "config", os.Getenv("VSSCTL_CONFIG"), "shard config file (env VSSCTL_CONFIG)")
	fs.StringArrayVar(&c.shards, "shard", nil, "bind a shard as <prefix>=<addr>")
	fs.StringVar(&c.matchMode, "match-mode", "", "prefix matching: prefix or segment")
	fs.StringVar(&c.unresolved, "unresolved", "", "unowned get/set paths: skip or fail")
	fs.IntVar(&c.parallelism, "parallelism", 0, "per-shard RPCs in flight per call")
	fs.DurationVar(&c.timeout, "timeout", 10*time.Second, "dial and per-RPC timeout")
	fs.StringVar(&c.metricsAddr, "metrics-addr", "", "serve Prometheus /metrics on this address")
	fs.IntVarP(&c.verbosity, "verbosity", "v", 0, "log verbosity")
	return fs
}

// parseShard splits "<prefix>=<addr>". The prefix may be empty, binding every path.
func parseShard(s string) (clientconfig.ShardConfig, error) {
	prefix, addr, ok := strings.Cut(s, "=")
	if !ok || addr == "" {
		return clientconfig.ShardConfig{}, fmt.Errorf("invalid --shard %q (want <prefix>=<addr>)", s)
	}
	return clientconfig.ShardConfig{Prefix: prefix, Address: addr}, nil
}

// configuration merges --config and the command-line flags. Flags override file
// settings; --shard bindings follow the file's.
func (c *common) configuration() (clientconfig.Config, error) {
	var cfg clientconfig.Config
	if c.config != "" {
		var err error
		if cfg, err = clientconfig.LoadFile(c.config); err != nil {
			return cfg, err
		}
	}
	for _, s := range c.shards {
		sc, err := parseShard(s)
		if err != nil {
			return cfg, err
		}
		cfg.Shards = append(cfg.Shards, sc)
	}
	if c.matchMode != "" {
		cfg.MatchMode = c.matchMode
	}
	if c.unresolved != "" {
		cfg.Unresolved = c.unresolved
	}
	if c.parallelism > 0 {
		cfg.Parallelism = c.parallelism
	}
	if c.timeout > 0 {
		if cfg.CallTimeout == "" {
			cfg.CallTimeout = c.timeout.String()
		}
		if cfg.DialTimeout == "" {
			cfg.DialTimeout = c.timeout.String()
		}
	}
	return cfg, cfg.Validate()
}

// session is an open client plus what must be released with it.
type session struct {
	client *client.Client
	log    logr.Logger
	close  func()
}

func (c *common) open(ctx context.Context, errOut io.Writer) (*session, error) {
	cfg, err := c.configuration()
	if err != nil {
		return nil, err
	}
	log, flush := logging.New(errOut, c.verbosity)

	reg := prometheus.NewRegistry()
	opts := []client.Option{
		client.WithLogger(log),
		client.WithMetrics(prommetrics.NewClientMetrics(reg)),
	}
	var hs *http.Server
	if c.metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		hs = &http.Server{Addr: c.metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := hs.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error(err, "Metrics server failed", "addr", c.metricsAddr)
			}
		}()
	}

	cl, err := cfg.Open(ctx, opts...)
	if err != nil {
		if hs != nil {
			_ = hs.Close()
		}
		flush()
		return nil, err
	}
	return &session{
		client: cl,
		log:    log,
		close: func() {
			_ = cl.Close()
			if hs != nil {
				_ = hs.Close()
			}
			flush()
		},
	}, nil
}

// parseFlags parses args and opens a session. It returns a non-negative exit
// code when the command should stop.
func parseFlags(ctx context.Context, fs *pflag.FlagSet, c *common, args []string, minArgs int, usage string, errOut io.Writer) (*session, int) {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil, 0
		}
		return nil, 2
	}
	if fs.NArg() < minArgs {
		fmt.Fprintln(errOut, "usage: "+usage)
		return nil, 2
	}
	s, err := c.open(ctx, errOut)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return nil, 2
	}
	return s, -1
}

func toPaths(args []string) []shadow.Path {
	return shadow.Paths(args...)
}

func cmdGet(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	var c common
	fs := newFlagSet("get", errOut, &c)
	s, code := parseFlags(ctx, fs, &c, args, 1, "vssctl get <path> [<path> ...]", errOut)
	if s == nil {
		return code
	}
	defer s.close()

	resp, err := s.client.GetSignals(ctx, toPaths(fs.Args()))
	if err != nil {
		fmt.Fprintf(errOut, "get: %v\n", err)
		return 1
	}
	for _, sig := range resp.Signals {
		fmt.Fprintln(out, shadow.FormatSignal(sig))
	}
	if !resp.Success {
		fmt.Fprintf(errOut, "get: %s\n", resp.ErrorMessage)
		return 1
	}
	return 0
}

// parseAssignment splits "<path>=<value>". Values that are not valid JSON are
// taken as strings.
func parseAssignment(s string, now time.Time) (*shadow.SetSignalRequest, error) {
	path, raw, ok := strings.Cut(s, "=")
	if !ok || path == "" {
		return nil, fmt.Errorf("invalid assignment %q (want <path>=<value>)", s)
	}
	st, err := shadow.ParseState(raw, now)
	if err != nil {
		if st, err = shadow.NewState(raw, now); err != nil {
			return nil, err
		}
	}
	return &shadow.SetSignalRequest{Path: shadow.Path(path), State: st}, nil
}

func cmdSet(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	var c common
	var token string
	fs := newFlagSet("set", errOut, &c)
	fs.StringVar(&token, "token", "", "lock token to write with")
	s, code := parseFlags(ctx, fs, &c, args, 1, "vssctl set [--token <t>] <path>=<value> [...]", errOut)
	if s == nil {
		return code
	}
	defer s.close()

	now := time.Now()
	reqs := make([]*shadow.SetSignalRequest, 0, fs.NArg())
	for _, a := range fs.Args() {
		r, err := parseAssignment(a, now)
		if err != nil {
			fmt.Fprintf(errOut, "set: %v\n", err)
			return 2
		}
		reqs = append(reqs, r)
	}

	resp, err := s.client.SetSignals(ctx, reqs, token)
	if resp != nil {
		for _, r := range resp.Results {
			if r.Success {
				fmt.Fprintf(out, "%s: ok\n", r.Path)
				continue
			}
			fmt.Fprintf(out, "%s: %s\n", r.Path, r.ErrorMessage)
		}
	}
	if err != nil {
		fmt.Fprintf(errOut, "set: %v\n", err)
		return 1
	}
	if !resp.Success {
		return 1
	}
	return 0
}

func cmdSubscribe(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	var c common
	var count int
	fs := newFlagSet("subscribe", errOut, &c)
	fs.IntVar(&count, "count", 0, "exit after this many updates (0 runs until interrupted)")
	s, code := parseFlags(ctx, fs, &c, args, 1, "vssctl subscribe [--count <n>] <path>", errOut)
	if s == nil {
		return code
	}
	defer s.close()
	if fs.NArg() != 1 {
		fmt.Fprintln(errOut, "usage: vssctl subscribe [--count <n>] <path>")
		return 2
	}

	sub, err := s.client.Subscribe(ctx, shadow.Path(fs.Arg(0)))
	if err != nil {
		fmt.Fprintf(errOut, "subscribe: %v\n", err)
		return 1
	}
	defer sub.Close()

	for n := 0; count == 0 || n < count; n++ {
		msg, err := sub.Recv()
		if err == io.EOF {
			s.log.V(1).Info("Subscription ended by shard", "path", sub.Path, "shard", sub.Shard)
			return 0
		}
		if err != nil {
			if ctx.Err() != nil {
				return 0
			}
			fmt.Fprintf(errOut, "subscribe: %v\n", err)
			return 1
		}
		for _, sig := range msg.Signals {
			fmt.Fprintln(out, shadow.FormatSignal(sig))
		}
	}
	return 0
}

func cmdUnsubscribe(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	var c common
	fs := newFlagSet("unsubscribe", errOut, &c)
	s, code := parseFlags(ctx, fs, &c, args, 1, "vssctl unsubscribe <path> [<path> ...]", errOut)
	if s == nil {
		return code
	}
	defer s.close()

	resp, err := s.client.Unsubscribe(ctx, toPaths(fs.Args()))
	if err != nil {
		fmt.Fprintf(errOut, "unsubscribe: %v\n", err)
		return 1
	}
	if !resp.Success {
		fmt.Fprintf(errOut, "unsubscribe: %s\n", resp.ErrorMessage)
		return 1
	}
	fmt.Fprintln(out, "ok")
	return 0
}

func cmdLock(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	var c common
	fs := newFlagSet("lock", errOut, &c)
	s, code := parseFlags(ctx, fs, &c, args, 1, "vssctl lock <path> [<path> ...]", errOut)
	if s == nil {
		return code
	}
	defer s.close()

	resp, err := s.client.Lock(ctx, toPaths(fs.Args()))
	if err != nil {
		fmt.Fprintf(errOut, "lock: %v\n", err)
		return 1
	}
	if !resp.Success {
		fmt.Fprintln(errOut, "lock: not granted")
		return 1
	}
	fmt.Fprintln(out, resp.Token)
	return 0
}

func cmdUnlock(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	var c common
	fs := newFlagSet("unlock", errOut, &c)
	s, code := parseFlags(ctx, fs, &c, args, 1, "vssctl unlock <token>", errOut)
	if s == nil {
		return code
	}
	defer s.close()

	resp, err := s.client.Unlock(ctx, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(errOut, "unlock: %v\n", err)
		return 1
	}
	if !resp.Success {
		fmt.Fprintln(errOut, "unlock: refused by at least one shard")
		return 1
	}
	fmt.Fprintln(out, "ok")
	return 0
}

// cmdShards prints the bindings in resolution order and flags prefixes that
// an earlier binding makes unreachable.
func cmdShards(ctx context.Context, args []string, out io.Writer, errOut io.Writer) int {
	var c common
	fs := newFlagSet("shards", errOut, &c)
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return 0
		}
		return 2
	}
	cfg, err := c.configuration()
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}
	mode, err := shard.ParseMatchMode(cfg.MatchMode)
	if err != nil {
		fmt.Fprintln(errOut, err)
		return 2
	}

	reg := shard.NewRegistry[clientconfig.ShardConfig](mode)
	for _, sc := range cfg.Shards {
		reg.Add(shadow.Path(sc.Prefix), sc.Address, sc)
	}
	shadowed := make(map[int]int)
	for _, o := range reg.Overlaps() {
		if _, seen := shadowed[o.Later]; o.Shadowed && !seen {
			shadowed[o.Later] = o.Earlier
		}
	}
	for _, b := range reg.Bindings() {
		line := fmt.Sprintf("%d\t%q\t%s", b.Index, string(b.Prefix), b.Conn.Name())
		if e, ok := shadowed[b.Index]; ok {
			line += fmt.Sprintf("\tunreachable (shadowed by #%d)", e)
		}
		fmt.Fprintln(out, line)
	}
	return 0
}

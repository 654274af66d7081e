package clientconfig

import (
	"context"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"google.golang.org/grpc"

	"vshadow.io/vss/memshard"
	"vshadow.io/vss/shadow"
	"vshadow.io/vss/shadow/shadowrpc"
)

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(`
match_mode: segment
unresolved: fail
parallelism: 4
call_timeout: 250ms
dial_timeout: 2s
shards:
  - prefix: Vehicle.Body
    address: body:50051
    id: body
  - prefix: Vehicle
    address: vehicle:50051
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.MatchMode != "segment" || cfg.Unresolved != "fail" || cfg.Parallelism != 4 {
		t.Fatalf("Parse: unexpected settings %+v", cfg)
	}
	if len(cfg.Shards) != 2 || cfg.Shards[0].Name() != "body" || cfg.Shards[1].Name() != "vehicle:50051" {
		t.Fatalf("Parse: unexpected shards %+v", cfg.Shards)
	}
}

func TestParseJSON(t *testing.T) {
	cfg, err := Parse([]byte(`{"shards":[{"prefix":"A.","address":"a:1"}]}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Shards[0].Prefix != "A." {
		t.Fatalf("Parse: got %+v", cfg.Shards)
	}
}

func TestValidateErrors(t *testing.T) {
	cases := []struct {
		name string
		doc  string
		want string
	}{
		{"no shards", `match_mode: prefix`, "at least one shard"},
		{"missing address", "shards:\n  - prefix: A.\n", "address is required"},
		{"duplicate id", "shards:\n  - {prefix: A., address: a, id: x}\n  - {prefix: B., address: b, id: x}\n", "duplicate shard id"},
		{"bad mode", "match_mode: glob\nshards:\n  - {prefix: A., address: a}\n", "invalid match mode"},
		{"bad policy", "unresolved: drop\nshards:\n  - {prefix: A., address: a}\n", "invalid unresolved policy"},
		{"bad timeout", "call_timeout: soon\nshards:\n  - {prefix: A., address: a}\n", "invalid call_timeout"},
		{"negative parallelism", "parallelism: -1\nshards:\n  - {prefix: A., address: a}\n", "negative parallelism"},
		{"unknown field", "shardz: []\n", "clientconfig"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.doc))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("Parse: got %v want error containing %q", err, tc.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	if _, err := LoadFile(""); err == nil {
		t.Fatalf("LoadFile(\"\"): expected error")
	}
	p := filepath.Join(t.TempDir(), "vss.yaml")
	if err := os.WriteFile(p, []byte("shards:\n  - {prefix: A., address: a:1}\n"), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	cfg, err := LoadFile(p)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Shards[0].Address != "a:1" {
		t.Fatalf("LoadFile: got %+v", cfg)
	}
}

func TestOpen(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	s := grpc.NewServer()
	shard := memshard.New(memshard.Options{})
	st, err := shadow.NewState(12.5, time.Now())
	if err != nil {
		t.Fatalf("NewState: %v", err)
	}
	shard.Put("Vehicle.Speed", st)
	shadowrpc.Register(s, shard)
	go func() {
		_ = s.Serve(lis)
	}()
	t.Cleanup(s.Stop)

	cfg := Config{
		DialTimeout: "5s",
		Shards:      []ShardConfig{{Prefix: "Vehicle.", Address: lis.Addr().String()}},
	}
	c, err := cfg.Open(context.Background())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer c.Close()

	if got := c.Bindings(); len(got) != 1 || got[0].Prefix != "Vehicle." {
		t.Fatalf("Bindings: got %+v", got)
	}
	resp, err := c.GetSignals(context.Background(), shadow.Paths("Vehicle.Speed"))
	if err != nil {
		t.Fatalf("GetSignals: %v", err)
	}
	if len(resp.Signals) != 1 || resp.Signals[0].State.Value.GetNumberValue() != 12.5 {
		t.Fatalf("GetSignals: got %+v", resp)
	}
}

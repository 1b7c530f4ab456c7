// rpcprobe exercises the in-process dispatch runtime end to end: it
// registers a few sample methods, binds them to a resource pool loaded from
// yaml, and drives them through the in-process caller. No network listener
// is involved.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"aim-chat/rpc-runtime/internal/dispatch"
	"aim-chat/rpc-runtime/internal/ratelimit"
	"aim-chat/rpc-runtime/internal/resource"
	"aim-chat/rpc-runtime/pkg/jsonrpc"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	poolConfig := flag.String("pool-config", "", "Path to resource pool config.yaml (optional)")
	ticks := flag.Int("ticks", 3, "Number of clock notifications to wait for")
	flag.Parse()
	if *showVersion {
		fmt.Printf("rpcprobe version=%s commit=%s\n", version, commit)
		return
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	pool, err := buildPool(*poolConfig)
	if err != nil {
		log.Fatalf("rpcprobe failed to build resource pool: %v", err)
	}

	methods, err := buildMethods(pool)
	if err != nil {
		log.Fatalf("rpcprobe failed to register methods: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var echoed int
	if err := methods.Call(ctx, "probe_echo", []any{7}, &echoed); err != nil {
		log.Fatalf("probe_echo failed: %v", err)
	}
	slog.Info("probe_echo done", "result", echoed)

	// probe_work goes through a dispatcher with admission control so the
	// resource claim and rate limit paths are exercised.
	d := dispatch.NewDispatcher(methods,
		dispatch.WithPool(pool),
		dispatch.WithConnLimiter(ratelimit.New(100, 10, time.Minute)),
	)
	sink := dispatch.NewMethodSink()
	d.ServeRequest(ctx, jsonrpc.Request{
		JSONRPC: jsonrpc.Version,
		ID:      json.RawMessage("1"),
		Method:  "probe_work",
		Params:  json.RawMessage(`["payload"]`),
	}, sink, 1, dispatch.NewDisconnectSignal())
	workResp, ok := sink.Next(ctx)
	if !ok {
		log.Fatalf("probe_work produced no response")
	}
	slog.Info("probe_work done", "response", workResp, "cpu_in_use", pool.InUse("cpu"))

	sub, err := methods.Subscribe(ctx, "clock_subscribe", nil)
	if err != nil {
		log.Fatalf("clock_subscribe failed: %v", err)
	}
	defer sub.Close()
	slog.Info("subscribed", "sub_id", sub.SubscriptionID().String())

	for i := 0; i < *ticks; i++ {
		var tick string
		if _, err := sub.Next(ctx, &tick); err != nil {
			log.Fatalf("clock notification failed: %v", err)
		}
		slog.Info("clock tick", "tick", tick)
	}

	var removed bool
	if err := methods.Call(ctx, "clock_unsubscribe", []any{sub.SubscriptionID()}, &removed); err != nil {
		log.Fatalf("clock_unsubscribe failed: %v", err)
	}
	slog.Info("unsubscribed", "removed", removed)
}

func buildPool(configPath string) (*resource.Pool, error) {
	cfg, err := resource.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}
	if len(cfg.Resources) == 0 {
		cfg.Resources = []resource.EntryConfig{{Label: "cpu", Capacity: 4}}
	}
	pool, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if err := pool.EnableMetrics(prometheus.DefaultRegisterer); err != nil {
		return nil, err
	}
	return pool, nil
}

func buildMethods(pool *resource.Pool) (*dispatch.Methods, error) {
	module := dispatch.NewModule(time.Now())

	if _, err := module.RegisterMethod("probe_echo", func(params jsonrpc.Params, _ time.Time) (any, error) {
		var n int
		if err := params.One(&n); err != nil {
			return nil, err
		}
		return n, nil
	}); err != nil {
		return nil, err
	}

	builder, err := module.RegisterBlockingMethod("probe_work", func(params jsonrpc.Params, started time.Time) (any, error) {
		var payload string
		if err := params.One(&payload); err != nil {
			return nil, err
		}
		time.Sleep(10 * time.Millisecond)
		return fmt.Sprintf("processed %q after %s uptime", payload, time.Since(started).Round(time.Millisecond)), nil
	})
	if err != nil {
		return nil, err
	}
	if _, err := builder.Resource("cpu", 2); err != nil {
		return nil, err
	}

	if err := module.RegisterSubscription("clock_subscribe", "clock", "clock_unsubscribe", func(_ jsonrpc.Params, sink *dispatch.SubscriptionSink, _ time.Time) error {
		ch := make(chan string)
		go func() {
			defer close(ch)
			for i := 0; ; i++ {
				select {
				case ch <- time.Now().UTC().Format(time.RFC3339Nano):
				case <-time.After(time.Minute):
					return
				}
				time.Sleep(50 * time.Millisecond)
			}
		}()
		go func() {
			if err := dispatch.PipeFromChannel(sink, ch); err != nil {
				slog.Error("clock pipe failed", "err", err)
			}
		}()
		return nil
	}); err != nil {
		return nil, err
	}

	methods := module.Methods()
	if err := methods.InitializeResources(pool); err != nil {
		return nil, err
	}
	return methods, nil
}

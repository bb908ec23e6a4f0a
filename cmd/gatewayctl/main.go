// Command gatewayctl loads a registry document, compiles it, and invokes a
// named tool or composition against a stub backend, printing the JSON
// result. It exercises the composition core end to end without the HTTP
// proxy runtime: loader -> validator -> compiler -> snapshot store ->
// composition executor.
//
// # Configuration
//
// Environment variables:
//
//	GATEWAY_REGISTRY_URI   - registry source, "file://PATH" or "http(s)://URL"
//	                         (default: "file://registry.json")
//	GATEWAY_POLL_INTERVAL  - HTTP source poll cadence (default: "30s")
//	GATEWAY_REDIS_URL      - optional Redis address for resilience state;
//	                         empty uses the in-memory state store
//	GATEWAY_REDIS_PASSWORD - Redis password (optional)
//	GATEWAY_LOG_LEVEL      - zap level: debug|info|warn|error (default: "info")
//
// # Usage
//
//	gatewayctl <tool-name> [json-args]
//
//	GATEWAY_REGISTRY_URI=file://registry.yaml gatewayctl search_pipeline '{"query":"hello"}'
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/toolgateway/composition-core/executor"
	"github.com/toolgateway/composition-core/registry"
	"github.com/toolgateway/composition-core/registry/loader"
	"github.com/toolgateway/composition-core/statestore/redisstore"
	"github.com/toolgateway/composition-core/telemetry"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	uri := envOr("GATEWAY_REGISTRY_URI", "file://registry.json")
	pollInterval := envDurationOr("GATEWAY_POLL_INTERVAL", 30*time.Second)
	redisURL := os.Getenv("GATEWAY_REDIS_URL")
	redisPassword := os.Getenv("GATEWAY_REDIS_PASSWORD")

	zlog, err := newLogger(envOr("GATEWAY_LOG_LEVEL", "info"))
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = zlog.Sync() }()
	logger := telemetry.NewZapLogger(zlog)

	store := registry.NewStore(nil)
	ldr := loader.New(loader.Options{
		URI:          uri,
		PollInterval: pollInterval,
		Logger:       logger,
	}, store)
	stopLoader, err := ldr.Start(ctx)
	if err != nil {
		return fmt.Errorf("load registry from %s: %w", uri, err)
	}
	defer stopLoader()

	opts := []executor.Option{executor.WithLogger(logger)}
	if redisURL != "" {
		rdb := redis.NewClient(&redis.Options{Addr: redisURL, Password: redisPassword})
		defer func() {
			if cerr := rdb.Close(); cerr != nil {
				log.Printf("close redis: %v", cerr)
			}
		}()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		opts = append(opts, executor.WithStateStore(redisstore.New(rdb)))
	}

	exec := executor.New(store, stubInvoker{log: logger}, opts...)

	args := os.Args[1:]
	if len(args) == 0 {
		return listTools(store)
	}
	toolName := args[0]
	var input any
	if len(args) > 1 {
		if err := json.Unmarshal([]byte(args[1]), &input); err != nil {
			return fmt.Errorf("parse args JSON: %w", err)
		}
	}

	out, err := exec.Execute(ctx, toolName, input)
	if err != nil {
		return fmt.Errorf("execute %s: %w", toolName, err)
	}
	rendered, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("render result: %w", err)
	}
	fmt.Println(string(rendered))
	return nil
}

func listTools(store *registry.Store) error {
	reg := store.Load()
	if reg == nil {
		return fmt.Errorf("no registry snapshot loaded")
	}
	for name, t := range reg.ToolsByName {
		kind := "composition"
		if t.IsSource() {
			kind = fmt.Sprintf("source -> %s/%s", t.Source.Target.Server, t.Source.Target.BackendTool)
		}
		fmt.Printf("%-30s %s\n", name, kind)
	}
	return nil
}

// stubInvoker echoes every backend call instead of speaking to a real MCP
// server; the transport connectors live outside the core.
type stubInvoker struct {
	log telemetry.Logger
}

func (s stubInvoker) Invoke(ctx context.Context, server, tool string, args any) (any, error) {
	s.log.Info(ctx, "backend call", "server", server, "tool", tool)
	return map[string]any{"server": server, "tool": tool, "args": args}, nil
}

func newLogger(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

// envOr returns the environment variable value or a default.
func envOr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

// envDurationOr returns the environment variable as duration or a default.
func envDurationOr(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

// Command ggrun plays one episode from a config file and records its trace.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"go.uber.org/zap"

	"ggcore.ai/internal/runner"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/gg.yaml", "episode config (.yaml, .toml or .json)")
		policyName = flag.String("policy", runner.PolicyIdle, "policy for external agents: idle|random|lua")
		script     = flag.String("script", "", "lua script for -policy lua")
		seed       = flag.String("seed", "", "generation seed override (uint64)")
		dataDir    = flag.String("data", "./data", "runtime data directory")
		disableDB  = flag.Bool("disable_db", false, "disable the sqlite episode index")
		noTrace    = flag.Bool("no_trace", false, "do not write the state/audit trace")
		parallel   = flag.Bool("parallel_observe", false, "compute agent views concurrently")
		logLevel   = flag.String("log_level", "info", "log level")
		logFormat  = flag.String("log_format", "console", "log format: console|json")
	)
	flag.Parse()

	log, err := runner.NewLogger(*logLevel, *logFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(2)
	}
	defer log.Sync()

	o := runner.Options{
		ConfigPath:      *configPath,
		Policy:          *policyName,
		Script:          *script,
		DataDir:         *dataDir,
		DisableDB:       *disableDB,
		NoTrace:         *noTrace,
		ParallelObserve: *parallel,
	}
	if s := strings.TrimSpace(*seed); s != "" {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			log.Fatal("bad -seed", zap.String("seed", s), zap.Error(err))
		}
		o.Seed = &v
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	res, err := runner.Execute(ctx, o, log)
	if err != nil {
		log.Fatal("episode failed", zap.Error(err))
	}
	fmt.Printf("episode=%s ticks=%d reason=%s digest=%s gen_seed=%d episode_seed=%d\n",
		res.EpisodeID, res.Final.Tick, res.Final.Reason, res.Final.Digest, res.GenSeed, res.EpisodeSeed)
	for _, a := range res.Final.Agents {
		fmt.Printf("  agent=%s active=%t score=%d\n", a.ID, a.Active, a.Score)
	}
	if res.TracePath != "" {
		fmt.Printf("trace=%s audit=%s\n", res.TracePath, res.AuditPath)
	}
}

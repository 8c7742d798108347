// File: cmd/rpcserverd/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// rpcserverd serves a demo echo interface over connection-oriented DCE-RPC.
// SIGUSR1 dumps debug state, SIGINT/SIGTERM shut the server down.

package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/momentics/hioload-rpc/internal/logging"
	"github.com/momentics/hioload-rpc/reactor"
	"github.com/momentics/hioload-rpc/rpc"
	"github.com/momentics/hioload-rpc/server"
)

var (
	echoIID = uuid.MustParse("6bffd098-a112-3610-9833-46c3f87e345a")
	echoCLS = uuid.MustParse("6bffd098-a112-3610-9833-012892020162")
)

func echo(c *rpc.Call) ([]byte, error) {
	return c.StubData, nil
}

func reverse(c *rpc.Call) ([]byte, error) {
	out := make([]byte, len(c.StubData))
	for i, b := range c.StubData {
		out[len(out)-1-i] = b
	}
	return out, nil
}

func main() {
	cfg := server.DefaultConfig()
	strategy := flag.String("strategy", cfg.Strategy.String(), "single, per-connection or pooled")
	flag.StringVar(&cfg.ListenAddr, "addr", cfg.ListenAddr, "listen address")
	flag.IntVar(&cfg.MinThreads, "min-threads", cfg.MinThreads, "pooled: minimum workers")
	flag.IntVar(&cfg.MaxThreads, "max-threads", cfg.MaxThreads, "pooled: maximum workers")
	flag.IntVar(&cfg.QueueSize, "queue", cfg.QueueSize, "pooled: hand-off queue size")
	flag.DurationVar(&cfg.ScavengePeriod, "scavenge", cfg.ScavengePeriod, "pooled: idle worker check interval")
	flag.IntVar(&cfg.ThreadPriority, "nice", 0, "worker nice value")
	flag.BoolVar(&cfg.AdjustPriority, "set-nice", false, "apply -nice to worker threads")
	flag.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "trace, debug, info, warn or error")
	flag.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "graceful shutdown bound")
	stats := flag.Duration("stats", 0, "print counters at this interval (0 disables)")
	flag.Parse()

	log := logging.New("rpcserverd")
	s, err := rpc.ParseStrategy(*strategy)
	if err != nil {
		log.Fatal(err)
	}
	cfg.Strategy = s

	reg := rpc.NewRegistry()
	if err := reg.RegisterInterface(echoIID, []rpc.StubFunc{echo, reverse}); err != nil {
		log.Fatal(err)
	}
	if err := reg.RegisterObject(uuid.Nil, echoIID, echoCLS, nil); err != nil {
		log.Fatal(err)
	}

	r, err := reactor.Default()
	if err != nil {
		log.Fatalf("reactor: %v", err)
	}
	srv, err := server.New(cfg, reg, server.WithReactor(r))
	if err != nil {
		log.Fatalf("start: %v", err)
	}
	log.Infof("pid %d, interface %s", os.Getpid(), echoIID)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dump := make(chan os.Signal, 1)
	signal.Notify(dump, syscall.SIGUSR1)
	go func() {
		var tick <-chan time.Time
		if *stats > 0 {
			t := time.NewTicker(*stats)
			defer t.Stop()
			tick = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-dump:
				log.WithField("category", "debug").WithFields(logrus.Fields(srv.DebugState())).Info("debug state")
			case <-tick:
				log.WithField("category", "stats").Info(srv.Stats())
			}
		}
	}()

	if err := srv.Run(ctx); err != nil {
		log.Fatalf("run: %v", err)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/3hhh/qubes-qrexec-proxy/internal/config"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/bytelimit"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/count"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/defaultio"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/passthrough"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/sniff"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/stopdst"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/streamline"
	_ "github.com/3hhh/qubes-qrexec-proxy/internal/filters/timeout"
	"github.com/3hhh/qubes-qrexec-proxy/internal/logging"
	"github.com/3hhh/qubes-qrexec-proxy/internal/session"
	"go.uber.org/zap"
)

// qrexec-proxy is invoked by Qubes OS's qrexec-client once per RPC call,
// with argv[1] of the form "<chain>+<destination vm>+<call>" and the
// calling VM's name in QREXEC_REMOTE_DOMAIN. It runs exactly one session
// to completion and exits; there is no long-lived daemon.
func main() {
	ambient := config.LoadOrDefault()

	logger, err := logging.New(logging.Config{
		Level:        ambient.Logging.Level,
		Development:  ambient.Logging.Development,
		FallbackPath: ambient.Logging.FallbackPath,
	})
	if err != nil {
		logger = logging.NewDefault()
	}
	defer logger.Sync()

	os.Exit(run(ambient, logger))
}

// run is factored out of main so a recovered panic still reaches the
// exit-code mapping below rather than crashing with a bare stack trace —
// a malformed chain config or a misbehaving plugin must never bring down
// qrexec-client's whole RPC dispatch.
func run(ambient *config.Config, logger *logging.Logger) (code int) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("recovered panic", zap.Any("panic", r))
			code = session.ExitCode(&session.InternalError{Cause: fmt.Errorf("panic: %v", r)})
		}
	}()

	if len(os.Args) != 2 {
		logger.Error("wrong argument count", zap.Int("argc", len(os.Args)-1))
		return session.ExitCode(&session.ConfigError{Cause: fmt.Errorf("usage: %s <chain>+<destination vm>+<call>", os.Args[0])})
	}

	meta, err := session.ParseInvocation(os.Args[1], os.Getenv("QREXEC_REMOTE_DOMAIN"))
	if err != nil {
		logger.Error("failed to parse invocation", zap.Error(err))
		return session.ExitCode(err)
	}

	chains, err := config.LoadChains(ambient.Chains.Path)
	if err != nil {
		cerr := &session.ConfigError{Chain: meta.Chain, Cause: err}
		logger.Error("failed to load chain config", zap.String("path", ambient.Chains.Path), zap.Error(cerr))
		return session.ExitCode(cerr)
	}

	chain, ok := chains.Resolve(meta.Chain)
	if !ok {
		cerr := &session.ConfigError{Chain: meta.Chain, Cause: fmt.Errorf("no chain named %q is defined in %s", meta.Chain, ambient.Chains.Path)}
		logger.Error("unknown chain", zap.Error(cerr))
		return session.ExitCode(cerr)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = session.Run(ctx, logger, meta, chain)
	if err != nil {
		logger.Error("session failed",
			zap.String("chain", meta.Chain),
			zap.String("src", meta.Src),
			zap.String("dst", meta.Dst),
			zap.String("call", meta.Call),
			zap.Error(err),
		)
		return session.ExitCode(err)
	}

	logger.Info("session completed",
		zap.String("chain", meta.Chain),
		zap.String("src", meta.Src),
		zap.String("dst", meta.Dst),
		zap.String("call", meta.Call),
	)
	return session.ExitOK
}

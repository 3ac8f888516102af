package main

import (
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/leonardcser/shmkv/internal/cache"
	"github.com/leonardcser/shmkv/internal/config"
	"github.com/leonardcser/shmkv/internal/logger"
	"github.com/leonardcser/shmkv/internal/sysutil"
)

func main() {
	if err := logger.InitFromEnv(); err != nil {
		panic(err)
	}
	defer logger.Close()

	cfg, err := config.Load(os.Getenv("SHMKV_CONFIG"))
	if err != nil {
		panic(err)
	}
	if err := cfg.ApplyEnv(); err != nil {
		panic(err)
	}

	if limit, err := sysutil.RaiseFileLimit(cfg.FDLimit); err != nil {
		logger.Warnf("Failed to raise open file limit: %v", err)
	} else {
		logger.Infof("Open file limit is %d", limit)
	}

	store, err := cfg.Open(logger.L())
	if err != nil {
		logger.Errorf("Failed to open store: %v", err)
		panic(err)
	}

	// Ensure socket dir exists and remove stale socket
	sock := cfg.Socket
	_ = os.MkdirAll(filepath.Dir(sock), 0o755)
	_ = os.Remove(sock)

	l, err := net.Listen("unix", sock)
	if err != nil {
		panic(err)
	}
	defer l.Close()
	_ = os.Chmod(sock, 0o600)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-sig
		logger.Infof("Received %s, shutting down", s)
		_ = l.Close()
	}()

	logger.Infof("Store daemon listening on %s (dir %s, prefix %s, encrypted %v)",
		sock, cfg.Dir, cfg.Prefix, store.Encrypted())
	if err := cache.Serve(l, store, logger.L()); err != nil {
		logger.Errorf("serve: %v", err)
	}
	_ = os.Remove(sock)
}

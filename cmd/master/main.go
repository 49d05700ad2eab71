package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simlab/internal/config"
	"simlab/internal/logging"
	"simlab/internal/master/daemon"
	"simlab/pkg/store"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:           "simlab-master",
	Short:         "Run the simlab scheduling engine",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runMaster,
}

func runMaster(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	var opts []daemon.Option

	// 1. 可选: 初始化 Etcd 连接，用于 Agent 发现
	if cfg.Discovery.Enabled() {
		etcdManager, err := store.NewEtcdManager(cfg.Discovery.EtcdEndpoints, cfg.Discovery.DialTimeout, cfg.Discovery.LeaseTTL, log)
		if err != nil {
			return fmt.Errorf("connecting to etcd: %w", err)
		}
		defer etcdManager.Close()
		log.Info("Connected to Etcd", zap.Strings("endpoints", cfg.Discovery.EtcdEndpoints))
		opts = append(opts, daemon.WithStore(etcdManager))
	}

	// 2. 初始化引擎 (依赖注入)
	d := daemon.New(cfg, log, opts...)

	// 3. 优雅退出 (Graceful Shutdown): 等待 Ctrl+C 信号
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("Shutting down master...")
		cancel()
	}()

	return d.Run(ctx)
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config file")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"simlab/internal/config"
	"simlab/internal/logging"
	"simlab/internal/master/transport"
	"simlab/internal/worker"
	"simlab/internal/worker/executor"
	"simlab/pkg/store"
)

var (
	configPath string
	engineHost string
	pullImage  bool
)

var rootCmd = &cobra.Command{
	Use:           "simlab-worker",
	Short:         "Run a reference simlab agent",
	SilenceErrors: true,
	SilenceUsage:  true,
	RunE:          runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		return err
	}
	defer log.Sync()

	id := cfg.Worker.ID
	if id == "" {
		hostname, _ := os.Hostname()
		id = fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8])
	}
	res, err := cfg.WorkerResource(id)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 1. 初始化执行器
	var handler worker.Handler
	switch cfg.Worker.Handler {
	case "echo":
		handler = executor.Echo{}
	case "docker":
		exec, err := executor.NewDockerExecutor(cfg.Worker.Image, pullImage, log)
		if err != nil {
			return fmt.Errorf("initializing docker executor: %w", err)
		}
		handler = exec
	default:
		return fmt.Errorf("unknown handler %q", cfg.Worker.Handler)
	}

	// 2. 宣告方式: etcd 租约，或直接发布到引擎的注册地址
	var registrar worker.Registrar
	if cfg.Discovery.Enabled() {
		etcdManager, err := store.NewEtcdManager(cfg.Discovery.EtcdEndpoints, cfg.Discovery.DialTimeout, cfg.Discovery.LeaseTTL, log)
		if err != nil {
			return fmt.Errorf("connecting to etcd: %w", err)
		}
		defer etcdManager.Close()
		registrar = worker.StoreRegistrar{Store: etcdManager, Timeout: cfg.Discovery.DialTimeout}
	} else {
		announcer, err := transport.NewAnnouncer(ctx, engineAddr(cfg.Transport.Registration))
		if err != nil {
			return err
		}
		defer announcer.Close()
		registrar = announcer
	}

	// 3. 初始化 Worker Agent
	agent := worker.NewAgent(res, cfg.Worker.Listen, handler, registrar,
		worker.WithHeartbeats(transport.Heartbeats(ctx, engineAddr(cfg.Transport.Telemetry))),
		worker.WithReannounce(cfg.Worker.Reannounce),
		worker.WithLogger(log))

	// 4. 优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		log.Info("Shutting down worker...", zap.String("agent", id))
		cancel()
	}()

	return agent.Run(ctx)
}

// engineAddr 引擎绑定的是 0.0.0.0，Worker 需要连接的具体主机由 --engine 给出
func engineAddr(bind string) string {
	return transport.DialAddr(bind, engineHost)
}

func main() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	rootCmd.Flags().StringVar(&engineHost, "engine", "127.0.0.1", "Host of the simlab engine")
	rootCmd.Flags().BoolVar(&pullImage, "pull", false, "Pull the docker handler image before each command")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"simlab/internal/config"
	"simlab/internal/master/transport"
	"simlab/pkg/model"
)

var (
	configPath string
	engineHost string
)

var rootCmd = &cobra.Command{
	Use:           "simlab",
	Short:         "Submit jobs to and watch a simlab engine",
	SilenceErrors: true,
	SilenceUsage:  true,
}

var (
	submitCount   int
	submitTimeout time.Duration
)

var submitCmd = &cobra.Command{
	Use:   "submit <job.json>",
	Short: "Submit a job file, optionally many times concurrently",
	Args:  cobra.ExactArgs(1),
	RunE:  runSubmit,
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print engine snapshots as they are published",
	RunE:  runWatch,
}

var initCmd = &cobra.Command{
	Use:   "init <config.yaml>",
	Short: "Write a config file with the default settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.WriteConfig(args[0], config.DefaultConfig()); err != nil {
			return err
		}
		fmt.Printf("Wrote %s\n", args[0])
		return nil
	},
}

func runSubmit(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("reading job: %w", err)
	}
	job, err := model.DecodeJob(data)
	if err != nil {
		return err
	}
	addr := transport.DialAddr(cfg.Transport.Submission, engineHost)

	fmt.Printf("Submitting %d job(s) to %s...\n", submitCount, addr)

	var (
		wg     sync.WaitGroup
		failed atomic.Int64
	)
	start := time.Now()

	// 限制同时只有 50 个协程在提交
	sem := make(chan struct{}, 50)
	for i := 0; i < submitCount; i++ {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int) {
			defer wg.Done()
			defer func() { <-sem }()

			ctx, cancel := context.WithTimeout(context.Background(), submitTimeout)
			defer cancel()

			id, err := transport.SubmitJob(ctx, addr, job)
			if err != nil {
				failed.Add(1)
				fmt.Fprintf(os.Stderr, "[%d] rejected: %v\n", i, err)
				return
			}
			fmt.Printf("[%d] admitted as %s\n", i, id)
		}(i)
	}
	wg.Wait()

	fmt.Printf("Done in %v, %d of %d admitted\n", time.Since(start).Round(time.Millisecond), int64(submitCount)-failed.Load(), submitCount)
	if failed.Load() > 0 {
		return fmt.Errorf("%d submission(s) failed", failed.Load())
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return transport.WatchTelemetry(ctx, transport.DialAddr(cfg.Transport.Telemetry, engineHost), func(snap *model.Snapshot) {
		fmt.Printf("%s  jobs=%d nodes=%d resources=%d locked=%d\n",
			snap.Taken.Format(time.TimeOnly), len(snap.Jobs), len(snap.Nodes), len(snap.Resources), len(snap.Locked))
		for _, n := range snap.Nodes {
			fmt.Printf("  %-40s %s\n", n.Label(), n.State)
		}
	})
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&engineHost, "engine", "127.0.0.1", "Host of the simlab engine")
	submitCmd.Flags().IntVarP(&submitCount, "count", "n", 1, "Number of times to submit the job")
	submitCmd.Flags().DurationVar(&submitTimeout, "timeout", 10*time.Second, "Timeout for each submission")

	rootCmd.AddCommand(submitCmd, watchCmd, initCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

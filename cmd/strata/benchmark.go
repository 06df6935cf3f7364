package main

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/facet"
	"github.com/samcharles93/strata/internal/facetsync"
	"github.com/samcharles93/strata/internal/mat"
	"github.com/samcharles93/strata/internal/mempool"
)

func benchmarkCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		rows       int64
		cols       int64
		count      int64
		pin        bool
	)

	flags := append([]cli.Flag{}, deviceFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of benchmark runs",
			Value:       5,
			Destination: &benchRuns,
		},
		&cli.Int64Flag{
			Name:        "rows",
			Usage:       "rows per matrix",
			Value:       1024,
			Destination: &rows,
		},
		&cli.Int64Flag{
			Name:        "cols",
			Usage:       "columns per matrix",
			Value:       1024,
			Destination: &cols,
		},
		&cli.Int64Flag{
			Name:        "count",
			Usage:       "matrices per episode",
			Value:       8,
			Destination: &count,
		},
		&cli.BoolFlag{
			Name:        "pin",
			Usage:       "register host buffers as pinned memory",
			Destination: &pin,
		},
	)

	return &cli.Command{
		Name:  "benchmark",
		Usage: "Measure transfer episode throughput",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, LoadConfig())
			log := buildLogger()

			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			matBytes := rows * cols * 4
			episodeBytes := count * matBytes * 2

			fmt.Println("=== Strata Transfer Benchmark ===")
			fmt.Printf("Backend:    %s\n", dev.Driver().Name())
			fmt.Printf("Matrices:   %d x (%dx%d, %s)\n", count, rows, cols, humanBytes(matBytes))
			fmt.Printf("Episode:    %s round trip\n", humanBytes(episodeBytes))
			fmt.Printf("Pinned:     %v\n", pin)
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n", benchRuns)
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Println()

			return mempool.With(mempool.Config{Driver: dev.Driver(), Log: log}, func(p *mempool.Pool) error {
				eng := facetsync.New(facetsync.Config{
					Context: dev,
					Pool:    p,
					PinHost: pin,
					Log:     log,
				})

				mats := make([]*mat.Dense, count)
				backed := make([]facet.Backed, count)
				for i := range mats {
					m := mat.New(int(rows), int(cols))
					mat.FillRand(m, dev.Seed()+int64(i))
					mats[i] = m
					backed[i] = m
				}

				// One run uploads every matrix, pretends a kernel wrote to
				// the device facets, and syncs them back while tearing the
				// device copies down.
				runOnce := func() (time.Duration, error) {
					start := time.Now()
					tok, err := eng.Start(backed, nil)
					if err != nil {
						return 0, err
					}
					if err := eng.Finish(tok); err != nil {
						return 0, err
					}
					for _, m := range mats {
						m.NoteDeviceWrite()
					}
					tok, err = eng.Start(nil, backed)
					if err != nil {
						return 0, err
					}
					if err := eng.Finish(tok); err != nil {
						return 0, err
					}
					return time.Since(start), nil
				}

				for i := range int(warmupRuns) {
					log.Info("warmup run", "run", i+1)
					if _, err := runOnce(); err != nil {
						return fmt.Errorf("warmup run %d: %w", i+1, err)
					}
				}

				durations := make([]time.Duration, 0, benchRuns)
				for i := range int(benchRuns) {
					log.Info("benchmark run", "run", i+1)
					d, err := runOnce()
					if err != nil {
						return fmt.Errorf("benchmark run %d: %w", i+1, err)
					}
					durations = append(durations, d)
				}

				fmt.Println("=== Results ===")
				fmt.Printf("%-6s %12s %12s\n", "Run", "Duration", "Throughput")

				var sum time.Duration
				for i, d := range durations {
					fmt.Printf("%-6d %12s %12s\n", i+1, d.Round(time.Microsecond), throughput(episodeBytes, d))
					sum += d
				}
				if len(durations) > 0 {
					avg := sum / time.Duration(len(durations))
					fmt.Printf("\n%-6s %12s %12s\n", "Avg", avg.Round(time.Microsecond), throughput(episodeBytes, avg))
				}

				var mem runtime.MemStats
				runtime.ReadMemStats(&mem)
				fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
					float64(mem.Alloc)/(1024*1024),
					float64(mem.Sys)/(1024*1024))

				return nil
			})
		},
	}
}

func throughput(bytes int64, d time.Duration) string {
	if d <= 0 {
		return "-"
	}
	gbps := float64(bytes) / d.Seconds() / (1 << 30)
	return fmt.Sprintf("%.2f GiB/s", gbps)
}

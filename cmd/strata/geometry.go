package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/strata/internal/grid"
)

func geometryCmd() *cli.Command {
	var (
		n      int64
		rows   int64
		cols   int64
		planes int64
		warps  int64
	)

	flags := append([]cli.Flag{}, deviceFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "n",
			Usage:       "element count for a 1d launch",
			Destination: &n,
		},
		&cli.Int64Flag{
			Name:        "rows",
			Usage:       "row count for a 2d or 3d launch",
			Destination: &rows,
		},
		&cli.Int64Flag{
			Name:        "cols",
			Usage:       "column count for a 2d or 3d launch",
			Destination: &cols,
		},
		&cli.Int64Flag{
			Name:        "planes",
			Usage:       "plane count for a 3d launch",
			Destination: &planes,
		},
		&cli.Int64Flag{
			Name:        "warps",
			Usage:       "max warps per block",
			Value:       4,
			Destination: &warps,
		},
	)

	return &cli.Command{
		Name:    "geometry",
		Aliases: []string{"geom"},
		Usage:   "Plan launch geometry for a problem shape",
		Flags:   flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, LoadConfig())

			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			pl := dev.Planner()
			var (
				shape         string
				block, launch grid.Dim3
			)
			switch {
			case planes > 0:
				if rows <= 0 || cols <= 0 {
					return fmt.Errorf("a 3d launch needs --planes, --rows and --cols")
				}
				shape = fmt.Sprintf("%dx%dx%d", planes, rows, cols)
				block, launch = pl.Choose3D(int(planes), int(rows), int(cols), int(warps))
			case rows > 0 || cols > 0:
				if rows <= 0 || cols <= 0 {
					return fmt.Errorf("a 2d launch needs both --rows and --cols")
				}
				shape = fmt.Sprintf("%dx%d", rows, cols)
				block, launch = pl.Choose2D(int(rows), int(cols), int(warps))
			case n > 0:
				shape = strconv.FormatInt(n, 10)
				block, launch = pl.Choose1D(int(n), int(warps))
			default:
				return fmt.Errorf("supply --n for 1d, --rows/--cols for 2d, or --planes/--rows/--cols for 3d")
			}

			table := tablewriter.NewTable(os.Stdout)
			table.Header([]string{"SHAPE", "BLOCK", "GRID", "THREADS", "WARPS/BLOCK"})
			table.Append([]string{
				shape,
				dimString(block),
				dimString(launch),
				strconv.Itoa(block.Count() * launch.Count()),
				strconv.Itoa(block.Count() / grid.WarpSize),
			})
			table.Render()
			return nil
		},
	}
}

func dimString(d grid.Dim3) string {
	return fmt.Sprintf("(%d, %d, %d)", d.X, d.Y, d.Z)
}

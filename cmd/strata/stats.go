package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"
)

func statsCmd() *cli.Command {
	return &cli.Command{
		Name:  "stats",
		Usage: "Print device properties and memory state",
		Flags: append(append([]cli.Flag{}, deviceFlags()...), loggingFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyDeviceConfig(cmd, LoadConfig())

			dev, err := openDevice()
			if err != nil {
				return err
			}
			defer func() { _ = dev.Close() }()

			drv := dev.Driver()
			count, err := drv.DeviceCount()
			if err != nil {
				return err
			}
			free, total, err := drv.MemInfo()
			if err != nil {
				return err
			}
			props := dev.Props()

			table := tablewriter.NewTable(os.Stdout)
			table.Header([]string{"BACKEND", "DEVICES", "WARP", "MAX BLOCKS", "FREE", "TOTAL"})
			table.Append([]string{
				drv.Name(),
				strconv.Itoa(count),
				strconv.Itoa(props.WarpSize),
				strconv.Itoa(props.MaxBlocks),
				humanBytes(free),
				humanBytes(total),
			})
			table.Render()
			return nil
		},
	}
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

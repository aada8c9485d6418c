package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/urfave/cli/v3"

	"github.com/jamesprial/drive-monitor/internal/snapshot"
)

func (a *app) snapshotCmd() *cli.Command {
	return &cli.Command{
		Name:  "snapshot",
		Usage: "Discover devices, refresh them once and print their state",
		Description: `Runs discovery and one update of every drive and RAID set, then writes
the reconciled records in JSON, YAML or table format.

  drivemon snapshot --format json --output /tmp/drives.json`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "format",
				Aliases: []string{"f"},
				Usage:   "output format (json, yaml, table)",
				Value:   string(snapshot.FormatTable),
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write to this file instead of stdout",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			format, err := snapshot.ParseFormat(cmd.String("format"))
			if err != nil {
				return err
			}

			reg, err := a.registry()
			if err != nil {
				return err
			}
			snap, err := snapshot.Collect(ctx, reg)
			if err != nil {
				return err
			}

			var w io.Writer = cmd.Root().Writer
			if path := cmd.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer f.Close()
				w = f
			}
			return snapshot.Write(w, snap, format)
		},
	}
}

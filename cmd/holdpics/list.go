package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func listCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Aliases: []string{"ls"},
		Usage:   "list cached images, least recently used first",
		Action:  listAction,
	}
}

func listAction(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	c, err := e.cache()
	if err != nil {
		return err
	}
	entries, err := c.Entries()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 4, 2, ' ', 0)
	for _, entry := range entries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", entry.Name, humanize.Bytes(uint64(entry.Size)), humanize.Time(entry.ModTime))
	}
	return tw.Flush()
}

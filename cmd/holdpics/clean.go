package main

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/urfave/cli/v3"
)

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "evict cache entries over the configured limits",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "all", Usage: "remove every cached image"},
		},
		Action: cleanAction,
	}
}

func cleanAction(ctx context.Context, cmd *cli.Command) error {
	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	c, err := e.cache()
	if err != nil {
		return err
	}

	var removed int
	if cmd.Bool("all") {
		if removed, err = c.Clear(); err != nil {
			return err
		}
	} else {
		removed = c.Clean()
	}

	files, bytes := c.Stats()
	fmt.Fprintf(cmd.Root().Writer, "removed %d, %d left (%s) in %s\n",
		removed, files, humanize.Bytes(uint64(bytes)), c.Dir())
	return nil
}

func fontsCommand() *cli.Command {
	return &cli.Command{
		Name:  "fonts",
		Usage: "list the fonts text can be drawn with",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			e, err := setup(cmd)
			if err != nil {
				return err
			}
			defer e.log.Sync()

			for _, name := range e.fonts().Names() {
				fmt.Fprintln(cmd.Root().Writer, name)
			}
			return nil
		},
	}
}

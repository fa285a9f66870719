package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/cshum/vipsgen/vips"
	"github.com/urfave/cli/v3"

	"holdpics/internal/generator"
	"holdpics/internal/image_renderer"
	"holdpics/internal/params"
)

func renderCommand() *cli.Command {
	return &cli.Command{
		Name:      "render",
		Usage:     "render an image into the cache and print its path",
		UsageText: "holdpics render [options] SIZE",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "bg", Usage: "background color", Value: "ddd"},
			&cli.StringFlag{Name: "fg", Usage: "foreground color", Value: "000"},
			&cli.StringFlag{Name: "format", Aliases: []string{"f"}, Usage: "png, jpeg, webp or gif", Value: "png"},
			&cli.StringFlag{Name: "text", Aliases: []string{"t"}, Usage: "text to draw"},
			&cli.StringFlag{Name: "font", Usage: "font name"},
			&cli.FloatFlag{Name: "alpha", Usage: "opacity in [0, 1]", Value: 1},
			&cli.IntFlag{Name: "dpi", Usage: "resolution metadata", Value: params.DefaultDPI},
			&cli.BoolFlag{Name: "debug", Usage: "outline the text box"},
			&cli.Int64Flag{Name: "seed", Usage: "seed for rand colors and random text"},
			&cli.BoolFlag{Name: "random-text", Usage: "draw generated filler text"},
		},
		Action: renderAction,
	}
}

func renderAction(ctx context.Context, cmd *cli.Command) error {
	if cmd.NArg() != 1 {
		return fmt.Errorf("expected exactly one SIZE argument")
	}

	e, err := setup(cmd)
	if err != nil {
		return err
	}
	defer e.log.Sync()

	w, h, err := params.ParseSize(cmd.Args().First())
	if err != nil {
		return err
	}
	format, err := params.ParseFormat(cmd.String("format"))
	if err != nil {
		return err
	}

	args := params.DefaultArgs()
	args.Font = e.cfg.DefaultFont
	if font := cmd.String("font"); font != "" {
		args.Font = strings.ToLower(font)
	}
	if text := cmd.String("text"); text != "" {
		args.Text = &text
	}
	args.Alpha = cmd.Float("alpha")
	args.DPI = int(cmd.Int("dpi"))
	args.Debug = cmd.Bool("debug")
	args.RandomText = cmd.Bool("random-text")
	if cmd.IsSet("seed") {
		seed := cmd.Int64("seed")
		args.Seed = &seed
	}

	req := params.Request{
		Width:      w,
		Height:     h,
		Background: cmd.String("bg"),
		Foreground: cmd.String("fg"),
		Format:     format,
		Args:       args,
	}
	if err := req.Validate(); err != nil {
		return err
	}

	registry := e.fonts()
	if !registry.Has(args.Font) {
		return fmt.Errorf("%w: unknown font %q", params.ErrInvalid, args.Font)
	}

	c, err := e.cache()
	if err != nil {
		return err
	}

	// Shut down by main once the command returns.
	vips.Startup(&vips.Config{ConcurrencyLevel: e.cfg.VipsConcurrency})

	gen := generator.New(c, image_renderer.New(registry, e.log), nil, e.log)
	path, err := gen.GetPath(ctx, generator.Resolve(req))
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.Root().Writer, path)
	return nil
}

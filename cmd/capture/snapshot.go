package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"golang.org/x/image/tiff"

	"github.com/video-system/go-frame-grabber/pkg/acquire"
	"github.com/video-system/go-frame-grabber/pkg/capture"
	"github.com/video-system/go-frame-grabber/pkg/format"
)

func snapshotCommand() *cli.Command {
	return &cli.Command{
		Name:      "snapshot",
		Usage:     "grab frames and write them as TIFF files",
		ArgsUsage: "<output-dir>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "take the input from this config file"},
			&cli.StringFlag{Name: "channel", Usage: "channel id in the config file (default: first channel)"},
			&cli.StringFlag{Name: "driver", Value: capture.DefaultDriver, Usage: "driver when no config is given"},
			&cli.StringFlag{Name: "device", Usage: "interface name when no config is given"},
			&cli.IntFlag{Name: "count", Aliases: []string{"n"}, Value: 1, Usage: "number of frames to write"},
			&cli.DurationFlag{Name: "timeout", Value: 10 * time.Second, Usage: "give up when frames stop arriving"},
			&cli.BoolFlag{Name: "compress", Usage: "deflate-compress the TIFF files"},
		},
		Action: snapshot,
	}
}

func snapshot(c *cli.Context) error {
	if c.NArg() != 1 {
		return errors.New("snapshot needs exactly one output directory")
	}
	outDir := c.Args().First()
	if c.Int("count") < 1 {
		return errors.New("--count must be at least 1")
	}

	chCfg, logSpec, logFormat, err := snapshotInput(c)
	if err != nil {
		return err
	}
	logger, err := newLogger(c, logSpec, logFormat)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
	defer cancel()

	// The handler stops waiting for the writer before the channel is
	// stopped, otherwise Stop blocks on a frame nobody will take.
	handlerCtx, stopHandler := context.WithCancel(ctx)
	frames := make(chan *acquire.Frame)
	ch := capture.NewChannel(chCfg, logger)
	ch.OnFrame(func(_ string, f *acquire.Frame) {
		select {
		case frames <- f:
		case <-handlerCtx.Done():
			f.Release()
		}
	})
	if err := ch.Start(ctx); err != nil {
		stopHandler()
		return err
	}
	defer func() {
		stopHandler()
		ch.Stop()
	}()

	geom := ch.Engine().Geometry()
	opts := &tiff.Options{Compression: tiff.Uncompressed}
	if c.Bool("compress") {
		opts = &tiff.Options{Compression: tiff.Deflate, Predictor: true}
	}

	for i := 0; i < c.Int("count"); i++ {
		var f *acquire.Frame
		select {
		case f = <-frames:
		case <-ch.Done():
			if err := ch.GetError(); err != nil {
				return err
			}
			return errors.New("capture stopped")
		case <-ctx.Done():
			return fmt.Errorf("waiting for frame %d: %w", i, ctx.Err())
		}

		path := filepath.Join(outDir, fmt.Sprintf("%s_%06d.tiff", chCfg.ID, f.Offset))
		err := writeFrame(path, geom, f.Data, opts)
		f.Release()
		if err != nil {
			return err
		}
		logger.Info("frame written", "path", path, "offset", f.Offset, "dropped", f.Dropped, "timestamp", f.Timestamp)
	}
	return nil
}

// snapshotInput picks the channel to grab from, along with the log
// settings of the config file when one is used.
func snapshotInput(c *cli.Context) (capture.ChannelConfig, string, string, error) {
	if path := c.String("config"); path != "" {
		cfg, err := capture.LoadConfig(path)
		if err != nil {
			return capture.ChannelConfig{}, "", "", fmt.Errorf("load config: %w", err)
		}
		chans := cfg.ChannelConfigs()
		want := c.String("channel")
		if want == "" {
			return chans[0], cfg.Log.Level, cfg.Log.Format, nil
		}
		for _, ch := range chans {
			if ch.ID == want {
				return ch, cfg.Log.Level, cfg.Log.Format, nil
			}
		}
		return capture.ChannelConfig{}, "", "", fmt.Errorf("channel %q not in config", want)
	}

	in := capture.InputConfig{Driver: c.String("driver"), Device: c.String("device")}
	in.ApplyDefaults(capture.InputConfig{})
	if err := in.Validate(); err != nil {
		return capture.ChannelConfig{}, "", "", err
	}
	return capture.ChannelConfig{ID: capture.DefaultChannelID, InputConfig: in}, "", "", nil
}

// writeFrame is replaced in tests.
var writeFrame = writeTIFF

func writeTIFF(path string, geom acquire.Geometry, data []byte, opts *tiff.Options) error {
	img, err := format.Image(geom.Format, geom.Width, geom.Height, geom.Stride, data)
	if err != nil {
		return err
	}

	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := tiff.Encode(out, img, opts); err != nil {
		out.Close()
		return fmt.Errorf("encode %s: %w", path, err)
	}
	return out.Close()
}

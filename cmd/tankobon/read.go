package main

import (
	"context"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/extraction"
	"github.com/tankobon/tankobon/pkg/reading"
	"github.com/urfave/cli/v2"
)

func readCommand() *cli.Command {
	return &cli.Command{
		Name:      "read",
		Usage:     "open a reading session and write one page's image to a file",
		ArgsUsage: "<comic>",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "page", Value: 1, Usage: "one-based reading order, clamped to the comic's pages"},
			&cli.StringFlag{Name: "out", Required: true, Usage: "where to write the page image"},
			&cli.StringFlag{Name: "thumb-out", Usage: "also write the page thumbnail, or a placeholder when it has none"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			comic, err := e.comic(c.Args().First())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithCancel(e.ctx)
			defer cancel()

			type outcome struct {
				snap reading.Snapshot
				err  error
			}
			done := make(chan outcome, 1)
			finish := func(o outcome) {
				select {
				case done <- o:
				default:
				}
			}

			session := reading.Open(ctx, extraction.NewService(e.cfg, e.db, nil), comic, reading.Options{
				StartPage:       c.Int("page"),
				PageWorkers:     e.cfg.PageWorkersMin,
				PrefetchWorkers: e.cfg.PrefetchWorkers,
				OnUpdate: func(snap reading.Snapshot) {
					switch {
					case snap.Err != nil:
						finish(outcome{err: snap.Err})
					case snap.PageErr != nil:
						finish(outcome{err: errors.Wrapf(snap.PageErr, "failed to read page %d", snap.Current)})
					case snap.Opened && snap.PageCount == 0:
						finish(outcome{err: errors.Errorf("comic %d has no pages", comic.ID)})
					case snap.Image != nil:
						finish(outcome{snap: snap})
					}
				},
			})
			defer session.Close()

			go func() {
				if err := session.Run(ctx); err != nil && ctx.Err() == nil {
					finish(outcome{err: err})
				}
			}()

			var o outcome
			select {
			case o = <-done:
			case <-c.Context.Done():
				return c.Context.Err()
			}
			if o.err != nil {
				return o.err
			}

			if err := os.WriteFile(c.String("out"), o.snap.Image, 0644); err != nil {
				return errors.WithStack(err)
			}
			fmt.Printf("page %d of %d written to %s (%d thumbnails ready)\n",
				o.snap.Current, o.snap.PageCount, c.String("out"), o.snap.ThumbnailsReady)

			if out := c.String("thumb-out"); out != "" && o.snap.Thumbnail != nil {
				if err := os.WriteFile(out, o.snap.Thumbnail, 0644); err != nil {
					return errors.WithStack(err)
				}
				kind := "thumbnail"
				if o.snap.ThumbnailPlaceholder {
					kind = "placeholder"
				}
				fmt.Printf("%s written to %s\n", kind, out)
			}
			return nil
		}),
	}
}

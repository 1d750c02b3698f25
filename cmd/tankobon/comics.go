package main

import (
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/extraction"
	"github.com/urfave/cli/v2"
)

func addCommand() *cli.Command {
	return &cli.Command{
		Name:      "add",
		Usage:     "register comic archives",
		ArgsUsage: "<path>...",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if c.NArg() == 0 {
				return errors.New("at least one path is required")
			}
			list, err := e.comics(c.Args().Slice())
			if err != nil {
				return err
			}

			rows := make([][]string, 0, len(list))
			for _, comic := range list {
				rows = append(rows, []string{
					strconv.Itoa(comic.ID),
					comic.Filepath,
					humanize.Bytes(uint64(comic.FilesizeBytes)),
					humanize.Time(comic.CreatedAt),
				})
			}
			fmt.Println(renderTable(
				[]string{"ID", "Path", "Size", "Added"},
				rows,
				[]columnAlignment{alignRight, alignLeft, alignRight, alignLeft},
			))
			return nil
		}),
	}
}

func extractCommand() *cli.Command {
	return &cli.Command{
		Name:      "extract",
		Usage:     "extract page sets and thumbnails",
		ArgsUsage: "<comic>...",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "force", Usage: "discard existing page sets first"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			if c.NArg() == 0 {
				return errors.New("at least one comic is required")
			}
			list, err := e.comics(c.Args().Slice())
			if err != nil {
				return err
			}

			svc := extraction.NewService(e.cfg, e.db, func(ev extraction.Event) {
				switch ev.Type {
				case extraction.EventCompleted:
					fmt.Printf("comic %d: %d pages\n", ev.ComicID, ev.Total)
				case extraction.EventFailed:
					fmt.Printf("comic %d: %s\n", ev.ComicID, ev.Err)
				case extraction.EventStale:
					fmt.Printf("comic %d: archive changed, extracting again\n", ev.ComicID)
				case extraction.EventBatch:
					fmt.Printf("[%d/%d]\n", ev.Done, ev.Total)
				}
			})

			ids := make([]int, 0, len(list))
			for _, comic := range list {
				if c.Bool("force") {
					if err := svc.Invalidate(e.ctx, comic.ID); err != nil {
						return err
					}
				}
				ids = append(ids, comic.ID)
			}

			start := time.Now()
			res := svc.EnsurePagesForMany(e.ctx, ids)
			fmt.Printf("processed %d comics, extracted %d pages, %d errors in %s\n",
				res.Processed, res.PagesExtracted, res.Errors, time.Since(start).Round(time.Millisecond))
			if res.Errors > 0 {
				failed := make([]int, 0, len(res.Failures))
				for id := range res.Failures {
					failed = append(failed, id)
				}
				sort.Ints(failed)
				if len(failed) == 0 {
					return errors.Errorf("%d comics failed", res.Errors)
				}
				return errors.Errorf("%d comics failed, first was %d: %s", res.Errors, failed[0], res.Failures[failed[0]])
			}
			return nil
		}),
	}
}

func invalidateCommand() *cli.Command {
	return &cli.Command{
		Name:      "invalidate",
		Usage:     "discard page sets and cached thumbnails",
		ArgsUsage: "<comic>...",
		Action: withEnv(func(c *cli.Context, e *env) error {
			if c.NArg() == 0 {
				return errors.New("at least one comic is required")
			}
			list, err := e.comics(c.Args().Slice())
			if err != nil {
				return err
			}

			svc := extraction.NewService(e.cfg, e.db, nil)
			for _, comic := range list {
				if err := svc.Invalidate(e.ctx, comic.ID); err != nil {
					return err
				}
				fmt.Printf("comic %d invalidated\n", comic.ID)
			}
			return nil
		}),
	}
}

package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/tankobon/tankobon/pkg/cover"
	"github.com/tankobon/tankobon/pkg/extraction"
	"github.com/tankobon/tankobon/pkg/pages"
	"github.com/urfave/cli/v2"
)

func pagesCommand() *cli.Command {
	return &cli.Command{
		Name:      "pages",
		Usage:     "list a comic's pages in reading order, extracting them if needed",
		ArgsUsage: "<comic>",
		Action: withEnv(func(c *cli.Context, e *env) error {
			comic, err := e.comic(c.Args().First())
			if err != nil {
				return err
			}

			svc := extraction.NewService(e.cfg, e.db, nil)
			list, err := svc.EnsurePages(e.ctx, comic)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("no images found")
				return nil
			}

			rows := make([][]string, 0, len(list))
			for _, p := range list {
				name := ""
				if p.Name != nil {
					name = *p.Name
				}
				thumb := "missing"
				if stats, err := os.Stat(svc.Cache().PagePath(comic.ID, p.SortOrder)); err == nil {
					thumb = humanize.Bytes(uint64(stats.Size()))
				}
				rows = append(rows, []string{
					strconv.Itoa(p.ID),
					strconv.Itoa(p.SortOrder),
					p.Kind,
					name,
					thumb,
				})
			}
			fmt.Println(renderTable(
				[]string{"ID", "Order", "Kind", "Name", "Thumbnail"},
				rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight},
			))
			return nil
		}),
	}
}

func coverCommand() *cli.Command {
	return &cli.Command{
		Name:      "cover",
		Usage:     "resolve a comic's cover and render its thumbnail",
		ArgsUsage: "<comic>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "out", Usage: "also copy the full-size cover image to this path"},
		},
		Action: withEnv(func(c *cli.Context, e *env) error {
			comic, err := e.comic(c.Args().First())
			if err != nil {
				return err
			}
			resolver := cover.NewResolver(e.cfg, e.db)

			if out := c.String("out"); out != "" {
				src, err := resolver.ResolveCover(e.ctx, comic.ID, comic.Filepath)
				if err != nil {
					return err
				}
				if src == "" {
					return errors.Errorf("comic %d has no usable cover image", comic.ID)
				}
				defer func() {
					_ = cover.Cleanup(src)
				}()
				if err := copyFile(src, out); err != nil {
					return err
				}
				fmt.Printf("cover written to %s\n", out)
			}

			path, err := resolver.GenerateComicThumbnail(e.ctx, comic)
			if err != nil {
				return err
			}
			if path == "" {
				return errors.Errorf("comic %d has no usable cover image", comic.ID)
			}
			fmt.Printf("thumbnail written to %s\n", path)
			return nil
		}),
	}
}

func setCoverCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-cover",
		Usage:     "make a page the comic's only cover",
		ArgsUsage: "<comic> <page-id>",
		Action: withEnv(func(c *cli.Context, e *env) error {
			comic, err := e.comic(c.Args().First())
			if err != nil {
				return err
			}
			pageID, err := intArg(c, 1, "page-id")
			if err != nil {
				return err
			}

			if err := pages.NewService(e.db, e.cfg.DatabaseMaxRetries).SetCover(e.ctx, comic.ID, pageID); err != nil {
				return err
			}

			// The entity thumbnail follows the cover.
			path, err := cover.NewResolver(e.cfg, e.db).GenerateComicThumbnail(e.ctx, comic)
			if err != nil {
				e.log.Err(err).Warn("failed to regenerate comic thumbnail")
			}
			fmt.Printf("page %d is now the cover of comic %d\n", pageID, comic.ID)
			if path != "" {
				fmt.Printf("thumbnail written to %s\n", path)
			}
			return nil
		}),
	}
}

func setInternalCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-internal",
		Usage:     "demote a page to an internal page",
		ArgsUsage: "<page-id>",
		Action: withEnv(func(c *cli.Context, e *env) error {
			pageID, err := intArg(c, 0, "page-id")
			if err != nil {
				return err
			}
			if err := pages.NewService(e.db, e.cfg.DatabaseMaxRetries).SetInternal(e.ctx, pageID); err != nil {
				return err
			}
			fmt.Printf("page %d is now internal\n", pageID)
			return nil
		}),
	}
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return errors.WithStack(err)
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return errors.WithStack(err)
	}
	return errors.WithStack(out.Close())
}

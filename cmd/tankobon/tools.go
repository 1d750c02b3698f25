package main

import (
	"fmt"
	"strings"

	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/archive"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/urfave/cli/v2"
)

func toolsCommand() *cli.Command {
	return &cli.Command{
		Name:  "tools",
		Usage: "show which archive formats and external extractors are available",
		Action: func(c *cli.Context) error {
			ctx := logger.New().WithContext(c.Context)

			cfg, err := config.New()
			if err != nil {
				return err
			}
			opts := archive.OptionsFromConfig(cfg)
			caps := opts.Capabilities

			timeout := opts.ProbeTimeout
			if timeout <= 0 {
				timeout = archive.DefaultProbeTimeout
			}

			rows := [][]string{
				{"zip", "built-in", "", yesNo(caps.Supports(archive.KindZip))},
				{"rar", "built-in", "", yesNo(caps.RarNative)},
				{"7z", "built-in", "", yesNo(caps.Supports(archive.KindSevenZip))},
				{"tar", "built-in", "", yesNo(caps.Supports(archive.KindTar))},
			}
			for _, tool := range caps.RarTools {
				rows = append(rows, []string{
					"rar",
					tool.Name,
					strings.TrimSpace(tool.Command + " " + strings.Join(tool.Args, " ")),
					yesNo(tool.Available(ctx, timeout)),
				})
			}

			fmt.Println(renderTable([]string{"Format", "Extractor", "Command", "Available"}, rows, nil))
			return nil
		},
	}
}

func yesNo(ok bool) string {
	if ok {
		return "yes"
	}
	return "no"
}

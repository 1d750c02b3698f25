package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/tankobon/tankobon/pkg/comics"
	"github.com/tankobon/tankobon/pkg/config"
	"github.com/tankobon/tankobon/pkg/database"
	"github.com/tankobon/tankobon/pkg/errcodes"
	"github.com/tankobon/tankobon/pkg/migrations"
	"github.com/tankobon/tankobon/pkg/models"
	"github.com/tankobon/tankobon/pkg/version"
	"github.com/uptrace/bun"
	"github.com/urfave/cli/v2"
)

func main() {
	log := logger.New()

	app := &cli.App{
		Name:    "tankobon",
		Usage:   "extract, page through and thumbnail comic archives",
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "sql", Usage: "log every database query"},
		},
		Commands: []*cli.Command{
			addCommand(),
			extractCommand(),
			pagesCommand(),
			coverCommand(),
			setCoverCommand(),
			setInternalCommand(),
			invalidateCommand(),
			toolsCommand(),
			enqueueCommand(),
			jobsCommand(),
			jobLogCommand(),
			workCommand(),
			readCommand(),
		},
	}
	if err := app.Run(os.Args); err != nil {
		code, msg := errcodes.Describe(err)
		log.Err(err).Error("command failed", logger.Data{"code": code})
		fmt.Fprintln(os.Stderr, msg)
		os.Exit(errcodes.ExitCode(err))
	}
}

// env is what every command that touches the catalog needs.
type env struct {
	ctx context.Context
	log logger.Logger
	cfg *config.Config
	db  *bun.DB

	comicService *comics.Service
}

// withEnv loads the config, opens and migrates the database, then runs fn.
// The database is closed when fn returns.
func withEnv(fn func(c *cli.Context, e *env) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		log := logger.New()
		ctx := log.WithContext(c.Context)

		cfg, err := config.New()
		if err != nil {
			return err
		}
		if c.Bool("sql") {
			cfg.DatabaseDebug = true
			ctx = database.WithLogging(ctx)
		}

		db, err := database.New(cfg)
		if err != nil {
			return err
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Err(err).Error("database close error")
			}
		}()

		group, err := migrations.BringUpToDate(ctx, db)
		if err != nil {
			return err
		}
		if group.ID != 0 {
			log.Info("migrated to new group", logger.Data{"group_id": group.ID, "migration_names": group.Migrations.String()})
		}

		return fn(c, &env{
			ctx:          ctx,
			log:          log,
			cfg:          cfg,
			db:           db,
			comicService: comics.NewService(db),
		})
	}
}

// comic looks up arg as a comic id, or registers it as a path when it isn't
// a number.
func (e *env) comic(arg string) (*models.Comic, error) {
	if arg == "" {
		return nil, errors.New("a comic id or path is required")
	}
	if id, err := strconv.Atoi(arg); err == nil {
		return e.comicService.RetrieveComic(e.ctx, comics.RetrieveComicOptions{ID: &id})
	}
	return e.comicService.RegisterComic(e.ctx, arg)
}

func (e *env) comics(args []string) ([]*models.Comic, error) {
	list := make([]*models.Comic, 0, len(args))
	for _, arg := range args {
		comic, err := e.comic(arg)
		if err != nil {
			return nil, errors.Wrapf(err, "comic %s", arg)
		}
		list = append(list, comic)
	}
	return list, nil
}

func intArg(c *cli.Context, n int, name string) (int, error) {
	v, err := strconv.Atoi(c.Args().Get(n))
	if err != nil {
		return 0, errors.Errorf("%s must be a number, got %q", name, c.Args().Get(n))
	}
	return v, nil
}

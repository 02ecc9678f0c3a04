package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/concrnt/ccworld-migration/federation"
	"github.com/concrnt/ccworld-migration/service"
	"github.com/concrnt/ccworld-migration/worker"
)

var (
	version      = "unknown"
	buildMachine = "unknown"
	buildTime    = "unknown"
	goVersion    = "unknown"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("failed to load .env", "err", err)
	}

	app := &cli.App{
		Name:    "ccmigrate",
		Usage:   "archive import and account migration for a federated pod",
		Version: fmt.Sprintf("%s (%s, built on %s at %s)", version, goVersion, buildMachine, buildTime),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "yaml config file, overlaid by CCMIGRATE_CONFIG and CCMIGRATE_CONFIGS",
			},
		},
		Commands: []*cli.Command{
			serveCmd,
			importCmd,
			validateCmd,
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

var serveCmd = &cli.Command{
	Name:  "serve",
	Usage: "run the federation endpoints and the queue workers",
	Action: func(c *cli.Context) error {
		d, err := setup(c)
		if err != nil {
			return err
		}
		defer d.Close()

		ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
		defer stop()

		d.logger.Info(fmt.Sprintf("ccmigrate %s starting...", version), "pod", d.config.Pod.Host)

		w := worker.NewWorker(d.queue, d.store, d.dispatcher, d.client, d.service, d.logger)
		w.Run(ctx)

		e := echo.New()
		e.HidePort = true
		e.HideBanner = true

		if d.config.Server.EnableTrace {
			skipper := otelecho.WithSkipper(
				func(c echo.Context) bool {
					return c.Path() == "/metrics" || c.Path() == "/health"
				},
			)
			e.Use(otelecho.Middleware(d.config.Pod.Host, skipper))
		}
		e.Use(echoprometheus.NewMiddleware("ccmigrate"))
		e.Use(middleware.Recover())

		podKey := &d.podKey.PublicKey
		federationService := federation.NewService(
			d.store,
			d.receiver,
			d.client,
			d.config.Pod,
			podKey,
			d.client.BaseURL(d.config.Pod.Host),
			d.logger,
		)
		federation.NewHandler(federationService).Register(e)

		e.GET("/health", func(c echo.Context) (err error) {
			ctx := c.Request().Context()

			err = d.sqlDB.PingContext(ctx)
			if err != nil {
				return c.String(http.StatusInternalServerError, "db error")
			}

			err = d.rdb.Ping(ctx).Err()
			if err != nil {
				return c.String(http.StatusInternalServerError, "redis error")
			}

			return c.String(http.StatusOK, "ok")
		})
		e.GET("/metrics", echoprometheus.NewHandler())

		go func() {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := e.Shutdown(shutdownCtx); err != nil {
				d.logger.Error("failed to shutdown server", "err", err)
			}
		}()

		err = e.Start(":" + d.config.Server.Port)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

var importCmd = &cli.Command{
	Name:      "import",
	Usage:     "import an archive into a new user",
	ArgsUsage: "<archive.json>",
	Flags: []cli.Flag{
		&cli.StringFlag{
			Name:     "username",
			Usage:    "name of the user to create",
			Required: true,
		},
		&cli.StringFlag{
			Name:  "email",
			Usage: "email of the new user, overriding the archive",
		},
		&cli.BoolFlag{
			Name:  "queue",
			Usage: "hand the import to a running worker instead of importing now",
		},
		&cli.BoolFlag{
			Name:  "resume",
			Usage: "continue a failed import into the user it already created",
		},
	},
	Action: func(c *cli.Context) error {
		data, err := readArchive(c)
		if err != nil {
			return err
		}

		d, err := setup(c)
		if err != nil {
			return err
		}
		defer d.Close()

		if c.Bool("queue") {
			if err := d.dispatcher.EnqueueImport(c.Context, data, c.String("username"), c.String("email")); err != nil {
				return err
			}
			d.logger.Info("import queued", "username", c.String("username"))
			return nil
		}

		var result *service.Result
		if c.Bool("resume") {
			result, err = d.service.Resume(c.Context, data, c.String("username"))
		} else {
			result, err = d.service.Import(c.Context, data, c.String("username"), c.String("email"))
		}
		if printErr := printJSON(result); printErr != nil {
			return printErr
		}
		return err
	},
}

var validateCmd = &cli.Command{
	Name:      "validate",
	Usage:     "validate an archive without importing it",
	ArgsUsage: "<archive.json>",
	Action: func(c *cli.Context) error {
		data, err := readArchive(c)
		if err != nil {
			return err
		}

		d, err := setup(c)
		if err != nil {
			return err
		}
		defer d.Close()

		result := d.service.Validate(c.Context, data)
		if err := printJSON(result); err != nil {
			return err
		}
		if len(result.Errors) > 0 {
			return cli.Exit("archive is invalid", 2)
		}
		return nil
	},
}

func readArchive(c *cli.Context) ([]byte, error) {
	if c.NArg() != 1 {
		return nil, cli.Exit("expected exactly one archive file", 1)
	}
	return os.ReadFile(c.Args().First())
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

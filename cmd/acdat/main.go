// The acdat CLI inspects DAT archives: it prints the database header, lists
// the catalog, finds icon textures, dumps individual files, builds a sqlite
// index, and compares the catalogs of two archives.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/ahrav/go-acdat"
)

var versionGitCommit string
var versionBuildTime string

const loggerKey = "logger"

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "acdat",
		Usage:     "Inspect DAT archives",
		Version:   fmt.Sprintf("%s.%s", versionGitCommit, versionBuildTime),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Usage: "TOML config file", EnvVars: []string{"ACDAT_CONFIG"}},
			&cli.StringFlag{Name: "log-level", Value: "info", Usage: "Log level: trace, debug, info, warn, error", EnvVars: []string{"ACDAT_LOG_LEVEL"}},
			&cli.IntFlag{Name: "concurrency", Usage: "Goroutines used to load the directory tree", EnvVars: []string{"ACDAT_CONCURRENCY"}},
			&cli.IntFlag{Name: "max-depth", Usage: "Directory depth limit (0 derives it from the archive size)", EnvVars: []string{"ACDAT_MAX_DEPTH"}},
		},
		Before: func(c *cli.Context) error {
			cfg, err := resolveConfig(c)
			if err != nil {
				return err
			}
			level, err := logrus.ParseLevel(cfg.LogLevel)
			if err != nil {
				return errors.Wrap(err, "parse log level")
			}
			logger := logrus.New()
			logger.SetOutput(c.App.ErrWriter)
			logger.SetLevel(level)
			logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
			c.App.Metadata = map[string]interface{}{loggerKey: logrus.NewEntry(logger)}
			return nil
		},
		Commands: []*cli.Command{
			headerCommand(),
			listCommand(),
			iconsCommand(),
			dumpCommand(),
			indexCommand(),
			diffCommand(),
		},
	}
}

func loggerFrom(c *cli.Context) *logrus.Entry {
	if e, ok := c.App.Metadata[loggerKey].(*logrus.Entry); ok {
		return e
	}
	return logrus.NewEntry(logrus.StandardLogger())
}

// openArchive opens path with the resolved configuration.
func openArchive(c *cli.Context, path string) (*acdat.Archive, Config, error) {
	cfg, err := resolveConfig(c)
	if err != nil {
		return nil, cfg, err
	}
	log := loggerFrom(c).WithField("archive", path)
	a, err := acdat.Open(path, cfg.archiveOptions(log)...)
	if err != nil {
		return nil, cfg, errors.Wrapf(err, "open archive %s", path)
	}
	return a, cfg, nil
}

func requireArgs(c *cli.Context, n int, usage string) error {
	if c.NArg() != n {
		return fmt.Errorf("usage: %s %s", c.Command.Name, usage)
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newApp(os.Stdout, os.Stderr).RunContext(ctx, os.Args); err != nil {
		logrus.Fatal(err)
	}
}

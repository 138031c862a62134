// Command ixdbctl inspects ixdb database files without knowing their schema.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/lmittmann/tint"

	"github.com/andreyvit/ixdb"
	"github.com/andreyvit/ixdb/sqlitestore"
)

const (
	backendBolt   = "bolt"
	backendSQLite = "sqlite"
)

type globalOptions struct {
	ConfigFile string `long:"config" description:"YAML config file with db, backend, verbose and no_color keys."`
	DB         string `long:"db" description:"Path to the database file."`
	Backend    string `long:"backend" choice:"bolt" choice:"sqlite" description:"Storage format of the database file (default: bolt)."`
	Verbose    bool   `long:"verbose" short:"v" description:"Log debugging details."`
	NoColor    bool   `long:"no-color" description:"Disable colored log output."`
}

var (
	Config = new(globalOptions)

	stdout io.Writer = os.Stdout
)

func main() {
	var parser = flags.NewParser(Config, flags.Default)

	_, err := parser.AddCommand("stats", "Show table statistics",
		"Lists tables with their row, index entry and blob chunk counts.", &cmdStats{})
	must(err, "failed to add stats command")

	_, err = parser.AddCommand("dump", "Dump table rows",
		"Prints rows of a table as JSON lines.", &cmdDump{})
	must(err, "failed to add dump command")

	_, err = parser.AddCommand("check", "Check integrity",
		"Verifies that index entries and blob chunks agree with the rows.", &cmdCheck{})
	must(err, "failed to add check command")

	if _, err := parser.Parse(); err != nil {
		if fe, ok := err.(*flags.Error); ok && fe.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}
}

func must(err error, msg string) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
		os.Exit(2)
	}
}

func setupLogging(s settings) *slog.Logger {
	level := slog.LevelInfo
	if s.Verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    s.NoColor,
	}))
	slog.SetDefault(logger)
	return logger
}

// openStorage resolves settings and opens the database read-only.
func openStorage() (ixdb.Storage, *slog.Logger, error) {
	s, err := resolveSettings(*Config)
	if err != nil {
		return nil, nil, err
	}
	logger := setupLogging(s)
	if s.DB == "" {
		return nil, logger, fmt.Errorf("no database given, use --db or the db config key")
	}
	logger.Debug("opening", "db", s.DB, "backend", s.Backend)
	opt := ixdb.Options{
		ReadOnly: true,
		Timeout:  2 * time.Second,
		Logger:   logger,
	}
	var st ixdb.Storage
	if s.Backend == backendSQLite {
		st, err = sqlitestore.Open(s.DB, opt)
	} else {
		st, err = ixdb.OpenBolt(s.DB, opt)
	}
	if err != nil {
		return nil, logger, err
	}
	return st, logger, nil
}

// Command buyvia is a CLI client for the Buy Via price-comparison service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/and161185/buyvia/internal/config"
	"github.com/and161185/buyvia/internal/errs"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

func usage() {
	fmt.Fprintf(os.Stderr, `buyvia CLI
Usage:
  buyvia [-config file] [-api URL] [-debug] <cmd> [args]

Commands:
  version
  register   -u <username> -e <email> -p <password>
  login      -u <username> -p <password>            (saves token)
  logout
  whoami
  search     -q <text> [-page N -size N -min P -max P -store S -in-stock]
  product    -id <product id>
  category   -id <category id> [-sort relevance|price-low|price-high|newest -page N -size N]
  related    -category <id> [-exclude <product id> -limit N]
  recommend
  alerts     [-json]
  alert-set  -product <id> -threshold <price>
  alert-rm   -product <id>
  alert-edit -id <alert id> -threshold <price>
  triggered

Environment:
%s`, config.Usage())
	os.Exit(2)
}

// fail prints a readable error and exits.
func fail(err error) {
	fmt.Fprintln(os.Stderr, "error:", errMessage(err))
	os.Exit(1)
}

// errMessage turns err into the line shown to the user.
func errMessage(err error) string {
	var ve *errs.ValidationError
	switch {
	case errors.As(err, &ve):
		return ve.Error()
	case errors.Is(err, errs.ErrUnauthorized):
		return "not logged in (run: buyvia login)"
	case errs.Detail(err) != "":
		return errs.Detail(err)
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	default:
		return err.Error()
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(zap.WarnLevel)
	return cfg.Build()
}

// main loads configuration, wires the client and dispatches the subcommand.
func main() {
	cfgPath := flag.String("config", "", "YAML config file")
	apiURL := flag.String("api", "", "backend base URL (overrides config)")
	debug := flag.Bool("debug", false, "verbose logging")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fail(err)
	}
	if *apiURL != "" {
		cfg.APIURL = *apiURL
	}
	if *debug {
		cfg.Debug = true
	}
	if err := cfg.Validate(); err != nil {
		fail(err)
	}

	log, err := newLogger(cfg.Debug)
	if err != nil {
		fail(err)
	}
	defer func() { _ = log.Sync() }()

	a, err := newApp(cfg, log, os.Stdout)
	if err != nil {
		fail(err)
	}
	defer a.close()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	if err := a.run(ctx, flag.Arg(0), flag.Args()[1:]); err != nil {
		if errors.Is(err, errUnknownCommand) {
			fmt.Fprintln(os.Stderr, err)
			usage()
		}
		fail(err)
	}
}

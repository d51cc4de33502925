package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"

	"github.com/dutchcoders/nekoshield/app"
	"github.com/dutchcoders/nekoshield/build"
	"github.com/dutchcoders/nekoshield/signature"
	"github.com/fatih/color"
	logging "github.com/op/go-logging"

	cli "github.com/urfave/cli/v2"
)

var log = logging.MustGetLogger("nekoshield/cmd")

var globalFlags = []cli.Flag{
	&cli.StringFlag{
		Name:  "config",
		Usage: "read settings from the following TOML file",
	},
	&cli.StringSliceFlag{
		Name:  "targets",
		Usage: "the directories to scan",
		Value: cli.NewStringSlice(),
	},
	&cli.StringSliceFlag{
		Name:  "exclude",
		Usage: "exclude the following file paths (glob)",
		Value: cli.NewStringSlice(),
	},
	&cli.StringFlag{
		Name:  "logfile",
		Usage: "write detections to the following file path (string)",
	},
	&cli.StringFlag{
		Name:  "matcher",
		Usage: fmt.Sprintf("the sequence matcher to use (%s)", strings.Join(signature.MatcherNames(), ", ")),
		Value: "reset",
	},
	&cli.StringSliceFlag{
		Name:  "signatures",
		Usage: "only match the following signatures (default all)",
		Value: cli.NewStringSlice(),
	},
	&cli.IntFlag{
		Name:  "num-threads",
		Usage: "the number of archives scanned concurrently",
		Value: app.DefaultNumThreads,
	},
	&cli.BoolFlag{
		Name:  "emit-walk-errors",
		Usage: "log errors encountered while walking directories",
	},
	&cli.BoolFlag{
		Name:  "disable-color",
		Usage: "disable color output",
	},
	&cli.BoolFlag{
		Name:  "verbose",
		Usage: "enable verbose mode",
	},
	&cli.BoolFlag{
		Name:  "debug",
		Usage: "enable debug mode",
	},
	&cli.BoolFlag{
		Name:  "json",
		Usage: "output json",
	},
}

type Cmd struct {
	*cli.App
}

// options builds the orchestrator options. Values from the config file come
// first so explicitly set flags override them.
func options(c *cli.Context) ([]app.OptionFn, error) {
	options := []app.OptionFn{}

	if path := c.String("config"); path == "" {
	} else if cfg, err := app.LoadConfig(path); err != nil {
		return nil, fmt.Errorf("could not load config: %w", err)
	} else if fns, err := cfg.Options(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	} else {
		options = append(options, fns...)
	}

	if !c.IsSet("num-threads") {
	} else if fn, err := app.NumThreads(c.Int("num-threads")); err != nil {
		return nil, err
	} else {
		options = append(options, fn)
	}

	if targets := c.StringSlice("targets"); len(targets) == 0 {
	} else if fn, err := app.TargetPaths(targets); err != nil {
		return nil, fmt.Errorf("could not set targets: %w", err)
	} else {
		options = append(options, fn)
	}

	if exclude := c.StringSlice("exclude"); len(exclude) == 0 {
	} else if fn, err := app.ExcludeList(exclude); err != nil {
		return nil, fmt.Errorf("could not set exclude list: %w", err)
	} else {
		options = append(options, fn)
	}

	if !c.IsSet("matcher") {
	} else if fn, err := app.Matcher(c.String("matcher")); err != nil {
		return nil, err
	} else {
		options = append(options, fn)
	}

	if names := c.StringSlice("signatures"); len(names) == 0 {
	} else if fn, err := app.Signatures(names); err != nil {
		return nil, err
	} else {
		options = append(options, fn)
	}

	if logfile := c.String("logfile"); len(logfile) == 0 {
	} else if fn, err := app.LogFile(logfile); err != nil {
		return nil, fmt.Errorf("could not set logfile: %w", err)
	} else {
		options = append(options, fn)
	}

	if !c.Bool("emit-walk-errors") {
	} else if fn, err := app.EmitWalkErrors(); err == nil {
		options = append(options, fn)
	}

	if !c.Bool("json") {
	} else if fn, err := app.JSON(); err == nil {
		options = append(options, fn)
	}

	return options, nil
}

func printBanner(w io.Writer) {
	fmt.Fprintln(w, "nekoshield")
	fmt.Fprintln(w, "--------------------------------------")
}

func fail(format string, args ...interface{}) error {
	return cli.NewExitError(color.RedString("[!] "+format, args...), 1)
}

// run executes scan against a new orchestrator, prints the report and maps
// the outcome to an exit code. SIGINT cancels the scan.
func run(c *cli.Context, extra []app.OptionFn, scan func(o *app.Orchestrator, ctx context.Context) (*app.Report, error)) error {
	opts, err := options(c)
	if err != nil {
		return fail("%s", err.Error())
	}

	o, err := app.New(append(opts, extra...)...)
	if err != nil {
		return fail("Error: %s", err.Error())
	}
	defer o.Close()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	report, err := scan(o, ctx)
	if errors.Is(err, app.ErrCanceled) {
		log.Warningf("Scan interrupted, reporting partial results")
	} else if err != nil {
		return fail("Error scanning: %s", err.Error())
	}

	if c.Bool("json") {
		if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
			return fail("Error writing report: %s", err.Error())
		}
	} else if err := report.WriteText(color.Output); err != nil {
		return fail("Error writing report: %s", err.Error())
	}

	if errors.Is(err, app.ErrCanceled) {
		return cli.NewExitError(color.YellowString("[-] Scan canceled"), 1)
	}

	if report.Infected() {
		return cli.NewExitError(color.RedString("[!] Infection found"), 2)
	}

	return nil
}

func ScanAction(c *cli.Context) error {
	extra := []app.OptionFn{}

	if args := c.Args(); !args.Present() {
	} else if fn, err := app.TargetPaths(args.Slice()); err != nil {
		return fail("Could not set targets: %s", err.Error())
	} else {
		extra = append(extra, fn)
	}

	return run(c, extra, func(o *app.Orchestrator, ctx context.Context) (*app.Report, error) {
		report, err := o.Scan(ctx)
		if errors.Is(err, app.ErrInvalidArgument) && len(c.StringSlice("targets")) == 0 && !c.Args().Present() && c.String("config") == "" {
			// nothing configured, scan the working directory
			return o.Run(ctx, c.Int("num-threads"), ".", c.Bool("emit-walk-errors"))
		}
		return report, err
	})
}

func ScanImageAction(c *cli.Context) error {
	extra := []app.OptionFn{}

	if args := c.Args(); !args.Present() {
	} else if fn, err := app.Images(args.Slice()); err != nil {
		return fail("Could not set images: %s", err.Error())
	} else {
		extra = append(extra, fn)
	}

	if !c.Bool("local") {
	} else if fn, err := app.LocalImages(); err == nil {
		extra = append(extra, fn)
	}

	return run(c, extra, func(o *app.Orchestrator, ctx context.Context) (*app.Report, error) {
		return o.ScanImages(ctx)
	})
}

func ScanRepositoryAction(c *cli.Context) error {
	extra := []app.OptionFn{}

	if args := c.Args(); !args.Present() {
		return fail("No repositories given")
	} else if fn, err := app.Repositories(args.Slice()); err != nil {
		return fail("Could not set repositories: %s", err.Error())
	} else {
		extra = append(extra, fn)
	}

	return run(c, extra, func(o *app.Orchestrator, ctx context.Context) (*app.Report, error) {
		return o.ScanRepositories(ctx)
	})
}

func ProbeRemoteAction(c *cli.Context) error {
	p, err := app.NewRemoteProber(app.RemoteConfig{
		Host:     c.String("host"),
		Port:     c.Int("port"),
		HTTPS:    c.Bool("https"),
		Insecure: c.Bool("insecure"),
		NTLM:     c.Bool("ntlm"),
		User:     c.String("user"),
		Password: c.String("password"),
		Timeout:  c.String("timeout"),
	})
	if err != nil {
		return fail("Error: %s", err.Error())
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt)
	defer stop()

	found, err := p.Probe(ctx)
	if err != nil {
		return fail("Error probing %s: %s", c.String("host"), err.Error())
	}

	if c.Bool("json") {
		if err := json.NewEncoder(os.Stdout).Encode(map[string][]string{"stage2": found}); err != nil {
			return fail("Error writing report: %s", err.Error())
		}
	} else if len(found) == 0 {
		fmt.Fprintln(color.Output, color.GreenString("[+] No dropper artifacts found on %s", c.String("host")))
	}

	if len(found) == 0 {
		return nil
	}

	if !c.Bool("json") {
		for _, path := range found {
			fmt.Fprintln(color.Output, color.RedString("[!] Found dropper artifact %s", path))
		}
	}

	return cli.NewExitError(color.RedString("[!] Infection found"), 2)
}

func New() *Cmd {
	application := cli.NewApp()
	application.Name = "nekoshield"
	application.Usage = "detect jar archives infected by the fractureiser malware"
	application.Description = `This application will scan recursively through jar archives, decode every class file and match the method bytecode against known malware signatures. Afterwards it checks the host for files left behind by the second stage.`
	application.Flags = globalFlags
	application.Commands = []*cli.Command{
		{
			Name:      "scan",
			Usage:     "scan directories for infected jars",
			ArgsUsage: "[directories...]",
			Action:    ScanAction,
		},
		{
			Name:      "scan-image",
			Usage:     "scan the jars inside docker images",
			ArgsUsage: "[images...]",
			Action:    ScanImageAction,
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "local",
					Usage: "scan local images",
				},
			},
		},
		{
			Name:      "scan-repo",
			Usage:     "scan the jars committed to git repositories",
			ArgsUsage: "[urls...]",
			Action:    ScanRepositoryAction,
		},
		{
			Name:   "probe-remote",
			Usage:  "check a windows host for dropper artifacts over WinRM",
			Action: ProbeRemoteAction,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:     "host",
					Usage:    "the remote host",
					Required: true,
				},
				&cli.IntFlag{
					Name:  "port",
					Usage: "the WinRM port (default 5985, or 5986 with --https)",
				},
				&cli.StringFlag{
					Name:  "user",
					Usage: "the user to authenticate as",
				},
				&cli.StringFlag{
					Name:    "password",
					Usage:   "the password of the user",
					EnvVars: []string{"NEKOSHIELD_PASSWORD"},
				},
				&cli.BoolFlag{
					Name:  "https",
					Usage: "connect over https",
				},
				&cli.BoolFlag{
					Name:  "insecure",
					Usage: "skip certificate verification",
				},
				&cli.BoolFlag{
					Name:  "ntlm",
					Usage: "authenticate using NTLM",
				},
				&cli.StringFlag{
					Name:  "timeout",
					Usage: "the operation timeout (ISO-8601 duration)",
					Value: "PT60S",
				},
			},
		},
	}

	application.Version = fmt.Sprintf("%s (build on %s)", build.ReleaseTag, build.BuildDate)
	application.Before = func(c *cli.Context) error {
		color.NoColor = c.Bool("disable-color")

		if !c.Bool("json") {
			printBanner(color.Error)
		}

		app.SetupLogging(c.Bool("verbose"), c.Bool("debug"), os.Stderr)
		return nil
	}

	application.Action = ScanAction
	return &Cmd{
		App: application,
	}
}

// Command vrpsolve solves a problem document and prints the routes.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/pflag"

	"fleetroute/internal/buildinfo"
	"fleetroute/internal/logging"
	"fleetroute/internal/model"
	"fleetroute/internal/problem"
)

// errNoSolution is returned when the solve finished without any feasible solution.
var errNoSolution = errors.New("no feasible solution")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := run(ctx, os.Args[1:], os.Stdout)
	switch {
	case err == nil, errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, errNoSolution):
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "vrpsolve:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := pflag.NewFlagSet("vrpsolve", pflag.ContinueOnError)
	path := fs.StringP("problem", "p", "", "problem document (.json, .yaml or .yml)")
	timeLimit := fs.Duration("time-limit", 0, "search time limit; overrides the document")
	iterations := fs.Int("iterations", 0, "local search iterations, negative for unlimited; overrides the document")
	strategy := fs.String("strategy", "", "first solution strategy: automatic, path-cheapest-arc or parallel-cheapest-insertion")
	meta := fs.String("metaheuristic", "", "gls or greedy")
	output := fs.StringP("output", "o", "text", "text or json")
	logLevel := fs.String("log-level", "error", "log level: error, info, debug or trace")
	version := fs.Bool("version", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *version {
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	}
	if *path == "" {
		return errors.New("--problem is required")
	}
	if *output != "text" && *output != "json" {
		return fmt.Errorf("unknown output %q", *output)
	}
	log, err := logging.New(*logLevel, true)
	if err != nil {
		return err
	}

	doc, err := problem.DecodeFile(*path)
	if err != nil {
		return err
	}
	override := model.SolveOptions{
		FirstSolution: *strategy,
		Metaheuristic: *meta,
		TimeLimitMs:   int(*timeLimit / time.Millisecond),
	}
	if fs.Changed("iterations") {
		override.MaxIterations = iterations
	}
	doc.Options = problem.MergeOptions(doc.Options, override)

	in, err := problem.Build(doc, model.SolveOptions{})
	if err != nil {
		return err
	}
	in.Options.Logger = log.WithValues("problem", *path)
	resp, err := in.Solve(ctx)
	if err != nil {
		return err
	}

	if *output == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return err
		}
	} else {
		printSolution(stdout, resp)
	}
	if resp.Status == "NO_FEASIBLE_SOLUTION" || resp.Status == "TIME_LIMIT_REACHED_NO_SOLUTION" {
		return errNoSolution
	}
	return nil
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"text/tabwriter"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"rng-u01/internal/config"
	"rng-u01/internal/journal"
	"rng-u01/internal/logging"
	"rng-u01/internal/report"
	"rng-u01/internal/runner"
	"rng-u01/internal/scenario"
	"rng-u01/internal/u01"
)

type globals struct {
	backend   string
	driver    string
	dsn       string
	noJournal bool
	logLevel  string
	jsonOut   bool
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:           "u01",
		Short:         "Run uniform random number test scenarios",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&g.backend, "backend", "", "testu01 or dryrun (default from U01_BACKEND)")
	pf.StringVar(&g.driver, "journal-driver", "", "file, sqlite or postgres (default from U01_JOURNAL_DRIVER)")
	pf.StringVar(&g.dsn, "journal", "", "journal file or DSN (default from U01_JOURNAL_DSN)")
	pf.BoolVar(&g.noJournal, "no-journal", false, "do not record runs")
	pf.StringVar(&g.logLevel, "log-level", "", "log level (default from U01_LOG_LEVEL)")
	pf.BoolVar(&g.jsonOut, "json", false, "print JSON instead of tables")

	root.AddCommand(
		newListCmd(g),
		newRunCmd(g),
		newBatteryCmd(g),
		newJournalCmd(g),
	)
	return root
}

func (g *globals) config() (config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, err
	}
	if g.backend != "" {
		cfg.Backend = g.backend
	}
	if g.driver != "" {
		cfg.Journal.Driver = g.driver
	}
	if g.dsn != "" {
		cfg.Journal.DSN = g.dsn
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	return cfg, cfg.Validate()
}

func (g *globals) logger(cfg config.Config) (zerolog.Logger, error) {
	return logging.New(os.Stderr, cfg.Log.Level, logging.Format(cfg.Log.Format))
}

func (g *globals) store(cfg config.Config) (journal.Store, error) {
	return journal.Open(cfg.Journal.Driver, cfg.Journal.DSN)
}

// runner wires a Runner from the configuration. The returned func closes
// the journal.
func (g *globals) runner(dryRun bool) (*runner.Runner, func(), error) {
	cfg, err := g.config()
	if err != nil {
		return nil, nil, err
	}
	if dryRun {
		cfg.Backend = "dryrun"
	}
	log, err := g.logger(cfg)
	if err != nil {
		return nil, nil, err
	}
	backend, err := runner.OpenBackend(cfg.Backend)
	if err != nil {
		return nil, nil, err
	}
	if g.noJournal {
		return runner.New(backend, nil, log), func() {}, nil
	}
	store, err := g.store(cfg)
	if err != nil {
		return nil, nil, err
	}
	return runner.New(backend, store, log), func() { _ = store.Close() }, nil
}

func newListCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List scenarios and batteries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if g.jsonOut {
				type item struct {
					Name        string          `json:"name"`
					Description string          `json:"description"`
					Defaults    scenario.Params `json:"defaults"`
				}
				var items []item
				for _, sc := range scenario.All() {
					items = append(items, item{sc.Name, sc.Description, sc.Defaults()})
				}
				return printJSON(out, items)
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SCENARIO\tDESCRIPTION")
			for _, sc := range scenario.All() {
				fmt.Fprintf(tw, "%s\t%s\n", sc.Name, sc.Description)
			}
			fmt.Fprintln(tw)
			fmt.Fprintln(tw, "BATTERY\tTITLE\tFILE VARIANT")
			for _, b := range u01.Batteries() {
				fmt.Fprintf(tw, "%s\t%s\t%v\n", b, b.Title(), b.SupportsFile())
			}
			return tw.Flush()
		},
	}
}

func newRunCmd(g *globals) *cobra.Command {
	var sets []string
	var paramsFile string
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "run <scenario>",
		Short: "Run a scenario",
		Long: `Run a scenario with its default parameters, changed by a JSON file
and by key=value assignments on dotted paths.

Example: u01 run bat1 --set source.lcg.s=42 --set battery=crush`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := runner.Request{Scenario: args[0], Sets: sets}
			if paramsFile != "" {
				b, err := os.ReadFile(paramsFile)
				if err != nil {
					return err
				}
				req.Params = b
			}
			return g.execute(cmd, req, dryRun)
		},
	}
	cmd.Flags().StringArrayVar(&sets, "set", nil, "parameter assignment key=value (repeatable)")
	cmd.Flags().StringVar(&paramsFile, "params", "", "JSON file merged onto the defaults")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "record the library calls without running them")
	return cmd
}

func newBatteryCmd(g *globals) *cobra.Command {
	var (
		gen, file, path string
		seed, stream    uint64
		lcg             u01.LCG
		jflag           int
		nbits           float64
		r, s            int
		dryRun          bool
	)
	cmd := &cobra.Command{
		Use:   "battery <name>",
		Short: "Run a battery on a generator or a file",
		Long: `Run a battery on one generator source, or with --gen file on the bits of a file.

Example: u01 battery alphabit --gen pcg --seed 7 --nbits 1048576 --r 0 --s 32`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bat, err := u01.ParseBattery(args[0])
			if err != nil {
				return err
			}
			bits := u01.BatteryParams{NBits: nbits, R: r, S: s}
			params := map[string]any{"battery": bat, "bits": bits}
			name := "battery"
			switch gen {
			case "file":
				name = "filebattery"
				params["file"] = file
			case "lcg":
				params["source"] = scenario.Source{Kind: gen, LCG: lcg}
			case "java48":
				params["source"] = scenario.Source{Kind: gen, Seed: seed, JFlag: jflag}
			case "text", "bin":
				params["source"] = scenario.Source{Kind: gen, Path: path, NBuf: 100000}
			default:
				params["source"] = scenario.Source{Kind: gen, Seed: seed, Stream: stream}
			}
			raw, err := json.Marshal(params)
			if err != nil {
				return err
			}
			return g.execute(cmd, runner.Request{Scenario: name, Params: raw}, dryRun)
		},
	}
	f := cmd.Flags()
	f.StringVar(&gen, "gen", "pcg", "source: lcg|java48|pcg|chacha8|text|bin|file")
	f.StringVar(&file, "file", "", "binary file for --gen file")
	f.StringVar(&path, "path", "", "input file for --gen text|bin")
	f.Uint64Var(&seed, "seed", 1, "seed for java48, pcg and chacha8")
	f.Uint64Var(&stream, "stream", 2, "second seed word for pcg and chacha8")
	f.Int64Var(&lcg.M, "m", 2147483647, "LCG modulus")
	f.Int64Var(&lcg.A, "a", 16807, "LCG multiplier")
	f.Int64Var(&lcg.C, "c", 0, "LCG additive constant")
	f.Int64Var(&lcg.S, "s0", 12345, "LCG seed")
	f.IntVar(&jflag, "jflag", 1, "java48 seed scrambling (0 or 1)")
	f.Float64Var(&nbits, "nbits", 0, "number of bits for bit batteries")
	f.IntVar(&r, "r", 0, "bits dropped from each output")
	f.IntVar(&s, "s", 32, "bits taken from each output")
	f.BoolVar(&dryRun, "dry-run", false, "record the library calls without running them")
	return cmd
}

func (g *globals) execute(cmd *cobra.Command, req runner.Request, dryRun bool) error {
	rn, done, err := g.runner(dryRun)
	if err != nil {
		return err
	}
	defer done()
	rec, err := rn.Run(cmd.Context(), req)
	if rec != nil {
		if g.jsonOut {
			if perr := printJSON(cmd.OutOrStdout(), rec); perr != nil {
				return perr
			}
		} else {
			printRecord(cmd.OutOrStdout(), rec)
		}
	}
	return err
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printRecord(w io.Writer, rec *journal.Record) {
	for _, o := range rec.Outputs {
		fmt.Fprint(w, o)
		if !strings.HasSuffix(o, "\n") {
			fmt.Fprintln(w)
		}
	}
	if len(rec.Rows) > 0 {
		tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "BATTERY\tSOURCE\tTEST\tP-VALUE\tSTATUS")
		for _, r := range rec.Rows {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", r.Battery, r.Source, r.Name, r.Formatted, r.Status)
		}
		tw.Flush()
		sum := rec.Summary
		fmt.Fprintf(w, "\n%d tests: %d passed, %d suspect, %d failed", sum.Count, sum.Passed, sum.Suspect, sum.Failed)
		if sum.Count > 0 {
			fmt.Fprintf(w, " (p-values min %s, median %s, max %s)", report.FormatP(sum.Min), report.FormatP(sum.Median), report.FormatP(sum.Max))
		}
		fmt.Fprintln(w)
	}
	for _, p := range rec.Plots {
		fmt.Fprintf(w, "plot: %s\n", p)
	}
	if rec.LifetimeOK {
		fmt.Fprintf(w, "run %s: every resource released once\n", rec.ID)
	} else {
		fmt.Fprintf(w, "run %s: lifetime violations:\n", rec.ID)
		for _, v := range rec.Violations {
			fmt.Fprintf(w, "  %s\n", v)
		}
	}
}

func newJournalCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded runs",
	}
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(func(store journal.Store) error {
				recs, err := store.List(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if g.jsonOut {
					return printJSON(cmd.OutOrStdout(), recs)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tSCENARIO\tBACKEND\tCREATED\tTESTS\tSUSPECT\tFAILED\tERROR")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\n", r.ID, r.Scenario, r.Backend,
						r.CreatedAt.Local().Format("2006-01-02 15:04:05"), r.Summary.Count, r.Summary.Suspect, r.Summary.Failed, r.Error)
				}
				return tw.Flush()
			})
		},
	}
	list.Flags().IntVar(&limit, "limit", 20, "number of runs to show, 0 for all")

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Show one recorded run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(func(store journal.Store) error {
				rec, err := store.Get(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if g.jsonOut {
					return printJSON(cmd.OutOrStdout(), rec)
				}
				printRecord(cmd.OutOrStdout(), rec)
				return nil
			})
		},
	}

	verify := &cobra.Command{
		Use:   "verify",
		Short: "Check the hash chain and every record digest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return g.withStore(func(store journal.Store) error {
				chain, err := store.Chain(cmd.Context())
				if err != nil {
					return err
				}
				if err := journal.Verify(cmd.Context(), store); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "journal ok: %d entries\n", len(chain))
				return nil
			})
		},
	}

	cmd.AddCommand(list, show, verify)
	return cmd
}

func (g *globals) withStore(fn func(journal.Store) error) error {
	cfg, err := g.config()
	if err != nil {
		return err
	}
	store, err := g.store(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

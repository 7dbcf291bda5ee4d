// seqjoin runs one sequence similarity search from the command line and
// prints the resulting identifier filter as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"seqjoin/internal/api"
	"seqjoin/internal/app"
	"seqjoin/internal/config"
	"seqjoin/internal/logging"
	"seqjoin/internal/search"
)

var (
	flagConfigFilePath string
	flagVerbose        bool

	flagSequence    string
	flagProgram     string
	flagDatabase    string
	flagSeqType     string
	flagExpLowLim   float64
	flagExpUpperLim float64
	flagScores      int
	flagAlignments  int
	flagReplay      string
	flagTimeout     time.Duration
)

// errSearchFailed marks a run that completed without a success outcome.
// The outcome itself has already been printed.
var errSearchFailed = errors.New("search did not succeed")

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfigFilePath, "config", "", "Config file to load (default: $"+config.PathEnv+")")
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages
	rootCmd.SilenceErrors = true

	f := searchCmd.Flags()
	f.StringVar(&flagSequence, "sequence", "", "query sequence (alternative to a FASTA file argument)")
	f.StringVar(&flagProgram, "program", "", "search program (default from config)")
	f.StringVar(&flagDatabase, "database", "", "target database (default from config)")
	f.StringVar(&flagSeqType, "stype", "", "sequence type: protein, dna or rna (default from config)")
	f.Float64Var(&flagExpLowLim, "explowlim", 0, "lower E-value bound")
	f.Float64Var(&flagExpUpperLim, "expupperlim", 0, "upper E-value bound")
	f.IntVar(&flagScores, "scores", 0, "maximum number of scores to report")
	f.IntVar(&flagAlignments, "alignments", 0, "maximum number of alignments to report")
	f.StringVar(&flagReplay, "replay", "", "serve results from a recorded payload file or directory instead of the remote service")
	f.DurationVar(&flagTimeout, "timeout", 0, "overall wait limit (default from config)")

	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errors.Is(err, errSearchFailed) {
			slog.Error("seqjoin failed", "err", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:          "seqjoin",
	Short:        "Turn sequence similarity searches into identifier filters",
	SilenceUsage: true,
}

var searchCmd = &cobra.Command{
	Use:   "search [FASTA file | -]",
	Short: "run one search and print the filter as JSON",
	Args:  cobra.MaximumNArgs(1),
	RunE:  doSearch,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("seqjoin: version info not available")
			return
		}
		fmt.Printf("seqjoin: %s\n", info.Main.Version)
		fmt.Printf("go:      %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit:  %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:    %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:   %s\n", s.Value)
			}
		}
	},
}

func doSearch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	path := flagConfigFilePath
	if path == "" {
		path = os.Getenv(config.PathEnv)
	}
	cfg, err := config.Load(path, func(c *config.Config) {
		if flagReplay != "" {
			c.Fasta.ReplayFile = flagReplay
		}
		if flagTimeout > 0 {
			c.Fasta.Timeout = flagTimeout
		}
	})
	if err != nil {
		return err
	}

	level := cfg.Logging.Level
	if flagVerbose {
		level = "debug"
	}
	// stdout carries the JSON result
	logging.Setup(cmd.ErrOrStderr(), level, "text")

	params, err := searchParams(cmd, args)
	if err != nil {
		return err
	}
	req, err := search.RequestFromParams(params, app.Defaults(cfg))
	if err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}

	pipeline, err := app.Build(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	out := pipeline.Runner.Run(ctx, req)

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(api.NewFilterResponse(out, cfg.ScoreOrder())); err != nil {
		return err
	}
	if !out.Succeeded() {
		slog.Warn("Search did not succeed", "outcome", out.Label(), "error", out.Err)
		return errSearchFailed
	}
	return nil
}

// searchParams collects the flags the user set, plus the sequence from
// --sequence or the FASTA file argument.
func searchParams(cmd *cobra.Command, args []string) (map[string]string, error) {
	params := make(map[string]string)

	switch {
	case flagSequence != "" && len(args) > 0:
		return nil, errors.New("give either --sequence or a FASTA file, not both")
	case flagSequence != "":
		params[search.ParamSequence] = flagSequence
	case len(args) > 0:
		data, err := readInput(cmd, args[0])
		if err != nil {
			return nil, err
		}
		params[search.ParamSequence] = string(data)
	}

	f := cmd.Flags()
	if f.Changed("program") {
		params[search.ParamProgram] = flagProgram
	}
	if f.Changed("database") {
		params[search.ParamDatabase] = flagDatabase
	}
	if f.Changed("stype") {
		params[search.ParamSeqType] = flagSeqType
	}
	if f.Changed("explowlim") {
		params[search.ParamExpLowLim] = strconv.FormatFloat(flagExpLowLim, 'g', -1, 64)
	}
	if f.Changed("expupperlim") {
		params[search.ParamExpUpperLim] = strconv.FormatFloat(flagExpUpperLim, 'g', -1, 64)
	}
	if f.Changed("scores") {
		params[search.ParamScores] = strconv.Itoa(flagScores)
	}
	if f.Changed("alignments") {
		params[search.ParamAlignments] = strconv.Itoa(flagAlignments)
	}
	return params, nil
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	return os.ReadFile(name)
}

package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/lijianhackthon/tract/internal/nnet"
	"github.com/lijianhackthon/tract/internal/pipeline"
)

var flags struct {
	optionsFile   string
	pulse         int
	concretize    int
	stopAt        string
	optimize      bool
	failFast      bool
	keepSnapshots bool
	downsample    int
	leftContext   int
	rightContext  int
	verbose       bool
}

var rootCmd = &cobra.Command{
	Use:   "tract <model>",
	Short: "Stream-aware network transformation pipeline",
	Long: "tract loads a line-oriented network description, runs it through the\n" +
		"analyse / incorporate / type / declutter stages and, on request, the\n" +
		"stream concretization or pulsing branch and the optimizer, then dumps\n" +
		"the resulting graph.",
	Args:          cobra.ExactArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logrus.SetLevel(logrus.WarnLevel)
		if flags.verbose {
			logrus.SetLevel(logrus.InfoLevel)
		}
	},
	RunE: run,
}

func init() {
	f := rootCmd.Flags()
	f.StringVar(&flags.optionsFile, "options", "", "YAML file with pipeline options, overridden by explicit flags")
	f.IntVar(&flags.pulse, "pulse", 0, "pulse length: stream the model in fixed windows of this many frames")
	f.IntVar(&flags.concretize, "concretize-stream-dim", 0, "replace the streaming dimension with this fixed length")
	f.StringVar(&flags.stopAt, "stop-at", "", fmt.Sprintf("halt after the named stage, one of %v", pipeline.StageNames()))
	f.BoolVar(&flags.optimize, "optimize", false, "run the optimizer")
	f.BoolVar(&flags.failFast, "fail-fast", false, "abort analysis on the first type conflict")
	f.BoolVar(&flags.keepSnapshots, "keep-snapshots", false, "retain a pre-stage graph snapshot for every stage")
	f.IntVar(&flags.downsample, "downsample", 0, "downsample the outputs by this period before running the pipeline")
	f.IntVar(&flags.leftContext, "left-context", 0, "pad the inputs with this many replicated frames in front")
	f.IntVar(&flags.rightContext, "right-context", 0, "pad the inputs with this many replicated frames behind")
	f.BoolVarP(&flags.verbose, "verbose", "v", false, "log every pipeline stage")
}

func run(cmd *cobra.Command, args []string) error {
	opts, err := buildOptions(cmd)
	if err != nil {
		return err
	}

	m, err := nnet.ParseFile(args[0])
	if err != nil {
		return fmt.Errorf("loading %s: %w", args[0], err)
	}
	logrus.Infof("loaded %s: %d nodes", args[0], m.NodeCount())

	if flags.downsample > 0 {
		if err := nnet.DownsampleOutputs(m, flags.downsample); err != nil {
			return fmt.Errorf("downsampling outputs: %w", err)
		}
	}
	if flags.leftContext > 0 || flags.rightContext > 0 {
		if err := nnet.AddContext(m, flags.leftContext, flags.rightContext); err != nil {
			return fmt.Errorf("injecting context: %w", err)
		}
	}

	result, err := pipeline.Run(opts, m)
	if err != nil {
		var se *pipeline.StageError
		if errors.As(err, &se) && flags.verbose {
			logrus.Infof("graph before stage %s:\n%s", se.Stage, se.LastGood.Dump())
		}
		return err
	}

	logrus.Infof("stopped at stage %s", result.Stage)
	fmt.Fprint(cmd.OutOrStdout(), result.Graph().Dump())
	if flags.keepSnapshots {
		dumpSnapshots(cmd, result)
	}
	return nil
}

// buildOptions layers explicit flags over the options file, so a flag given
// on the command line always wins.
func buildOptions(cmd *cobra.Command) (pipeline.Options, error) {
	var opts pipeline.Options
	if flags.optionsFile != "" {
		var err error
		opts, err = pipeline.LoadOptions(flags.optionsFile)
		if err != nil {
			return opts, err
		}
	}
	if cmd.Flags().Changed("pulse") {
		opts.Pulse = flags.pulse
	}
	if cmd.Flags().Changed("concretize-stream-dim") {
		opts.ConcretizeStreamDim = flags.concretize
	}
	if cmd.Flags().Changed("stop-at") {
		opts.StopAt = flags.stopAt
	}
	if cmd.Flags().Changed("optimize") {
		opts.Optimize = flags.optimize
	}
	if cmd.Flags().Changed("fail-fast") {
		opts.FailFast = flags.failFast
	}
	if cmd.Flags().Changed("keep-snapshots") {
		opts.KeepSnapshots = flags.keepSnapshots
	}
	return opts, opts.Validate()
}

func dumpSnapshots(cmd *cobra.Command, result *pipeline.Result) {
	for _, name := range pipeline.StageNames() {
		g, ok := result.Snapshots[name]
		if !ok {
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "\n--- before %s ---\n%s", name, g.Dump())
	}
}

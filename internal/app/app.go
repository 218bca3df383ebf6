package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"llmtokens/internal/config"
	"llmtokens/internal/hub"
	"llmtokens/internal/logger"
	"llmtokens/internal/mode"
	"llmtokens/internal/report"
	"llmtokens/internal/tokenizer"
)

const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

// Run executes the command line and returns the process exit code.
func Run(args []string, stdin io.Reader, out, errOut io.Writer) int {
	var flags cliFlags
	code := exitOK

	cmd := &cobra.Command{
		Use:   "llmtokens [file]",
		Short: "Count tokens and text statistics",
		Long: `Count tokens, lines, words, characters and bytes of text for one or more
tokenizers, optionally after applying the model's chat template.

A model is a tiktoken encoding (cl100k_base, o200k_base, ...) or a Hugging Face
model id. For gated models (e.g. Llama), set the HF_TOKEN env var.`,
		Args:          cobra.MaximumNArgs(1),
		Version:       VersionString(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, positional []string) error {
			opts, err := flags.resolve(cmd.Flags(), positional)
			if err != nil {
				code = exitUsage
				return err
			}
			code = execute(cmd.Context(), opts, stdin, out, errOut)
			return nil
		},
	}
	cmd.SetVersionTemplate("{{.Version}}\n")
	cmd.SetArgs(args)
	cmd.SetIn(stdin)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	flags.register(cmd.Flags())

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		fmt.Fprintln(errOut, cmd.UsageString())
		if code == exitOK {
			code = exitUsage
		}
	}
	return code
}

type cliFlags struct {
	models       []string
	mode         string
	wrapInput    string
	format       string
	configPath   string
	showOriginal bool
	showTemplate bool
	showRendered bool
	showAll      bool
	verbose      bool
}

func (f *cliFlags) register(fs *pflag.FlagSet) {
	fs.StringArrayVarP(&f.models, "model", "m", nil,
		fmt.Sprintf("tokenizer: tiktoken encoding (e.g. cl100k_base, o200k_base) or Hugging Face model (repeatable, default: %s)", config.DefaultModel))
	fs.StringVar(&f.mode, "mode", string(mode.BothAuto),
		"raw: no template; template: apply template (warn+fallback if missing); either: template if available; both: raw+template (warn if missing); both-auto: raw+template if available")
	fs.StringVar(&f.wrapInput, "wrap-input", string(mode.WrapAuto),
		"wrap input as user message: yes (always wrap), no (parse as JSON messages), auto (try JSON then wrap)")
	fs.StringVar(&f.format, "format", string(report.FormatTable), "output format: table, json, yaml")
	fs.StringVar(&f.configPath, "config", "", "config file (default $XDG_CONFIG_HOME/llmtokens/config.toml)")
	fs.BoolVar(&f.showOriginal, "show-original", false, "show original input text")
	fs.BoolVar(&f.showTemplate, "show-template", false, "show chat template")
	fs.BoolVar(&f.showRendered, "show-rendered", false, "show rendered text after template")
	fs.BoolVar(&f.showAll, "show-all", false, "show original, template, and rendered")
	fs.BoolVarP(&f.verbose, "verbose", "v", false, "show full error detail and debug logs")
}

// resolve merges the config file under explicitly set flags.
func (f *cliFlags) resolve(fs *pflag.FlagSet, positional []string) (Options, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return Options{}, fmt.Errorf("load config: %w", err)
	}

	pick := func(name, flagValue, cfgValue string) string {
		if fs.Changed(name) || strings.TrimSpace(cfgValue) == "" {
			return flagValue
		}
		return cfgValue
	}

	m, err := mode.ParseMode(pick("mode", f.mode, cfg.Mode))
	if err != nil {
		return Options{}, err
	}
	wrap, err := mode.ParseWrapPolicy(pick("wrap-input", f.wrapInput, cfg.WrapInput))
	if err != nil {
		return Options{}, err
	}
	format, err := report.ParseFormat(pick("format", f.format, cfg.Format))
	if err != nil {
		return Options{}, err
	}

	models := f.models
	if len(models) == 0 {
		models = cfg.Models
	}
	if len(models) == 0 {
		models = []string{config.DefaultModel}
	}

	opts := Options{
		Models:       models,
		Mode:         m,
		Wrap:         wrap,
		Format:       format,
		ShowOriginal: f.showOriginal || f.showAll,
		ShowTemplate: f.showTemplate || f.showAll,
		ShowRendered: f.showRendered || f.showAll,
		Verbose:      f.verbose,
		Config:       cfg,
	}
	if len(positional) == 1 {
		opts.File = positional[0]
	}
	return opts, nil
}

func execute(ctx context.Context, opts Options, stdin io.Reader, out, errOut io.Writer) int {
	log := logger.New(opts.Verbose, errOut)
	defer func() { _ = log.Sync() }()
	ctx = logger.ContextWithLogger(ctx, log)

	text, err := readInput(opts.File, stdin)
	if err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitError
	}

	client := hub.New(hub.Options{
		Endpoint: opts.Config.HubEndpoint,
		Revision: opts.Config.Revision,
		CacheDir: opts.Config.CacheDir,
		Token:    opts.Config.HubToken,
		Offline:  opts.Config.Offline,
	})
	defer client.Close()

	r := &runner{
		resolver:  tokenizer.NewResolver(client, opts.Verbose),
		templates: client,
		out:       out,
		errOut:    errOut,
	}
	result := r.run(ctx, text, opts)
	if len(result.Rows) == 0 {
		fmt.Fprintln(errOut, "Error: No models could be loaded")
		return exitError
	}

	rep := report.Report{
		Rows:         result.Rows,
		Models:       result.Models,
		Original:     text,
		ShowOriginal: opts.ShowOriginal,
		ShowTemplate: opts.ShowTemplate,
		ShowRendered: opts.ShowRendered,
	}
	if err := report.Write(out, opts.Format, rep); err != nil {
		fmt.Fprintf(errOut, "Error: %v\n", err)
		return exitError
	}
	return exitOK
}

func readInput(path string, stdin io.Reader) (string, error) {
	if path == "" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return string(data), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	return string(data), nil
}

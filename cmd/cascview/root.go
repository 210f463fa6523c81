package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/meigma/casc"
	"github.com/meigma/casc/cache"
	"github.com/meigma/casc/cache/disk"
	"github.com/meigma/casc/cache/memory"
)

type app struct {
	configPath string
	flags      config
	cfg        config
	logger     *slog.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	cmd := &cobra.Command{
		Use:           "cascview",
		Short:         "Inspect and extract files from a local installation",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd.Flags())
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&a.configPath, "config", "", "YAML configuration file")
	pf.StringVarP(&a.flags.Dir, "dir", "d", "", "installation directory")
	pf.StringVar(&a.flags.BuildConfig, "build-config", "", "build configuration file, overriding .build.info")
	pf.StringVar(&a.flags.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.IntVar(&a.flags.IndexConcurrency, "index-concurrency", 0, "index shards loaded in parallel")
	pf.StringVar(&a.flags.MaxFileSize, "max-file-size", "", "largest file to read into memory (e.g. 256MiB)")
	pf.StringVar(&a.flags.Cache.Dir, "cache-dir", "", "disk cache directory")
	pf.StringVar(&a.flags.Cache.MaxBytes, "cache-max-bytes", "", "disk cache size limit (e.g. 1GiB)")
	pf.IntVar(&a.flags.Cache.Entries, "cache-entries", 0, "in-memory cache size in files")

	cmd.AddCommand(
		newInfoCmd(a),
		newCatCmd(a),
		newExtractCmd(a),
		newLsRootCmd(a),
	)
	return cmd
}

// init merges the config file with the flags set on the command line.
func (a *app) init(flags *pflag.FlagSet) error {
	cfg, err := loadConfig(a.configPath)
	if err != nil {
		return err
	}
	override := func(name string, dst *string, v string) {
		if flags.Changed(name) {
			*dst = v
		}
	}
	override("dir", &cfg.Dir, a.flags.Dir)
	override("build-config", &cfg.BuildConfig, a.flags.BuildConfig)
	override("log-level", &cfg.LogLevel, a.flags.LogLevel)
	override("max-file-size", &cfg.MaxFileSize, a.flags.MaxFileSize)
	override("cache-dir", &cfg.Cache.Dir, a.flags.Cache.Dir)
	override("cache-max-bytes", &cfg.Cache.MaxBytes, a.flags.Cache.MaxBytes)
	if flags.Changed("index-concurrency") {
		cfg.IndexConcurrency = a.flags.IndexConcurrency
	}
	if flags.Changed("cache-entries") {
		cfg.Cache.Entries = a.flags.Cache.Entries
	}
	if cfg.Dir == "" {
		cfg.Dir = "."
	}

	level, err := parseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	a.logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	a.cfg = cfg
	return nil
}

func (a *app) open() (*casc.Storage, error) {
	opts := []casc.Option{casc.WithLogger(a.logger)}
	if a.cfg.BuildConfig != "" {
		opts = append(opts, casc.WithBuildConfig(a.cfg.BuildConfig))
	}
	if a.cfg.IndexConcurrency > 0 {
		opts = append(opts, casc.WithIndexConcurrency(a.cfg.IndexConcurrency))
	}
	if a.cfg.MaxFileSize != "" {
		limit, err := parseSize(a.cfg.MaxFileSize)
		if err != nil {
			return nil, err
		}
		opts = append(opts, casc.WithMaxFileSize(limit))
	}
	c, err := a.cache()
	if err != nil {
		return nil, err
	}
	if c != nil {
		opts = append(opts, casc.WithCache(c))
	}
	return casc.Open(a.cfg.Dir, opts...)
}

func (a *app) cache() (cache.Cache, error) {
	switch {
	case a.cfg.Cache.Dir != "":
		limit, err := parseSize(a.cfg.Cache.MaxBytes)
		if err != nil {
			return nil, err
		}
		if limit > uint64(1<<62) {
			return nil, fmt.Errorf("cache size %s is too large", a.cfg.Cache.MaxBytes)
		}
		return disk.New(a.cfg.Cache.Dir, disk.WithMaxBytes(int64(limit)))
	case a.cfg.Cache.Entries > 0:
		return memory.New(a.cfg.Cache.Entries)
	default:
		return nil, nil //nolint:nilnil // no cache configured
	}
}

// selector picks one file by name, name hash or file-data identifier.
type selector struct {
	name string
	hash string
	fdid string
}

func (sel *selector) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&sel.name, "name", "", "file name")
	cmd.Flags().StringVar(&sel.hash, "hash", "", "hexadecimal name hash")
	cmd.Flags().StringVar(&sel.fdid, "fdid", "", "file data id")
	cmd.MarkFlagsMutuallyExclusive("name", "hash", "fdid")
}

// resolve takes the name from the first positional argument when no flag is set.
func (sel *selector) resolve(args []string) error {
	if sel.name == "" && sel.hash == "" && sel.fdid == "" {
		if len(args) == 0 {
			return errors.New("one of a name argument, --name, --hash or --fdid is required")
		}
		sel.name = args[0]
	}
	return nil
}

func (sel *selector) open(s *casc.Storage) (*casc.File, error) {
	var (
		f   *casc.File
		ok  bool
		err error
		key string
	)
	switch {
	case sel.hash != "":
		key = sel.hash
		h, perr := strconv.ParseUint(sel.hash, 16, 64)
		if perr != nil {
			return nil, fmt.Errorf("invalid name hash %q: %w", sel.hash, perr)
		}
		f, ok, err = s.OpenHash(h)
	case sel.fdid != "":
		key = sel.fdid
		id, perr := strconv.ParseUint(sel.fdid, 10, 32)
		if perr != nil {
			return nil, fmt.Errorf("invalid file data id %q: %w", sel.fdid, perr)
		}
		f, ok, err = s.OpenFileDataID(uint32(id))
	default:
		key = sel.name
		f, ok, err = s.OpenName(sel.name)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, casc.ErrNotFound)
	}
	return f, nil
}

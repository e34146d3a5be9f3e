package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/seiflotfy/stash"
	"github.com/seiflotfy/stash/internal/config"
	"github.com/seiflotfy/stash/store"
)

// cliState carries the resolved configuration from the root command's
// pre-run hook into subcommands.
type cliState struct {
	configPath string
	minLen     int
	backend    string
	storePath  string
	logLevel   string

	cfg    config.Config
	logger *slog.Logger
}

func newRootCmd() *cobra.Command {
	st := &cliState{}

	root := &cobra.Command{
		Use:           "stash",
		Short:         "Compress text by replacing repeated substrings with tokens",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return st.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&st.configPath, "config", "", "path to a YAML config file")
	flags.IntVar(&st.minLen, "min-token-length", 0, "shortest token the encoder accepts")
	flags.StringVar(&st.backend, "store-backend", "", "container store backend (dir or badger)")
	flags.StringVar(&st.storePath, "store-path", "", "container store directory")
	flags.StringVar(&st.logLevel, "log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(
		newCompressCmd(st),
		newDecompressCmd(st),
		newStatsCmd(st),
		newPutCmd(st),
		newGetCmd(st),
		newListCmd(st),
		newDeleteCmd(st),
	)
	return root
}

// load resolves config: defaults, then the config file, then flags.
func (st *cliState) load(cmd *cobra.Command) error {
	cfg := config.Default()
	if st.configPath != "" {
		loaded, err := config.Load(st.configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("min-token-length") {
		cfg.MinTokenLength = st.minLen
	}
	if flags.Changed("store-backend") {
		cfg.Store.Backend = st.backend
	}
	if flags.Changed("store-path") {
		cfg.Store.Path = st.storePath
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = st.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger, err := cfg.Log.NewLogger(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	st.cfg = cfg
	st.logger = logger
	return nil
}

func (st *cliState) encoder() *stash.Encoder {
	return stash.NewEncoder(
		stash.WithMinTokenLength(st.cfg.MinTokenLength),
		stash.WithLogger(st.logger),
	)
}

func (st *cliState) openStore() (store.Store, error) {
	var (
		s   store.Store
		err error
	)
	switch st.cfg.Store.Backend {
	case config.BackendBadger:
		s, err = store.OpenBadger(store.BadgerConfig{
			Path:       st.cfg.Store.Path,
			InMemory:   st.cfg.Store.InMemory,
			SyncWrites: true,
			Logger:     st.logger,
		})
	default:
		s, err = store.OpenDir(st.cfg.Store.Path, st.logger)
	}
	if err != nil {
		return nil, err
	}
	if st.cfg.Store.CacheSize > 0 {
		cached, err := store.NewCached(s, st.cfg.Store.CacheSize)
		if err != nil {
			_ = s.Close()
			return nil, err
		}
		return cached, nil
	}
	return s, nil
}

func (st *cliState) compressFile(ctx context.Context, path string) (*stash.Container, error) {
	src, err := store.ReadSource(ctx, path)
	if err != nil {
		return nil, err
	}
	c, err := st.encoder().Encode(src)
	if err != nil {
		return nil, fmt.Errorf("compress %s: %w", path, err)
	}
	st.logger.InfoContext(ctx, "compressed",
		slog.String("source", path),
		slog.Int("source_bytes", len(src)),
		slog.Int("tokens", len(c.Tokens)),
		slog.Int("placements", len(c.Chain)),
	)
	return c, nil
}

// writeOutput writes data to path, or to w when path is "" or "-".
func writeOutput(w io.Writer, path string, data []byte) error {
	if path == "" || path == "-" {
		_, err := w.Write(data)
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func readContainer(path string) (*stash.Container, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container %s: %w", path, err)
	}
	defer f.Close()

	var c stash.Container
	if _, err := c.ReadFrom(f); err != nil {
		return nil, fmt.Errorf("read container %s: %w", path, err)
	}
	return &c, nil
}

func newCompressCmd(st *cliState) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "compress <input>",
		Short: "Compress a file into a container file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := st.compressFile(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if output == "" {
				output = args[0] + ".stash"
			}
			var buf bytes.Buffer
			if _, err := c.WriteTo(&buf); err != nil {
				return fmt.Errorf("encode container: %w", err)
			}
			return writeOutput(cmd.OutOrStdout(), output, buf.Bytes())
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", `container path (default "<input>.stash", "-" for stdout)`)
	return cmd
}

func newDecompressCmd(st *cliState) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "decompress <container>",
		Short: "Restore the original text from a container file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			out, err := c.Decode()
			if err != nil {
				return fmt.Errorf("decode %s: %w", args[0], err)
			}
			st.logger.DebugContext(cmd.Context(), "decompressed",
				slog.String("container", args[0]),
				slog.Int("bytes", len(out)),
			)
			return writeOutput(cmd.OutOrStdout(), output, out)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default stdout)")
	return cmd
}

func newStatsCmd(st *cliState) *cobra.Command {
	var showTokens bool
	cmd := &cobra.Command{
		Use:   "stats <container>",
		Short: "Print token and segment statistics of a container file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := readContainer(args[0])
			if err != nil {
				return err
			}
			return printStats(cmd.OutOrStdout(), c, showTokens)
		},
	}
	cmd.Flags().BoolVar(&showTokens, "tokens", false, "also list token values")
	return cmd
}

func printStats(w io.Writer, c *stash.Container, showTokens bool) error {
	s := c.Stats()
	encoded, err := c.EncodedLen()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "source bytes\t%d\n", c.SourceLen)
	fmt.Fprintf(tw, "encoded bytes\t%d\n", encoded)
	fmt.Fprintf(tw, "tokens\t%d\n", s.TokenCount)
	fmt.Fprintf(tw, "token bytes\t%d\n", s.TokenBytes)
	fmt.Fprintf(tw, "placements\t%d\n", s.PlacementCount)
	fmt.Fprintf(tw, "placement bytes\t%d\n", s.PlacementBytes)
	fmt.Fprintf(tw, "segments\t%d\n", s.SegmentCount)
	fmt.Fprintf(tw, "segment bytes\t%d\n", s.SegmentBytes)
	if err := tw.Flush(); err != nil {
		return err
	}
	if showTokens {
		for _, v := range c.TokenValues() {
			fmt.Fprintf(w, "%q\n", v)
		}
	}
	return nil
}

func newPutCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "put <key> <input>",
		Short: "Compress a file and save the container under key",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			c, err := st.compressFile(ctx, args[1])
			if err != nil {
				return err
			}
			s, err := st.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Put(ctx, args[0], c)
		},
	}
}

func newGetCmd(st *cliState) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "get <key>",
		Short: "Load the container saved under key and restore its text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			c, err := s.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out, err := c.Decode()
			if err != nil {
				return fmt.Errorf("decode %q: %w", args[0], err)
			}
			return writeOutput(cmd.OutOrStdout(), output, out)
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output path (default stdout)")
	return cmd
}

func newListCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List stored keys",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openStore()
			if err != nil {
				return err
			}
			defer s.Close()

			lister, ok := s.(store.Lister)
			if !ok {
				return fmt.Errorf("store backend %q cannot list keys", st.cfg.Store.Backend)
			}
			keys, err := lister.Keys(cmd.Context())
			if err != nil {
				return err
			}
			for _, k := range keys {
				fmt.Fprintln(cmd.OutOrStdout(), k)
			}
			return nil
		},
	}
}

func newDeleteCmd(st *cliState) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key>",
		Short: "Remove the container saved under key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := st.openStore()
			if err != nil {
				return err
			}
			defer s.Close()
			return s.Delete(cmd.Context(), args[0])
		},
	}
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/sdejongh/salvage/pkg/digest"
	"github.com/sdejongh/salvage/pkg/logging"
	"github.com/sdejongh/salvage/pkg/manifest"
	"github.com/sdejongh/salvage/pkg/models"
	"github.com/sdejongh/salvage/pkg/output"
	"github.com/sdejongh/salvage/pkg/ratelimit"
	"github.com/sdejongh/salvage/pkg/scan"
	"github.com/sdejongh/salvage/pkg/sizetable"
	"github.com/sdejongh/salvage/pkg/storage"
)

// NewSizesCommand creates the sizes command
func NewSizesCommand() *cobra.Command {
	var (
		outputPath string
		dryRun     bool
	)

	cmd := &cobra.Command{
		Use:   "sizes <dir>",
		Short: "Write the size table of a directory",
		Long: `List every regular file below <dir> as "<size> <relative path>" in
walk order and write the result to <dir>/filesizes.txt. Collections whose
files kept their original names serve as size tables for matching.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			dir := args[0]
			if err := requireDirectory(dir); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			logger, err := createLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Close()

			backend, err := storage.NewLocal(dir)
			if err != nil {
				return err
			}
			defer backend.Close()

			target := outputPath
			if target == "" {
				target = filepath.Join(backend.Root(), scan.SizeTableFile)
			}
			target, err = filepath.Abs(target)
			if err != nil {
				return err
			}
			skip := ""
			if rel, err := filepath.Rel(backend.Root(), target); err == nil {
				skip = filepath.ToSlash(rel)
			}

			table, warnings, err := sizetable.Generate(ctx, backend, skip)
			for _, w := range warnings {
				logger.Warn(ctx, "entry skipped", logging.Fields{"component": "sizes", "error": w.Error()})
			}
			if err != nil {
				return err
			}

			if dryRun {
				return table.Write(os.Stdout)
			}

			var buf bytes.Buffer
			if err := table.Write(&buf); err != nil {
				return err
			}
			out, err := storage.NewLocal(filepath.Dir(target))
			if err != nil {
				return err
			}
			if err := out.WriteFile(ctx, target, &buf); err != nil {
				return fmt.Errorf("failed to write size table: %w", err)
			}
			if !cfg.Output.Quiet {
				fmt.Printf("%d entries written to %s\n", len(table.Entries), target)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&outputPath, "output", "", "output file (default: <dir>/filesizes.txt)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the table instead of writing it")

	return cmd
}

// NewHashesCommand creates the hashes command
func NewHashesCommand() *cobra.Command {
	var (
		ignoreExisting bool
		dryRun         bool
		parallel       int
		exclude        []string
		bandwidth      string
	)

	cmd := &cobra.Command{
		Use:   "hashes <dir>",
		Short: "Write the hash manifest of a directory",
		Long: `Hash every regular file below <dir> and write <dir>/hashes.txt. An
existing manifest is first rotated to hashes.txt.N. With --ignore-existing,
files already listed keep their digest and only new files are hashed.
Later runs take digests from the manifest instead of reading files again.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			dir := args[0]
			if err := requireDirectory(dir); err != nil {
				return err
			}

			cfg, err := loadConfig()
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if parallel > 0 {
				cfg.Hashing.Workers = parallel
			}
			if len(exclude) > 0 {
				cfg.Scan.Exclude = exclude
			}
			if bandwidth != "" {
				if cfg.Hashing.BandwidthLimit, err = parseBandwidth(bandwidth); err != nil {
					return err
				}
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			excluder, err := scan.NewExcluder(cfg.Scan.Exclude)
			if err != nil {
				return &models.ConfigurationError{Field: "exclude", Message: err.Error()}
			}

			logger, err := createLogger(cfg)
			if err != nil {
				return fmt.Errorf("failed to create logger: %w", err)
			}
			defer logger.Close()
			log := logger.WithFields(logging.Fields{"component": "hashes", "directory": dir})

			backend, err := storage.NewLocal(dir)
			if err != nil {
				return err
			}
			defer backend.Close()

			var existing *manifest.Manifest
			if ignoreExisting {
				m, warnings, err := manifest.Load(backend.Root())
				for _, w := range warnings {
					log.Warn(ctx, "manifest line skipped", logging.Fields{"error": w.Error()})
				}
				switch {
				case err == nil:
					existing = m
				case errors.Is(err, os.ErrNotExist):
				default:
					return fmt.Errorf("cannot extend existing manifest: %w", err)
				}
			}

			hasher := digest.NewHasher(cfg.Hashing.BufferSize)
			hasher.SetOpener(backend)
			hasher.SetLimiter(ratelimit.NewLimiter(cfg.Hashing.BandwidthLimit))
			if cfg.Output.Progress && !cfg.Output.Quiet {
				if bar := output.NewHashProgress(os.Stderr, directorySize(ctx, backend)); bar != nil {
					hasher.SetProgress(bar.Add)
					bar.Start()
					defer bar.Finish()
				}
			}
			pool := digest.NewPool(hasher, cfg.Hashing.Workers, cfg.Hashing.Retries)

			m, failures, err := manifest.Generate(ctx, backend, pool, existing, excluder)
			for _, f := range failures {
				log.Warn(ctx, "file not hashed", logging.Fields{"path": f.Path, "error": f.Err.Error()})
				fmt.Fprintf(os.Stderr, "Warning: %v\n", f)
			}
			if err != nil {
				return err
			}

			if dryRun {
				return m.Write(os.Stdout)
			}

			if existing == nil {
				rotated, err := manifest.Rotate(ctx, backend)
				if err != nil {
					return err
				}
				if rotated != "" {
					log.Info(ctx, "manifest rotated", logging.Fields{"to": rotated})
				}
			}
			if err := manifest.Save(ctx, backend, m); err != nil {
				return err
			}
			if !cfg.Output.Quiet {
				fmt.Printf("%d digests written to %s\n", m.Len(), filepath.Join(backend.Root(), scan.ManifestFile))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&ignoreExisting, "ignore-existing", false, "keep listed digests and hash only unlisted files")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "print the manifest instead of writing it")
	cmd.Flags().IntVarP(&parallel, "parallel", "p", 0, "number of hashing workers (default: one per CPU)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "glob patterns to exclude")
	cmd.Flags().StringVarP(&bandwidth, "bandwidth", "b", "", "read rate limit (e.g., \"10M\", \"1G\")")

	return cmd
}

// directorySize sums the regular files below the backend root
func directorySize(ctx context.Context, backend storage.Backend) int64 {
	var total int64
	backend.Walk(ctx, "", func(info storage.FileInfo, err error) error {
		if err == nil && !scan.IsArtifact(info.RelativePath) {
			total += info.Size
		}
		return nil
	})
	return total
}

// Command pavexc drives one Blueprint through the compiler and writes the
// generated program sources to disk. It is not part of the core (§1 scope)
// and stays intentionally thin: flag parsing, wiring, and exit-code
// translation only — everything else lives in pkg/pipeline.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pavex-go/pavexc/pkg/blueprint"
	"github.com/pavex-go/pavexc/pkg/config"
	"github.com/pavex-go/pavexc/pkg/doccache"
	"github.com/pavex-go/pavexc/pkg/pipeline"
	"github.com/pavex-go/pavexc/pkg/resolver"
)

var (
	blueprintPath   string
	outDir          string
	cacheDir        string
	compilerVersion string
	configPath      string
	verbose         bool

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "pavexc",
	Short: "Ahead-of-time compiler for Pavex Blueprints",
	Long: `pavexc resolves a Blueprint's component graph, builds one call graph
per registered route, borrow-checks and orders it, and emits the generated
program's handler functions, Router and ApplicationState.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg := zap.NewProductionConfig()
		if verbose {
			cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		l, err := cfg.Build()
		if err != nil {
			return fmt.Errorf("initializing logger: %w", err)
		}
		logger = l
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
	RunE: runGenerate,
}

func init() {
	rootCmd.Flags().StringVar(&blueprintPath, "blueprint", "", "path to the Blueprint YAML file (required)")
	rootCmd.Flags().StringVar(&outDir, "out", "generated", "output directory for the generated sources")
	rootCmd.Flags().StringVar(&cacheDir, "cache-dir", ".pavex-cache", "directory holding the crate documentation cache")
	rootCmd.Flags().StringVar(&compilerVersion, "compiler-version", "dev", "compiler version, used to namespace the doc cache database")
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to a TOML file supplying this Blueprint's Config component values")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.MarkFlagRequired("blueprint")
}

func runGenerate(cmd *cobra.Command, args []string) error {
	bp, err := blueprint.Load(blueprintPath)
	if err != nil {
		return fmt.Errorf("loading blueprint: %w", err)
	}

	if err := os.MkdirAll(cacheDir, 0o755); err != nil {
		return fmt.Errorf("preparing doc cache dir: %w", err)
	}
	store, err := doccache.OpenSQLiteStore(cacheDir, compilerVersion)
	if err != nil {
		return fmt.Errorf("opening doc cache: %w", err)
	}
	defer store.Close()
	crates := doccache.NewCollection(store, nil, 4)

	configStore, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ws := resolver.Workspace{CurrentCrate: "crate"}
	comp := pipeline.New(ws, crates, logger)
	comp.SetConfigStore(configStore)
	comp.LoadBlueprint(bp)

	artifact, err := comp.Compile()
	sink := comp.Sink()
	if sink.ErrorCount() > 0 || sink.WarningCount() > 0 {
		fmt.Fprintln(os.Stderr, sink.Render())
	}
	if err != nil {
		return err
	}

	if mkErr := os.MkdirAll(outDir, 0o755); mkErr != nil {
		return fmt.Errorf("preparing output dir: %w", mkErr)
	}
	return writeArtifact(outDir, artifact)
}

func writeArtifact(dir string, artifact *pipeline.Artifact) error {
	for _, fn := range artifact.Functions {
		path := filepath.Join(dir, fn.Name+".go")
		if err := os.WriteFile(path, []byte(fn.Source), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	writes := map[string]string{
		"router.go":            artifact.RouterSource,
		"application_state.go": artifact.ApplicationStateSource,
		"manifest.txt":         artifact.ManifestSource,
	}
	for name, src := range writes {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// Command navtool builds tile stores from scene files and runs queries
// against them.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/common/logs"
	"github.com/gorustyt/navtile/config"
	"github.com/gorustyt/navtile/nav_system"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	configPath string
	logLevel   string

	cfg    config.Config
	logger *zap.Logger

	rootCmd = &cobra.Command{
		Use:           "navtool",
		Short:         "Build and query tiled navigation meshes",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			cfg = config.Default()
			if configPath != "" {
				if cfg, err = config.Load(configPath); err != nil {
					return err
				}
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			logger, err = logs.New(cfg.Logging)
			return err
		},
	}
)

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "navigation config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override the configured log level")
	rootCmd.AddCommand(buildCmd, inspectCmd, pathCmd, raycastCmd, casesCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if logger != nil {
		_ = logger.Sync()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "navtool:", err)
		os.Exit(1)
	}
}

// openStore starts a system and loads the store at path into it.
func openStore(ctx context.Context, path string) (*nav_system.System, error) {
	s, err := nav_system.New(cfg, nav_system.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	s.Start(ctx)
	f, err := os.Open(path)
	if err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	defer f.Close()
	if err := s.Load(f); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	// tiles from an older format are rebuilt from their cache layers
	if err := s.WaitIdle(ctx); err != nil {
		return nil, multierr.Append(err, s.Close())
	}
	return s, nil
}

// vec3Value is a flag holding "x,y,z".
type vec3Value common.Vec3

func (v *vec3Value) String() string {
	return fmt.Sprintf("%g,%g,%g", v[0], v[1], v[2])
}

func (v *vec3Value) Set(s string) error {
	p, err := parseVec3(s)
	if err != nil {
		return err
	}
	*v = vec3Value(p)
	return nil
}

func (v *vec3Value) Type() string { return "x,y,z" }

func parseVec3(s string) (common.Vec3, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return common.Vec3{}, fmt.Errorf("want x,y,z, got %q", s)
	}
	var out common.Vec3
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return common.Vec3{}, fmt.Errorf("coordinate %d of %q: %w", i, s, err)
		}
		out[i] = float32(f)
	}
	return out, nil
}

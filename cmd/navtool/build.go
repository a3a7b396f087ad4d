package main

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/nav_system"
	"github.com/gorustyt/navtile/tile_manager"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

var (
	buildOut   string
	buildChunk string

	buildCmd = &cobra.Command{
		Use:   "build <scene.yaml>",
		Short: "Build every tile of a scene and write a tile store",
		Args:  cobra.ExactArgs(1),
		RunE:  runBuild,
	}
)

func init() {
	buildCmd.Flags().StringVarP(&buildOut, "out", "o", "navmesh.bin", "tile store to write")
	buildCmd.Flags().StringVar(&buildChunk, "chunk", "", "also write the tiles as a streaming chunk with this name")
}

// sceneInvoker covers the whole scene with one invoker.
func sceneInvoker(b common.AABB, tileSize float32) tile_manager.Invoker {
	ext := b.Extent()
	r := common.Vec3{ext[0], 0, ext[2]}.Len() + tileSize*1.5
	return tile_manager.Invoker{Location: b.Center(), RadiusAdd: r, RadiusRemove: r + tileSize}
}

func runBuild(cmd *cobra.Command, args []string) (err error) {
	ctx := cmd.Context()
	sc, err := LoadScene(args[0])
	if err != nil {
		return err
	}
	s, err := nav_system.New(cfg, nav_system.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()
	s.Start(ctx)
	if err := sc.Apply(s); err != nil {
		return err
	}

	start := time.Now()
	inv := sceneInvoker(sc.Bounds(), cfg.NavMesh.TileSize)
	if _, err := s.Tick(ctx, start, []tile_manager.Invoker{inv}); err != nil {
		return err
	}
	if err := s.WaitIdle(ctx); err != nil {
		return err
	}
	keys := s.NavMesh().TileKeys()
	logger.Info("scene built", zap.Int("tiles", len(keys)), zap.Duration("elapsed", time.Since(start)))

	if err := writeFile(buildOut, s.Save); err != nil {
		return err
	}
	if buildChunk != "" {
		data, err := s.ExportChunk(buildChunk, keys)
		if err != nil {
			return err
		}
		if err := os.WriteFile(buildChunk+".chunk", data, 0o644); err != nil {
			return err
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d tiles written to %s\n", len(keys), buildOut)
	return nil
}

func writeFile(path string, fn func(w io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, f.Close()) }()
	return fn(f)
}

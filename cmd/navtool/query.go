package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
	"github.com/gorustyt/navtile/detour_path"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

var (
	queryFrom, queryTo vec3Value
	queryPartial       bool

	inspectCmd = &cobra.Command{
		Use:   "inspect <store>",
		Short: "List the tiles of a store",
		Args:  cobra.ExactArgs(1),
		RunE:  runInspect,
	}
	pathCmd = &cobra.Command{
		Use:   "path <store>",
		Short: "Find a path between two points",
		Args:  cobra.ExactArgs(1),
		RunE:  runPath,
	}
	raycastCmd = &cobra.Command{
		Use:   "raycast <store>",
		Short: "Cast a ray along the mesh surface",
		Args:  cobra.ExactArgs(1),
		RunE:  runRaycast,
	}
)

func init() {
	for _, c := range []*cobra.Command{pathCmd, raycastCmd} {
		c.Flags().Var(&queryFrom, "from", "start point")
		c.Flags().Var(&queryTo, "to", "end point")
		_ = c.MarkFlagRequired("from")
		_ = c.MarkFlagRequired("to")
	}
	pathCmd.Flags().BoolVar(&queryPartial, "partial", false, "accept a path to the closest reachable point")
}

func runInspect(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	mesh := s.NavMesh()
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TILE\tPOLYS\tVERTS\tLINKS\tMIN\tMAX")
	var polys int
	for _, k := range mesh.TileKeys() {
		t := mesh.TileAt(k)
		h := t.Header
		polys += int(h.PolyCount)
		fmt.Fprintf(w, "%d,%d,%d\t%d\t%d\t%d\t%s\t%s\n", k.X, k.Y, k.Layer,
			h.PolyCount, h.VertCount, h.OffMeshConCount, fmtVec(h.Bmin), fmtVec(h.Bmax))
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d tiles, %d polys\n", mesh.TileCount(), polys)
	return nil
}

func runPath(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	_, res := s.FindPath(detour_path.Request{
		Start:        common.Vec3(queryFrom),
		End:          common.Vec3(queryTo),
		AllowPartial: queryPartial,
	})
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "status %s", res.Status)
	if res.Err != nil {
		fmt.Fprintf(out, ": %v", res.Err)
	}
	fmt.Fprintln(out)
	if !res.OK() {
		return nil
	}
	fmt.Fprintf(out, "cost %.3f length %.3f polys %d\n", res.Path.Cost, detour.PathLength(res.Path.Waypoints), len(res.Path.Corridor))
	for _, p := range res.Path.Waypoints {
		fmt.Fprintln(out, fmtVec(p))
	}
	return nil
}

func runRaycast(cmd *cobra.Command, args []string) (err error) {
	s, err := openStore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	hit, err := s.Raycast(common.Vec3(queryFrom), common.Vec3(queryTo), nil)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if !hit.Hit {
		fmt.Fprintln(out, "clear")
		return nil
	}
	fmt.Fprintf(out, "hit at %s (t=%.3f) normal %s\n", fmtVec(hit.Pos), hit.T, fmtVec(hit.HitNormal))
	return nil
}

func fmtVec(v common.Vec3) string {
	return fmt.Sprintf("%.2f,%.2f,%.2f", v[0], v[1], v[2])
}

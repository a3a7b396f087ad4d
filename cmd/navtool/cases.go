package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/gorustyt/navtile/common"
	"github.com/gorustyt/navtile/detour"
	"github.com/gorustyt/navtile/detour_path"
	"github.com/gorustyt/navtile/nav_system"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
)

type CaseType int

const (
	CasePathfind CaseType = iota
	CaseRaycast
)

func (t CaseType) String() string {
	if t == CaseRaycast {
		return "rc"
	}
	return "pf"
}

// Case is one query of a case file:
//
//	pf sx sy sz ex ey ez include exclude
//	rc sx sy sz ex ey ez include exclude
//
// Flags are hex. Blank lines and lines starting with # are skipped.
type Case struct {
	Line         int
	Type         CaseType
	Start, End   common.Vec3
	IncludeFlags uint16
	ExcludeFlags uint16
}

type CaseResult struct {
	Case    Case
	OK      bool
	Status  string
	Points  int
	Length  float32
	Elapsed time.Duration
}

var casesCmd = &cobra.Command{
	Use:   "cases <store> <cases.txt>",
	Short: "Run the path and raycast queries of a case file",
	Args:  cobra.ExactArgs(2),
	RunE:  runCases,
}

func ParseCases(r io.Reader) ([]Case, error) {
	var out []Case
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		row := strings.TrimSpace(sc.Text())
		if row == "" || strings.HasPrefix(row, "#") {
			continue
		}
		c := Case{Line: line}
		tag, rest, _ := strings.Cut(row, " ")
		switch tag {
		case "pf":
			c.Type = CasePathfind
		case "rc":
			c.Type = CaseRaycast
		default:
			return nil, fmt.Errorf("line %d: unknown case %q", line, tag)
		}
		_, err := fmt.Sscanf(strings.TrimSpace(rest), "%f %f %f %f %f %f %x %x",
			&c.Start[0], &c.Start[1], &c.Start[2],
			&c.End[0], &c.End[1], &c.End[2],
			&c.IncludeFlags, &c.ExcludeFlags)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, c)
	}
	return out, sc.Err()
}

// RunCases runs every case against s with a filter built from its flags.
func RunCases(s *nav_system.System, cases []Case) ([]CaseResult, error) {
	out := make([]CaseResult, 0, len(cases))
	for _, c := range cases {
		filter, err := detour.FilterFromAreaTable(s.Areas(), cfg.Query.MaxSearchNodes,
			detour.WithIncludeFlags(c.IncludeFlags),
			detour.WithExcludeFlags(c.ExcludeFlags),
			detour.WithHeuristicScale(cfg.Query.HeuristicScale))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", c.Line, err)
		}
		r := CaseResult{Case: c}
		start := time.Now()
		switch c.Type {
		case CasePathfind:
			_, pr := s.FindPath(detour_path.Request{Start: c.Start, End: c.End, Filter: filter})
			r.OK, r.Status = pr.OK(), pr.Status.String()
			r.Points = len(pr.Path.Waypoints)
			r.Length = detour.PathLength(pr.Path.Waypoints)
		case CaseRaycast:
			hit, err := s.Raycast(c.Start, c.End, filter)
			switch {
			case err != nil:
				r.Status = err.Error()
			case hit.Hit:
				r.OK, r.Status = true, "hit"
				r.Length = hit.T * c.End.Sub(c.Start).Len()
			default:
				r.OK, r.Status = true, "clear"
				r.Length = c.End.Sub(c.Start).Len()
			}
		}
		r.Elapsed = time.Since(start)
		out = append(out, r)
	}
	return out, nil
}

func runCases(cmd *cobra.Command, args []string) (err error) {
	f, err := os.Open(args[1])
	if err != nil {
		return err
	}
	cases, err := ParseCases(f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	s, err := openStore(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, s.Close()) }()

	results, err := RunCases(s, cases)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "LINE\tTYPE\tSTATUS\tPOINTS\tLENGTH\tTIME")
	failed := 0
	for _, r := range results {
		if !r.OK {
			failed++
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%.2f\t%s\n", r.Case.Line, r.Case.Type, r.Status, r.Points, r.Length, r.Elapsed)
	}
	if err := w.Flush(); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%d cases, %d failed\n", len(results), failed)
	return nil
}

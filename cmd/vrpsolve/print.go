package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"fleetroute/internal/model"
)

// printSolution writes one block per vehicle: each stop with its cumul values, then the
// route cost. Dropped nodes, the objective and the status follow.
func printSolution(w io.Writer, resp model.SolveResponse) {
	var total int64
	for _, r := range resp.Routes {
		dims := make([]string, 0, len(r.Cumuls))
		for name := range r.Cumuls {
			dims = append(dims, name)
		}
		sort.Strings(dims)

		stops := make([]string, len(r.Nodes))
		for k, n := range r.Nodes {
			var b strings.Builder
			b.WriteString(n)
			for _, d := range dims {
				if k < len(r.Cumuls[d]) {
					fmt.Fprintf(&b, " %s(%d)", d, r.Cumuls[d][k])
				}
			}
			stops[k] = b.String()
		}
		fmt.Fprintf(w, "Route for vehicle %s:\n", r.VehicleID)
		fmt.Fprintf(w, " %s\n", strings.Join(stops, " -> "))
		fmt.Fprintf(w, "Cost of the route: %d\n\n", r.Cost)
		total += r.Cost
	}
	fmt.Fprintf(w, "Total cost of all routes: %d\n", total)
	if len(resp.Dropped) > 0 {
		fmt.Fprintf(w, "Dropped nodes: %s\n", strings.Join(resp.Dropped, ", "))
	}
	o := resp.Objective
	fmt.Fprintf(w, "Objective: %d (arc %d, penalty %d, fixed %d, span %d)\n", o.Total, o.Arc, o.Penalty, o.Fixed, o.Span)
	fmt.Fprintf(w, "Status: %s\n", resp.Status)
}

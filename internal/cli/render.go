package cli

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"

	"memopipe/internal/codec"
	"memopipe/internal/dag"
	"memopipe/internal/history"
	"memopipe/internal/pipeline"
	"memopipe/internal/store"
)

func newTable(w io.Writer, header table.Row) table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetStyle(table.StyleLight)
	tw.AppendHeader(header)
	return tw
}

func printJSON(w io.Writer, v any) error {
	b, err := codec.MarshalIndent(v)
	if err != nil {
		return err
	}
	_, err = w.Write(b)
	return err
}

// reportJSON is the machine-readable form of a pipeline.Report.
type reportJSON struct {
	RunID          string            `json:"run_id,omitempty"`
	GraphHash      string            `json:"graph_hash"`
	Statuses       map[string]string `json:"statuses"`
	Fingerprints   map[string]string `json:"fingerprints"`
	Outputs        map[string]any    `json:"outputs"`
	ExecutionOrder []string          `json:"execution_order"`
	Failures       map[string]string `json:"failures"`
}

func toReportJSON(r *pipeline.Report) reportJSON {
	out := reportJSON{
		RunID:          r.RunID,
		GraphHash:      r.GraphHash.String(),
		Statuses:       make(map[string]string, len(r.Statuses)),
		Fingerprints:   make(map[string]string, len(r.Fingerprints)),
		Outputs:        r.Outputs,
		ExecutionOrder: append([]string{}, r.ExecutionOrder...),
		Failures:       make(map[string]string, len(r.Failures)),
	}
	for k, v := range r.Statuses {
		out.Statuses[k] = string(v)
	}
	for k, v := range r.Fingerprints {
		out.Fingerprints[k] = v.String()
	}
	for k, v := range r.Failures {
		out.Failures[k] = v.Error()
	}
	return out
}

func renderReport(w io.Writer, r *pipeline.Report) {
	tw := newTable(w, table.Row{"Task", "Status", "Fingerprint", "Size", "Duration", "Detail"})
	for _, name := range r.Tasks {
		st := r.Statuses[name]
		size, dur, detail := "", "", ""
		if dag.IsSuccessful(st) {
			size = humanize.Bytes(uint64(r.Sizes[name]))
		}
		if d, ok := r.Durations[name]; ok {
			dur = d.Round(time.Microsecond).String()
		}
		if err, ok := r.Failures[name]; ok {
			detail = firstLine(err.Error())
		}
		tw.AppendRow(table.Row{name, st, r.Fingerprints[name].Short(), size, dur, detail})
	}
	tw.AppendFooter(table.Row{"", fmt.Sprintf("%d done, %d skipped, %d failed, %d not run",
		r.Count(dag.TaskDone), r.Count(dag.TaskSkipped), r.Count(dag.TaskFailed), r.Count(dag.TaskNotRun))})
	tw.Render()
}

func renderPlan(w io.Writer, plan []pipeline.PlanEntry) {
	tw := newTable(w, table.Row{"Task", "Action", "Reason", "Fingerprint"})
	for _, e := range plan {
		tw.AppendRow(table.Row{e.Task, e.Action, e.Reason, e.Fingerprint.Short()})
	}
	tw.Render()
}

func renderEdges(w io.Writer, edges []dag.Edge) {
	tw := newTable(w, table.Row{"From", "To"})
	for _, e := range edges {
		tw.AppendRow(table.Row{e.From, e.To})
	}
	tw.Render()
}

func renderManifest(w io.Writer, order []string, m map[string]pipeline.ManifestEntry) {
	tw := newTable(w, table.Row{"Task", "Identity", "Depth", "Inputs"})
	for _, name := range order {
		e := m[name]
		tw.AppendRow(table.Row{name, e.Identity, e.Depth, strings.Join(e.Inputs, "\n")})
	}
	tw.Render()
}

func renderMetadata(w io.Writer, md map[string]store.RecordInfo) {
	names := make([]string, 0, len(md))
	for name := range md {
		names = append(names, name)
	}
	sort.Strings(names)
	tw := newTable(w, table.Row{"Task", "Fingerprint", "Stored", "Size"})
	for _, name := range names {
		info := md[name]
		fp := info.Fingerprint
		if len(fp) > 12 {
			fp = fp[:12]
		}
		tw.AppendRow(table.Row{name, fp, humanize.Time(info.StoredAt), humanize.Bytes(uint64(info.Size))})
	}
	tw.Render()
}

func renderHistory(w io.Writer, runs []history.Run) {
	tw := newTable(w, table.Row{"Run", "Started", "Status", "Done", "Skipped", "Failed", "Not run", "Duration", "First failure"})
	for _, r := range runs {
		first := ""
		if r.FirstFailure != nil {
			first = r.FirstFailure.Task
		}
		tw.AppendRow(table.Row{
			r.ID,
			humanize.Time(r.StartedAt),
			r.Status,
			r.Count(dag.TaskDone),
			r.Count(dag.TaskSkipped),
			r.Count(dag.TaskFailed),
			r.Count(dag.TaskNotRun),
			r.Duration().Round(time.Millisecond).String(),
			first,
		})
	}
	tw.Render()
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

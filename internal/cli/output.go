// Package cli renders model versions, metrics, and tuning results for the bazaar command.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/hyperjump/bazaar/internal/classifier"
	"github.com/hyperjump/bazaar/internal/registry"
	"github.com/hyperjump/bazaar/internal/sentiment"
	"github.com/hyperjump/bazaar/pkg/utils"
)

// OutputFormat selects human-readable or JSON output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat accepts "text" and "json".
func ParseFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	}
	return "", fmt.Errorf("unknown output format %q; use text or json", s)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type versionView struct {
	registry.Metadata
	Current bool `json:"current"`
}

// WriteVersions lists versions oldest first, marking current.
func WriteVersions(w io.Writer, versions []registry.Metadata, current string, format OutputFormat, now time.Time) error {
	if format == OutputJSON {
		out := make([]versionView, len(versions))
		for i, m := range versions {
			out[i] = versionView{Metadata: m, Current: m.ID == current}
		}
		return writeJSON(w, out)
	}
	if len(versions) == 0 {
		_, err := fmt.Fprintln(w, "No model versions.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "\tVERSION\tALGORITHM\tSCHEME\tEXAMPLES\tTEST F1\tTEST ACC\tSIZE\tCREATED")
	for _, m := range versions {
		mark := ""
		if m.ID == current {
			mark = "*"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%.3f\t%.3f\t%s\t%s\n",
			mark, m.ID, m.Algorithm, m.Scheme, m.Examples,
			m.Metrics.Test.F1, m.Metrics.Test.Accuracy,
			humanize.Bytes(uint64(m.SizeBytes)),
			humanize.RelTime(m.CreatedAt, now, "ago", "from now"))
	}
	return tw.Flush()
}

// WriteVersion prints one freshly trained version with its metrics.
func WriteVersion(w io.Writer, m registry.Metadata, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, m)
	}
	fmt.Fprintf(w, "version:    %s\n", m.ID)
	fmt.Fprintf(w, "algorithm:  %s %s\n", m.Algorithm, formatParams(m.Hyperparameters))
	fmt.Fprintf(w, "scheme:     %s (%s)\n", m.Scheme, strings.Join(m.Classes, ", "))
	fmt.Fprintf(w, "examples:   %s, features: %s\n", humanize.Comma(int64(m.Examples)), humanize.Comma(int64(m.Features)))
	fmt.Fprintln(w)
	return writeReport(w, m.Metrics)
}

func writeReport(w io.Writer, r classifier.Report) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PARTITION\tACCURACY\tPRECISION\tRECALL\tF1\tSUPPORT")
	for _, row := range []struct {
		name string
		m    classifier.Metrics
	}{{"train", r.Train}, {"test", r.Test}} {
		fmt.Fprintf(tw, "%s\t%.3f\t%.3f\t%.3f\t%.3f\t%d\n",
			row.name, row.m.Accuracy, row.m.Precision, row.m.Recall, row.m.F1, row.m.Support)
	}
	return tw.Flush()
}

// WriteTuneResult prints the candidates ranked by mean F1, best first.
func WriteTuneResult(w io.Writer, res *classifier.TuneResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "algorithm:  %s (%d-fold)\n", res.Algorithm, res.Folds)
	fmt.Fprintf(w, "best:       %s  f1=%.3f accuracy=%.3f\n\n",
		formatParams(res.BestParams), res.BestMetrics.F1, res.BestMetrics.Accuracy)

	ranked := append([]classifier.CandidateScore(nil), res.Candidates...)
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Metrics.F1 > ranked[j].Metrics.F1 })
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tPARAMS\tF1\tACCURACY")
	for i, c := range ranked {
		fmt.Fprintf(tw, "%d\t%s\t%.3f\t%.3f\n", i+1, formatParams(c.Params), c.Metrics.F1, c.Metrics.Accuracy)
	}
	return tw.Flush()
}

func formatParams(p classifier.Params) string {
	if len(p) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%s", k, humanize.Ftoa(p[k]))
	}
	return "{" + strings.Join(parts, " ") + "}"
}

// WritePredictions prints one line per text: label, confidence, and the distribution.
func WritePredictions(w io.Writer, texts []string, res *sentiment.BatchResult, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, res)
	}
	fmt.Fprintf(w, "model %s, %d text(s) in %s\n\n", res.ModelVersion, len(res.Results), res.Total.Round(time.Microsecond))
	for i, p := range res.Results {
		fmt.Fprintf(w, "%-8s %.3f  %s\n", p.Label, p.Confidence, utils.Truncate(texts[i], 60))
		classes := make([]string, 0, len(p.Distribution))
		for c := range p.Distribution {
			classes = append(classes, c)
		}
		sort.Strings(classes)
		parts := make([]string, len(classes))
		for j, c := range classes {
			parts[j] = fmt.Sprintf("%s=%.3f", c, p.Distribution[c])
		}
		fmt.Fprintf(w, "         %s\n", strings.Join(parts, " "))
		if len(p.FinancialTerms) > 0 {
			fmt.Fprintf(w, "         terms: %s\n", formatCounts(p.FinancialTerms))
		}
	}
	return nil
}

func formatCounts(m map[string]int) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, m[k])
	}
	return strings.Join(parts, " ")
}

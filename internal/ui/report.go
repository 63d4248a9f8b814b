package ui

import (
	"fmt"
	"strings"

	"github.com/abelbrown/curiosity/internal/model"
	"github.com/abelbrown/curiosity/internal/pipeline"
)

// RenderReport renders the outcome of a run: a summary, the detected
// signals and the weird picks.
func RenderReport(res *pipeline.Result) string {
	if res == nil || res.Run == nil {
		return ErrorStyle.Render("no run result")
	}
	run := res.Run

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%s  %s  run %s  %s", run.Tenant, run.Week, shortID(run.ID), run.Status)))
	b.WriteString("\n")
	b.WriteString(MetaStyle.Render(fmt.Sprintf(
		"%d questions  %d duplicates  %d rejected  %d embedding failures  %d noise",
		run.QuestionsIngested, res.Duplicates, res.Rejected, res.EmbeddingFailed, res.Noise)))
	b.WriteString("\n")
	b.WriteString(MetaStyle.Render(fmt.Sprintf("%d clusters  %d signals  %d news triggers",
		run.ClustersCreated, run.SignalsDetected, res.NewsTriggers)))
	b.WriteString("\n")
	if run.ErrorMessage != "" {
		b.WriteString(ErrorStyle.Render("Error: " + run.ErrorMessage))
		b.WriteString("\n")
	}

	b.WriteString(SectionStyle.Render("Signals"))
	b.WriteString("\n")
	b.WriteString(RenderSignals(res.Detected()))

	if len(res.WeirdPicks) > 0 {
		b.WriteString(SectionStyle.Render("Weird picks"))
		b.WriteString("\n")
		b.WriteString(RenderSignals(res.WeirdPicks))
	}
	return b.String()
}

// RenderSignals renders one block per signal in the given order.
func RenderSignals(signals []model.Signal) string {
	if len(signals) == 0 {
		return MetaStyle.Render("  No signals this week.") + "\n"
	}

	var b strings.Builder
	for i, s := range signals {
		b.WriteString(fmt.Sprintf("%2d. %s %s  %s\n",
			i+1, tierBadge(s.Tier), ProgressCount.Render(fmt.Sprintf("%.2f", s.FinalScore)),
			QuestionStyle.Render(s.CanonicalQuestion)))

		platforms := make([]string, len(s.Platforms))
		for j, p := range s.Platforms {
			platforms[j] = string(p)
		}
		b.WriteString("    ")
		b.WriteString(MetaStyle.Render(fmt.Sprintf("%d questions  %s  engagement %d  velocity %s",
			s.QuestionCount, strings.Join(platforms, ", "), s.TotalEngagement, formatVelocity(s.VelocityPct))))
		b.WriteString("\n")

		if t := s.NewsTrigger; t != nil {
			line := fmt.Sprintf("news: %s", t.Headline)
			if t.Source != "" {
				line += " (" + t.Source + ")"
			}
			b.WriteString("    ")
			b.WriteString(TriggerStyle.Render(line))
			b.WriteString("\n")
		}
	}
	return b.String()
}

// RenderRuns renders a run history table, newest first as given.
func RenderRuns(runs []model.Run) string {
	if len(runs) == 0 {
		return MetaStyle.Render("No runs yet.") + "\n"
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render(fmt.Sprintf("%-8s  %-12s  %-8s  %-9s  %5s  %5s  %5s  %-16s",
		"run", "tenant", "week", "status", "qs", "clus", "sigs", "started")))
	b.WriteString("\n")
	for _, r := range runs {
		line := fmt.Sprintf(" %-8s  %-12s  %-8s  %-9s  %5d  %5d  %5d  %-16s",
			shortID(r.ID), truncateRunes(r.Tenant, 12), r.Week, r.Status,
			r.QuestionsIngested, r.ClustersCreated, r.SignalsDetected,
			r.StartedAt.Local().Format("2006-01-02 15:04"))
		if r.Status == model.RunFailed {
			b.WriteString(ErrorStyle.UnsetPadding().Render(line))
			if r.ErrorMessage != "" {
				b.WriteString("\n" + MetaStyle.Render("    "+truncateRunes(r.ErrorMessage, 70)))
			}
		} else {
			b.WriteString(line)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func formatVelocity(pct float64) string {
	return fmt.Sprintf("%+.0f%%", pct)
}

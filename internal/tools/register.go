package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/vthunder/scribe/internal/extract"
	"github.com/vthunder/scribe/internal/logging"
	"github.com/vthunder/scribe/internal/similarity"
	"github.com/vthunder/scribe/internal/store"
	"github.com/vthunder/scribe/internal/types"
)

// Register adds every record tool to the MCP server.
func Register(s *server.MCPServer, deps *Dependencies) {
	s.AddTool(searchTool(), handleSearch(deps))
	s.AddTool(recordTool(), handleRecord(deps))
	s.AddTool(manageTool(), handleManage(deps))
	s.AddTool(mergeRunTool(), handleMergeRun(deps))
	s.AddTool(mergePreviewTool(), handleMergePreview(deps))
	s.AddTool(qualityCheckTool(), handleQualityCheck(deps))
	s.AddTool(historyTool(), handleHistory(deps))
	s.AddTool(rollbackTool(), handleRollback())
}

func args(req mcp.CallToolRequest) map[string]any {
	m, _ := req.Params.Arguments.(map[string]any)
	return m
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func searchTool() mcp.Tool {
	return mcp.NewTool("memory_search",
		mcp.WithDescription("Search implementation-history records. Scores each record against the prompt (summary match, tags and file paths the prompt mentions) and returns the best matches."),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("What you are about to work on, or keywords to look up"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of records to return (default 5)"),
		),
		mcp.WithNumber("threshold",
			mcp.Description("Minimum match score; results below it are dropped (default 0)"),
		),
	)
}

func handleSearch(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := args(req)
		prompt, _ := a["prompt"].(string)
		if prompt == "" {
			return mcp.NewToolResultError("prompt is required"), nil
		}
		limit := 5
		if n, ok := a["max_results"].(float64); ok && n > 0 {
			limit = int(n)
		}
		minScore := 0.0
		if t, ok := a["threshold"].(float64); ok {
			minScore = t
		}

		matches := deps.Index.SearchScored(prompt, limit)
		var lines []string
		for _, m := range matches {
			if float64(m.Score) < minScore {
				continue
			}
			lines = append(lines, formatMatch(m.Record, m.Score))
		}
		if len(lines) == 0 {
			return mcp.NewToolResultText("No matching records."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Found %d records:\n\n%s",
			len(lines), strings.Join(lines, "\n"))), nil
	}
}

func formatMatch(rec *types.Record, score int) string {
	parts := []string{fmt.Sprintf("[%s] (score %d) %s", rec.ID, score, rec.UltraSummary)}
	if len(rec.Tags) > 0 {
		parts = append(parts, "  tags: "+strings.Join(rec.Tags, ", "))
	}
	if len(rec.RelatedPaths) > 0 {
		parts = append(parts, "  files: "+strings.Join(rec.RelatedPaths, ", "))
	}
	return strings.Join(parts, "\n")
}

func recordTool() mcp.Tool {
	return mcp.NewTool("memory_record",
		mcp.WithDescription("Record an implementation as a history record. Stores the prompt, summary, touched files, and tags; warns when an existing record looks like a near-duplicate."),
		mcp.WithString("files",
			mcp.Required(),
			mcp.Description("Comma-separated list of file paths the implementation touched"),
		),
		mcp.WithString("prompt",
			mcp.Required(),
			mcp.Description("The request that drove the implementation"),
		),
		mcp.WithString("summary",
			mcp.Description("Short description of what was done (derived from the prompt if omitted)"),
		),
		mcp.WithString("tags",
			mcp.Description("Comma-separated tags (suggested from the prompt if omitted)"),
		),
		mcp.WithString("body",
			mcp.Description("Full implementation notes (optional)"),
		),
		mcp.WithString("author",
			mcp.Description("Author identity to record (optional)"),
		),
	)
}

func handleRecord(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := args(req)
		filesRaw, _ := a["files"].(string)
		prompt, _ := a["prompt"].(string)
		if prompt == "" {
			return mcp.NewToolResultError("prompt is required"), nil
		}
		files := splitList(filesRaw)
		if len(files) == 0 {
			return mcp.NewToolResultError("files is required"), nil
		}

		// Exact-duplicate check on the prompt fingerprint.
		if existing, ok := deps.Store.GetByFingerprint(types.Fingerprint(prompt)); ok {
			return mcp.NewToolResultText(fmt.Sprintf(
				"Already recorded as %s (identical prompt). Use memory_search or memory_history to inspect it.",
				existing.ID)), nil
		}

		summary, _ := a["summary"].(string)
		if summary == "" {
			summary = logging.Truncate(prompt, 200)
		}
		tags := splitList(firstString(a["tags"]))
		if len(tags) == 0 {
			tags = extract.SuggestTags(prompt+" "+summary, 5)
		}
		body, _ := a["body"].(string)
		author, _ := a["author"].(string)
		var authors []string
		if author != "" {
			authors = []string{author}
		}

		rec, err := deps.Store.Create(store.CreateRequest{
			Prompt:       prompt,
			Summary:      summary,
			Body:         body,
			Authors:      authors,
			Tags:         tags,
			RelatedPaths: files,
			Actor:        deps.actor(),
		})
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("record failed: %v", err)), nil
		}
		deps.Index.Insert(rec)

		// Proactive near-duplicate warning against the rest of the active set.
		var warnings []string
		for _, other := range deps.Store.ListActive() {
			if other.ID == rec.ID {
				continue
			}
			if similarity.IsNearDuplicate(rec, other) {
				warnings = append(warnings, fmt.Sprintf(
					"looks like a near-duplicate of %s (%s)", other.ID, other.UltraSummary))
			}
		}

		text := fmt.Sprintf("Recorded %s: %s", rec.ID, rec.UltraSummary)
		if len(rec.Tags) > 0 {
			text += "\ntags: " + strings.Join(rec.Tags, ", ")
		}
		if len(warnings) > 0 {
			text += "\nWARNING " + strings.Join(warnings, "\nWARNING ")
			text += "\nConsider memory_merge_preview to consolidate."
		}
		return mcp.NewToolResultText(text), nil
	}
}

func firstString(v any) string {
	s, _ := v.(string)
	return s
}

func manageTool() mcp.Tool {
	return mcp.NewTool("memory_manage",
		mcp.WithDescription("Archive or delete a record by id. Archived records stay retrievable by id; deletion is permanent."),
		mcp.WithString("action",
			mcp.Required(),
			mcp.Description("Either 'archive' or 'delete'"),
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The record id"),
		),
	)
}

func handleManage(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := args(req)
		action, _ := a["action"].(string)
		id, _ := a["id"].(string)
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}

		switch action {
		case "archive":
			if err := deps.Store.Archive(id, deps.actor(), "manual archive"); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("archive failed: %v", err)), nil
			}
			deps.Index.Remove(id)
			return mcp.NewToolResultText("Archived " + id), nil
		case "delete":
			if err := deps.Store.Delete(id, deps.actor()); err != nil {
				return mcp.NewToolResultError(fmt.Sprintf("delete failed: %v", err)), nil
			}
			deps.Index.Remove(id)
			return mcp.NewToolResultText("Deleted " + id), nil
		default:
			return mcp.NewToolResultError("action must be 'archive' or 'delete'"), nil
		}
	}
}

func mergeRunTool() mcp.Tool {
	return mcp.NewTool("memory_merge_run",
		mcp.WithDescription("Detect groups of near-duplicate records and consolidate them. Sources are archived, never deleted; already-completed merges stay written even if a later group fails."),
		mcp.WithNumber("threshold",
			mcp.Description("Semantic similarity threshold for merge candidacy (default from config)"),
		),
		mcp.WithBoolean("auto_merge",
			mcp.Description("Set false to only report the groups without consolidating (default true)"),
		),
	)
}

func handleMergeRun(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a := args(req)
		threshold := deps.threshold(floatArg(a, "threshold"))
		autoMerge := true
		if b, ok := a["auto_merge"].(bool); ok {
			autoMerge = b
		}

		if !autoMerge {
			return previewText(ctx, deps, threshold)
		}

		report, err := deps.Coordinator.Run(ctx, threshold)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("merge cycle failed at %s: %v", report.Stage, err)), nil
		}

		text := fmt.Sprintf("Merge cycle complete: %d groups detected, %d processed, %d records consolidated.",
			report.GroupsDetected, report.GroupsProcessed, report.RecordsConsolidated)
		if len(report.MergedIDs) > 0 {
			text += "\nmerged into: " + strings.Join(report.MergedIDs, ", ")
		}
		for _, issue := range report.Issues {
			text += "\nissue: " + issue
		}
		return mcp.NewToolResultText(text), nil
	}
}

func mergePreviewTool() mcp.Tool {
	return mcp.NewTool("memory_merge_preview",
		mcp.WithDescription("Show which records a merge run would consolidate, without changing anything."),
		mcp.WithNumber("threshold",
			mcp.Description("Semantic similarity threshold for merge candidacy (default from config)"),
		),
	)
}

func handleMergePreview(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		threshold := deps.threshold(floatArg(args(req), "threshold"))
		return previewText(ctx, deps, threshold)
	}
}

func previewText(ctx context.Context, deps *Dependencies, threshold float64) (*mcp.CallToolResult, error) {
	groups, err := deps.Coordinator.Preview(ctx, threshold)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("scan failed: %v", err)), nil
	}
	if len(groups) == 0 {
		return mcp.NewToolResultText("No merge candidates at this threshold."), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%d merge groups:\n", len(groups))
	for i, g := range groups {
		fmt.Fprintf(&b, "\nGroup %d (score %.2f, %s):\n", i+1, g.Score, strings.Join(g.Reasons, "+"))
		for _, m := range g.Members {
			fmt.Fprintf(&b, "  [%s] %s\n", m.ID, m.UltraSummary)
		}
	}
	return mcp.NewToolResultText(b.String()), nil
}

func qualityCheckTool() mcp.Tool {
	return mcp.NewTool("memory_quality_check",
		mcp.WithDescription("Score every active record for freshness and completeness and report stale, incomplete, and contradicting records."),
		mcp.WithBoolean("fix",
			mcp.Description("Cache the computed scores onto the records (default false)"),
		),
	)
}

func handleQualityCheck(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		fix, _ := args(req)["fix"].(bool)
		report := deps.Scorer.Report(deps.Store.ListActive(), fix)

		var b strings.Builder
		fmt.Fprintf(&b, "%d active records, average score %.1f\n", report.TotalDocuments, report.AverageScore)
		for _, issue := range report.Issues {
			target := issue.RecordID
			if target == "" {
				target = issue.File
			}
			fmt.Fprintf(&b, "%s: %s: %s\n", issue.Kind, target, issue.Detail)
		}
		for _, rec := range report.Recommendations {
			fmt.Fprintf(&b, "recommend: %s\n", rec)
		}

		// Structural defects ride along with the quality report.
		integrityReport := deps.Auditor.Check()
		fmt.Fprintf(&b, "integrity: %d issues, severity %s\n", len(integrityReport.Issues), integrityReport.Severity)
		if fix && len(integrityReport.Issues) > 0 {
			result := deps.Auditor.Recover(integrityReport.Issues)
			fmt.Fprintf(&b, "recovery: %d/%d issues repaired\n", result.Recovered, result.Total)
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func historyTool() mcp.Tool {
	return mcp.NewTool("memory_history",
		mcp.WithDescription("Show a record's change history and merge lineage."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("The record id"),
		),
	)
}

func handleHistory(deps *Dependencies) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, _ := args(req)["id"].(string)
		if id == "" {
			return mcp.NewToolResultError("id is required"), nil
		}
		rec, err := deps.Store.Get(id)
		if err != nil {
			if errors.Is(err, types.ErrNotFound) {
				return mcp.NewToolResultError("no record with id " + id), nil
			}
			return mcp.NewToolResultError(fmt.Sprintf("lookup failed: %v", err)), nil
		}

		var b strings.Builder
		fmt.Fprintf(&b, "%s (%s)\n%s\n\n", rec.ID, rec.Status, rec.Summary)
		if ml := rec.MergeLineage; ml != nil {
			fmt.Fprintf(&b, "merged from %s via %s at %s\n\n",
				strings.Join(ml.SourceIDs, ", "), ml.Method, ml.Timestamp.Format("2006-01-02 15:04"))
		}
		for _, entry := range rec.ChangeHistory {
			fmt.Fprintf(&b, "%s  %-10s %s", entry.Timestamp.Format("2006-01-02 15:04"), entry.Action, entry.Actor)
			if entry.Reason != "" {
				fmt.Fprintf(&b, " (%s)", entry.Reason)
			}
			b.WriteString("\n")
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func rollbackTool() mcp.Tool {
	return mcp.NewTool("memory_rollback",
		mcp.WithDescription("Undo a merge, restoring the archived source records. Not yet supported."),
		mcp.WithString("merged_id",
			mcp.Required(),
			mcp.Description("Id of the merged record to roll back"),
		),
	)
}

func handleRollback() server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		// Sources are archived rather than deleted precisely so this becomes
		// possible later.
		return mcp.NewToolResultText("Merge rollback is not yet supported."), nil
	}
}

func floatArg(a map[string]any, key string) float64 {
	f, _ := a[key].(float64)
	return f
}

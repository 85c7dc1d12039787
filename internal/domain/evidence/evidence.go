// Package evidence exports audit-ready evidence packs built from a
// session's trace events.
package evidence

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"sort"
	"strings"
	"time"

	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/pii"
	"github.com/Sentinel-Gate/Sentinelgate/internal/domain/trace"
)

var knownRules = map[string]bool{
	"read_only_tools":          true,
	"write_requires_approval":  true,
	"write_with_approval":      true,
	"unknown_tool":             true,
	"default_deny":             true,
	"invalid_tool_name":        true,
	"kill_switch":              true,
	"rate_limit":               true,
	"opa_unavailable":          true,
}

var reversibleTools = map[string]bool{
	"db_insert":  true,
	"db_update":  true,
	"file_write": true,
}

// ErrUnsupportedFormat is returned when a caller requests a render
// format the exporter does not implement.
var ErrUnsupportedFormat = errors.New("unsupported evidence export format")

// Pack is one exported evidence pack.
type Pack struct {
	Metadata        Metadata                  `json:"metadata"`
	Summary         Summary                   `json:"summary"`
	Timeline        []TimelineEntry           `json:"timeline"`
	PolicyAnalysis  PolicyAnalysis            `json:"policy_analysis"`
	WriteActionLog  []WriteAction             `json:"write_action_log"`
	Anomalies       []Anomaly                 `json:"anomalies"`
	Integrity       Integrity                 `json:"integrity"`
}

type Metadata struct {
	Version     string    `json:"version"`
	GeneratedAt time.Time `json:"generated_at"`
	Generator   string    `json:"generator"`
	SessionID   string    `json:"session_id"`
	UserID      string    `json:"user_id,omitempty"`
	AgentID     string    `json:"agent_id,omitempty"`
	TimeRange   TimeRange `json:"time_range"`
}

type TimeRange struct {
	Start *time.Time `json:"start"`
	End   *time.Time `json:"end"`
}

type ToolTally struct {
	Allowed int `json:"allowed"`
	Denied  int `json:"denied"`
}

type WriteActionTally struct {
	Total       int `json:"total"`
	Reversible  int `json:"reversible"`
	Irreversible int `json:"irreversible"`
}

type Summary struct {
	TotalToolCalls         int                  `json:"total_tool_calls"`
	ByDecision             map[string]int       `json:"by_decision"`
	ByTool                 map[string]ToolTally `json:"by_tool"`
	WriteActions           WriteActionTally     `json:"write_actions"`
	PolicyVersionsUsed     []string             `json:"policy_versions_used"`
	KillSwitchActivations  int                  `json:"kill_switch_activations"`
}

type TimelineEntry struct {
	EventID     string `json:"event_id"`
	Timestamp   string `json:"timestamp"`
	ToolName    string `json:"tool_name"`
	Decision    string `json:"decision"`
	Reason      string `json:"reason"`
	MatchedRule string `json:"matched_rule"`
	DurationMS  *int64 `json:"duration_ms,omitempty"`
	Error       string `json:"error,omitempty"`
}

type RuleUsage struct {
	Count     int      `json:"count"`
	Decisions []string `json:"decisions"`
}

type PolicyAnalysis struct {
	RulesTriggered   map[string]RuleUsage `json:"rules_triggered"`
	UntriggeredRules []string             `json:"untriggered_rules"`
	DefaultDenials   int                  `json:"default_denials"`
}

type WriteAction struct {
	EventID     string  `json:"event_id"`
	Timestamp   string  `json:"timestamp"`
	ToolName    string  `json:"tool_name"`
	Reversible  bool    `json:"reversible"`
	PreStateRef *string `json:"pre_state_ref"`
	ApprovedBy  *string `json:"approved_by"`
}

type Anomaly struct {
	Kind        string   `json:"type"`
	Description string   `json:"description"`
	EventIDs    []string `json:"event_ids"`
}

type Integrity struct {
	EventCount int    `json:"event_count"`
	Hash       string `json:"hash"`
}

// Archive is a write-once stored export, kept for audit replay of a past
// export without recomputing it from traces that may have since rolled
// off retention.
type Archive struct {
	ArchiveID string
	SessionID string
	Format    string
	Payload   []byte
	CreatedAt time.Time
}

// Store persists evidence archives. The concrete adapter makes this
// table write-once: no update or delete path exists.
type Store interface {
	SaveArchive(ctx context.Context, archive Archive) error
	ListArchives(ctx context.Context, sessionID string) ([]Archive, error)
}

// Exporter builds evidence packs from a trace reader and, when Archives
// is set, persists each export as a write-once archive.
type Exporter struct {
	Traces   trace.Reader
	Archives Store
	Version  string
	Now      func() time.Time

	// PIIMode and PIITokenSalt scrub the timeline's free-text Reason/Error
	// fields per AGENTGATE_PII_MODE before the pack is rendered. ModeOff
	// (the zero value) leaves them untouched.
	PIIMode      pii.Mode
	PIITokenSalt string
}

// New builds an Exporter using time.Now as its clock.
func New(traces trace.Reader, version string) *Exporter {
	return &Exporter{Traces: traces, Version: version, Now: time.Now}
}

// ExportAndArchive exports sessionID in format ("json" or "html") and, if
// Archives is configured, persists the rendered payload.
func (e *Exporter) ExportAndArchive(ctx context.Context, sessionID, format string) ([]byte, error) {
	pack, err := e.ExportSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	var payload []byte
	switch format {
	case "json":
		payload, err = ToJSON(pack)
	case "html":
		var rendered string
		rendered, err = ToHTML(pack)
		payload = []byte(rendered)
	case "pdf":
		return nil, fmt.Errorf("%w: pdf", ErrUnsupportedFormat)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	if err != nil {
		return nil, err
	}

	if e.Archives != nil {
		archive := Archive{
			ArchiveID: sessionID + ":" + format + ":" + e.Now().UTC().Format(time.RFC3339Nano),
			SessionID: sessionID,
			Format:    format,
			Payload:   payload,
			CreatedAt: e.Now().UTC(),
		}
		if err := e.Archives.SaveArchive(ctx, archive); err != nil {
			return nil, err
		}
	}
	return payload, nil
}

// ExportSession builds a Pack for sessionID from its trace events.
func (e *Exporter) ExportSession(ctx context.Context, sessionID string) (*Pack, error) {
	events, err := e.Traces.Query(ctx, sessionID, nil)
	if err != nil {
		return nil, err
	}
	all, err := e.Traces.Query(ctx, "", nil)
	if err != nil {
		return nil, err
	}

	pack := &Pack{
		Metadata:       e.buildMetadata(sessionID, events),
		Summary:        buildSummary(events),
		Timeline:       e.buildTimeline(events),
		PolicyAnalysis: buildPolicyAnalysis(events),
		WriteActionLog: extractWriteActions(events),
		Anomalies:      detectAnomalies(events, all),
		Integrity:      buildIntegrity(events),
	}
	return pack, nil
}

func (e *Exporter) buildMetadata(sessionID string, events []trace.Event) Metadata {
	userIDs := map[string]bool{}
	agentIDs := map[string]bool{}
	for _, ev := range events {
		if ev.UserID != "" {
			userIDs[ev.UserID] = true
		}
		if ev.AgentID != "" {
			agentIDs[ev.AgentID] = true
		}
	}
	return Metadata{
		Version:     "1.0.0",
		GeneratedAt: e.Now().UTC(),
		Generator:   fmt.Sprintf("Sentinelgate v%s", e.Version),
		SessionID:   sessionID,
		UserID:      collapseIdentity(userIDs),
		AgentID:     collapseIdentity(agentIDs),
		TimeRange:   calculateTimeRange(events),
	}
}

func collapseIdentity(values map[string]bool) string {
	switch len(values) {
	case 0:
		return ""
	case 1:
		for v := range values {
			return v
		}
	}
	return "multiple"
}

func calculateTimeRange(events []trace.Event) TimeRange {
	if len(events) == 0 {
		return TimeRange{}
	}
	start, end := events[0].Timestamp, events[0].Timestamp
	for _, ev := range events[1:] {
		if ev.Timestamp.Before(start) {
			start = ev.Timestamp
		}
		if ev.Timestamp.After(end) {
			end = ev.Timestamp
		}
	}
	return TimeRange{Start: &start, End: &end}
}

func buildSummary(events []trace.Event) Summary {
	byDecision := map[string]int{"ALLOW": 0, "DENY": 0, "REQUIRE_APPROVAL": 0}
	byTool := map[string]ToolTally{}
	writeActions := WriteActionTally{}
	policyVersions := map[string]bool{}
	killSwitchActivations := 0

	for _, ev := range events {
		if _, ok := byDecision[ev.PolicyDecision]; ok {
			byDecision[ev.PolicyDecision]++
		}

		tally := byTool[ev.ToolName]
		switch ev.PolicyDecision {
		case "ALLOW":
			tally.Allowed++
		case "DENY":
			tally.Denied++
		}
		byTool[ev.ToolName] = tally

		if ev.IsWriteAction {
			writeActions.Total++
			if reversibleTools[ev.ToolName] {
				writeActions.Reversible++
			} else {
				writeActions.Irreversible++
			}
		}

		if ev.PolicyVersion != "" {
			policyVersions[ev.PolicyVersion] = true
		}
		if ev.MatchedRule == "kill_switch" {
			killSwitchActivations++
		}
	}

	versions := make([]string, 0, len(policyVersions))
	for v := range policyVersions {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	if len(versions) == 0 {
		versions = []string{"unknown"}
	}

	return Summary{
		TotalToolCalls:        len(events),
		ByDecision:            byDecision,
		ByTool:                byTool,
		WriteActions:          writeActions,
		PolicyVersionsUsed:    versions,
		KillSwitchActivations: killSwitchActivations,
	}
}

func (e *Exporter) buildTimeline(events []trace.Event) []TimelineEntry {
	timeline := make([]TimelineEntry, 0, len(events))
	for _, ev := range events {
		timeline = append(timeline, TimelineEntry{
			EventID:     ev.EventID,
			Timestamp:   ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ToolName:    ev.ToolName,
			Decision:    ev.PolicyDecision,
			Reason:      pii.ScrubText(ev.PolicyReason, e.PIIMode, e.PIITokenSalt),
			MatchedRule: ev.MatchedRule,
			DurationMS:  ev.DurationMS,
			Error:       pii.ScrubText(ev.Error, e.PIIMode, e.PIITokenSalt),
		})
	}
	return timeline
}

func buildPolicyAnalysis(events []trace.Event) PolicyAnalysis {
	type accum struct {
		count     int
		decisions map[string]bool
	}
	triggered := map[string]*accum{}
	defaultDenials := 0

	for _, ev := range events {
		rule := ev.MatchedRule
		if rule == "" {
			rule = "unknown"
		}
		entry, ok := triggered[rule]
		if !ok {
			entry = &accum{decisions: map[string]bool{}}
			triggered[rule] = entry
		}
		entry.count++
		entry.decisions[ev.PolicyDecision] = true
		if ev.PolicyDecision == "DENY" && (rule == "default_deny" || rule == "unknown") {
			defaultDenials++
		}
	}

	normalized := make(map[string]RuleUsage, len(triggered))
	for rule, entry := range triggered {
		decisions := make([]string, 0, len(entry.decisions))
		for d := range entry.decisions {
			decisions = append(decisions, d)
		}
		sort.Strings(decisions)
		normalized[rule] = RuleUsage{Count: entry.count, Decisions: decisions}
	}

	var untriggered []string
	for rule := range knownRules {
		if _, ok := triggered[rule]; !ok {
			untriggered = append(untriggered, rule)
		}
	}
	sort.Strings(untriggered)

	return PolicyAnalysis{
		RulesTriggered:   normalized,
		UntriggeredRules: untriggered,
		DefaultDenials:   defaultDenials,
	}
}

func extractWriteActions(events []trace.Event) []WriteAction {
	var actions []WriteAction
	for _, ev := range events {
		if !ev.IsWriteAction || !ev.Executed {
			continue
		}
		var approvedBy *string
		if ev.ApprovalTokenPresent {
			v := "token"
			approvedBy = &v
		}
		actions = append(actions, WriteAction{
			EventID:    ev.EventID,
			Timestamp:  ev.Timestamp.UTC().Format(time.RFC3339Nano),
			ToolName:   ev.ToolName,
			Reversible: reversibleTools[ev.ToolName],
			ApprovedBy: approvedBy,
		})
	}
	return actions
}

func detectAnomalies(events, allEvents []trace.Event) []Anomaly {
	var anomalies []Anomaly
	anomalies = append(anomalies, detectRapidFire(events)...)
	anomalies = append(anomalies, detectUnusualTools(events, allEvents)...)
	anomalies = append(anomalies, detectDeniedAfterApproval(events)...)
	return anomalies
}

func detectRapidFire(events []trace.Event) []Anomaly {
	if len(events) < 2 {
		return nil
	}
	sorted := make([]trace.Event, len(events))
	copy(sorted, events)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.Before(sorted[j].Timestamp) })

	var windowIDs []string
	for i, ev := range sorted {
		ids := []string{ev.EventID}
		for _, other := range sorted[i+1:] {
			if other.Timestamp.Sub(ev.Timestamp) <= time.Second {
				ids = append(ids, other.EventID)
			} else {
				break
			}
		}
		if len(ids) > 10 {
			windowIDs = ids
			break
		}
	}
	if windowIDs == nil {
		return nil
	}
	return []Anomaly{{
		Kind:        "rapid_fire",
		Description: "More than 10 tool calls within 1 second",
		EventIDs:    windowIDs,
	}}
}

func detectUnusualTools(events, allEvents []trace.Event) []Anomaly {
	counts := map[string]int{}
	for _, ev := range allEvents {
		counts[ev.ToolName]++
	}
	var ids []string
	for _, ev := range events {
		if counts[ev.ToolName] == 1 {
			ids = append(ids, ev.EventID)
		}
	}
	if ids == nil {
		return nil
	}
	return []Anomaly{{
		Kind:        "unusual_tool",
		Description: "Tool used only once across all sessions",
		EventIDs:    ids,
	}}
}

func detectDeniedAfterApproval(events []trace.Event) []Anomaly {
	var ids []string
	for _, ev := range events {
		if ev.IsWriteAction && ev.ApprovalTokenPresent && ev.PolicyDecision == "DENY" {
			ids = append(ids, ev.EventID)
		}
	}
	if ids == nil {
		return nil
	}
	return []Anomaly{{
		Kind:        "denied_after_approval",
		Description: "Write action denied after approval token presented",
		EventIDs:    ids,
	}}
}

func buildIntegrity(events []trace.Event) Integrity {
	var sb strings.Builder
	for _, ev := range events {
		sb.WriteString(ev.EventID)
	}
	sum := sha256.Sum256([]byte(sb.String()))
	return Integrity{EventCount: len(events), Hash: hex.EncodeToString(sum[:])}
}

// ToJSON serializes a pack the way external auditors expect, with a
// fixed schema URL.
func ToJSON(pack *Pack) ([]byte, error) {
	payload := map[string]any{
		"$schema":          "https://sentinelgate.dev/schemas/evidence-pack-v1.json",
		"metadata":         pack.Metadata,
		"summary":          pack.Summary,
		"timeline":         pack.Timeline,
		"policy_analysis":  pack.PolicyAnalysis,
		"write_action_log": pack.WriteActionLog,
		"anomalies":        pack.Anomalies,
		"integrity":        pack.Integrity,
	}
	return json.MarshalIndent(payload, "", "  ")
}

// ToHTML renders a self-contained HTML report. PDF rendering is out of
// scope; callers asking for it get ErrUnsupportedFormat.
func ToHTML(pack *Pack) (string, error) {
	jsonBytes, err := ToJSON(pack)
	if err != nil {
		return "", err
	}
	jsonPayload := html.EscapeString(string(jsonBytes))

	var timelineRows strings.Builder
	for _, ev := range pack.Timeline {
		timelineRows.WriteString(formatTimelineRow(ev))
	}
	var writeRows strings.Builder
	for _, w := range pack.WriteActionLog {
		writeRows.WriteString(formatWriteRow(w))
	}
	var anomalyRows strings.Builder
	for _, a := range pack.Anomalies {
		anomalyRows.WriteString(formatAnomalyRow(a))
	}

	ruleNames := make([]string, 0, len(pack.PolicyAnalysis.RulesTriggered))
	for name := range pack.PolicyAnalysis.RulesTriggered {
		ruleNames = append(ruleNames, name)
	}
	sort.Strings(ruleNames)
	var ruleRows strings.Builder
	for _, name := range ruleNames {
		ruleRows.WriteString(formatRuleRow(name, pack.PolicyAnalysis.RulesTriggered[name]))
	}

	return fmt.Sprintf(htmlTemplate,
		html.EscapeString(pack.Metadata.SessionID),
		html.EscapeString(pack.Metadata.GeneratedAt.Format(time.RFC3339)),
		pack.Summary.TotalToolCalls,
		pack.Summary.ByDecision["ALLOW"],
		pack.Summary.ByDecision["DENY"],
		pack.Summary.ByDecision["REQUIRE_APPROVAL"],
		timelineRows.String(),
		ruleRows.String(),
		writeRows.String(),
		anomalyRows.String(),
		jsonPayload,
	), nil
}

// ToPDF is unimplemented; PDF rendering is out of scope for this
// exporter.
func ToPDF(_ *Pack) ([]byte, error) {
	return nil, fmt.Errorf("%w: pdf", ErrUnsupportedFormat)
}

func formatTimelineRow(ev TimelineEntry) string {
	return fmt.Sprintf(
		"<tr><td>%s</td><td>%s</td><td class=\"decision-%s\">%s</td><td>%s</td><td>%v</td></tr>\n",
		html.EscapeString(ev.Timestamp), html.EscapeString(ev.ToolName),
		html.EscapeString(ev.Decision), html.EscapeString(ev.Decision),
		html.EscapeString(ev.Reason), durationString(ev.DurationMS))
}

func durationString(d *int64) string {
	if d == nil {
		return ""
	}
	return fmt.Sprintf("%d", *d)
}

func formatWriteRow(w WriteAction) string {
	reversible := "no"
	if w.Reversible {
		reversible = "yes"
	}
	approvedBy := ""
	if w.ApprovedBy != nil {
		approvedBy = *w.ApprovedBy
	}
	return fmt.Sprintf(
		"<tr><td>%s</td><td>%s</td><td>%s</td><td>%s</td></tr>\n",
		html.EscapeString(w.Timestamp), html.EscapeString(w.ToolName),
		reversible, html.EscapeString(approvedBy))
}

func formatAnomalyRow(a Anomaly) string {
	return fmt.Sprintf(
		"<tr><td>%s</td><td>%s</td><td>%s</td></tr>\n",
		html.EscapeString(a.Kind), html.EscapeString(a.Description),
		html.EscapeString(strings.Join(a.EventIDs, ", ")))
}

func formatRuleRow(name string, usage RuleUsage) string {
	return fmt.Sprintf(
		"<tr><td>%s</td><td>%d</td><td>%s</td></tr>\n",
		html.EscapeString(name), usage.Count, html.EscapeString(strings.Join(usage.Decisions, ", ")))
}

const htmlTemplate = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Sentinelgate Evidence Pack</title>
  <style>
    :root { --bg: #f6f4ef; --card: #ffffff; --text: #1a1a1a; --muted: #5c5c5c;
      --allow: #0a7a32; --deny: #b00020; --pending: #7a5f00; --border: #e4e0d8; }
    * { box-sizing: border-box; }
    body { margin: 0; font-family: "Helvetica Neue", Arial, sans-serif; background: var(--bg); color: var(--text); }
    header { padding: 32px; border-bottom: 1px solid var(--border); }
    main { padding: 24px; display: grid; gap: 20px; }
    .grid { display: grid; gap: 16px; grid-template-columns: repeat(auto-fit, minmax(220px, 1fr)); }
    .card { background: var(--card); border: 1px solid var(--border); border-radius: 12px; padding: 16px; }
    .stat { font-size: 26px; font-weight: 600; }
    table { width: 100%%; border-collapse: collapse; }
    th, td { text-align: left; padding: 8px; border-bottom: 1px solid var(--border); font-size: 13px; }
    .decision-ALLOW { color: var(--allow); font-weight: 600; }
    .decision-DENY { color: var(--deny); font-weight: 600; }
    .decision-REQUIRE_APPROVAL { color: var(--pending); font-weight: 600; }
    pre { background: #111; color: #e6e6e6; padding: 16px; overflow: auto; border-radius: 12px; font-size: 12px; }
  </style>
</head>
<body>
  <header>
    <h1>Sentinelgate Evidence Pack</h1>
    <p>Session %s, generated %s</p>
  </header>
  <main>
    <section class="grid">
      <div class="card"><div class="stat">%d</div><div>Total tool calls</div></div>
      <div class="card"><div class="stat">%d</div><div>Allowed</div></div>
      <div class="card"><div class="stat">%d</div><div>Denied</div></div>
      <div class="card"><div class="stat">%d</div><div>Requires approval</div></div>
    </section>
    <section class="card"><h2>Timeline</h2>
      <table><thead><tr><th>Time</th><th>Tool</th><th>Decision</th><th>Reason</th><th>Duration (ms)</th></tr></thead>
      <tbody>%s</tbody></table>
    </section>
    <section class="card"><h2>Policy Analysis</h2>
      <table><thead><tr><th>Rule</th><th>Count</th><th>Decisions</th></tr></thead>
      <tbody>%s</tbody></table>
    </section>
    <section class="card"><h2>Write Actions</h2>
      <table><thead><tr><th>Time</th><th>Tool</th><th>Reversible</th><th>Approved By</th></tr></thead>
      <tbody>%s</tbody></table>
    </section>
    <section class="card"><h2>Anomalies</h2>
      <table><thead><tr><th>Type</th><th>Description</th><th>Event IDs</th></tr></thead>
      <tbody>%s</tbody></table>
    </section>
    <section class="card"><details><summary>Raw JSON</summary><pre>%s</pre></details></section>
  </main>
</body>
</html>`

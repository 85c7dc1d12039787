// Package taint tracks per-session DLP labels and blocks exfiltration
// tools from touching tainted sessions.
package taint

import (
	"context"
	"fmt"
	"sort"
)

// defaultExfiltrationTools are tools capable of moving data out of the
// session's trust boundary.
var defaultExfiltrationTools = map[string]bool{
	"api_post":   true,
	"file_write": true,
}

// defaultBlockedLabels are taint labels that trigger a DLP block when they
// intersect a tool's exfiltration risk.
var defaultBlockedLabels = map[string]bool{
	"pii":       true,
	"secret":    true,
	"sensitive": true,
}

// Store persists per-session taint label sets in the trace store.
type Store interface {
	GetSessionTaints(ctx context.Context, sessionID string) ([]string, error)
	SaveSessionTaints(ctx context.Context, sessionID string, labels []string) error
}

// Tracker merges incoming context labels into a session's persisted taint
// set and decides whether a tool call should be blocked for DLP reasons.
type Tracker struct {
	store              Store
	ExfiltrationTools  map[string]bool
	BlockedLabels      map[string]bool
}

// New builds a Tracker with the default exfiltration tools and blocked
// labels.
func New(store Store) *Tracker {
	return &Tracker{
		store:             store,
		ExfiltrationTools: defaultExfiltrationTools,
		BlockedLabels:     defaultBlockedLabels,
	}
}

// ObserveContext merges label hints from a request's context map
// (`taint_labels: []string`, `contains_sensitive_data: true -> "sensitive"`)
// into the session's stored label set. It writes back only when the merged
// set actually changes.
func (t *Tracker) ObserveContext(ctx context.Context, sessionID string, requestContext map[string]any) ([]string, error) {
	existing, err := t.store.GetSessionTaints(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	merged := toSet(existing)
	for _, label := range labelsFromContext(requestContext) {
		merged[label] = true
	}

	if setsEqual(merged, toSet(existing)) {
		return existing, nil
	}

	labels := fromSet(merged)
	if err := t.store.SaveSessionTaints(ctx, sessionID, labels); err != nil {
		return nil, err
	}
	return labels, nil
}

func labelsFromContext(requestContext map[string]any) []string {
	var labels []string
	if raw, ok := requestContext["taint_labels"]; ok {
		if list, ok := raw.([]any); ok {
			for _, item := range list {
				if s, ok := item.(string); ok {
					labels = append(labels, s)
				}
			}
		} else if list, ok := raw.([]string); ok {
			labels = append(labels, list...)
		}
	}
	if sensitive, ok := requestContext["contains_sensitive_data"].(bool); ok && sensitive {
		labels = append(labels, "sensitive")
	}
	return labels
}

// Labels returns the session's current taint label set.
func (t *Tracker) Labels(ctx context.Context, sessionID string) ([]string, error) {
	return t.store.GetSessionTaints(ctx, sessionID)
}

// BlockReason returns a non-empty denial string iff toolName is an
// exfiltration tool and the session's labels intersect the blocked set.
func (t *Tracker) BlockReason(ctx context.Context, sessionID, toolName string) (string, error) {
	if !t.ExfiltrationTools[toolName] {
		return "", nil
	}
	labels, err := t.store.GetSessionTaints(ctx, sessionID)
	if err != nil {
		return "", err
	}

	var hit []string
	for _, label := range labels {
		if t.BlockedLabels[label] {
			hit = append(hit, label)
		}
	}
	if len(hit) == 0 {
		return "", nil
	}
	sort.Strings(hit)
	return fmt.Sprintf("DLP taint guard blocked exfiltration tool %s for labels: %s", toolName, joinComma(hit)), nil
}

func toSet(items []string) map[string]bool {
	set := make(map[string]bool, len(items))
	for _, item := range items {
		set[item] = true
	}
	return set
}

func fromSet(set map[string]bool) []string {
	out := make([]string, 0, len(set))
	for item := range set {
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

func setsEqual(a, b map[string]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

func joinComma(items []string) string {
	out := ""
	for i, item := range items {
		if i > 0 {
			out += ", "
		}
		out += item
	}
	return out
}

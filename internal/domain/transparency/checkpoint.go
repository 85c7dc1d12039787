package transparency

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"
)

// Checkpoint records a Merkle root anchored for a session at a point in
// time, optionally acknowledged by an external anchor service.
type Checkpoint struct {
	SessionID   string    `json:"session_id"`
	RootHash    string    `json:"root_hash"`
	EventCount  int       `json:"event_count"`
	AnchoredAt  time.Time `json:"anchored_at"`
	AnchorSource string   `json:"anchor_source"`
	Status      string    `json:"status"` // anchored | failed
}

// CheckpointStore persists transparency checkpoints in the trace store.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp Checkpoint) error
	ListCheckpoints(ctx context.Context, sessionID string) ([]Checkpoint, error)
}

// EventProof is one entry of a session transparency report: a leaf and its
// inclusion proof against the session root, with a verified flag computed
// at build time.
type EventProof struct {
	EventID  string `json:"event_id"`
	LeafHash string `json:"leaf_hash"`
	Proof    Proof  `json:"proof"`
	Verified bool   `json:"verified"`
}

// Report is the full transparency report for a session: the root, every
// leaf's inclusion proof, and the history of anchored checkpoints.
type Report struct {
	SessionID   string       `json:"session_id"`
	RootHash    string       `json:"root_hash"`
	EventCount  int          `json:"event_count"`
	Proofs      []EventProof `json:"proofs"`
	Checkpoints []Checkpoint `json:"checkpoints"`
}

// Leaf is the minimal shape the report builder needs from a trace event.
type Leaf struct {
	EventID       string
	TimestampISO  string
	ToolName      string
	ArgumentsHash string
	Decision      string
}

// Anchor posts a checkpoint to an external URL if anchorURL is non-empty,
// with a short timeout, and never propagates a network error — failures
// are reflected in the checkpoint's Status field only.
type Anchor struct {
	URL     string
	Client  *http.Client
	Timeout time.Duration
}

// NewAnchor builds an Anchor. When rawURL is empty, Post always returns a
// local "anchored" checkpoint without making a network call.
func NewAnchor(rawURL string, timeout time.Duration) *Anchor {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Anchor{URL: rawURL, Client: &http.Client{Timeout: timeout}, Timeout: timeout}
}

// Post anchors rootHash/eventCount for sessionID. If no anchor URL is
// configured, the checkpoint is marked "anchored" with source "local".
func (a *Anchor) Post(ctx context.Context, sessionID, rootHash string, eventCount int) Checkpoint {
	now := time.Now().UTC()
	if a.URL == "" {
		return Checkpoint{
			SessionID: sessionID, RootHash: rootHash, EventCount: eventCount,
			AnchoredAt: now, AnchorSource: "local", Status: "anchored",
		}
	}

	parsed, err := url.Parse(a.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return Checkpoint{
			SessionID: sessionID, RootHash: rootHash, EventCount: eventCount,
			AnchoredAt: now, AnchorSource: a.URL, Status: "failed",
		}
	}

	body, _ := json.Marshal(map[string]any{
		"session_id": sessionID, "root_hash": rootHash, "event_count": eventCount,
		"anchored_at": now,
	})

	reqCtx, cancel := context.WithTimeout(ctx, a.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return Checkpoint{SessionID: sessionID, RootHash: rootHash, EventCount: eventCount, AnchoredAt: now, AnchorSource: a.URL, Status: "failed"}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.Client.Do(req)
	if err != nil {
		return Checkpoint{SessionID: sessionID, RootHash: rootHash, EventCount: eventCount, AnchoredAt: now, AnchorSource: a.URL, Status: "failed"}
	}
	defer resp.Body.Close()

	status := "anchored"
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		status = "failed"
	}
	return Checkpoint{SessionID: sessionID, RootHash: rootHash, EventCount: eventCount, AnchoredAt: now, AnchorSource: a.URL, Status: status}
}

// BuildReport builds the full transparency report for a session's leaves,
// in the order they were queried (timestamp ASC).
func BuildReport(sessionID string, leaves []Leaf, checkpoints []Checkpoint) Report {
	leafHashes := make([]string, len(leaves))
	for i, l := range leaves {
		leafHashes[i] = HashLeaf(CanonicalizeEvent(l.EventID, l.TimestampISO, l.ToolName, l.ArgumentsHash, l.Decision))
	}
	root := BuildRoot(leafHashes)

	proofs := make([]EventProof, len(leaves))
	for i, l := range leaves {
		proof, err := BuildInclusionProof(leafHashes, i)
		verified := false
		if err == nil {
			verified = VerifyInclusionProof(leafHashes[i], root, proof, len(leafHashes))
		}
		proofs[i] = EventProof{EventID: l.EventID, LeafHash: leafHashes[i], Proof: proof, Verified: verified}
	}

	return Report{
		SessionID:   sessionID,
		RootHash:    root,
		EventCount:  len(leaves),
		Proofs:      proofs,
		Checkpoints: checkpoints,
	}
}

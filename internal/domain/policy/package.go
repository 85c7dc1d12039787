package policy

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
)

// Package is the signed wire format for a policy bundle. bundle_hash is
// SHA-256 of the canonical JSON of bundle; signature is HMAC-SHA256 over
// the canonical JSON of {tenant_id, version, bundle_hash, signer} using a
// pre-shared secret.
type Package struct {
	TenantID   string         `json:"tenant_id"`
	Version    string         `json:"version"`
	Signer     string         `json:"signer"`
	BundleHash string         `json:"bundle_hash"`
	Bundle     map[string]any `json:"bundle"`
	Signature  string         `json:"signature"`
}

// canonicalJSON serializes v with sorted keys and no whitespace. Go's
// encoding/json already sorts map keys and emits no extraneous
// whitespace, so Marshal is canonical as long as every level is a
// map[string]any or a type with no custom ordering-sensitive MarshalJSON.
func canonicalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// HashBundle returns the hex-encoded SHA-256 of the canonical JSON of bundle.
func HashBundle(bundle map[string]any) (string, error) {
	payload, err := canonicalJSON(bundle)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}

type signaturePayload struct {
	TenantID   string `json:"tenant_id"`
	Version    string `json:"version"`
	BundleHash string `json:"bundle_hash"`
	Signer     string `json:"signer"`
}

// SignPackage computes the HMAC-SHA256 signature for pkg using secret,
// over the canonical JSON of {tenant_id, version, bundle_hash, signer}.
func SignPackage(pkg Package, secret []byte) (string, error) {
	payload, err := canonicalJSON(signaturePayload{
		TenantID:   pkg.TenantID,
		Version:    pkg.Version,
		BundleHash: pkg.BundleHash,
		Signer:     pkg.Signer,
	})
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// PackageVerifier verifies a signed Package against a pre-shared secret.
type PackageVerifier struct {
	Secret []byte
	// RequireSigned enforces that an unsigned bundle (empty signature) is
	// also treated as empty, per AGENTGATE_REQUIRE_SIGNED_POLICY.
	RequireSigned bool
}

// Verify checks bundle_hash first (constant-time), then signature
// (constant-time). On any mismatch, or when RequireSigned is set and the
// package carries no signature, the returned bundle is empty
// (deny-by-default everywhere) and ok is false.
func (v *PackageVerifier) Verify(pkg Package) (bundle map[string]any, ok bool) {
	if v.RequireSigned && pkg.Signature == "" {
		return map[string]any{}, false
	}

	computedHash, err := HashBundle(pkg.Bundle)
	if err != nil {
		return map[string]any{}, false
	}
	if subtle.ConstantTimeCompare([]byte(computedHash), []byte(pkg.BundleHash)) != 1 {
		return map[string]any{}, false
	}

	expectedSig, err := SignPackage(pkg, v.Secret)
	if err != nil {
		return map[string]any{}, false
	}
	if subtle.ConstantTimeCompare([]byte(expectedSig), []byte(pkg.Signature)) != 1 {
		return map[string]any{}, false
	}

	return pkg.Bundle, true
}

// LoadToolSet unwraps and verifies a signed Package and decodes its bundle
// into a ToolSet. On verification failure it returns the empty ToolSet
// (deny-by-default) and ok=false.
func (v *PackageVerifier) LoadToolSet(pkg Package) (ToolSet, bool) {
	bundle, ok := v.Verify(pkg)
	if !ok {
		return ToolSet{}, false
	}
	raw, err := json.Marshal(bundle)
	if err != nil {
		return ToolSet{}, false
	}
	var tools ToolSet
	if err := json.Unmarshal(raw, &tools); err != nil {
		return ToolSet{}, false
	}
	return tools, true
}

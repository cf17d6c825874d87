package admission

import (
	"encoding/json"
	"fmt"
	"os"
)

// WriteArtifact persists a Decision as the structured admission artifact
// file the Launcher reads at startup (spec §4.15 step 1, §6).
func WriteArtifact(path string, d Decision) error {
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("admission artifact: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("admission artifact: write %s: %w", path, err)
	}
	return nil
}

// ReadArtifact loads a Decision from an artifact file written by
// WriteArtifact.
func ReadArtifact(path string) (Decision, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Decision{}, fmt.Errorf("admission artifact: read %s: %w", path, err)
	}
	var d Decision
	if err := json.Unmarshal(data, &d); err != nil {
		return Decision{}, fmt.Errorf("admission artifact: unmarshal %s: %w", path, err)
	}
	return d, nil
}

// VerifyArtifact recomputes the decision hash from an artifact's own stored
// metrics and compares it against the stored hash, detecting tampering
// (spec §4.15 step 2). It does not re-run the decision rules: a changed
// outcome with unchanged metrics would also fail this check, since the
// outcome itself is part of the hashed tuple.
func VerifyArtifact(d Decision) error {
	metrics := Metrics{
		P95LatencyMS:         d.P95LatencyMS,
		P99LatencyMS:         d.P99LatencyMS,
		CriticalLatencyCount: d.CriticalErrors,
		DriftEvents24h:       d.DriftEvents24h,
		DiversityIndex:       d.DiversityIndex,
		ChallengerF1:         d.ChallengerF1,
	}
	want := DecisionHash(metrics, d.Decision)
	if want != d.DecisionHash {
		return fmt.Errorf("admission artifact: hash mismatch, got %s want %s", d.DecisionHash, want)
	}
	return nil
}

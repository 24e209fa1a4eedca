package audit

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psmp-io/psmp/pkg/models"
)

func newTestAuditor(t *testing.T, cfg Config) *Auditor {
	t.Helper()
	if cfg.Dir == "" {
		cfg.Dir = t.TempDir()
	}
	auditor, err := NewAuditor(cfg)
	require.NoError(t, err)
	return auditor
}

func entryFor(agent string, sensitivity models.Sensitivity, decision string) models.AuditEntry {
	return models.AuditEntry{
		AgentName:        agent,
		TaskType:         "code_generation",
		Sensitivity:      sensitivity,
		SelectedProvider: "ollama-local",
		PolicyDecision:   decision,
		PolicyName:       "default_local_first",
		Organization:     "acme",
		DataResidency:    models.ResidencyLocal,
	}
}

func TestAuditorWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	auditor := newTestAuditor(t, Config{Dir: dir, HashChain: true})

	auditor.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed))
	auditor.Record(entryFor("ml-engineer", models.SensitivitySensitive, DecisionAllowed))
	require.NoError(t, auditor.Close())

	data, err := os.ReadFile(filepath.Join(dir, "compliance_audit_acme.jsonl"))
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)

	var first, second models.AuditEntry
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))

	assert.Equal(t, "planner", first.AgentName)
	assert.Empty(t, first.PrevHash, "chain starts empty")
	assert.NotEmpty(t, first.EntryHash)
	assert.Equal(t, first.EntryHash, second.PrevHash, "entries chain forward")
}

func TestAuditorChainSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	auditor := newTestAuditor(t, Config{Dir: dir, HashChain: true})
	auditor.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed))
	require.NoError(t, auditor.Close())

	reopened := newTestAuditor(t, Config{Dir: dir, HashChain: true})
	reopened.Record(entryFor("qa", models.SensitivityPublic, DecisionAllowed))
	require.NoError(t, reopened.Close())

	verifier := newTestAuditor(t, Config{Dir: dir, HashChain: true})
	defer verifier.Close()
	assert.NoError(t, verifier.Verify("acme"))
}

func TestAuditorVerifyDetectsTampering(t *testing.T) {
	dir := t.TempDir()
	auditor := newTestAuditor(t, Config{Dir: dir, HashChain: true})
	for i := 0; i < 3; i++ {
		auditor.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed))
	}
	require.NoError(t, auditor.Close())

	path := filepath.Join(dir, "compliance_audit_acme.jsonl")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "code_generation", "something_else", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0644))

	verifier := newTestAuditor(t, Config{Dir: dir, HashChain: true})
	defer verifier.Close()
	assert.Error(t, verifier.Verify("acme"))
}

func TestRecordStrictReportsWriteFailure(t *testing.T) {
	dir := t.TempDir()
	// A directory where the log file belongs makes the writer's open fail.
	require.NoError(t, os.Mkdir(filepath.Join(dir, "compliance_audit_acme.jsonl"), 0o755))

	strict := newTestAuditor(t, Config{Dir: dir, HashChain: true, Strict: true})
	err := strict.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed))
	require.Error(t, err)
	require.NoError(t, strict.Close())
}

func TestRecordNonStrictSwallowsWriteFailure(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.Mkdir(filepath.Join(dir, "compliance_audit_acme.jsonl"), 0o755))

	auditor := newTestAuditor(t, Config{Dir: dir, HashChain: true})
	assert.NoError(t, auditor.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed)))
	require.NoError(t, auditor.Close())
}

func TestAuditorQueryFilters(t *testing.T) {
	auditor := newTestAuditor(t, Config{})
	auditor.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed))
	auditor.Record(entryFor("ml-engineer", models.SensitivitySensitive, DecisionAllowed))
	auditor.Record(entryFor("security-reviewer", models.SensitivityCritical, DecisionDenied))
	require.NoError(t, auditor.Close())

	t.Run("by agent", func(t *testing.T) {
		entries, err := auditor.Query("acme", models.AuditFilters{Agent: "planner"}, models.AuditWindow{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "planner", entries[0].AgentName)
	})

	t.Run("by sensitivity", func(t *testing.T) {
		entries, err := auditor.Query("acme", models.AuditFilters{Sensitivity: models.SensitivityCritical}, models.AuditWindow{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, DecisionDenied, entries[0].PolicyDecision)
	})

	t.Run("window excludes old entries", func(t *testing.T) {
		entries, err := auditor.Query("acme", models.AuditFilters{}, models.AuditWindow{
			From: time.Now().Add(time.Hour),
		})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("unknown org is empty", func(t *testing.T) {
		entries, err := auditor.Query("ghost", models.AuditFilters{}, models.AuditWindow{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

func TestAuditorSummarize(t *testing.T) {
	auditor := newTestAuditor(t, Config{})
	auditor.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed))
	auditor.Record(entryFor("planner", models.SensitivityInternal, DecisionAllowed))
	auditor.Record(entryFor("security-reviewer", models.SensitivityCritical, DecisionDenied))
	require.NoError(t, auditor.Close())

	summary, err := auditor.Summarize("acme", models.AuditWindow{})
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Total)
	assert.Equal(t, 2, summary.ByAgent["planner"])
	assert.Equal(t, 1, summary.BySensitivity[models.SensitivityCritical])
	assert.Equal(t, 1, summary.PolicyViolations)
}

func TestAuditorSeparatesOrganizations(t *testing.T) {
	dir := t.TempDir()
	auditor := newTestAuditor(t, Config{Dir: dir})

	acme := entryFor("planner", models.SensitivityInternal, DecisionAllowed)
	other := entryFor("planner", models.SensitivityInternal, DecisionAllowed)
	other.Organization = "globex"
	auditor.Record(acme)
	auditor.Record(other)
	require.NoError(t, auditor.Close())

	_, err := os.Stat(filepath.Join(dir, "compliance_audit_acme.jsonl"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "compliance_audit_globex.jsonl"))
	assert.NoError(t, err)
}

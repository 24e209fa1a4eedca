package audit

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/psmp-io/psmp/pkg/models"
)

// Query reads an organization's audit trail in chronological order, applying
// the given filters and time window. A missing log file yields an empty
// result, not an error.
func (a *Auditor) Query(org string, filters models.AuditFilters, window models.AuditWindow) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := a.scan(org, func(entry models.AuditEntry) {
		if matches(entry, filters, window) {
			out = append(out, entry)
		}
	})
	return out, err
}

// Summarize aggregates an organization's audit trail over a window.
func (a *Auditor) Summarize(org string, window models.AuditWindow) (*models.AuditSummary, error) {
	summary := &models.AuditSummary{
		ByAgent:       make(map[string]int),
		BySensitivity: make(map[models.Sensitivity]int),
		ByProvider:    make(map[string]int),
	}
	err := a.scan(org, func(entry models.AuditEntry) {
		if !matches(entry, models.AuditFilters{}, window) {
			return
		}
		summary.Total++
		summary.ByAgent[entry.AgentName]++
		summary.BySensitivity[entry.Sensitivity]++
		if entry.SelectedProvider != "" {
			summary.ByProvider[entry.SelectedProvider]++
		}
		if entry.PolicyDecision == DecisionDenied {
			summary.PolicyViolations++
		}
	})
	if err != nil {
		return nil, err
	}
	return summary, nil
}

// Verify walks an organization's hash chain and reports the first break.
// Entries written with chaining disabled fail verification.
func (a *Auditor) Verify(org string) error {
	prev := ""
	index := 0
	var verifyErr error
	err := a.scan(org, func(entry models.AuditEntry) {
		index++
		if verifyErr != nil {
			return
		}
		if entry.PrevHash != prev {
			verifyErr = fmt.Errorf("audit chain broken at entry %d: prev_hash mismatch", index)
			return
		}
		want, err := chainHash(entry)
		if err != nil {
			verifyErr = err
			return
		}
		if entry.EntryHash != want {
			verifyErr = fmt.Errorf("audit chain broken at entry %d: entry_hash mismatch", index)
			return
		}
		prev = entry.EntryHash
	})
	if err != nil {
		return err
	}
	return verifyErr
}

func matches(entry models.AuditEntry, filters models.AuditFilters, window models.AuditWindow) bool {
	if filters.Agent != "" && entry.AgentName != filters.Agent {
		return false
	}
	if filters.Sensitivity != "" && entry.Sensitivity != filters.Sensitivity {
		return false
	}
	if filters.Provider != "" && entry.SelectedProvider != filters.Provider {
		return false
	}
	if filters.PolicyName != "" && entry.PolicyName != filters.PolicyName {
		return false
	}
	if !window.From.IsZero() && entry.Timestamp.Before(window.From) {
		return false
	}
	if !window.To.IsZero() && entry.Timestamp.After(window.To) {
		return false
	}
	return true
}

// scan streams the org's log file line by line in write order.
func (a *Auditor) scan(org string, fn func(models.AuditEntry)) error {
	file, err := os.Open(a.logPath(org))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var entry models.AuditEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			return fmt.Errorf("corrupt audit entry at line %d: %w", line, err)
		}
		fn(entry)
	}
	return scanner.Err()
}

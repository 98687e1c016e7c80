package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/arkade-os/moneypot/internal/core/application"
	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/shopspring/decimal"
)

// Octas per APT.
const aptDecimals = 8

func formatApt(octas uint64) string {
	amount := decimal.NewFromBigInt(new(big.Int).SetUint64(octas), -aptDecimals)
	return fmt.Sprintf("%s APT", amount.String())
}

func printJSON(resp any) error {
	jsonBytes, err := json.MarshalIndent(resp, "", "\t")
	if err != nil {
		return err
	}
	fmt.Println(string(jsonBytes))
	return nil
}

func formatPot(pot *domain.Pot) string {
	expiresAt := "never"
	if t := pot.ExpiresAtTime(); !t.IsZero() {
		expiresAt = t.UTC().Format(time.RFC3339)
	}
	lines := []string{
		fmt.Sprintf("pot %d", pot.Id),
		fmt.Sprintf("   creator: %s", pot.Creator),
		fmt.Sprintf("   amount: %s", formatApt(pot.TotalAmount)),
		fmt.Sprintf("   fee: %s", formatApt(pot.Fee)),
		fmt.Sprintf("   1fa address: %s", pot.OneFaAddress),
		fmt.Sprintf("   expires at: %s", expiresAt),
		fmt.Sprintf("   active: %t", pot.IsActive),
		fmt.Sprintf("   attempts: %d", pot.AttemptsCount),
	}
	return strings.Join(lines, "\n")
}

func formatAttempt(attempt *domain.Attempt) string {
	return strings.Join([]string{
		fmt.Sprintf("attempt %d", attempt.Id),
		fmt.Sprintf("   pot: %d", attempt.PotId),
		fmt.Sprintf("   hunter: %s", attempt.Hunter),
		fmt.Sprintf("   status: %s", attempt.Status),
	}, "\n")
}

func formatDemoReport(report *application.DemoReport) string {
	lines := []string{"demo summary"}
	if !report.HasPot() {
		lines = append(lines, "   no pot created")
		return strings.Join(lines, "\n")
	}

	lines = append(lines,
		fmt.Sprintf("   pot: %d", report.PotId),
		fmt.Sprintf("   1fa address: %s", report.OneFaAddress),
	)
	for i, step := range report.Steps {
		lines = append(lines, fmt.Sprintf("   step %d: %s (%d)", i+1, step.Name, step.Id))
	}
	if report.FailedAttemptId > 0 {
		lines = append(lines, fmt.Sprintf("   failed attempt: %d", report.FailedAttemptId))
	}
	if report.SucceededAttemptId > 0 {
		lines = append(lines, fmt.Sprintf("   succeeded attempt: %d", report.SucceededAttemptId))
	}
	if report.FinalPot != nil {
		lines = append(lines, fmt.Sprintf("   final pot active: %t", report.FinalPot.IsActive))
	}
	lines = append(lines, fmt.Sprintf("   completed: %t", report.Completed))
	return strings.Join(lines, "\n")
}

func formatSweepReport(report *application.SweepReport) string {
	lines := []string{
		fmt.Sprintf("sweep %s", report.RunId),
		fmt.Sprintf("   now: %s", report.Now.UTC().Format(time.RFC3339)),
		fmt.Sprintf("   checked: %d", report.Checked),
		fmt.Sprintf("   expired found: %d", len(report.Attempted)),
		fmt.Sprintf(
			"   batches: %d submitted, %d failed", report.BatchesSubmitted, report.BatchesFailed,
		),
		fmt.Sprintf("   succeeded: %d", len(report.Succeeded)),
	}
	for _, s := range report.Succeeded {
		lines = append(lines, fmt.Sprintf("      pot %d: %s", s.PotId, s.TxHash))
	}
	lines = append(lines, fmt.Sprintf("   failed: %d %v", len(report.Failed), report.Failed))
	if len(report.Unconfirmed) > 0 {
		lines = append(lines, fmt.Sprintf(
			"   unconfirmed: %d %v", len(report.Unconfirmed), report.Unconfirmed,
		))
	}
	lines = append(lines, fmt.Sprintf("   took: %s", report.Duration.Round(time.Millisecond)))
	return strings.Join(lines, "\n")
}

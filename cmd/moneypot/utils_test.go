package main

import (
	"testing"
	"time"

	"github.com/arkade-os/moneypot/internal/core/application"
	"github.com/arkade-os/moneypot/internal/core/domain"
	"github.com/stretchr/testify/require"
)

func TestFormatApt(t *testing.T) {
	fixtures := []struct {
		octas    uint64
		expected string
	}{
		{0, "0 APT"},
		{1_000, "0.00001 APT"},
		{1_000_000, "0.01 APT"},
		{100_000_000, "1 APT"},
		{123_456_789, "1.23456789 APT"},
	}

	for _, f := range fixtures {
		require.Equal(t, f.expected, formatApt(f.octas))
	}
}

func TestFormatReports(t *testing.T) {
	t.Run("demo without pot", func(t *testing.T) {
		out := formatDemoReport(&application.DemoReport{})
		require.Contains(t, out, "no pot created")
	})

	t.Run("partial demo", func(t *testing.T) {
		out := formatDemoReport(&application.DemoReport{
			PotId:           7,
			FailedAttemptId: 3,
			Steps: []application.DemoStep{
				{Name: string(domain.OperationCreatePot), Id: 7},
				{Name: string(domain.OperationAttemptPot), Id: 3},
			},
		})
		require.Contains(t, out, "pot: 7")
		require.Contains(t, out, "failed attempt: 3")
		require.Contains(t, out, "completed: false")
	})

	t.Run("sweep", func(t *testing.T) {
		out := formatSweepReport(&application.SweepReport{
			RunId:     "run",
			Now:       time.Unix(1_700_000_000, 0),
			Checked:   5,
			Attempted: []uint64{1, 2, 3},
			Succeeded: []application.ExpiredPot{
				{PotId: 1, TxHash: "0xaa"},
				{PotId: 2, TxHash: "0xbb"},
			},
			Failed:           []uint64{3},
			Unconfirmed:      []uint64{2},
			BatchesSubmitted: 1,
			BatchesFailed:    1,
		})
		require.Contains(t, out, "expired found: 3")
		require.Contains(t, out, "pot 2: 0xbb")
		require.Contains(t, out, "failed: 1 [3]")
		require.Contains(t, out, "unconfirmed: 1 [2]")
	})

	t.Run("pot", func(t *testing.T) {
		out := formatPot(&domain.Pot{Id: 9, TotalAmount: 1_000_000, Fee: 1_000, IsActive: true})
		require.Contains(t, out, "amount: 0.01 APT")
		require.Contains(t, out, "expires at: never")
	})
}

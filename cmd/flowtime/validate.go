package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FlowtimeProject/flowtime/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate <scenario.yaml>",
	Short: "Validate a scenario file without running it",
	Args:  cobra.ExactArgs(1),
	RunE:  validateScenario,
}

func validateScenario(cmd *cobra.Command, args []string) error {
	scenario, err := config.Load(args[0])
	if err != nil {
		return err
	}

	if _, err := scenario.ClockConfig(); err != nil {
		return fmt.Errorf("invalid scenario: %w", err)
	}

	fmt.Printf("Scenario: %s\n", scenario.Name)
	if scenario.Description != "" {
		fmt.Printf("Description: %s\n", scenario.Description)
	}
	fmt.Println()

	fmt.Printf("Mode: %s\n", scenario.Clock.Mode)
	fmt.Printf("Tick size: %s\n", scenario.Clock.TickSize.Duration())
	if !scenario.Clock.StartTime.IsZero() {
		fmt.Printf("Start: %s\n", scenario.Clock.StartTime)
	}
	if !scenario.Clock.EndTime.IsZero() {
		fmt.Printf("End: %s\n", scenario.Clock.EndTime)
	}
	if scenario.Clock.Sequential {
		fmt.Println("Dispatch: sequential")
	}
	fmt.Println()

	fmt.Printf("Processors: %d\n", len(scenario.Processors))
	for _, p := range scenario.Processors {
		fmt.Printf("  - %s (%s", p.Name, p.Kind)
		if p.Network {
			fmt.Printf(", network")
		}
		if p.Work.Duration() > 0 {
			fmt.Printf(", work: %s", p.Work.Duration())
		}
		if p.FailRate > 0 {
			fmt.Printf(", fail rate: %.0f%%", p.FailRate*100)
		}
		fmt.Printf(")\n")
	}
	fmt.Println()

	policy := scenario.BackoffPolicy()
	fmt.Printf("Retry: %d retries, backoff %s..%s x%.1f\n",
		scenario.Retry.MaxRetries, policy.Base, policy.Max, policy.Multiplier)
	fmt.Println()

	fmt.Println("Scenario is valid.")
	return nil
}

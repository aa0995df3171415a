package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"ma-cross-alerts/internal/signal"
)

var (
	simulateSymbol    string
	simulateDirection string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "Push a synthetic crossover through the alert pipeline",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateSymbol == "" {
			return fmt.Errorf("--symbol must be provided")
		}

		var direction signal.Direction
		switch simulateDirection {
		case "up":
			direction = signal.Up
		case "down":
			direction = signal.Down
		default:
			return fmt.Errorf("--direction must be up or down, got %q", simulateDirection)
		}

		return getApp().SimulateAlert(cmd.Context(), simulateSymbol, direction)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateSymbol, "symbol", "BTCUSDT", "Symbol to simulate")
	simulateCmd.Flags().StringVar(&simulateDirection, "direction", "up", "Crossover direction (up or down)")
}

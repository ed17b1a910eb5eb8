package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var rotateCmd = &cobra.Command{
	Use:   "rotate SLOT DIRECTION",
	Short: "Turn a slot's encoder by one or more detents.",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		slot, err := parseSlot(args[0])
		if err != nil {
			return err
		}
		dir, err := parseDirection(args[1])
		if err != nil {
			return err
		}
		count, _ := cmd.Flags().GetInt("count")
		if count < 1 {
			return fmt.Errorf("--count must be >= 1")
		}

		envs := make([]IntentEnvelope, 0, count)
		for range count {
			env, err := newEnvelope("rotate", rotateData{Slot: slot, Direction: dir})
			if err != nil {
				return err
			}
			envs = append(envs, env)
		}
		return send(cmd, envs...)
	},
}

// slotCommand builds a command that sends typ for one slot.
func slotCommand(use, typ, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " SLOT",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := parseSlot(args[0])
			if err != nil {
				return err
			}
			env, err := newEnvelope(typ, slotData{Slot: slot})
			if err != nil {
				return err
			}
			return send(cmd, env)
		},
	}
}

// advanceCommand builds a command that sends typ with a direction.
func advanceCommand(typ, short string) *cobra.Command {
	return &cobra.Command{
		Use:   typ + " next|prev",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := parseDirection(args[0])
			if err != nil {
				return err
			}
			env, err := newEnvelope(typ, directionData{Direction: dir})
			if err != nil {
				return err
			}
			return send(cmd, env)
		},
	}
}

func send(cmd *cobra.Command, envs ...IntentEnvelope) error {
	if err := sendIntents(socketPath, envs...); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "ok")
	return nil
}

func init() {
	rotateCmd.Flags().Int("count", 1, "Number of detents to send")

	rootCmd.AddCommand(
		rotateCmd,
		slotCommand("click", "click", "Short-press a slot's switch."),
		slotCommand("hold", "held", "Long-press a slot's switch (enters or leaves edit mode)."),
		advanceCommand("bank", "Move to the next or previous parameter bank."),
		advanceCommand("effect", "Select the next or previous effect."),
		listenCmd,
	)
}

// surfacectl injects control intents into a running modsurface daemon and
// tails its display websocket.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

const (
	defaultSocketPath = "/tmp/modsurface.sock"
	defaultDisplayURL = "ws://127.0.0.1:8090/ws/display"
)

var socketPath string

var rootCmd = &cobra.Command{
	Use:   "surfacectl",
	Short: "Drive a modsurface daemon without touching the hardware.",
	Long: `surfacectl sends rotate, click, hold, bank and effect intents over the ` +
		`modsurface IPC socket, as if the encoders and buttons had been used. ` +
		`listen prints display frames as they are broadcast.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&socketPath, "socket", defaultSocketPath, "modsurface IPC socket path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Print display frames from the daemon's websocket until interrupted.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		rawURL, _ := cmd.Flags().GetString("url")
		raw, _ := cmd.Flags().GetBool("raw")
		return listen(cmd.OutOrStdout(), rawURL, raw)
	},
}

func init() {
	listenCmd.Flags().String("url", defaultDisplayURL, "Websocket URL to tail (the display endpoint or the host itself)")
	listenCmd.Flags().Bool("raw", false, "Print frames verbatim instead of pretty JSON")
}

func listen(out io.Writer, rawURL string, raw bool) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid websocket URL: %w", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigc)

	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", u, err)
	}
	defer conn.Close()
	fmt.Fprintf(os.Stderr, "connected to %s (press Ctrl+C to exit)\n", u)

	done := make(chan error, 1)
	go func() { done <- printFrames(conn, out, raw) }()

	select {
	case <-sigc:
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		return nil
	case err := <-done:
		return err
	}
}

// printFrames writes every text frame to out until the connection closes.
func printFrames(conn *websocket.Conn, out io.Writer, raw bool) error {
	for {
		msgType, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return fmt.Errorf("read: %w", err)
		}
		if msgType != websocket.TextMessage {
			fmt.Fprintf(out, "[BINARY] %d bytes\n", len(msg))
			continue
		}
		fmt.Fprintln(out, formatFrame(msg, raw))
	}
}

// formatFrame pretty-prints JSON frames. Non-JSON frames, such as the host's
// plain text protocol, are printed as they are.
func formatFrame(msg []byte, raw bool) string {
	if raw {
		return string(msg)
	}
	var v any
	if err := json.Unmarshal(msg, &v); err != nil {
		return string(msg)
	}
	pretty, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(msg)
	}
	return string(pretty)
}

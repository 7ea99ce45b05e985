package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/yalochat/sdlc-assistant/internal/server"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the browser decision surface",
	Long: `Start the HTTP and websocket decision surface. Each browser action is
sent as one decision to the active run; events stream over /ws/events.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Port to listen on (default: server.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := newApp(os.Stderr)
	if err != nil {
		return err
	}
	defer a.Close()

	eng, err := a.newEngine()
	if err != nil {
		return err
	}
	if a.gateway == nil {
		printStatus("⚠", "No model configured: set llm.provider and its API key", color.FgYellow)
	}

	port := a.cfg.Server.Port
	if servePort > 0 {
		port = servePort
	}
	srv := server.New(eng, a.runStore(), a.newEngine, a.logger)
	printStatus("✓", fmt.Sprintf("Serving on http://localhost:%d (run %s)", port, eng.State.RunID), color.FgGreen)
	return srv.Start(":" + strconv.Itoa(port))
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "roadway",
	Short: "Roadway - reliable transactions over UDP datagrams",
	Long: `Roadway runs a datagram transaction stack: peers join a channel
through an identity handshake, establish per-session encryption keys,
and exchange sealed messages, all over plain UDP or QUIC datagrams.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Roadway version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
}

// Package cmd implements CLI commands using cobra framework.
package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"firestige.xyz/pcap-analyser/internal/config"
)

// Version is overridden at build time with -ldflags "-X".
var Version = "0.1.0"

// Global flags
var configFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "pcap-analyser",
	Short: "Offline latency and clock analysis of packet captures",
	Long: `pcap-analyser reads PCAP, PCAPNG and Sniffer capture files, decodes
Ethernet, IPv4/IPv6 and TCP/UDP, hands application payloads to the message
decoders bound in the configuration and reports:
  - request/response latency per host and message id
  - clock drift between capture timestamps and embedded time messages
  - burst spacing of periodic messages`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. SIGINT and SIGTERM cancel the context handed
// to the subcommands.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (defaults apply when empty)")

	rootCmd.AddCommand(analyseCmd)
	rootCmd.AddCommand(validateCmd)
}

func loadConfig() (*config.GlobalConfig, error) {
	if configFile == "" {
		return config.Default()
	}
	return config.Load(configFile)
}

package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"firestige.xyz/pcap-analyser/internal/capture"
	"firestige.xyz/pcap-analyser/internal/log"
)

var validateCmd = &cobra.Command{
	Use:   "validate <capture>...",
	Short: "Check that capture files can be read",
	Long: `Read only the global header of each capture and print its container
format, link type and size. No records are decoded.

Examples:
  pcap-analyser validate site-a.pcap site-b.pcapng`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runValidate(args, cmd.OutOrStdout())
	},
}

func runValidate(paths []string, w io.Writer) error {
	invalid := 0
	for _, path := range paths {
		gh, size, err := readGlobalHeader(path)
		if err != nil {
			invalid++
			fmt.Fprintf(w, "INVALID: %s: %v\n", path, err)
			continue
		}
		fmt.Fprintf(w, "VALID: %s: %s capture, link type %s, %s\n",
			path, gh.Format, gh.LinkType, humanize.Bytes(uint64(size)))
	}
	if invalid > 0 {
		return fmt.Errorf("%d of %d captures are invalid", invalid, len(paths))
	}
	return nil
}

func readGlobalHeader(path string) (capture.GlobalHeader, int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return capture.GlobalHeader{}, 0, err
	}
	c, err := capture.Detect(data, log.NewNop())
	if err != nil {
		return capture.GlobalHeader{}, len(data), err
	}
	gh, err := c.ReadGlobalHeader(capture.NewReader(data))
	return gh, len(data), err
}

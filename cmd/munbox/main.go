// munbox extracts classic Macintosh archives and transport encodings
// (StuffIt, Compact Pro, BinHex, MacBinary) into ordinary files, with
// optional AppleDouble sidecars for resource forks and Finder metadata.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

type options struct {
	outputDir   string
	appleDouble bool
	verbose     bool
	include     []string
}

func main() {
	var opts options
	var failed bool

	cmd := &cobra.Command{
		Use:           "munbox [flags] ARCHIVE...",
		Short:         "extract classic Mac archives (SIT, SIT5, CPT, HQX, BIN)",
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			level := slog.LevelWarn
			if opts.verbose {
				level = slog.LevelDebug
			}
			slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

			for _, archive := range args {
				if err := extract(archive, &opts); err != nil {
					fmt.Fprintf(os.Stderr, "munbox: %v\n", err)
					failed = true
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&opts.outputDir, "output-dir", "d", ".", "directory to extract into")
	cmd.Flags().BoolVar(&opts.appleDouble, "apple-double", false, "write ._name sidecars for metadata and resource forks")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "log every extracted fork")
	cmd.Flags().StringArrayVar(&opts.include, "include", nil, "extract only entries matching this glob (repeatable)")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "munbox: %v\n", err)
		os.Exit(2) // bad flags or no arguments
	}
	if failed {
		os.Exit(1)
	}
}

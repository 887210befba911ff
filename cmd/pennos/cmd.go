// Package cmd builds the pennos CLI: the embedding host process responsible
// for mounting the FAT image, booting the kernel and scheduler, and exposing
// a handful of diagnostic subcommands. It is a thin option layer over the
// real library packages, never imported by anything else.
package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/cobra"

	"github.com/pennos-project/pennos/internal/penlog"
	"github.com/pennos-project/pennos/internal/scheduler"
)

const appName = "pennos"

var log = penlog.New(os.Stderr)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "A teaching operating system core: priority scheduler + FAT file system.",
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

var (
	imageFlag   string
	quantumFlag time.Duration
)

func init() {
	defaultImage, err := xdg.DataFile(appName + "/pennos.fs")
	if err != nil {
		defaultImage = "pennos.fs"
	}
	rootCmd.PersistentFlags().StringVar(&imageFlag, "image", defaultImage, "path to the FAT image file")
	rootCmd.PersistentFlags().DurationVar(&quantumFlag, "quantum", scheduler.DefaultQuantum, "real-time length of one scheduling slice")

	rootCmd.AddCommand(mkfsCmd)
	rootCmd.AddCommand(demoCmd)
	rootCmd.AddCommand(uiCmd)
}

// SetupCommands builds the cobra command tree; main.go calls Execute on the
// result.
func SetupCommands() *cobra.Command {
	return rootCmd
}

func fail(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

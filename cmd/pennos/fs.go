package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pennos-project/pennos/internal/vfat"
)

// lsCmd prints first_block, perm-string, size, mtime, and name, one row per
// non-empty root directory entry.
var lsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List the files in the mounted image's root directory.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := vfat.Mount(imageFlag)
		if err != nil {
			fail("mount failed: %s", err)
		}
		defer fs.Unmount()

		entries, err := fs.Ls()
		if err != nil {
			fail("ls failed: %s", err)
		}

		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader([]string{"BLOCK", "PERM", "SIZE", "MTIME", "NAME"})
		for _, e := range entries {
			table.Append([]string{
				fmt.Sprint(e.FirstBlock),
				e.PermString(),
				fmt.Sprint(e.Size),
				e.ModTime().Format(time.RFC3339),
				e.Name,
			})
		}
		table.Render()
	},
}

var touchCmd = &cobra.Command{
	Use:   "touch FILE",
	Short: "Create FILE if absent, or bump its mtime.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := vfat.Mount(imageFlag)
		if err != nil {
			fail("mount failed: %s", err)
		}
		defer fs.Unmount()
		if err := fs.TouchSingle(args[0], time.Now().Unix()); err != nil {
			fail("touch failed: %s", err)
		}
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm FILE",
	Short: "Remove FILE, reclaiming its blocks.",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := vfat.Mount(imageFlag)
		if err != nil {
			fail("mount failed: %s", err)
		}
		defer fs.Unmount()
		if err := fs.Rm(args[0]); err != nil {
			fail("rm failed: %s", err)
		}
	},
}

var mvCmd = &cobra.Command{
	Use:   "mv SRC DST",
	Short: "Rename SRC to DST, overwriting DST if present.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := vfat.Mount(imageFlag)
		if err != nil {
			fail("mount failed: %s", err)
		}
		defer fs.Unmount()
		if err := fs.Mv(args[0], args[1], time.Now().Unix()); err != nil {
			fail("mv failed: %s", err)
		}
	},
}

var chmodCmd = &cobra.Command{
	Use:   "chmod MODE FILE",
	Short: "Apply a (+|-|=)[rwx]+ permission change to FILE.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := vfat.Mount(imageFlag)
		if err != nil {
			fail("mount failed: %s", err)
		}
		defer fs.Unmount()
		if err := fs.Chmod(args[0], args[1]); err != nil {
			fail("chmod failed: %s", err)
		}
	},
}

// cpHostFlag selects cp's host-interop direction.
var cpHostFlag string

var cpCmd = &cobra.Command{
	Use:   "cp SRC DST",
	Short: "Copy SRC to DST within the image, or across the host boundary with --host in|out.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		fs, err := vfat.Mount(imageFlag)
		if err != nil {
			fail("mount failed: %s", err)
		}
		defer fs.Unmount()

		switch cpHostFlag {
		case "":
			if err := fs.CpFSToFS(args[0], args[1], time.Now().Unix()); err != nil {
				fail("cp failed: %s", err)
			}
		case "in":
			if err := fs.CpFromHost(args[0], args[1], time.Now().Unix()); err != nil {
				fail("cp failed: %s", err)
			}
		case "out":
			if err := fs.CpToHost(args[0], args[1]); err != nil {
				fail("cp failed: %s", err)
			}
		default:
			fail("--host must be \"in\" or \"out\"")
		}
	},
}

func init() {
	cpCmd.Flags().StringVar(&cpHostFlag, "host", "", `"in" to copy a host file into the image, "out" to copy an image file to the host`)

	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(touchCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(mvCmd)
	rootCmd.AddCommand(chmodCmd)
	rootCmd.AddCommand(cpCmd)
}

package cmd

import (
	"strconv"

	"github.com/spf13/cobra"

	"github.com/pennos-project/pennos/internal/vfat"
)

var mkfsCmd = &cobra.Command{
	Use:   "mkfs BLOCKS_IN_FAT BLOCK_SIZE_CONFIG",
	Short: "Create a new FAT image at --image.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		blocksInFAT, err := strconv.Atoi(args[0])
		if err != nil {
			fail("invalid blocks_in_fat %q: %s", args[0], err)
		}
		blockSizeConfig, err := strconv.Atoi(args[1])
		if err != nil {
			fail("invalid block_size_config %q: %s", args[1], err)
		}
		if err := vfat.Mkfs(imageFlag, blocksInFAT, blockSizeConfig); err != nil {
			fail("mkfs failed: %s", err)
		}
		log.Raw().Infof("created FAT image at %s", imageFlag)
	},
}

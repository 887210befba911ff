package cmd

import (
	"github.com/spf13/cobra"

	"github.com/pennos-project/pennos/internal/statusui"
)

var uiAddr string

var uiCmd = &cobra.Command{
	Use:   "ui",
	Short: "Serve a read-only HTML dashboard over the live process table.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sys, err := boot(imageFlag)
		if err != nil {
			fail("boot failed: %s (did you run mkfs first?)", err)
		}
		defer sys.shutdown()

		go sys.driveScheduler()

		dash := statusui.New(sys.api)
		dash.Addr = uiAddr
		dash.RunUI()
	},
}

func init() {
	uiCmd.Flags().StringVar(&uiAddr, "addr", ":8080", "address to serve the dashboard on")
}

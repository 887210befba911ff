package cmd

import (
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/scheduler"
)

// napper yields for a fixed number of quanta, then exits normally.
func napper(ticks int) pcb.Entry {
	return func(p *pcb.PCB, ctx *pcb.Context, argv []string) {
		for i := 0; i < ticks; i++ {
			ctx.Yield()
		}
		p.Exit()
	}
}

const napperCount = 10

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Spawn nappers under the scheduler, renice one, kill one, start a sleep, and reap everything.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		sys, err := boot(imageFlag)
		if err != nil {
			fail("boot failed: %s (did you run mkfs first?)", err)
		}
		defer sys.shutdown()

		pids := make([]int, 0, napperCount)
		for i := 0; i < napperCount; i++ {
			name := fmt.Sprintf("napper_%d", i)
			ticks := 3 + i%4
			pid, err := sys.api.Spawn(sys.shell, napper(ticks), []string{name}, 0, 1, name)
			if err != nil {
				fail("spawn %s: %s", name, err)
			}
			pids = append(pids, pid)
		}

		if err := sys.api.Nice(pids[0], pcb.PriorityHigh); err != nil {
			fail("nice: %s", err)
		}
		if err := sys.api.Kill(pids[1], scheduler.SigTerm); err != nil {
			fail("kill: %s", err)
		}
		sys.api.Sleep(sys.shell, 5)

		toReap := napperCount + 1 // nappers plus the sleep child
		reaped := 0
		const maxSteps = 10_000 // generous upper bound; everything finishes in well under 100 quanta
		for step := 0; reaped < toReap && step < maxSteps; step++ {
			sys.api.Sched.Step()
			pid, kind, err := sys.api.Wait(sys.shell, nil, pcb.AnyChild, true)
			if err != nil {
				break
			}
			if pid > 0 {
				reaped++
				log.Raw().Infof("reaped pid %d (%s)", pid, kind)
			}
		}

		printPsTable(sys.api.Ps())
	},
}

func printPsTable(procs []pcb.PCB) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"PID", "PPID", "PRIORITY", "STATUS", "NAME"})
	for _, p := range procs {
		table.Append([]string{
			fmt.Sprint(p.PID),
			fmt.Sprint(p.ParentPID),
			fmt.Sprint(p.Priority),
			p.Status.String(),
			p.Name,
		})
	}
	table.Render()
}

package cmd

import (
	"context"
	"os"
	"time"

	"github.com/pennos-project/pennos/internal/clock"
	"github.com/pennos-project/pennos/internal/fdtable"
	"github.com/pennos-project/pennos/internal/hostinfo"
	"github.com/pennos-project/pennos/internal/kernel"
	"github.com/pennos-project/pennos/internal/pcb"
	"github.com/pennos-project/pennos/internal/procapi"
	"github.com/pennos-project/pennos/internal/scheduler"
	"github.com/pennos-project/pennos/internal/vfat"
)

// system is everything boot wires together: the mounted image, the
// registry/scheduler pair, the fd table over it, the process-API facade,
// and the shell-priority-class PCB (kernel.ShellPID) spawn()ed children
// default under.
type system struct {
	fs     *vfat.FileSystem
	clk    *clock.Quantum
	api    *procapi.API
	shell  *pcb.PCB
	sched  *scheduler.Scheduler
	cancel context.CancelFunc
}

// boot logs a host diagnostics banner, mounts the FAT image at path, and
// constructs the kernel/scheduler/fd-table/process-API stack: init first,
// then the scheduler around it, then the shell as init's first child.
func boot(path string) (*system, error) {
	logHostBanner()

	fs, err := vfat.Mount(path)
	if err != nil {
		return nil, err
	}

	clk := &clock.Quantum{}
	k := kernel.New(clk, log)
	init := k.Boot()
	sched := scheduler.New(k, init)
	sched.SetQuantum(quantumFlag)
	fds := fdtable.New(fs, func() int64 { return time.Now().Unix() }, os.Stdin, os.Stdout)
	api := procapi.New(k, sched, fds)

	shell := k.Create(init, "shell") // first Create after Boot, so this lands on kernel.ShellPID
	shell.OpenFDs = fdtable.NewProcessFDs()
	sched.Block(shell, pcb.NoWaitTarget) // parked forever: shell never runs a goroutine of its own

	return &system{fs: fs, clk: clk, api: api, shell: shell, sched: sched}, nil
}

// driveScheduler runs the scheduler loop until shutdown cancels it; callers
// that don't step the scheduler themselves (the ui subcommand) run this in
// its own goroutine.
func (s *system) driveScheduler() {
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.sched.Run(ctx)
}

func (s *system) shutdown() {
	if s.cancel != nil {
		s.cancel()
	}
	if err := s.fs.Unmount(); err != nil {
		log.Raw().Warnf("umount: %s", err)
	}
}

// logHostBanner reports host OS/kernel/CPU facts before mount, so a boot
// failure report always carries the environment it happened in.
func logHostBanner() {
	info := hostinfo.New().Collect()
	log.Raw().Infof("host OS: %s", info.OS)
	log.Raw().Infof("host kernel: %s", info.Kernel)
	log.Raw().Infof("host CPUs: %d (%s)", info.CPUCount, info.Arch)
	log.Raw().Infof("host id: %s", info.MachineID)
}

// Package dbs provides process-wide helpers shared by the distributed build
// scheduler's command-line entry point and its execution engine.
package dbs

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// InterruptibleContext returns a context which is canceled when the program
// is interrupted (i.e. receiving SIGINT or SIGTERM). The execution engine
// passes it to each Runner without checking it itself; ShellRunner starts
// commands with exec.CommandContext, so cancellation kills in-flight shell
// children and any command started afterwards fails immediately.
func InterruptibleContext() (context.Context, context.CancelFunc) {
	ctx, canc := context.WithCancel(context.Background())
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		// Subsequent signals result in immediate termination, useful in
		// case cleanup hangs:
		signal.Stop(sig)
		canc()
	}()
	return ctx, canc
}

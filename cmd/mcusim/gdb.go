package main

import (
	"context"
	"fmt"

	"github.com/juju/errors"

	"github.com/sarchlab/mcusim/debug"
)

func gdbCmd(ctx context.Context) (int, error) {
	o, err := optionsFromFlags()
	if err != nil {
		return exitConfigError, errors.Trace(err)
	}
	return serveGDB(ctx, o, nil)
}

// serveGDB builds the board and serves it until a client kills it or ctx
// is done. ready, when not nil, receives the server once it listens.
func serveGDB(ctx context.Context, o *options, ready chan<- *debug.Server) (int, error) {
	t, err := o.load(o.firmware, o.system)
	if err != nil {
		return exitConfigError, err
	}
	sink, override, err := o.openSink(t.desc)
	if err != nil {
		return exitConfigError, err
	}
	if sink != nil {
		defer sink.Close()
	}
	brd, err := t.build(sink, override)
	if err != nil {
		return exitConfigError, err
	}
	defer brd.Close()

	sess := debug.NewSession(brd)
	for _, bp := range o.breakpoints {
		sess.AddBreakpoint(bp)
	}

	srv, err := debug.Listen(o.gdbAddr, sess)
	if err != nil {
		return exitRuntimeError, errors.Trace(err)
	}
	fmt.Fprintf(o.stderr, "waiting for gdb on %s (target remote %s)\n", srv.Addr(), srv.Addr())
	if ready != nil {
		ready <- srv
	}

	err = srv.Serve(ctx)
	switch {
	case err == nil, errors.Cause(err) == debug.ErrKilled:
		return exitPass, nil
	}
	return exitRuntimeError, errors.Trace(err)
}

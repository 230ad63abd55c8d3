package cli

import (
	"github.com/myelnet/meshrpc/runtime"
	"github.com/myelnet/meshrpc/wire"
)

// wrapErr annotates err with the local call-site frame via runtime.Wrap
// when it carries a wire.Kind (§7 "Propagation"), so operators reading CLI
// output or logs get the frame where the failure surfaced locally rather
// than just the bare peer-raised message. Errors that never reached the
// wire layer (e.g. a cancelled context) pass through unchanged.
func wrapErr(err error) error {
	if werr, ok := err.(*wire.Error); ok {
		return runtime.Wrap(werr)
	}
	return err
}

package main

import (
	"tradereg/cmd/tradereg/commands"
	"tradereg/lib/osutil"
)

func main() {
	ctx, cancel := osutil.SignalContext()
	defer cancel()
	commands.ExecuteContext(ctx)
}

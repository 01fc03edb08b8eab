// Command coordctl is an operator CLI that talks to the backing store
// directly. Dispatches to subcommand handlers.
package main

import (
	"fmt"
	"os"
)

const usage = "Usage: coordctl <submit|status|cancel|cleanup|workers|stats|recover|watch> [options]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "submit":
		runSubmit(os.Args[2:])
	case "status":
		runStatus(os.Args[2:])
	case "cancel":
		runCancel(os.Args[2:])
	case "cleanup":
		runCleanup(os.Args[2:])
	case "workers":
		runWorkers(os.Args[2:])
	case "stats":
		runStats(os.Args[2:])
	case "recover":
		runRecover(os.Args[2:])
	case "watch":
		runWatch(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(1)
	}
}

// Command mpifleet finds machines on the local network, inspects them over
// SSH and installs OpenMPI on the ones you pick.
//
//	mpifleet scan --base 192.168.1.100 --count 10
//	mpifleet install --all
//	mpifleet serve
package main

import (
	"fmt"
	"os"
)

// Set at build time with -ldflags
var (
	version = "dev"
	commit  = "none"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

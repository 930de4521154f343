// Command aprslink-node connects to the configured APRS transport and logs
// every packet it receives until interrupted.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}

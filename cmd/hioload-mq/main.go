// File: cmd/hioload-mq/main.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

// Command hioload-mq runs a bridge node: it registers the endpoints named in
// its configuration, dispatches their traffic and exposes metrics and state
// over HTTP.
package main

import "os"

func main() {
	os.Exit(run(ParseFlags(os.Args[1:])))
}

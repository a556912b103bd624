// File: cmd/hioload-mq/cli.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	Watch      bool
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("hioload-mq", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.BoolVar(&opts.Watch, "watch", false, "Reload runtime settings when the config file changes")
	_ = fs.Parse(args)
	return opts
}

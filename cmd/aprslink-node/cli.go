package main

import "flag"

// Options holds CLI options for the node.
type Options struct {
	ConfigPath string
	Filter     string
	Raw        bool
}

// ParseFlags parses CLI flags from args and returns Options.
func ParseFlags(args []string) Options {
	fs := flag.NewFlagSet("aprslink-node", flag.ExitOnError)
	var opts Options
	fs.StringVar(&opts.ConfigPath, "config", "", "Path to YAML config file")
	fs.StringVar(&opts.Filter, "filter", "", "APRS-IS server-side filter, overrides aprs_network.filter")
	fs.BoolVar(&opts.Raw, "raw", false, "Log raw frames instead of decoded packets")
	_ = fs.Parse(args)
	return opts
}

package main

import (
	goflag "flag"
	"os"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"

	"github.com/elevated-systems/energyflow-dashboard/internal/cli"
)

func main() {
	klog.InitFlags(nil)
	// cobra merges pflag.CommandLine into the root flags, so -v and friends
	// work on every subcommand.
	pflag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	defer klog.Flush()

	if err := cli.Execute(os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		klog.Flush()
		os.Exit(1)
	}
}

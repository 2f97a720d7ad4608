package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/AndreyLalaev/mem/internal/cli"
	"github.com/AndreyLalaev/mem/internal/config"
	"github.com/AndreyLalaev/mem/internal/logging"
	"github.com/AndreyLalaev/mem/pkg/devmem"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("devmem", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to configuration file")
	device := fs.String("device", "", "memory device file (default "+devmem.DefaultDevice+")")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	var address, value string
	fs.StringVar(&address, "a", "", "physical address (same as -address)")
	fs.StringVar(&address, "address", "", "physical address, decimal or 0x hex")
	fs.StringVar(&value, "v", "", "value to write (same as -value)")
	fs.StringVar(&value, "value", "", "32-bit value to write, decimal or 0x hex")
	fs.Usage = func() {
		fmt.Fprintln(stderr, "usage: devmem [flags] ADDRESS [VALUE]")
		fmt.Fprintln(stderr, "       devmem [flags] -address ADDRESS [-value VALUE]")
		fs.PrintDefaults()
	}
	if err := fs.Parse(args); err != nil {
		return 2
	}

	// Load configuration
	cfg := config.DefaultConfig()
	if *configPath != "" {
		loaded, err := config.LoadConfig(*configPath)
		if err != nil {
			fmt.Fprintf(stderr, "failed to load configuration: %v\n", err)
			return 1
		}
		cfg = loaded
	}
	if *device != "" {
		cfg.Device = *device
	}
	if *verbose {
		cfg.Verbose = true
	}

	positional, err := cli.Merge(address, value, fs.Args())
	if err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return 2
	}
	req, err := cli.Parse(positional)
	if err != nil {
		fmt.Fprintln(stderr, err)
		fs.Usage()
		return 2
	}

	logger, err := logging.New(cfg.Verbose)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer logger.Sync()

	client := &devmem.Client{Device: cfg.Device, Logger: logger}

	if req.HasValue {
		if err := client.Write(req.Address, req.Value); err != nil {
			logger.Debug("write failed", zap.Error(err))
			fmt.Fprintf(stderr, "write 0x%X=0x%X failed: %v\n", req.Address, req.Value, errors.Cause(err))
			return 1
		}
		return 0
	}

	word, err := client.Read(req.Address)
	if err != nil {
		logger.Debug("read failed", zap.Error(err))
		fmt.Fprintf(stderr, "read 0x%X failed: %v\n", req.Address, errors.Cause(err))
		return 1
	}
	fmt.Fprintf(stdout, "0x%08X\n", word)
	return 0
}

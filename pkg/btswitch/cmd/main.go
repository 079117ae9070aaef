package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/MixyLabs/btswitch/pkg/btswitch"
)

var (
	gitCommit  string
	versionTag string
	buildType  string

	verbose    bool
	trayMode   bool
	configPath string
)

const (
	exitSuccess = 0
	exitFailure = 1
	exitUsage   = 2
)

func init() {
	flag.BoolVar(&verbose, "verbose", false, "show verbose logs")
	flag.BoolVar(&verbose, "v", false, "shorthand for --verbose")
	flag.BoolVar(&trayMode, "tray", false, "stay in the tray and switch profiles from its menu")
	flag.StringVar(&configPath, "config", "", "path to a config file (default: ./config.yaml, then the user config dir)")

	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <profile>\n       %s [flags] -tray\n\n", os.Args[0], os.Args[0])
		flag.PrintDefaults()
	}

	flag.Parse()
}

func main() {
	os.Exit(run())
}

func run() int {
	if !trayMode && flag.NArg() != 1 {
		flag.Usage()
		return exitUsage
	}

	logger, err := btswitch.NewLogger(buildType, verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		return exitFailure
	}

	named := logger.Named("main")
	named.Debug("Created logger")

	named.Debugw("Version info",
		"gitCommit", gitCommit,
		"versionTag", versionTag,
		"buildType", buildType)

	b, err := btswitch.NewBTSwitch(logger, configPath, verbose)
	if err != nil {
		named.Errorw("Failed to create btswitch object", "error", err)
		return exitFailure
	}

	if buildType != "" && (versionTag != "" || gitCommit != "") {
		identifier := gitCommit
		if versionTag != "" {
			identifier = versionTag
		}

		b.SetVersion(fmt.Sprintf("Version %s-%s", buildType, identifier))
	}

	if err := b.Initialize(); err != nil {
		named.Errorw("Failed to initialize btswitch", "error", err)
		return exitFailure
	}

	defer func() {
		if err := b.Stop(); err != nil {
			named.Warnw("Failed to stop btswitch cleanly", "error", err)
		}
	}()

	if trayMode {
		b.RunTray()
		return exitSuccess
	}

	res, err := b.Switch(flag.Arg(0))
	if err != nil || !res.Outcome.Succeeded() {
		return exitFailure
	}

	return exitSuccess
}

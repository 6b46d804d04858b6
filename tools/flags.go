package tools

import (
	"flag"
	"log"
)

const (
	CommandInfo    = "info"
	CommandPull    = "pull"
	CommandTileset = "tileset"
)

type FlagsGlobal struct {
	Help    *bool `json:"help"`
	Version *bool `json:"version"`
}

type StreamerFlags struct {
	Input            *string `json:"input"`
	PointBudget      *int    `json:"point_budget"`
	Concurrency      *int    `json:"concurrency"`
	RetryLimit       *int    `json:"retry_limit"`
	RetryCooldownSec *int    `json:"retry_cooldown_sec"`
	ExpandCap        *int    `json:"expand_cap"`
	EightBitColors   *bool
}

type FlagsForCommandInfo struct {
	StreamerFlags
	Silent       *bool
	LogTimestamp *bool
	Help         *bool
	Version      *bool
}

type FlagsForCommandPull struct {
	StreamerFlags
	West         *float64
	South        *float64
	East         *float64
	North        *float64
	Depth        *int
	Output       *string
	Silent       *bool
	LogTimestamp *bool
}

type FlagsForCommandTileset struct {
	StreamerFlags
	Output *string
}

func ParseFlagsGlobal() FlagsGlobal {
	help := defineBoolFlag("help", "h", false, "Displays this help.")
	version := defineBoolFlag("version", "v", false, "Displays the version of cloud_stream.")

	flag.Parse()

	return FlagsGlobal{
		Help:    help,
		Version: version,
	}
}

func defineStreamerFlagsCommand(flagCommand *flag.FlagSet) StreamerFlags {
	input := defineStringFlagCommand(flagCommand, "input", "i", "", "Specifies the input ept.json / COPC file or URL.")
	pointBudget := defineIntFlagCommand(flagCommand, "budget", "b", 1000000, "Maximum number of points resident in memory at once.")
	concurrency := defineIntFlagCommand(flagCommand, "concurrency", "c", 4, "Maximum number of node loads in flight.")
	retryLimit := defineIntFlagCommand(flagCommand, "retry-limit", "", 3, "Failed attempts before a node is permanently dropped.")
	retryCooldown := defineIntFlagCommand(flagCommand, "retry-cooldown", "", 5, "Seconds before a failed node becomes selectable again.")
	expandCap := defineIntFlagCommand(flagCommand, "expand-cap", "", 10, "Maximum EPT sub catalogs expanded per selection pass.")
	eightBit := defineBoolFlagCommand(flagCommand, "8bit", "", false, "Assumes the source has colors encoded in eight bit format. Default is false (16 bit color depth, auto detected per dataset).")

	return StreamerFlags{
		Input:            input,
		PointBudget:      pointBudget,
		Concurrency:      concurrency,
		RetryLimit:       retryLimit,
		RetryCooldownSec: retryCooldown,
		ExpandCap:        expandCap,
		EightBitColors:   eightBit,
	}
}

func ParseFlagsForCommandInfo(args []string) FlagsForCommandInfo {
	log.Println(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-info", flag.ExitOnError)

	streamerFlags := defineStreamerFlagsCommand(flagCommand)
	silent := defineBoolFlagCommand(flagCommand, "silent", "s", false, "Use to suppress all the non-error messages.")
	logTimestamp := defineBoolFlagCommand(flagCommand, "timestamp", "t", false, "Adds timestamp to log messages.")
	help := defineBoolFlagCommand(flagCommand, "help", "h", false, "Displays this help.")
	version := defineBoolFlagCommand(flagCommand, "version", "v", false, "Displays the version of cloud_stream.")

	flagCommand.Parse(args)

	return FlagsForCommandInfo{
		StreamerFlags: streamerFlags,
		Silent:        silent,
		LogTimestamp:  logTimestamp,
		Help:          help,
		Version:       version,
	}
}

func ParseFlagsForCommandPull(args []string) FlagsForCommandPull {
	log.Println(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-pull", flag.ExitOnError)

	streamerFlags := defineStreamerFlagsCommand(flagCommand)
	west := defineFloat64FlagCommand(flagCommand, "west", "", -180, "West edge of the viewport, WGS84 degrees.")
	south := defineFloat64FlagCommand(flagCommand, "south", "", -90, "South edge of the viewport, WGS84 degrees.")
	east := defineFloat64FlagCommand(flagCommand, "east", "", 180, "East edge of the viewport, WGS84 degrees.")
	north := defineFloat64FlagCommand(flagCommand, "north", "", 90, "North edge of the viewport, WGS84 degrees.")
	depth := defineIntFlagCommand(flagCommand, "depth", "d", 4, "Target octree depth to stream to.")
	output := defineStringFlagCommand(flagCommand, "output", "o", "", "Optional LAS file to write the pulled points to.")
	silent := defineBoolFlagCommand(flagCommand, "silent", "s", false, "Use to suppress all the non-error messages.")
	logTimestamp := defineBoolFlagCommand(flagCommand, "timestamp", "t", false, "Adds timestamp to log messages.")

	flagCommand.Parse(args)

	return FlagsForCommandPull{
		StreamerFlags: streamerFlags,
		West:          west,
		South:         south,
		East:          east,
		North:         north,
		Depth:         depth,
		Output:        output,
		Silent:        silent,
		LogTimestamp:  logTimestamp,
	}
}

func ParseFlagsForCommandTileset(args []string) FlagsForCommandTileset {
	log.Println(FmtJSONString(args))

	flagCommand := flag.NewFlagSet("command-tileset", flag.ExitOnError)

	streamerFlags := defineStreamerFlagsCommand(flagCommand)
	output := defineStringFlagCommand(flagCommand, "output", "o", "tileset.json", "Output file for the tileset index.")

	flagCommand.Parse(args)

	return FlagsForCommandTileset{
		StreamerFlags: streamerFlags,
		Output:        output,
	}
}

func defineStringFlag(name string, shortHand string, defaultValue string, usage string) *string {
	var output string
	flag.StringVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flag.StringVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineBoolFlag(name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flag.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name {
		flag.BoolVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

func defineStringFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue string, usage string) *string {
	var output string
	flagCommand.StringVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.StringVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineIntFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue int, usage string) *int {
	var output int
	flagCommand.IntVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.IntVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}

	return &output
}

func defineFloat64FlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue float64, usage string) *float64 {
	var output float64
	flagCommand.Float64Var(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.Float64Var(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

func defineBoolFlagCommand(flagCommand *flag.FlagSet, name string, shortHand string, defaultValue bool, usage string) *bool {
	var output bool
	flagCommand.BoolVar(&output, name, defaultValue, usage)
	if shortHand != name && shortHand != "" {
		flagCommand.BoolVar(&output, shortHand, defaultValue, usage+" (shorthand for "+name+")")
	}
	return &output
}

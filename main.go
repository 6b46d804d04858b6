package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/ecopia-map/cloud_stream/internal/events"
	"github.com/ecopia-map/cloud_stream/internal/geometry"
	"github.com/ecopia-map/cloud_stream/internal/streamer"
	"github.com/ecopia-map/cloud_stream/pkg"
	"github.com/ecopia-map/cloud_stream/pkg/format_manager"
	"github.com/ecopia-map/cloud_stream/tools"
)

const VERSION = "0.3.1"

const logo = `
       _                 _       _
   ___| | ___  _   _  __| |  ___| |_ _ __ ___  __ _ _ __ ___
  / __| |/ _ \| | | |/ _  | / __| __| '__/ _ \/ _  | '_   _ \
 | (__| | (_) | |_| | (_| | \__ \ |_| | |  __/ (_| | | | | | |
  \___|_|\___/ \__,_|\__,_| |___/\__|_|  \___|\__,_|_| |_| |_|
        viewport driven point cloud streaming for EPT and COPC
`

func main() {
	log.SetPrefix("[cloud_stream] ")
	log.SetFlags(log.LUTC | log.Ldate | log.Lmicroseconds | log.Lshortfile)

	flagsGlobal := tools.ParseFlagsGlobal()
	log.Println(tools.FmtJSONString(flagsGlobal))

	if *flagsGlobal.Version {
		printVersion()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		log.Fatal("Please specify a subcommand [info|pull|tileset].")
	}
	cmd, args := args[0], args[1:]

	switch cmd {
	case tools.CommandInfo:
		mainCommandInfo(args)
	case tools.CommandPull:
		mainCommandPull(args)
	case tools.CommandTileset:
		mainCommandTileset(args)
	default:
		log.Fatalf("Unrecognized command [%q]. Command must be one of [info|pull|tileset]", cmd)
	}
}

func streamerOptionsFromFlags(flags *tools.StreamerFlags) *streamer.StreamerOptions {
	opts := streamer.NewDefaultStreamerOptions()
	opts.Input = *flags.Input
	opts.PointBudget = int64(*flags.PointBudget)
	opts.Concurrency = *flags.Concurrency
	opts.RetryLimit = *flags.RetryLimit
	opts.RetryCooldown = time.Duration(*flags.RetryCooldownSec) * time.Second
	opts.ExpandCapPerPass = *flags.ExpandCap
	opts.EightBitColors = *flags.EightBitColors
	return opts
}

func newStreamerOrFail(opts *streamer.StreamerOptions) *pkg.Streamer {
	fetcher, err := pkg.NewFetcherForLocator(opts.Input)
	if err != nil {
		log.Fatal("Error preparing fetcher: ", err)
	}
	return pkg.NewStreamer(opts, fetcher, format_manager.NewStandardFormatManager(nil))
}

func mainCommandInfo(args []string) {
	flags := tools.ParseFlagsForCommandInfo(args)

	if *flags.Help {
		showHelp()
		return
	}
	if *flags.Version {
		printVersion()
		return
	}
	if *flags.Silent {
		tools.DisableLogger()
	} else {
		printLogo()
	}
	if !*flags.LogTimestamp {
		tools.DisableLoggerTimestamp()
	}

	if *flags.Input == "" {
		log.Fatal("Error parsing input parameters: input dataset not specified")
	}

	for i, dataset := range tools.NewStandardDatasetFinder().GetDatasetsToProcess(*flags.Input) {
		tools.LogOutput("Inspecting dataset " + strconv.Itoa(i+1) + " [" + dataset + "]")

		opts := streamerOptionsFromFlags(&flags.StreamerFlags)
		opts.Input = dataset
		opts.Command = tools.CommandInfo

		cloudStreamer := newStreamerOrFail(opts)
		info, err := cloudStreamer.Initialize(context.Background())
		if err != nil {
			log.Fatal("Error initializing dataset: ", err)
		}

		tools.LogOutput("format:", info.Format)
		tools.LogOutput("total points:", info.TotalPoints)
		tools.LogOutput("has color:", info.HasColor)
		tools.LogOutput("spacing:", info.Spacing)
		tools.LogOutput("epsg:", info.EpsgCode)
		tools.LogOutput("bounds:", tools.FmtJSONString(info.SourceBounds.GetAsArray()))

		printHierarchyStatistics(cloudStreamer)
		cloudStreamer.Teardown()
	}
}

// printHierarchyStatistics loads the root hierarchy through a whole dataset
// selection pass and reports node and point totals per depth
func printHierarchyStatistics(cloudStreamer *pkg.Streamer) {
	viewport := wholeWorldViewport(16)
	if _, err := cloudStreamer.SelectNodesForViewport(context.Background(), viewport); err != nil {
		log.Println("Cannot load hierarchy statistics: ", err)
		return
	}

	depths := cloudStreamer.Cache().CountByDepth()
	levels := make([]int, 0, len(depths))
	for depth := range depths {
		levels = append(levels, int(depth))
	}
	sort.Ints(levels)
	for _, depth := range levels {
		entry := depths[int32(depth)]
		tools.LogOutput("depth", depth, "nodes", entry[0], "points", entry[1])
	}
	states := cloudStreamer.Cache().CountByState()
	tools.LogOutput("known nodes:", cloudStreamer.Cache().Size(), "placeholders:", tools.FmtJSONString(states))
}

func wholeWorldViewport(targetDepth int) *geometry.Viewport {
	return &geometry.Viewport{
		West:        -180,
		South:       -90,
		East:        180,
		North:       90,
		TargetDepth: targetDepth,
	}
}

func mainCommandPull(args []string) {
	flags := tools.ParseFlagsForCommandPull(args)

	if *flags.Silent {
		tools.DisableLogger()
	} else {
		printLogo()
	}
	if !*flags.LogTimestamp {
		tools.DisableLoggerTimestamp()
	}

	if msg, res := validateOptionsForCommandPull(&flags); !res {
		log.Fatal("Error parsing input parameters: " + msg)
	}

	opts := streamerOptionsFromFlags(&flags.StreamerFlags)
	opts.Command = tools.CommandPull

	cloudStreamer := newStreamerOrFail(opts)
	defer cloudStreamer.Teardown()

	ctx := context.Background()
	if _, err := cloudStreamer.Initialize(ctx); err != nil {
		log.Fatal("Error initializing dataset: ", err)
	}

	cloudStreamer.Subscribe(events.EventBudgetReached, func(event events.Event) {
		tools.LogOutput("point budget reached at", event.ReservedPoints, "points")
	})
	cloudStreamer.Subscribe(events.EventError, func(event events.Event) {
		log.Println("node", event.NodeKey, "dropped:", event.Err)
	})

	viewport := &geometry.Viewport{
		West:        *flags.West,
		South:       *flags.South,
		East:        *flags.East,
		North:       *flags.North,
		CenterLon:   (*flags.West + *flags.East) / 2,
		CenterLat:   (*flags.South + *flags.North) / 2,
		TargetDepth: *flags.Depth,
	}

	// keep selecting and draining until a pass discovers nothing new: EPT
	// placeholder expansion can surface additional nodes after each pass
	for pass := 1; ; pass++ {
		candidates, err := cloudStreamer.SelectNodesForViewport(ctx, viewport)
		if err != nil {
			log.Fatal("Error selecting nodes: ", err)
		}

		queued := 0
		for _, node := range candidates {
			if cloudStreamer.QueueNode(node) {
				queued++
			}
		}
		if queued == 0 {
			break
		}

		tools.LogOutput("pass", pass, "queued", queued, "nodes")
		cloudStreamer.DrainQueue(ctx)
		cloudStreamer.WaitForLoads()
	}

	snapshot := cloudStreamer.LoadedSnapshot()
	tools.LogOutput("loaded", snapshot.PointCount, "points")

	if *flags.Output != "" {
		if err := pkg.ExportSnapshotToLas(snapshot, *flags.Output); err != nil {
			log.Fatal("Error exporting LAS: ", err)
		}
		tools.LogOutput("wrote", *flags.Output)
	}
}

func validateOptionsForCommandPull(flags *tools.FlagsForCommandPull) (string, bool) {
	if *flags.Input == "" {
		return "input dataset not specified", false
	}
	if *flags.West >= *flags.East || *flags.South >= *flags.North {
		return "viewport box is empty, check -west/-south/-east/-north", false
	}
	if *flags.PointBudget <= 0 {
		return "point budget must be positive", false
	}
	return "", true
}

func mainCommandTileset(args []string) {
	flags := tools.ParseFlagsForCommandTileset(args)

	if *flags.Input == "" {
		log.Fatal("Error parsing input parameters: input dataset not specified")
	}

	opts := streamerOptionsFromFlags(&flags.StreamerFlags)
	opts.Command = tools.CommandTileset

	cloudStreamer := newStreamerOrFail(opts)
	defer cloudStreamer.Teardown()

	ctx := context.Background()
	if _, err := cloudStreamer.Initialize(ctx); err != nil {
		log.Fatal("Error initializing dataset: ", err)
	}

	// one whole dataset selection pass materializes the known hierarchy
	if _, err := cloudStreamer.SelectNodesForViewport(ctx, wholeWorldViewport(16)); err != nil {
		log.Fatal("Error loading hierarchy: ", err)
	}

	if err := pkg.ExportTilesetIndex(cloudStreamer.Info(), cloudStreamer.Cache(), *flags.Output); err != nil {
		log.Fatal("Error writing tileset index: ", err)
	}
	tools.LogOutput("wrote", *flags.Output)
}

func printLogo() {
	fmt.Println(logo)
}

func printVersion() {
	fmt.Println("cloud_stream v" + VERSION)
}

func showHelp() {
	fmt.Println("cloud_stream v" + VERSION)
	fmt.Println("Usage: cloud_stream [info|pull|tileset] -input <dataset> [flags]")
	fmt.Println("Run a subcommand with -help for its flags.")
	fmt.Println("")
	fmt.Println("  info     initialize a dataset and print its metadata and hierarchy statistics")
	fmt.Println("  pull     stream every node intersecting a lon/lat box at a target depth")
	fmt.Println("  tileset  write a cesium style tileset.json index of the known hierarchy")
	os.Exit(0)
}

package main

import (
	"fmt"
	"os"
	"runtime"
	"strconv"

	"github.com/ansel1/merry"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jwilder/texcache"
)

var (
	logLevel string
	log      = logrus.New()
)

var rootCmd = &cobra.Command{
	Use:   "texcache",
	Short: "texcache places images in shared GPU texture arrays",
	Long:  `texcache is a frame-driven GPU texture cache. This tool simulates workloads against it and inspects its placement rules.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			return merry.Prependf(err, "--log-level")
		}
		log.SetLevel(level)
		return nil
	},
	SilenceUsage: true,
}

var (
	simConfigPath string
	simFrames     int
	simSeed       int64
	simMetrics    bool
	simKeepPixels bool
)

// SystemInfo describes the host the simulation runs on.
type SystemInfo struct {
	OS        string
	CPUCores  int
	MaxLayers int
}

func getSystemInfo() SystemInfo {
	return SystemInfo{
		OS:       runtime.GOOS + "/" + runtime.GOARCH,
		CPUCores: runtime.NumCPU(),
		// the cache applies the platform clamp to the default
		MaxLayers: texcache.NewTextureCache(texcache.Config{Logger: log}).MaxTextureLayers(),
	}
}

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Replay a synthetic frame workload",
	Long:  `Replay a deterministic workload of image requests through the texture cache and an in-memory GPU, then print occupancy statistics. The workload is read from --config (YAML) or a built-in default is used.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWorkload(simConfigPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("frames") {
			w.Frames = simFrames
		}
		if cmd.Flags().Changed("seed") {
			w.Seed = simSeed
		}

		sysInfo := getSystemInfo()
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "=== System Information ===")
		fmt.Fprintf(out, "OS: %s\n", sysInfo.OS)
		fmt.Fprintf(out, "CPU Cores: %d\n", sysInfo.CPUCores)
		fmt.Fprintf(out, "Default layer cap: %d\n\n", sysInfo.MaxLayers)

		sim, err := newSimulator(w, log, simKeepPixels)
		if err != nil {
			return err
		}
		result, err := sim.run()
		if err != nil {
			return err
		}
		printResult(out, result)
		if simMetrics {
			return printMetrics(out, result.Registry)
		}
		return nil
	},
}

var quantizeCmd = &cobra.Command{
	Use:   "quantize [width] [height]",
	Short: "Print the slab size an item would be stored in",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := parseSize(args[0], args[1])
		if err != nil {
			return err
		}
		if size.Width > texcache.RegionDimensions || size.Height > texcache.RegionDimensions {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: larger than a region, stored standalone\n", size)
			return nil
		}
		slab := texcache.QuantizeSlab(size)
		fmt.Fprintf(cmd.OutOrStdout(), "%s -> slab %s (%d per region)\n", size, slab, slab.SlotsPerRegion())
		return nil
	},
}

var (
	checkFormat string
	checkFilter string
)

var checkCmd = &cobra.Command{
	Use:   "check [width] [height]",
	Short: "Report whether an item is eligible for the shared arrays",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		size, err := parseSize(args[0], args[1])
		if err != nil {
			return err
		}
		format, ok := texcache.ParseImageFormat(checkFormat)
		if !ok {
			return merry.Errorf("unknown format %q", checkFormat)
		}
		filter, ok := texcache.ParseTextureFilter(checkFilter)
		if !ok {
			return merry.Errorf("unknown filter %q", checkFilter)
		}
		desc := texcache.ImageDescriptor{Size: size, Format: format}
		where := "standalone"
		if texcache.IsAllowedInSharedCache(filter, desc) {
			where = "shared, slab " + texcache.QuantizeSlab(size).String()
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s/%s: %s (%s)\n",
			size, format, filter, where, humanize.IBytes(uint64(desc.ComputeTotalSize())))
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective cache settings of a workload",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		w, err := loadWorkload(simConfigPath)
		if err != nil {
			return err
		}
		cfg, err := w.Cache.config()
		if err != nil {
			return err
		}
		cfg.Logger = log
		cache := texcache.NewTextureCache(cfg)

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Frames: %d every %s\n", w.Frames, w.interval)
		fmt.Fprintf(out, "Max texture layers: %d\n", cache.MaxTextureLayers())
		fmt.Fprintf(out, "Reclaim threshold: %s\n", humanize.IBytes(orDefault(cfg.ReclaimThresholdBytes, texcache.DefaultReclaimThresholdBytes)))
		fmt.Fprintf(out, "Pressure ceiling: %s\n", humanize.IBytes(orDefault(cfg.PressureBytes, texcache.DefaultPressureBytes)))
		fmt.Fprintf(out, "Debug clear evicted: %v\n", cfg.DebugFlags&texcache.DebugClearEvicted != 0)
		for _, g := range w.Groups {
			fmt.Fprintf(out, "Group %s: %d images %d..%dpx %s/%s %s, %d per frame\n",
				g.Name, g.Count, g.MinSize, g.MaxSize, g.format, g.filter, g.policy, g.PerFrame)
		}
		return nil
	},
}

func orDefault(v, def uint64) uint64 {
	if v == 0 {
		return def
	}
	return v
}

func parseSize(w, h string) (texcache.Size, error) {
	width, err := strconv.Atoi(w)
	if err != nil {
		return texcache.Size{}, merry.Prependf(err, "width")
	}
	height, err := strconv.Atoi(h)
	if err != nil {
		return texcache.Size{}, merry.Prependf(err, "height")
	}
	if width <= 0 || height <= 0 {
		return texcache.Size{}, merry.Errorf("size must be positive, got %dx%d", width, height)
	}
	return texcache.Size{Width: width, Height: height}, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")

	simulateCmd.Flags().StringVarP(&simConfigPath, "config", "c", "", "Workload file (YAML)")
	simulateCmd.Flags().IntVarP(&simFrames, "frames", "f", 0, "Override the number of frames")
	simulateCmd.Flags().Int64Var(&simSeed, "seed", 0, "Override the random seed")
	simulateCmd.Flags().BoolVar(&simMetrics, "metrics", false, "Print the Prometheus metrics after the run")
	simulateCmd.Flags().BoolVar(&simKeepPixels, "keep-pixels", false, "Store texture contents in the simulated GPU")

	checkCmd.Flags().StringVar(&checkFormat, "format", "bgra8", "Image format")
	checkCmd.Flags().StringVar(&checkFilter, "filter", "linear", "Texture filter")

	configCmd.Flags().StringVarP(&simConfigPath, "config", "c", "", "Workload file (YAML)")

	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(quantizeCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

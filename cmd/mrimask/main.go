package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"mrimask/pkg/config"
	"mrimask/pkg/dataset"
	"mrimask/pkg/remap"
	"mrimask/pkg/sampler"
	"mrimask/pkg/stats"
	"mrimask/pkg/store"
	"mrimask/pkg/visualization"
)

const usage = `Usage: mrimask <command> [flags]

Commands:
  build        Rasterize contours and write a new image/label store
  sample       Draw shuffled batches from a store
  stats        Print intensity and label statistics of a store
  viz          Write an overlay montage for one subject
  init-config  Write the default configuration file
`

func main() {
	log.SetFlags(log.LstdFlags)

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "build":
		err = runBuild(args)
	case "sample":
		err = runSample(args)
	case "stats":
		err = runStats(args)
	case "viz":
		err = runViz(args)
	case "init-config":
		err = runInitConfig(args)
	case "-h", "-help", "--help", "help":
		fmt.Print(usage)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(2)
	}

	if err != nil {
		log.Fatalf("%s failed: %v", os.Args[1], err)
	}
}

// loadConfig parses fs and returns the configuration named by -config.
func loadConfig(fs *flag.FlagSet, configPath *string, args []string) (*config.Config, error) {
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return config.LoadConfig(*configPath)
}

func paramsFromConfig(cfg *config.Config) *dataset.Params {
	return &dataset.Params{
		ContourSubdir:   cfg.Layout.ContourSubdir,
		ContourExt:      cfg.Layout.ContourExt,
		ImageExt:        cfg.Layout.ImageExt,
		SliceIndexStart: cfg.Layout.SliceIndexStart,
		SliceIndexEnd:   cfg.Layout.SliceIndexEnd,
		Verbose:         cfg.Output.Verbose,
	}
}

func runBuild(args []string) error {
	fs := flag.NewFlagSet("build", flag.ExitOnError)
	configPath := fs.String("config", "mrimask.yaml", "YAML configuration file")
	contourDir := fs.String("contours", "", "Root directory of contour subjects")
	imageDir := fs.String("images", "", "Root directory of DICOM subjects")
	linkFile := fs.String("link", "", "CSV linking imaging IDs to contour IDs")
	outFile := fs.String("out", "", "Store file to create (must not exist)")
	quiet := fs.Bool("quiet", false, "Only log the final summary")

	cfg, err := loadConfig(fs, configPath, args)
	if err != nil {
		return err
	}
	if *contourDir == "" || *imageDir == "" || *linkFile == "" || *outFile == "" {
		fs.Usage()
		os.Exit(2)
	}

	params := paramsFromConfig(cfg)
	if *quiet {
		params.Verbose = false
	}

	builder := dataset.NewBuilder(params)

	startTime := time.Now()
	summary, err := builder.Build(*contourDir, *imageDir, *linkFile, *outFile)
	if err != nil {
		if summary != nil && summary.Slices > 0 {
			log.Printf("%d slices were written to %s before the failure; delete it before re-running", summary.Slices, *outFile)
		}
		return err
	}

	fmt.Printf("\nBuild completed in %.2f seconds\n", time.Since(startTime).Seconds())
	fmt.Printf("Subjects: %d\n", summary.Subjects)
	fmt.Printf("Slices:   %d\n", summary.Slices)
	fmt.Printf("Shape:    (%d, %d, %d)\n", summary.Slices, summary.Height, summary.Width)
	fmt.Printf("Store:    %s\n", *outFile)
	return nil
}

func runSample(args []string) error {
	fs := flag.NewFlagSet("sample", flag.ExitOnError)
	configPath := fs.String("config", "mrimask.yaml", "YAML configuration file")
	storePath := fs.String("store", "", "Store file to sample from")
	batchSize := fs.Int("batch", 0, "Batch size (default from config)")
	batches := fs.Int("batches", 0, "Number of batches to draw (default from config)")
	seed := fs.Uint64("seed", 0, "Shuffle seed, 0 for random (default from config)")

	cfg, err := loadConfig(fs, configPath, args)
	if err != nil {
		return err
	}
	if *storePath == "" {
		fs.Usage()
		os.Exit(2)
	}
	if *batchSize == 0 {
		*batchSize = cfg.Sampler.BatchSize
	}
	if *batches == 0 {
		*batches = cfg.Sampler.Batches
	}
	if *seed == 0 {
		*seed = cfg.Sampler.Seed
	}

	var opts []sampler.Option
	if *seed != 0 {
		opts = append(opts, sampler.WithSeed(*seed))
	}
	s, err := sampler.Open(*storePath, opts...)
	if err != nil {
		return err
	}
	defer s.Close()

	fmt.Printf("Store %s holds %d samples\n", *storePath, s.Len())
	for i := 0; i < *batches; i++ {
		images, labels, err := s.NextBatch(*batchSize)
		if err != nil {
			return err
		}
		set := 0
		for _, v := range labels.Data {
			if v {
				set++
			}
		}
		fmt.Printf("batch %d (epoch %d): image (%d, %d, %d) label (%d, %d, %d) indices %v foreground %d px\n",
			i, s.Epoch(), images.N, images.H, images.W, labels.N, labels.H, labels.W, s.LastIndices(), set)
	}
	return nil
}

func runStats(args []string) error {
	fs := flag.NewFlagSet("stats", flag.ExitOnError)
	configPath := fs.String("config", "mrimask.yaml", "YAML configuration file")
	storePath := fs.String("store", "", "Store file to describe")

	if _, err := loadConfig(fs, configPath, args); err != nil {
		return err
	}
	if *storePath == "" {
		fs.Usage()
		os.Exit(2)
	}

	ps, err := store.OpenPaired(*storePath)
	if err != nil {
		return err
	}
	defer ps.Close()

	summary, err := stats.Describe(ps)
	if err != nil {
		return err
	}

	fmt.Printf("Store: %s\n", *storePath)
	fmt.Printf("=======================================\n")
	fmt.Printf("Shape:               (%d, %d, %d)\n", summary.N, summary.Height, summary.Width)
	fmt.Printf("Intensity mean:      %.4f\n", summary.Mean)
	fmt.Printf("Intensity std:       %.4f\n", summary.StdDev)
	fmt.Printf("Intensity range:     [%.4f, %.4f]\n", summary.Min, summary.Max)
	fmt.Printf("Foreground fraction: %.4f (std %.4f)\n", summary.ForegroundMean, summary.ForegroundStdDev)
	fmt.Printf("Empty masks:         %d\n", summary.EmptyMasks)
	return nil
}

func runViz(args []string) error {
	fs := flag.NewFlagSet("viz", flag.ExitOnError)
	configPath := fs.String("config", "mrimask.yaml", "YAML configuration file")
	contourDir := fs.String("contours", "", "Contour directory of one subject, or the contour root with -subject")
	imageDir := fs.String("images", "", "DICOM directory of one subject, or the DICOM root with -subject")
	subject := fs.String("subject", "", "Contour subject ID to resolve through -link")
	linkFile := fs.String("link", "", "CSV linking imaging IDs to contour IDs")
	outFile := fs.String("out", "overlay.png", "PNG file to write")

	cfg, err := loadConfig(fs, configPath, args)
	if err != nil {
		return err
	}
	if *contourDir == "" || *imageDir == "" {
		fs.Usage()
		os.Exit(2)
	}

	contourSubjectDir, imageSubjectDir := *contourDir, *imageDir
	if *subject != "" {
		if *linkFile == "" {
			return fmt.Errorf("-subject requires -link")
		}
		table, err := remap.Load(*linkFile)
		if err != nil {
			return err
		}
		imagingID, err := table.Lookup(*subject)
		if err != nil {
			return err
		}
		contourSubjectDir = filepath.Join(*contourDir, *subject)
		imageSubjectDir = filepath.Join(*imageDir, imagingID)
	}

	rows, cols := cfg.Visualization.Rows, cfg.Visualization.Cols
	builder := dataset.NewBuilder(paramsFromConfig(cfg))
	pairs, err := builder.Preview(contourSubjectDir, imageSubjectDir, rows*cols)
	if err != nil {
		return err
	}
	if len(pairs) == 0 {
		return fmt.Errorf("no contours found under %s", contourSubjectDir)
	}

	viewer := visualization.NewViewer(cfg.Visualization.Alpha, cfg.Visualization.TileSize)
	montage, err := viewer.Preview(pairs, rows, cols)
	if err != nil {
		return err
	}
	if err := viewer.SavePNG(montage, *outFile); err != nil {
		return err
	}

	fmt.Printf("Saved %d overlays to %s\n", len(pairs), *outFile)
	return nil
}

func runInitConfig(args []string) error {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	configPath := fs.String("config", "mrimask.yaml", "Configuration file to write")
	force := fs.Bool("force", false, "Overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if _, err := os.Stat(*configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use -force to overwrite)", *configPath)
	}
	if err := config.CreateDefaultConfigFile(*configPath); err != nil {
		return err
	}
	fmt.Printf("Wrote default configuration to %s\n", *configPath)
	return nil
}

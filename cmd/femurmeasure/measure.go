package main

import (
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/spatial/r3"

	"femurmeasure/internal/models"
	"femurmeasure/pkg/config"
	"femurmeasure/pkg/field"
	"femurmeasure/pkg/geometry"
	"femurmeasure/pkg/inp"
	"femurmeasure/pkg/measure"
	"femurmeasure/pkg/stl"
)

var (
	meshName  string
	jobs      int
	outputDir string
	saveSTL   bool
	align     bool
	names     []string
)

var measureCmd = &cobra.Command{
	Use:   "measure [inp files...]",
	Short: "Measure one or more femur meshes",
	Long: "Reads each .inp file, computes the configured measurements and writes one\n" +
		"YAML record file per femur to the output directory. Files are measured concurrently.",
	Args: cobra.MinimumNArgs(1),
	RunE: runMeasure,
}

func init() {
	rootCmd.AddCommand(measureCmd)

	measureCmd.Flags().StringVarP(&meshName, "mesh", "m", "", "ELSET name of the femur mesh (default: first mesh in the file)")
	measureCmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Number of femurs measured concurrently (default: processing.numCores)")
	measureCmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default: output.directory)")
	measureCmd.Flags().BoolVar(&saveSTL, "stl", false, "Also export the evaluated surface and neck cross-section as STL")
	measureCmd.Flags().BoolVar(&align, "align", false, "Align the femur to its shaft frame before measuring")
	measureCmd.Flags().StringSliceVarP(&names, "names", "n", nil, "Measurements to compute (default: measurement.names or all)")
}

// femurResult is the outcome of measuring one file
type femurResult struct {
	file    string
	output  string
	records []*models.Measurement
	failed  int
	elapsed time.Duration
	err     error
}

func runMeasure(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("jobs") {
		cfg.Processing.NumCores = jobs
	}
	if outputDir != "" {
		cfg.Output.Directory = outputDir
	}
	if saveSTL {
		cfg.Output.SaveSTL = true
	}
	if len(names) > 0 {
		cfg.Measurement.Names = names
	}
	if cfg.Processing.NumCores < 1 {
		cfg.Processing.NumCores = 1
	}

	logger := newLogger(cfg)
	if err := cfg.Regions.Validate(); err != nil {
		// measurements that need a missing region fail on their own
		logger.Warn("incomplete regions", "err", err)
	}
	if err := os.MkdirAll(cfg.Output.Directory, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	fmt.Println("================================")
	fmt.Println("FEMUR MEASUREMENT")
	fmt.Printf("%d file(s), %d concurrent, epicondylar method %s\n", len(args), cfg.Processing.NumCores, cfg.Measurement.EpicondylarMethod)
	fmt.Println("================================")

	startTime := time.Now()
	resultChan := make(chan femurResult)
	slots := make(chan struct{}, cfg.Processing.NumCores)
	for _, file := range args {
		go func(file string) {
			slots <- struct{}{}
			defer func() { <-slots }()
			resultChan <- measureFile(cfg, logger, file)
		}(file)
	}

	results := make([]femurResult, 0, len(args))
	for len(results) < len(args) {
		res := <-resultChan
		results = append(results, res)
		progress := float64(len(results)) / float64(len(args)) * 100
		fmt.Printf("\rMeasuring femurs: %.1f%% complete", progress)
	}
	fmt.Println()

	sort.Slice(results, func(i, j int) bool { return results[i].file < results[j].file })
	var failedFiles int
	for _, res := range results {
		printResult(res)
		if res.err != nil {
			failedFiles++
		}
	}

	fmt.Printf("\nMeasured %d femur(s) in %.2f seconds\n", len(results)-failedFiles, time.Since(startTime).Seconds())
	if failedFiles > 0 {
		return fmt.Errorf("%d of %d file(s) could not be measured", failedFiles, len(results))
	}
	return nil
}

func printResult(res femurResult) {
	fmt.Printf("\n%s\n", res.file)
	if res.err != nil {
		fmt.Printf("  failed: %v\n", res.err)
		return
	}
	for _, m := range res.records {
		if m.Failed() {
			fmt.Printf("  %-26s failed: %s\n", m.Name, m.Err)
			continue
		}
		fmt.Printf("  %-26s %10.3f\n", m.Name, m.Value)
		for _, w := range m.Warnings {
			fmt.Printf("  %-26s warning: %s\n", "", w)
		}
	}
	fmt.Printf("  %d failed, %.2fs, saved to %s\n", res.failed, res.elapsed.Seconds(), res.output)
}

// readField loads the named mesh, or the first mesh of the file when name is empty
func readField(path, name string) (*field.Mesh, error) {
	r := inp.NewReader(path)
	if name == "" {
		meshNames, err := r.ReadMeshNames()
		if err != nil {
			return nil, err
		}
		if len(meshNames) == 0 {
			return nil, fmt.Errorf("%s: %w: file has no element sets", path, inp.ErrMeshNotFound)
		}
		name = meshNames[0]
	}
	m, err := r.ReadMesh(name)
	if err != nil {
		return nil, err
	}
	return m.Field()
}

func measureFile(cfg *config.Config, logger *slog.Logger, path string) femurResult {
	start := time.Now()
	base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	res := femurResult{file: path, output: filepath.Join(cfg.Output.Directory, base+".yaml")}

	mesh, err := readField(path, meshName)
	if err != nil {
		res.err = err
		return res
	}

	p := measure.ParamsFromConfig(cfg)
	p.Logger = logger.With("file", filepath.Base(path))
	e, err := measure.NewEngine(mesh, p)
	if err != nil {
		res.err = err
		return res
	}

	if align {
		if err := e.AlignToShaftFrame(); err != nil {
			res.err = fmt.Errorf("failed to align to the shaft frame: %w", err)
			return res
		}
	}

	var errs map[string]error
	if len(cfg.Measurement.Names) > 0 {
		errs = make(map[string]error, len(cfg.Measurement.Names))
		for _, name := range cfg.Measurement.Names {
			errs[name] = e.Compute(name)
		}
	} else {
		errs = e.ComputeAll()
	}
	for name, err := range errs {
		if err != nil {
			res.failed++
			p.Logger.Debug("measurement failed", "measurement", name, "err", err)
		}
	}
	res.records = e.Measurements()

	if debug {
		fmt.Fprint(os.Stderr, spew.Sdump(res.records))
	}

	if err := saveMeasurements(e, res.output); err != nil {
		res.err = err
		return res
	}

	if cfg.Output.SaveSTL {
		if err := exportSTL(e, mesh, cfg, base); err != nil {
			res.err = err
			return res
		}
	}

	res.elapsed = time.Since(start)
	return res
}

func saveMeasurements(e *measure.Engine, path string) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create measurement file: %w", err)
	}
	if err := e.SaveMeasurements(out); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to close measurement file: %w", err)
	}
	return nil
}

// exportSTL writes the evaluated surface and, when it was computed, the neck
// cross-section as a disc
func exportSTL(e *measure.Engine, mesh *field.Mesh, cfg *config.Config, base string) error {
	tris, err := stl.FromField(mesh, field.Density(cfg.Field.Density))
	if err != nil {
		return fmt.Errorf("failed to triangulate surface: %w", err)
	}
	if err := stl.SaveToSTL(filepath.Join(cfg.Output.Directory, base+"_surface.stl"), tris); err != nil {
		return err
	}

	section := e.NeckSection()
	if section == nil || len(section.Footprint) < 3 {
		return nil
	}
	centre := geometry.Centroid(section.Footprint)
	ring := append([]r3.Vec(nil), section.Footprint...)
	angle := func(p r3.Vec) float64 {
		uv := section.Plane.Project2D(r3.Sub(p, centre))
		return math.Atan2(uv[1], uv[0])
	}
	sort.Slice(ring, func(i, j int) bool { return angle(ring[i]) < angle(ring[j]) })
	return stl.SaveToSTL(filepath.Join(cfg.Output.Directory, base+"_neck.stl"), stl.Fan(centre, ring))
}

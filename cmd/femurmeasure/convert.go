package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"femurmeasure/pkg/field"
	"femurmeasure/pkg/inp"
	"femurmeasure/pkg/stl"
)

var density []int

var convertCmd = &cobra.Command{
	Use:   "convert [inp file] [stl file]",
	Short: "Triangulate a mesh at the evaluation density and save it as STL",
	Args:  cobra.ExactArgs(2),
	RunE:  runConvert,
}

var infoCmd = &cobra.Command{
	Use:   "info [inp file]",
	Short: "List the header and meshes of an .inp file",
	Args:  cobra.ExactArgs(1),
	RunE:  runInfo,
}

func init() {
	rootCmd.AddCommand(convertCmd)
	rootCmd.AddCommand(infoCmd)

	convertCmd.Flags().StringVarP(&meshName, "mesh", "m", "", "ELSET name of the mesh (default: first mesh in the file)")
	convertCmd.Flags().IntSliceVarP(&density, "density", "d", nil, "Samples per element along xi and eta (default: field.density)")
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	d := field.Density(cfg.Field.Density)
	if len(density) > 0 {
		if len(density) != 2 {
			return fmt.Errorf("--density takes two values, got %d", len(density))
		}
		d = field.Density{density[0], density[1]}
	}

	mesh, err := readField(args[0], meshName)
	if err != nil {
		return err
	}
	tris, err := stl.FromField(mesh, d)
	if err != nil {
		return err
	}
	if err := stl.SaveToSTL(args[1], tris); err != nil {
		return err
	}
	fmt.Printf("Saved %d triangles from %d elements to %s\n", len(tris), len(mesh.ElementIDs()), args[1])
	return nil
}

func runInfo(cmd *cobra.Command, args []string) error {
	r := inp.NewReader(args[0])
	header, err := r.ReadHeader()
	if err != nil {
		return err
	}
	for _, h := range header {
		fmt.Printf("** %s\n", h)
	}

	meshes, err := r.ReadAllMeshes()
	if err != nil {
		return err
	}
	meshNames := make([]string, 0, len(meshes))
	for name := range meshes {
		meshNames = append(meshNames, name)
	}
	sort.Strings(meshNames)
	for _, name := range meshNames {
		m := meshes[name]
		fmt.Printf("%-20s %-6s %8d nodes %8d elements\n", name, m.ElemType, len(m.Nodes), len(m.Elems))
	}
	return nil
}

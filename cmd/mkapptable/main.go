// Command mkapptable builds the embedded application table a
// freestanding build's kernel entry point loads at boot (spec.md §6's
// app_list symbol, adapted to Go's link model): it reads every file in
// a directory, treats its base name (minus extension) as the app name,
// and emits a Go source file defining a name -> raw-ELF-bytes map
// cmd/kernel can import directly, so no go:embed directive needs to
// know the app directory's layout ahead of time.
//
// Grounded on the teacher's kernel/chentry.go (a host-side Go tool that
// patches a build artifact as a build step, standing in for what would
// otherwise be an objcopy/linker-script trick) and, for its CLI
// surface, on the pack-wide use of github.com/spf13/cobra
// (other_examples/manifests/*k3s-io-k3s*, *lazydocker*).
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var dir, out, pkg string

	cmd := &cobra.Command{
		Use:   "mkapptable",
		Short: "Generate the embedded application table from a directory of compiled ELF binaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(dir, out, pkg)
		},
	}
	cmd.Flags().StringVar(&dir, "dir", "", "directory of compiled user-program ELF binaries (required)")
	cmd.Flags().StringVar(&out, "out", "cmd/kernel/apptable_generated.go", "path to write the generated Go source file")
	cmd.Flags().StringVar(&pkg, "package", "main", "package name for the generated file")
	cmd.MarkFlagRequired("dir")
	return cmd
}

// entry is one named app's raw bytes, kept in discovery order before
// being sorted for a deterministic generated file.
type entry struct {
	name string
	data []byte
}

func run(dir, out, pkg string) error {
	infos, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("mkapptable: reading %s: %w", dir, err)
	}

	var entries []entry
	for _, fi := range infos {
		if fi.IsDir() {
			continue
		}
		path := filepath.Join(dir, fi.Name())
		data, rerr := os.ReadFile(path)
		if rerr != nil {
			return fmt.Errorf("mkapptable: reading %s: %w", path, rerr)
		}
		name := strings.TrimSuffix(fi.Name(), filepath.Ext(fi.Name()))
		entries = append(entries, entry{name: name, data: data})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].name < entries[j].name })

	src := render(pkg, entries)
	if err := os.WriteFile(out, []byte(src), 0o644); err != nil {
		return fmt.Errorf("mkapptable: writing %s: %w", out, err)
	}
	fmt.Printf("mkapptable: wrote %d app(s) to %s\n", len(entries), out)
	return nil
}

func render(pkg string, entries []entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "// Code generated by cmd/mkapptable. DO NOT EDIT.\npackage %s\n\n", pkg)
	b.WriteString("var EmbeddedApps = map[string][]byte{\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "\t%q: {", e.name)
		for i, byt := range e.data {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(&b, "%d", byt)
		}
		b.WriteString("},\n")
	}
	b.WriteString("}\n")
	return b.String()
}

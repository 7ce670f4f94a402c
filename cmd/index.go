package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/jcdickinson/ferrisindex/internal/config"
	"github.com/jcdickinson/ferrisindex/internal/db"
	"github.com/jcdickinson/ferrisindex/internal/searchindex"
	"github.com/jcdickinson/ferrisindex/internal/source"
	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
)

// These commands read sources directly and never talk to the daemon.

var (
	localSources []string
	localRefresh bool
)

func addSourceFlags(c *cobra.Command) {
	c.Flags().StringSliceVarP(&localSources, "source", "s", nil, `search index file, URL or "embedded" (repeatable; default from config)`)
	c.Flags().BoolVar(&localRefresh, "refresh", false, "re-fetch URLs instead of using cached copies")
}

func loadLocal() (*searchindex.Index, []source.Loaded, []string, error) {
	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config: %w", err)
	}

	sources := localSources
	if len(sources) == 0 {
		sources = cfg.IndexSources()
	}

	ix, loaded, err := source.Load(context.Background(), sources, source.Options{
		Cache:   source.NewCache(config.SourceCacheDir()),
		Refresh: localRefresh,
		Timeout: time.Duration(cfg.Index.FetchTimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, nil, nil, err
	}
	return ix, loaded, sources, nil
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Parse and validate search indexes",
	Example: `  ferrisindex check
  ferrisindex check -s ./target/doc/search-index.js`,
	Args: cobra.NoArgs,
	Run:  runCheck,
}

func init() {
	addSourceFlags(checkCmd)
}

func runCheck(cmd *cobra.Command, args []string) {
	ix, loaded, _, err := loadLocal()
	if err != nil {
		log.Fatalf("loading sources failed: %v", err)
	}

	for _, l := range loaded {
		fmt.Printf("%s: %d crates\n", l.Source, len(l.Crates))
	}
	writeSummary(os.Stdout, ix)

	if err := ix.Validate(); err != nil {
		for _, e := range flatten(err) {
			fmt.Printf("  invalid: %v\n", e)
		}
		os.Exit(1)
	}
	fmt.Println("ok")
}

func writeSummary(w io.Writer, ix *searchindex.Index) {
	for _, c := range ix.Crates() {
		d := c.Descriptor()
		fns := 0
		for _, f := range d.Functions {
			if f != nil {
				fns++
			}
		}
		fmt.Fprintf(w, "  %s: %d items, %d type paths, %d signatures, %d deprecated\n",
			c.Name(), c.Len(), len(d.TypePaths), fns, len(d.Deprecated))
	}
}

// flatten unwraps nested errors.Join values.
func flatten(err error) []error {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []error{err}
	}
	var out []error
	for _, e := range joined.Unwrap() {
		out = append(out, flatten(e)...)
	}
	return out
}

var dumpCmd = &cobra.Command{
	Use:   "dump [crate...]",
	Short: "Print every item of the loaded index",
	Example: `  ferrisindex dump
  ferrisindex dump --json xtask
  ferrisindex dump --raw qrc`,
	Run: runDump,
}

var (
	dumpJSON bool
	dumpRaw  bool
)

func init() {
	addSourceFlags(dumpCmd)
	dumpCmd.Flags().BoolVar(&dumpJSON, "json", false, "output resolved items as JSON")
	dumpCmd.Flags().BoolVar(&dumpRaw, "raw", false, "dump the decoded descriptors")
}

func runDump(cmd *cobra.Command, args []string) {
	ix, _, _, err := loadLocal()
	if err != nil {
		log.Fatalf("loading sources failed: %v", err)
	}
	if len(args) > 0 {
		if ix, err = ix.Subset(args); err != nil {
			log.Fatalf("%v", err)
		}
	}

	switch {
	case dumpRaw:
		dumpDescriptors(os.Stdout, ix)
	case dumpJSON:
		err = dumpItemsJSON(os.Stdout, ix)
	default:
		dumpItems(os.Stdout, ix)
	}
	if err != nil {
		log.Fatalf("dump failed: %v", err)
	}
}

func dumpItems(w io.Writer, ix *searchindex.Index) {
	for _, c := range ix.Crates() {
		for _, it := range c.Items() {
			line := fmt.Sprintf("%s\t%d\t%s\t%s", it.Crate, it.Index, it.Kind, it.Path())
			if it.Signature != "" {
				line += "\t" + it.Signature
			}
			fmt.Fprintln(w, line)
		}
	}
}

type dumpedItem struct {
	Crate         string `json:"crate"`
	Index         int    `json:"index"`
	Kind          string `json:"kind"`
	Path          string `json:"path"`
	Signature     string `json:"signature,omitempty"`
	Doc           string `json:"doc,omitempty"`
	Deprecated    bool   `json:"deprecated,omitempty"`
	Disambiguator string `json:"disambiguator,omitempty"`
}

func dumpItemsJSON(w io.Writer, ix *searchindex.Index) error {
	var items []dumpedItem
	for _, c := range ix.Crates() {
		for _, it := range c.Items() {
			items = append(items, dumpedItem{
				Crate:         it.Crate,
				Index:         it.Index,
				Kind:          it.Kind.String(),
				Path:          it.Path(),
				Signature:     it.Signature,
				Doc:           it.Doc,
				Deprecated:    it.Deprecated,
				Disambiguator: it.Disambiguator,
			})
		}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(items)
}

var rawConfig = spew.ConfigState{
	Indent:                  "  ",
	DisablePointerAddresses: true,
	DisableCapacities:       true,
	SortKeys:                true,
}

func dumpDescriptors(w io.Writer, ix *searchindex.Index) {
	for _, c := range ix.Crates() {
		fmt.Fprintf(w, "# %s\n", c.Name())
		rawConfig.Fdump(w, c.Descriptor())
	}
}

var emitCmd = &cobra.Command{
	Use:   "emit",
	Short: "Write the merged index as a single search-index.js",
	Long:  `Merge the sources and write them back out in rustdoc's search-index.js layout. Output ending in .zst is zstd-compressed.`,
	Example: `  ferrisindex emit -s a/search-index.js -s b/search-index.js -o search-index.js
  ferrisindex emit --crate qrc --json`,
	Args: cobra.NoArgs,
	Run:  runEmit,
}

var (
	emitOutput string
	emitCrates []string
	emitJSON   bool
)

func init() {
	addSourceFlags(emitCmd)
	emitCmd.Flags().StringVarP(&emitOutput, "output", "o", "", "output file (default stdout)")
	emitCmd.Flags().StringSliceVar(&emitCrates, "crate", nil, "only emit these crates (repeatable)")
	emitCmd.Flags().BoolVar(&emitJSON, "json", false, "emit the bare JSON array instead of the script")
}

func runEmit(cmd *cobra.Command, args []string) {
	ix, _, _, err := loadLocal()
	if err != nil {
		log.Fatalf("loading sources failed: %v", err)
	}
	if len(emitCrates) > 0 {
		if ix, err = ix.Subset(emitCrates); err != nil {
			log.Fatalf("%v", err)
		}
	}

	if emitOutput == "" {
		if err := emit(os.Stdout, ix, emitJSON); err != nil {
			log.Fatalf("emit failed: %v", err)
		}
		return
	}
	if err := emitFile(emitOutput, ix, emitJSON); err != nil {
		log.Fatalf("emit failed: %v", err)
	}
}

func emit(w io.Writer, ix *searchindex.Index, asJSON bool) error {
	if asJSON {
		return searchindex.EncodeJSON(w, ix)
	}
	return searchindex.Encode(w, ix)
}

func emitFile(path string, ix *searchindex.Index, asJSON bool) error {
	return writeFileAtomic(path, func(w io.Writer) error {
		if !strings.HasSuffix(path, ".zst") {
			return emit(w, ix, asJSON)
		}
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("creating zstd writer: %w", err)
		}
		if err := emit(zw, ix, asJSON); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	})
}

// writeFileAtomic writes to a temporary file next to path and renames it
// into place, so a failed write leaves any existing file untouched.
func writeFileAtomic(path string, write func(io.Writer) error) (err error) {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp*")
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer func() {
		if err != nil {
			f.Close()
			os.Remove(f.Name())
		}
	}()

	if err := write(f); err != nil {
		return err
	}
	if err := f.Chmod(0644); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(f.Name(), path); err != nil {
		return fmt.Errorf("replacing %s: %w", path, err)
	}
	return nil
}

var exportDBCmd = &cobra.Command{
	Use:   "export-db",
	Short: "Export the merged index into a DuckDB database",
	Example: `  ferrisindex export-db
  ferrisindex export-db --db ./index.db -s ./target/doc/search-index.js`,
	Args: cobra.NoArgs,
	Run:  runExportDB,
}

var (
	exportDBPath string
	exportDBKind string
)

func init() {
	addSourceFlags(exportDBCmd)
	exportDBCmd.Flags().StringVar(&exportDBPath, "db", "", "database path (default export.db in the cache directory, separate from the daemon's database)")
	exportDBCmd.Flags().StringVar(&exportDBKind, "list", "", "list the stored items of this kind after export")
}

func runExportDB(cmd *cobra.Command, args []string) {
	ix, _, sources, err := loadLocal()
	if err != nil {
		log.Fatalf("loading sources failed: %v", err)
	}

	path := exportDBPath
	if path == "" {
		path = config.ExportDBPath()
	}
	if err := exportDB(os.Stdout, path, ix, strings.Join(sources, ","), exportDBKind); err != nil {
		log.Fatalf("export failed: %v", err)
	}
	fmt.Printf("exported %d crates to %s\n", ix.Len(), path)
}

// exportDB imports ix into the database at path and reports what the
// database now holds for each crate. With kind set, the stored items of that
// kind are listed too.
func exportDB(w io.Writer, path string, ix *searchindex.Index, sources, kind string) error {
	database, err := db.New(path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := database.Import(ix, sources); err != nil {
		return err
	}

	for _, name := range ix.Names() {
		c, err := database.GetCrate(name)
		if err != nil {
			return fmt.Errorf("reading back %s: %w", name, err)
		}
		if c == nil {
			return fmt.Errorf("crate %s missing after import", name)
		}
		n, err := database.CountItems(c.ID)
		if err != nil {
			return fmt.Errorf("counting %s items: %w", name, err)
		}
		counts, err := database.KindCounts(c.ID)
		if err != nil {
			return fmt.Errorf("counting %s kinds: %w", name, err)
		}
		fmt.Fprintf(w, "  %s: %d items in %d kinds\n", c.Name, n, len(counts))

		if kind == "" {
			continue
		}
		items, err := database.ItemsByKind(c.ID, kind)
		if err != nil {
			return fmt.Errorf("listing %s items: %w", name, err)
		}
		for _, it := range items {
			line := "    " + it.Path
			if it.Signature != "" {
				line += " " + it.Signature
			}
			fmt.Fprintln(w, line)
		}
	}
	return nil
}

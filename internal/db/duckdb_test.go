package db

import (
	"path/filepath"
	"testing"

	"github.com/jcdickinson/ferrisindex/internal/searchindex"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("creating test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func embedded(t *testing.T) *searchindex.Index {
	t.Helper()
	ix, err := searchindex.Embedded()
	if err != nil {
		t.Fatal(err)
	}
	return ix
}

func TestImport(t *testing.T) {
	db := testDB(t)
	if err := db.Import(embedded(t), "embedded"); err != nil {
		t.Fatal(err)
	}

	crates, err := db.ListCrates()
	if err != nil {
		t.Fatal(err)
	}
	if len(crates) != 2 || crates[0].Name != "qrc" || crates[1].Name != "xtask" {
		t.Fatalf("unexpected crates: %+v", crates)
	}

	qrc, err := db.GetCrate("qrc")
	if err != nil {
		t.Fatal(err)
	}
	if qrc == nil {
		t.Fatal("qrc not found")
	}
	if qrc.ItemCount != 53 || qrc.Source != "embedded" {
		t.Errorf("unexpected crate row: %+v", qrc)
	}

	n, err := db.CountItems(qrc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if n != 53 {
		t.Errorf("got %d items, want 53", n)
	}

	counts, err := db.KindCounts(qrc.ID)
	if err != nil {
		t.Fatal(err)
	}
	if counts["struct"] != 1 || counts["mod"] != 1 || counts["structfield"] != 1 {
		t.Errorf("unexpected kind counts: %v", counts)
	}
}

func TestImport_Replaces(t *testing.T) {
	db := testDB(t)
	ix := embedded(t)
	if err := db.Import(ix, "first"); err != nil {
		t.Fatal(err)
	}
	if err := db.Import(ix, "second"); err != nil {
		t.Fatal(err)
	}

	crates, err := db.ListCrates()
	if err != nil {
		t.Fatal(err)
	}
	if len(crates) != 2 {
		t.Fatalf("expected 2 crates after re-import, got %d", len(crates))
	}
	for _, c := range crates {
		if c.Source != "second" {
			t.Errorf("%s: source = %q", c.Name, c.Source)
		}
		n, err := db.CountItems(c.ID)
		if err != nil {
			t.Fatal(err)
		}
		if n != c.ItemCount {
			t.Errorf("%s: %d item rows, want %d", c.Name, n, c.ItemCount)
		}
	}
}

func TestItemsByKind(t *testing.T) {
	db := testDB(t)
	if err := db.Import(embedded(t), "embedded"); err != nil {
		t.Fatal(err)
	}
	xtask, err := db.GetCrate("xtask")
	if err != nil || xtask == nil {
		t.Fatalf("xtask: %v", err)
	}

	items, err := db.ItemsByKind(xtask.ID, "fn")
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items", len(items))
	}
	if items[0].Path != "xtask::main" || items[0].Signature != "fn() -> Result<(), Error>" {
		t.Errorf("unexpected item: %+v", items[0])
	}

	qrc, _ := db.GetCrate("qrc")
	fields, err := db.ItemsByKind(qrc.ID, "structfield")
	if err != nil {
		t.Fatal(err)
	}
	if len(fields) != 1 || fields[0].Parent != "QRCode" || fields[0].Signature != "" {
		t.Errorf("unexpected fields: %+v", fields)
	}
}

func TestGetCrate_Missing(t *testing.T) {
	db := testDB(t)
	c, err := db.GetCrate("nope")
	if err != nil {
		t.Fatal(err)
	}
	if c != nil {
		t.Errorf("expected nil, got %+v", c)
	}
}

func TestImportLabeled(t *testing.T) {
	db := testDB(t)
	err := db.ImportLabeled(embedded(t), map[string]string{"qrc": "/docs/qrc.js"})
	if err != nil {
		t.Fatal(err)
	}

	qrc, _ := db.GetCrate("qrc")
	if qrc.Source != "/docs/qrc.js" {
		t.Errorf("qrc source = %q", qrc.Source)
	}
	xtask, _ := db.GetCrate("xtask")
	if xtask.Source != "" {
		t.Errorf("xtask source = %q, want empty", xtask.Source)
	}
}

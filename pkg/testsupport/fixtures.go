package testsupport

import (
	"flag"
	"os"
	"path/filepath"
	"testing"

	"github.com/goccy/go-json"

	"github.com/connor-davis/threereco-admin/domain"
)

// -update belongs to charmbracelet golden files, which teatest registers.
var updateGolden = flag.Bool("update-golden", false, "rewrite testsupport golden files")

// LoadFixture reads a file relative to the test package directory.
func LoadFixture(t testing.TB, path string) []byte {
	t.Helper()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to load fixture from %s: %v", path, err)
	}
	return data
}

// LoadFixtureJSON reads a JSON fixture into dest.
func LoadFixtureJSON(t testing.TB, path string, dest any) {
	t.Helper()

	if err := json.Unmarshal(LoadFixture(t, path), dest); err != nil {
		t.Fatalf("failed to unmarshal JSON fixture from %s: %v", path, err)
	}
}

// SeedFixture loads a JSON array of records from path into resource on api
// and returns their ids.
func SeedFixture(t testing.TB, api *FakeAPI, resource, path string) []string {
	t.Helper()

	var records []map[string]any
	LoadFixtureJSON(t, path, &records)
	rows := make([]any, len(records))
	for i, r := range records {
		rows[i] = r
	}
	return api.Seed(resource, rows...)
}

// Dataset is a small linked set of records: every collection references one
// of the seeded businesses, collectors and products.
type Dataset struct {
	Businesses  []string
	Collectors  []string
	Products    []string
	Collections []string
}

// SeedDataset fills api with the Dataset records.
func SeedDataset(api *FakeAPI) Dataset {
	var d Dataset
	d.Businesses = api.Seed(domain.ResourceBusinesses,
		domain.Business{Name: "Acme Recycling", Type: domain.BusinessTypeRecycler},
		domain.Business{Name: "Blue Bin Buyers", Type: domain.BusinessTypeBuyer},
	)
	d.Collectors = api.Seed(domain.ResourceCollectors,
		domain.Collector{FirstName: "Thandi", LastName: "Nkosi", IDNumber: "9001015800087"},
		domain.Collector{FirstName: "Pieter", LastName: "van Wyk", IDNumber: "8505055800083"},
		domain.Collector{FirstName: "Lerato", LastName: "Mokoena", IDNumber: "9512125800080"},
	)
	d.Products = api.Seed(domain.ResourceProducts,
		domain.Product{Name: "PET", GWCode: "GW-01", Price: 3.5},
		domain.Product{Name: "Cardboard", GWCode: "GW-02", Price: 0.8},
		domain.Product{Name: "Glass", GWCode: "GW-03", Price: 0.4},
	)
	for i := range 6 {
		ids := api.Seed(domain.ResourceCollections, domain.Collection{
			BusinessID:  d.Businesses[i%len(d.Businesses)],
			CollectorID: d.Collectors[i%len(d.Collectors)],
			ProductID:   d.Products[i%len(d.Products)],
			Weight:      float64(10 + i),
		})
		d.Collections = append(d.Collections, ids...)
	}
	return d
}

// CompareWithGolden compares actual with the golden file at path. Run the
// tests with -update-golden to rewrite it.
func CompareWithGolden(t testing.TB, path string, actual []byte) {
	t.Helper()

	if *updateGolden {
		WriteGolden(t, path, actual)
		return
	}
	expected, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			t.Logf("Golden file %s does not exist, creating it", path)
			WriteGolden(t, path, actual)
			return
		}
		t.Fatalf("failed to read golden file %s: %v", path, err)
	}
	if string(actual) != string(expected) {
		t.Errorf("output mismatch for %s:\nExpected:\n%s\nActual:\n%s", path, expected, actual)
	}
}

// WriteGolden writes data to path, creating parent directories.
func WriteGolden(t testing.TB, path string, data []byte) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("failed to create directory for %s: %v", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write golden file to %s: %v", path, err)
	}
}

// FixturePath is the path of filename under testdata.
func FixturePath(filename string) string {
	return filepath.Join("testdata", filename)
}

// GoldenPath is the path of filename under testdata/golden.
func GoldenPath(filename string) string {
	return filepath.Join("testdata", "golden", filename)
}

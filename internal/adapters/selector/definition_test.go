package selector

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const sampleYAML = `
sources:
  - name: cars
    display_name: Example Cars
    base_url: https://cars.example
    start_urls: [https://cars.example/listings]
    link_selector: a.listing
    next_selector: a.next
    max_pages: 3
    request_timeout: 5s
    fields:
      title: h1
      price: .price
    attributes:
      mileage: .mileage
    photo_selector: .gallery img@data-full
    required: [price, mileage]
  - name: boats
    start_urls: [https://boats.example/]
    link_selector: .card a
    fields:
      title: .title
`

func TestParseDefinitions(t *testing.T) {
	t.Parallel()

	defs, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)
	require.Len(t, defs, 2)
	require.Equal(t, "cars", defs[0].Name)
	require.Equal(t, 5*time.Second, defs[0].RequestTimeout)
	require.Equal(t, 3, defs[0].MaxPages)
	require.Equal(t, ".mileage", defs[0].Attributes["mileage"])
	require.Equal(t, []string{"price", "mileage"}, defs[0].Required)
	require.Equal(t, ".title", defs[1].Fields.Title)
}

func TestParseRejectsInvalidDefinitions(t *testing.T) {
	t.Parallel()

	tests := map[string]string{
		"missing name":   "sources:\n  - start_urls: [https://a.example]\n    link_selector: a\n    fields: {title: h1}\n",
		"missing start":  "sources:\n  - name: a\n    link_selector: a\n    fields: {title: h1}\n",
		"missing link":   "sources:\n  - name: a\n    start_urls: [https://a.example]\n    fields: {title: h1}\n",
		"missing title":  "sources:\n  - name: a\n    start_urls: [https://a.example]\n    link_selector: a\n",
		"duplicate name": "sources:\n  - {name: a, start_urls: [x], link_selector: a, fields: {title: h1}}\n  - {name: a, start_urls: [x], link_selector: a, fields: {title: h1}}\n",
		"bad yaml":       "sources: [",
	}
	for name, doc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestLoadFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sources.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))
	defs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, defs, 2)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

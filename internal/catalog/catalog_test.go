package catalog

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogShape(t *testing.T) {
	c := Default()
	require.Len(t, c.All(), 15)

	cases := []struct {
		id       string
		stem     string
		url      string
		simplify bool
	}{
		{"v8_n", "yolov8n", "https://github.com/ultralytics/assets/releases/download/v0.0.0/yolov8n.pt", false},
		{"v8_x", "yolov8x", "https://github.com/ultralytics/assets/releases/download/v0.0.0/yolov8x.pt", false},
		{"v9_c", "yolov9c", "https://github.com/ultralytics/assets/releases/download/v8.3.0/yolov9c.pt", true},
		{"v11_m", "yolo11m", "https://github.com/ultralytics/assets/releases/download/v8.3.0/yolo11m.pt", true},
	}
	for _, tc := range cases {
		e, ok := c.Lookup(tc.id)
		require.True(t, ok, tc.id)
		assert.Equal(t, tc.stem, e.Stem)
		assert.Equal(t, tc.url, e.URL)
		assert.Equal(t, tc.simplify, e.NeedsSimplify)
		assert.Equal(t, tc.stem+".pt", e.ArtifactName())
		assert.Equal(t, tc.stem+".onnx", e.ExportName())
	}
}

func TestLookupIsExact(t *testing.T) {
	c := Default()
	for _, id := range []string{"v12_n", "V8_N", "v8_n ", "", "yolov8n"} {
		_, ok := c.Lookup(id)
		assert.False(t, ok, "lookup %q", id)
	}
}

func TestFamiliesKeepOrder(t *testing.T) {
	fams := Default().Families()
	require.Len(t, fams, 3)
	assert.Equal(t, "YOLOv8", fams[0].Name)
	assert.Equal(t, "YOLOv9", fams[1].Name)
	assert.Equal(t, "YOLO11", fams[2].Name)
	assert.Len(t, fams[2].Entries, 5)
}

func TestWithAppendsAndRejectsDuplicates(t *testing.T) {
	base := Default()
	extra := Entry{ID: "custom_a", URL: "https://models.example/a.pt", Stem: "custom_a"}
	c, err := base.With(extra)
	require.NoError(t, err)
	e, ok := c.Lookup("custom_a")
	require.True(t, ok)
	assert.Equal(t, "Custom", e.Family)
	assert.Len(t, base.All(), 15, "base catalog must not change")

	_, err = base.With(Entry{ID: "v8_n", URL: "https://x/y.pt", Stem: "y"})
	assert.ErrorContains(t, err, "duplicate")

	_, err = base.With(Entry{ID: "bad", URL: "ftp://x/y.pt", Stem: "y"})
	assert.Error(t, err)

	_, err = base.With(Entry{ID: "bad", URL: "https://x/y.pt", Stem: "../y"})
	assert.Error(t, err)
}

func TestWriteHelpListsEveryIdentifier(t *testing.T) {
	var buf bytes.Buffer
	c := Default()
	require.NoError(t, c.WriteHelp(&buf, "modelport"))
	out := buf.String()
	for _, id := range c.IDs() {
		assert.Contains(t, out, id)
	}
	assert.Contains(t, out, "Usage: modelport <model-id>")
	assert.Contains(t, out, "modelport v8_n")
	assert.Contains(t, out, "modelport v11_x")
	assert.Equal(t, 2, strings.Count(out[strings.Index(out, "Examples:"):], "modelport "))
}

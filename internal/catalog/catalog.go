// SPDX-License-Identifier: AGPL-3.0-or-later

// Package catalog holds the static table of downloadable model artifacts.
package catalog

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	v8Release  = "https://github.com/ultralytics/assets/releases/download/v0.0.0/"
	v83Release = "https://github.com/ultralytics/assets/releases/download/v8.3.0/"
)

// Entry describes one downloadable pretrained artifact.
type Entry struct {
	ID     string `json:"id" yaml:"id"`
	Family string `json:"family" yaml:"family"`
	Size   string `json:"size" yaml:"size"`
	URL    string `json:"url" yaml:"url"`
	// Stem is the artifact base name; files are <stem>.pt and <stem>.onnx.
	Stem string `json:"stem" yaml:"stem"`
	// NeedsSimplify selects the dynamic-shape, graph-simplified export.
	NeedsSimplify bool `json:"needs_simplify" yaml:"needs_simplify"`
}

// ArtifactName is the downloaded file name.
func (e Entry) ArtifactName() string { return e.Stem + ".pt" }

// ExportName is the file name the conversion toolchain writes.
func (e Entry) ExportName() string { return e.Stem + ".onnx" }

var idPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Validate checks an entry before it joins a catalog.
func (e Entry) Validate() error {
	if !idPattern.MatchString(e.ID) {
		return fmt.Errorf("invalid model id %q", e.ID)
	}
	if !strings.HasPrefix(e.URL, "https://") && !strings.HasPrefix(e.URL, "http://") {
		return fmt.Errorf("model %s: url must be http(s): %q", e.ID, e.URL)
	}
	if e.Stem == "" || strings.ContainsAny(e.Stem, `/\`) {
		return fmt.Errorf("model %s: invalid stem %q", e.ID, e.Stem)
	}
	return nil
}

func yolo(id, family, size, release, stem string, simplify bool) Entry {
	return Entry{ID: id, Family: family, Size: size, URL: release + stem + ".pt", Stem: stem, NeedsSimplify: simplify}
}

var builtin = []Entry{
	yolo("v8_n", "YOLOv8", "nano", v8Release, "yolov8n", false),
	yolo("v8_s", "YOLOv8", "small", v8Release, "yolov8s", false),
	yolo("v8_m", "YOLOv8", "medium", v8Release, "yolov8m", false),
	yolo("v8_l", "YOLOv8", "large", v8Release, "yolov8l", false),
	yolo("v8_x", "YOLOv8", "extra-large", v8Release, "yolov8x", false),

	yolo("v9_t", "YOLOv9", "tiny", v83Release, "yolov9t", true),
	yolo("v9_s", "YOLOv9", "small", v83Release, "yolov9s", true),
	yolo("v9_m", "YOLOv9", "medium", v83Release, "yolov9m", true),
	yolo("v9_c", "YOLOv9", "compact", v83Release, "yolov9c", true),
	yolo("v9_e", "YOLOv9", "extended", v83Release, "yolov9e", true),

	yolo("v11_n", "YOLO11", "nano", v83Release, "yolo11n", true),
	yolo("v11_s", "YOLO11", "small", v83Release, "yolo11s", true),
	yolo("v11_m", "YOLO11", "medium", v83Release, "yolo11m", true),
	yolo("v11_l", "YOLO11", "large", v83Release, "yolo11l", true),
	yolo("v11_x", "YOLO11", "extra-large", v83Release, "yolo11x", true),
}

// Catalog is an immutable, ordered set of entries.
type Catalog struct {
	entries []Entry
	byID    map[string]int
}

// Default returns the built-in catalog.
func Default() *Catalog {
	c, err := build(builtin)
	if err != nil {
		panic(err)
	}
	return c
}

func build(entries []Entry) (*Catalog, error) {
	c := &Catalog{entries: make([]Entry, 0, len(entries)), byID: make(map[string]int, len(entries))}
	for _, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.byID[e.ID]; dup {
			return nil, fmt.Errorf("duplicate model id %q", e.ID)
		}
		c.byID[e.ID] = len(c.entries)
		c.entries = append(c.entries, e)
	}
	return c, nil
}

// With returns a new catalog with extra appended after the existing entries.
func (c *Catalog) With(extra ...Entry) (*Catalog, error) {
	all := make([]Entry, 0, len(c.entries)+len(extra))
	all = append(all, c.entries...)
	for _, e := range extra {
		if e.Family == "" {
			e.Family = "Custom"
		}
		all = append(all, e)
	}
	return build(all)
}

// Lookup finds an entry by exact identifier.
func (c *Catalog) Lookup(id string) (Entry, bool) {
	if c == nil {
		return Entry{}, false
	}
	idx, ok := c.byID[id]
	if !ok {
		return Entry{}, false
	}
	return c.entries[idx], true
}

// All returns the entries in catalog order.
func (c *Catalog) All() []Entry {
	return append([]Entry(nil), c.entries...)
}

// IDs returns every identifier in catalog order.
func (c *Catalog) IDs() []string {
	out := make([]string, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.ID
	}
	return out
}

// Family groups entries sharing a family label.
type Family struct {
	Name    string
	Entries []Entry
}

// Families groups entries by family, in order of first appearance.
func (c *Catalog) Families() []Family {
	var out []Family
	index := map[string]int{}
	for _, e := range c.entries {
		i, ok := index[e.Family]
		if !ok {
			i = len(out)
			index[e.Family] = i
			out = append(out, Family{Name: e.Family})
		}
		out[i].Entries = append(out[i].Entries, e)
	}
	return out
}

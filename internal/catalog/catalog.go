package catalog

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed catalog.yaml
var embedded []byte

// Model is one selectable provider model. Kind is the picker category:
// llm, t2i, i2i, i2v, t2v, a2v or music.
type Model struct {
	ID    string `yaml:"id" json:"id"`
	Label string `yaml:"label" json:"label"`
	Kind  string `yaml:"kind" json:"kind"`
}

type file struct {
	Models []Model `yaml:"models"`
}

// envPrefixes maps *_MODEL env prefixes to picker kinds; first match wins.
var envPrefixes = []struct {
	prefix string
	kind   string
}{
	{"APIFREE_CHAT", "llm"},
	{"APIFREE_LLM", "llm"},
	{"DEFAULT_CHAT", "llm"},
	{"APIFREE_IMAGE", "t2i"},
	{"DEFAULT_IMAGE", "t2i"},
	{"APIFREE_SONG", "music"},
	{"APIFREE_MUSIC", "music"},
	{"DEFAULT_SONG", "music"},
	{"DEFAULT_MUSIC", "music"},
	{"APIFREE_VIDEO", "i2v"},
	{"DEFAULT_VIDEO", "i2v"},
	{"APIFREE_T2V", "t2v"},
	{"APIFREE_A2V", "a2v"},
	{"APIFREE_I2I", "i2i"},
}

// groups folds picker kinds into the generation kinds.
var groups = map[string]string{
	"llm":   "chat",
	"t2i":   "image",
	"i2i":   "image",
	"i2v":   "video",
	"t2v":   "video",
	"a2v":   "video",
	"music": "music",
}

type Catalog struct {
	models []Model
}

// Load reads the catalog from path, or the embedded default when path is
// empty, and merges models named by env entries ("KEY=value").
func Load(path string, environ []string) (*Catalog, error) {
	raw := embedded
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read catalog: %w", err)
		}
		raw = b
	}
	var f file
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}
	for i, m := range f.Models {
		if _, ok := groups[m.Kind]; !ok {
			return nil, fmt.Errorf("catalog: model %q has unknown kind %q", m.ID, m.Kind)
		}
		if strings.TrimSpace(m.Label) == "" {
			f.Models[i].Label = PrettyLabel(m.ID)
		}
	}
	return New(append(f.Models, FromEnv(environ)...)), nil
}

// New builds a catalog sorted by (kind, label) and deduplicated by (kind, id).
func New(models []Model) *Catalog {
	sorted := append([]Model(nil), models...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Kind != sorted[j].Kind {
			return sorted[i].Kind < sorted[j].Kind
		}
		return sorted[i].Label < sorted[j].Label
	})
	seen := make(map[string]struct{}, len(sorted))
	out := sorted[:0]
	for _, m := range sorted {
		key := m.Kind + "\x00" + m.ID
		if _, dup := seen[key]; dup || m.ID == "" {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, m)
	}
	return &Catalog{models: out}
}

// FromEnv collects *_MODEL variables whose prefix names a picker kind.
func FromEnv(environ []string) []Model {
	var out []Model
	for _, kv := range environ {
		key, val, ok := strings.Cut(kv, "=")
		val = strings.TrimSpace(val)
		if !ok || !strings.HasSuffix(key, "_MODEL") || val == "" {
			continue
		}
		for _, p := range envPrefixes {
			if strings.HasPrefix(key, p.prefix) {
				out = append(out, Model{ID: val, Label: PrettyLabel(val), Kind: p.kind})
				break
			}
		}
	}
	return out
}

// PrettyLabel turns "google/veo-3.1-fast/image-to-video" into
// "veo 3.1 fast • image to video (google)".
func PrettyLabel(id string) string {
	vendor, rest, ok := strings.Cut(id, "/")
	if !ok {
		return strings.ReplaceAll(id, "-", " ")
	}
	rest = strings.ReplaceAll(rest, "-", " ")
	rest = strings.ReplaceAll(rest, "/", " • ")
	return fmt.Sprintf("%s (%s)", rest, vendor)
}

func (c *Catalog) Models() []Model {
	return append([]Model(nil), c.models...)
}

// Grouped returns the models keyed by generation kind.
func (c *Catalog) Grouped() map[string][]Model {
	out := map[string][]Model{"chat": {}, "image": {}, "video": {}, "music": {}}
	for _, m := range c.models {
		g := groups[m.Kind]
		out[g] = append(out[g], m)
	}
	return out
}

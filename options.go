package sdb

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/sdbkit/sdb/internal/index"
)

// Options configures Database.Open, mirroring the teacher's
// Options/DefaultOptions shape (storage.Options in the teacher).
type Options struct {
	// LogLevel controls the zerolog level ("debug", "info", "warn",
	// "error", "disabled"). Default "info".
	LogLevel string

	// PresetPath, if set, points to a YAML file of atom and index
	// declarations applied on every Open; atoms already present with the
	// same id and indexes that already exist are left as they are
	// (SPEC_FULL §2).
	PresetPath string
}

// DefaultOptions returns the zero-configuration defaults.
func DefaultOptions() Options {
	return Options{LogLevel: "info"}
}

func (o Options) withDefaults() Options {
	if o.LogLevel == "" {
		o.LogLevel = "info"
	}
	return o
}

func newLogger(opts Options) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(opts.LogLevel)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("component", "sdb").Logger()
}

// presetFile is the YAML shape of Options.PresetPath.
type presetFile struct {
	Atoms []struct {
		Name string `yaml:"name"`
		Atom uint32 `yaml:"atom"`
	} `yaml:"atoms"`
	Indexes []struct {
		Name string `yaml:"name"`
		Kind string `yaml:"kind"`
		Items []struct {
			Atom      uint32 `yaml:"atom"`
			NoCase    bool   `yaml:"nocase"`
			Invert    bool   `yaml:"invert"`
			Collation string `yaml:"collation"`
		} `yaml:"items"`
	} `yaml:"indexes"`
}

func (db *Database) applyPreset(opts Options) error {
	if opts.PresetPath == "" {
		return nil
	}
	raw, err := os.ReadFile(opts.PresetPath)
	if err != nil {
		return fmt.Errorf("sdb: read preset: %w", err)
	}
	var pf presetFile
	if err := yaml.Unmarshal(raw, &pf); err != nil {
		return fmt.Errorf("sdb: parse preset: %w", err)
	}
	for _, a := range pf.Atoms {
		if err := db.atoms.Preset(a.Name, a.Atom); err != nil {
			return err
		}
	}
	for _, ix := range pf.Indexes {
		kind := index.KindValue
		switch ix.Kind {
		case "unique":
			kind = index.KindUnique
		case "fulltext":
			kind = index.KindFulltext
		}
		items := make([]index.Item, 0, len(ix.Items))
		for _, it := range ix.Items {
			coll := index.CollationNone
			if it.Collation == "nfkd" {
				coll = index.CollationNFKDCanonicalBase
			}
			items = append(items, index.Item{Atom: it.Atom, NoCase: it.NoCase, Invert: it.Invert, Collation: coll})
		}
		if _, _, found := db.idx.FindIndex(ix.Name); found {
			continue
		}
		if _, err := db.idx.CreateIndex(ix.Name, kind, items); err != nil {
			return err
		}
	}
	return nil
}

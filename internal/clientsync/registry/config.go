package registry

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// File is the on-disk YAML shape:
//
//	stores:
//	  - id: core
//	    driver: sqlite
//	    dsn: file:data/core.db
//	    master: true
//	    defaults:
//	      - column: risk_level
//	        value: medium
//	      - column: created_at
//	        generator: now
//	  - id: housing
//	    module: housing
//	    dsn: file:data/housing.db
//	references:
//	  - column: case_manager_id
//	    store: core
//	    table: case_managers
type File struct {
	Stores     []*Store    `yaml:"stores"`
	References []Reference `yaml:"references,omitempty"`
}

// DriverNames lists the supported store drivers.
var DriverNames = []string{"sqlite", "postgres"}

// GeneratorNames lists the zero-argument default generators the mapper can
// evaluate.
var GeneratorNames = []string{"now", "ulid", "uuid", "intake_date"}

// Load reads and validates a registry file.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("registry: read %s: %w", path, err)
	}
	reg, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("registry: %s: %w", path, err)
	}
	return reg, nil
}

// Parse decodes YAML with strict field checking so typos fail loudly at
// startup instead of silently dropping a store.
func Parse(r io.Reader) (*Registry, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("parse: %w", err)
	}
	return New(f)
}

// New validates the file and builds the registry. Tests construct registries
// through here without touching YAML.
func New(f File) (*Registry, error) {
	if len(f.Stores) == 0 {
		return nil, fmt.Errorf("no stores configured")
	}

	reg := &Registry{
		byID: make(map[string]*Store, len(f.Stores)),
		refs: make(map[string]Reference, len(f.References)),
	}

	for i, st := range f.Stores {
		if st.ID == "" {
			return nil, fmt.Errorf("store %d: id required", i)
		}
		if _, dup := reg.byID[st.ID]; dup {
			return nil, fmt.Errorf("store %q: duplicate id", st.ID)
		}
		if st.DSN == "" {
			return nil, fmt.Errorf("store %q: dsn required", st.ID)
		}
		if st.Module == "" {
			st.Module = st.ID
		}
		if st.Table == "" {
			st.Table = "clients"
		}
		if st.Driver == "" {
			st.Driver = "sqlite"
		}
		if !slices.Contains(DriverNames, st.Driver) {
			return nil, fmt.Errorf("store %q: unknown driver %q", st.ID, st.Driver)
		}
		for _, d := range st.Defaults {
			if d.Column == "" {
				return nil, fmt.Errorf("store %q: default rule without column", st.ID)
			}
			hasValue := d.Value != nil
			hasGen := d.Generator != ""
			if hasValue == hasGen {
				return nil, fmt.Errorf("store %q: default for %q needs exactly one of value or generator", st.ID, d.Column)
			}
			if hasGen && !slices.Contains(GeneratorNames, d.Generator) {
				return nil, fmt.Errorf("store %q: default for %q uses unknown generator %q", st.ID, d.Column, d.Generator)
			}
		}
		if st.Master {
			if reg.master != nil {
				return nil, fmt.Errorf("store %q: master already set to %q", st.ID, reg.master.ID)
			}
			reg.master = st
		}
		reg.byID[st.ID] = st
	}
	if reg.master == nil {
		return nil, fmt.Errorf("no master store configured")
	}

	// Master first, then file order.
	reg.stores = make([]*Store, 0, len(f.Stores))
	reg.stores = append(reg.stores, reg.master)
	for _, st := range f.Stores {
		if !st.Master {
			reg.stores = append(reg.stores, st)
		}
	}

	for _, ref := range f.References {
		if ref.Column == "" {
			return nil, fmt.Errorf("reference without column")
		}
		if _, dup := reg.refs[ref.Column]; dup {
			return nil, fmt.Errorf("reference %q: duplicate column", ref.Column)
		}
		if _, ok := reg.byID[ref.Store]; !ok {
			return nil, fmt.Errorf("reference %q: unknown store %q", ref.Column, ref.Store)
		}
		if ref.Table == "" {
			return nil, fmt.Errorf("reference %q: table required", ref.Column)
		}
		if ref.Key == "" {
			ref.Key = "id"
		}
		reg.refs[ref.Column] = ref
	}

	return reg, nil
}

package schema

import (
	"fmt"
	"os"
	"path/filepath"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"
)

// LoadError reports a schema file that could not be read or interpreted.
type LoadError struct {
	Path    string
	Message string
	Pos     token.Pos // CUE position if available
}

func (e *LoadError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(), e.Message)
	}
	if e.Path != "" {
		return fmt.Sprintf("%s: %s", e.Path, e.Message)
	}
	return e.Message
}

// yamlFile is the on-disk YAML layout:
//
//	tables:
//	  events:
//	    id: UInt64
//	    user: Nullable(String)
type yamlFile struct {
	Tables map[string]map[string]string `yaml:"tables"`
}

// LoadFile reads a schema from a .yaml/.yml or .cue file.
func LoadFile(path string) (*Schema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Message: err.Error()}
	}

	switch filepath.Ext(path) {
	case ".yaml", ".yml":
		return LoadYAML(data)
	case ".cue":
		return LoadCUE(path, data)
	default:
		return nil, &LoadError{Path: path, Message: "unsupported schema file extension (want .yaml, .yml or .cue)"}
	}
}

// LoadYAML parses a YAML schema document.
func LoadYAML(data []byte) (*Schema, error) {
	var f yamlFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, &LoadError{Message: fmt.Sprintf("parse yaml: %v", err)}
	}
	if len(f.Tables) == 0 {
		return nil, &LoadError{Message: "schema declares no tables"}
	}
	return FromDefinitions(f.Tables)
}

// LoadCUE parses a CUE schema document of the form
//
//	tables: events: {
//	    id:   "UInt64"
//	    user: "Nullable(String)"
//	}
//
// The filename is used for error positions only.
func LoadCUE(filename string, data []byte) (*Schema, error) {
	ctx := cuecontext.New()
	v := ctx.CompileBytes(data, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(filename, err)
	}

	tablesVal := v.LookupPath(cue.ParsePath("tables"))
	if !tablesVal.Exists() {
		return nil, &LoadError{Path: filename, Message: "missing top-level 'tables' field", Pos: v.Pos()}
	}

	iter, err := tablesVal.Fields()
	if err != nil {
		return nil, formatCUEError(filename, err)
	}

	defs := make(map[string]map[string]string)
	for iter.Next() {
		table := iter.Selector().Unquoted()
		colIter, err := iter.Value().Fields()
		if err != nil {
			return nil, formatCUEError(filename, err)
		}

		cols := make(map[string]string)
		for colIter.Next() {
			typ, err := colIter.Value().String()
			if err != nil {
				return nil, &LoadError{
					Path:    filename,
					Message: fmt.Sprintf("%s.%s: column type must be a string", table, colIter.Selector().Unquoted()),
					Pos:     colIter.Value().Pos(),
				}
			}
			cols[colIter.Selector().Unquoted()] = typ
		}
		defs[table] = cols
	}

	if len(defs) == 0 {
		return nil, &LoadError{Path: filename, Message: "schema declares no tables"}
	}
	return FromDefinitions(defs)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(filename string, err error) error {
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return &LoadError{Path: filename, Message: err.Error()}
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &LoadError{Path: filename, Message: first.Error(), Pos: positions[0]}
	}
	return &LoadError{Path: filename, Message: first.Error()}
}

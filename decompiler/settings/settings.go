// Package settings holds the recovery toggles. Every optional
// transform consults its setting and no-ops when disabled, so a user
// can always fall back to the low-level construct.
package settings

import (
	"bytes"
	"io"
	"os"

	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"
)

type Settings struct {
	LockStatement           bool `yaml:"lockStatement"`
	UsingStatement          bool `yaml:"usingStatement"`
	SwitchStatementOnString bool `yaml:"switchStatementOnString"`
	ForEachStatement        bool `yaml:"forEachStatement"`
	NullPropagation         bool `yaml:"nullPropagation"`
	Iterators               bool `yaml:"iterators"`
	AsyncAwait              bool `yaml:"asyncAwait"`
	Tuples                  bool `yaml:"tuples"`
	ExpandMemberDefinitions bool `yaml:"expandMemberDefinitions"`
	ShowDebugInfo           bool `yaml:"showDebugInfo"`
	ShowXmlDocumentation    bool `yaml:"showXmlDocumentation"`
	HideEmptyMetadataTables bool `yaml:"hideEmptyMetadataTables"`
}

func Default() *Settings {
	return &Settings{
		LockStatement:           true,
		UsingStatement:          true,
		SwitchStatementOnString: true,
		ForEachStatement:        true,
		NullPropagation:         true,
		Iterators:               true,
		AsyncAwait:              true,
		Tuples:                  true,
		HideEmptyMetadataTables: true,
	}
}

// Parse overlays a YAML document onto the defaults. Unknown settings
// are rejected.
func Parse(data []byte) (*Settings, error) {
	s := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	err := dec.Decode(s)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "parse settings")
	}

	return s, nil
}

func Load(path string) (*Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read settings")
	}

	return Parse(data)
}

package commandpolicy

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// File is the on-disk (YAML) form of a policy.
//
// Example:
//
//	replace_defaults: false
//	safe:
//	  - command: make
//	    args_prefix: [test]
//	blocked:
//	  - command: terraform
//	dangerous:
//	  - command: "python*"
type File struct {
	// ReplaceDefaults discards the built-in lists instead of extending them.
	ReplaceDefaults bool             `yaml:"replace_defaults,omitempty"`
	Safe            []CommandMatcher `yaml:"safe,omitempty"`
	Blocked         []CommandMatcher `yaml:"blocked,omitempty"`
	Dangerous       []CommandMatcher `yaml:"dangerous,omitempty"`
}

// Parse decodes a YAML policy file. Unknown fields are errors. An empty document is an empty File.
func Parse(data []byte) (File, error) {
	var f File
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("parse policy: %w", err)
	}
	return f, nil
}

// FromFile builds a Policy from f, starting from the defaults unless f.ReplaceDefaults is set.
func FromFile(f File) (*Policy, error) {
	p := New()
	if f.ReplaceDefaults {
		p = NewEmpty()
	}

	lists := []struct {
		name     string
		matchers []CommandMatcher
		add      func(CommandMatcher) error
	}{
		{"safe", f.Safe, p.AddSafe},
		{"blocked", f.Blocked, p.AddBlocked},
		{"dangerous", f.Dangerous, p.AddDangerous},
	}
	for _, l := range lists {
		for i, m := range l.matchers {
			if err := l.add(m); err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", l.name, i, err)
			}
		}
	}
	return p, nil
}

// LoadFile reads and parses the policy at path.
func LoadFile(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", err)
	}
	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	p, err := FromFile(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

// ReloadFile loads the policy at path and, on success, installs it into p. On failure p is unchanged.
func (p *Policy) ReloadFile(path string) error {
	loaded, err := LoadFile(path)
	if err != nil {
		return err
	}
	p.Replace(loaded)
	return nil
}

// Snapshot returns the current lists as a File with ReplaceDefaults set, so it round-trips through FromFile.
func (p *Policy) Snapshot() File {
	return File{
		ReplaceDefaults: true,
		Safe:            p.SafeMatchers(),
		Blocked:         p.BlockedMatchers(),
		Dangerous:       p.DangerousMatchers(),
	}
}

// MarshalYAML renders the current lists. It is used by `autoapprove policy`.
func (p *Policy) MarshalYAML() (any, error) {
	return p.Snapshot(), nil
}

package authz

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

// DecodeSpec reads a YAML catalog document. Unknown keys are rejected so that
// a misspelled section cannot silently drop permissions.
func DecodeSpec(r io.Reader) (CatalogSpec, error) {
	var spec CatalogSpec
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		if errors.Is(err, io.EOF) {
			return CatalogSpec{}, &ConfigurationError{Problems: []string{"catalog document is empty"}}
		}
		return CatalogSpec{}, fmt.Errorf("authz: decode catalog: %w", err)
	}
	return spec, nil
}

// LoadSpecFile reads a YAML catalog from path.
func LoadSpecFile(path string) (CatalogSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return CatalogSpec{}, fmt.Errorf("authz: read catalog: %w", err)
	}
	return DecodeSpec(bytes.NewReader(data))
}

// LoadFile reads and validates the catalog at path.
func LoadFile(path string) (*Engine, error) {
	spec, err := LoadSpecFile(path)
	if err != nil {
		return nil, err
	}
	return New(spec)
}

// EncodeSpec writes spec as YAML.
func EncodeSpec(w io.Writer, spec CatalogSpec) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(spec); err != nil {
		return fmt.Errorf("authz: encode catalog: %w", err)
	}
	return enc.Close()
}

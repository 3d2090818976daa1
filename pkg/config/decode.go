package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var validate = validator.New()

// DecodeFile reads a YAML document into out, fills `default` tags and runs
// `validate` tags. Unknown keys are rejected.
func DecodeFile(path string, out interface{}) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	return Decode(b, out)
}

// Decode is DecodeFile over an in-memory document.
func Decode(b []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	if err := defaults.Set(out); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if err := validate.Struct(out); err != nil {
		return fmt.Errorf("validate: %w", err)
	}
	return nil
}

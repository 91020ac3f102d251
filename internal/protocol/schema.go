package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFS embed.FS

var (
	schemaOnce sync.Once
	schemas    map[string]*jsonschema.Schema
	schemaErr  error
)

func loadSchemas() {
	c := jsonschema.NewCompiler()
	c.AssertFormat = true
	names := []string{"hello.schema.json", "welcome.schema.json"}
	for _, name := range names {
		b, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			schemaErr = err
			return
		}
		if err := c.AddResource(name, bytes.NewReader(b)); err != nil {
			schemaErr = fmt.Errorf("add schema %s: %w", name, err)
			return
		}
	}
	schemas = map[string]*jsonschema.Schema{}
	for _, name := range names {
		s, err := c.Compile(name)
		if err != nil {
			schemaErr = fmt.Errorf("compile schema %s: %w", name, err)
			return
		}
		schemas[name] = s
	}
}

func validate(name string, raw []byte) error {
	schemaOnce.Do(loadSchemas)
	if schemaErr != nil {
		return schemaErr
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	return schemas[name].Validate(v)
}

// ParseHello validates raw against the HELLO schema and decodes it.
func ParseHello(raw []byte) (HelloMsg, error) {
	var h HelloMsg
	if err := validate("hello.schema.json", raw); err != nil {
		return h, fmt.Errorf("hello: %w", err)
	}
	if err := json.Unmarshal(raw, &h); err != nil {
		return h, fmt.Errorf("hello: %w", err)
	}
	return h, nil
}

// ValidateWelcome is used by clients before trusting a WELCOME.
func ValidateWelcome(raw []byte) (WelcomeMsg, error) {
	var w WelcomeMsg
	if err := validate("welcome.schema.json", raw); err != nil {
		return w, fmt.Errorf("welcome: %w", err)
	}
	if err := json.Unmarshal(raw, &w); err != nil {
		return w, fmt.Errorf("welcome: %w", err)
	}
	return w, nil
}

// SelectVersion returns Version when the client speaks it, "" otherwise.
func SelectVersion(h HelloMsg) string {
	if h.ProtocolVersion == Version {
		return Version
	}
	for _, v := range h.SupportedVersions {
		if v == Version {
			return Version
		}
	}
	return ""
}

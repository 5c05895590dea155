package rules

import (
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const schemaURL = "https://blazealert.io/schemas/rule.schema.json"

var printer = message.NewPrinter(language.English)

//go:embed rule.schema.json
var ruleSchemaJSON []byte

var (
	schemaOnce sync.Once
	ruleSchema *jsonschema.Schema
	schemaErr  error
)

// Schema returns the compiled rule schema.
func Schema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(ruleSchemaJSON))
		if err != nil {
			schemaErr = fmt.Errorf("parse rule schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(schemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add rule schema: %w", err)
			return
		}
		ruleSchema, schemaErr = compiler.Compile(schemaURL)
	})
	return ruleSchema, schemaErr
}

// ValidateDocument checks a JSON rule document against the schema.
func ValidateDocument(r io.Reader) error {
	schema, err := Schema()
	if err != nil {
		return err
	}
	inst, err := jsonschema.UnmarshalJSON(r)
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	return schema.Validate(inst)
}

func joinLocation(parts []string) string {
	return strings.Join(parts, "/")
}

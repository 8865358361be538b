package command

import (
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

const envelopeSchemaJSON = `{
	"type": "object",
	"properties": {
		"message": {"type": "string"},
		"session_id": {"type": "string"},
		"source": {"type": "string"},
		"project": {"type": "string"},
		"stream": {"type": "boolean"}
	}
}`

var (
	envelopeSchemaOnce sync.Once
	envelopeSchema     *jsonschema.Schema
	envelopeSchemaErr  error
)

func compiledEnvelopeSchema() (*jsonschema.Schema, error) {
	envelopeSchemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(envelopeSchemaJSON))
		if err != nil {
			envelopeSchemaErr = fmt.Errorf("unmarshal envelope schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		if err := c.AddResource("envelope.json", doc); err != nil {
			envelopeSchemaErr = fmt.Errorf("add envelope schema resource: %w", err)
			return
		}
		envelopeSchema, envelopeSchemaErr = c.Compile("envelope.json")
	})
	return envelopeSchema, envelopeSchemaErr
}

// validateEnvelopeShape checks raw against the envelope's field types before
// it is unmarshalled into an Envelope struct, so a caller sending e.g. a
// numeric session_id gets a clear schema error instead of a silently zeroed
// field.
func validateEnvelopeShape(raw []byte) error {
	schema, err := compiledEnvelopeSchema()
	if err != nil {
		return err
	}
	parsed, err := jsonschema.UnmarshalJSON(strings.NewReader(string(raw)))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := schema.Validate(parsed); err != nil {
		return fmt.Errorf("envelope schema validation failed: %w", err)
	}
	return nil
}

package remote

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema describes what a source must send back: a JSON object whose
// optional "message" member holds the code payload.
const envelopeSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"properties": {
		"message": {"type": "string"}
	}
}`

var envelopeLoader = gojsonschema.NewStringLoader(envelopeSchema)

var compiledEnvelope = mustCompile(envelopeLoader)

func mustCompile(loader gojsonschema.JSONLoader) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		panic(fmt.Sprintf("remote: invalid envelope schema: %v", err))
	}
	return schema
}

func validateEnvelope(raw []byte) error {
	result, err := compiledEnvelope.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}
	if result.Valid() {
		return nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%w: %s", ErrMalformedEnvelope, strings.Join(problems, "; "))
}

package registry

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/SergeKhachatour/Stellar-GeoLink-sub003/pkg/contracts"
)

// mappingsSchemaJSON constrains mapping documents before they reach the
// database: known mapped_from sources only, booleans present, no stray keys.
const mappingsSchemaJSON = `{
	"$schema": "https://json-schema.org/draft/2020-12/schema",
	"type": "object",
	"additionalProperties": {
		"type": "object",
		"properties": {
			"parameters": {
				"type": "array",
				"items": {
					"type": "object",
					"properties": {
						"name": {"type": "string", "minLength": 1},
						"type": {"type": "string"},
						"mapped_from": {
							"type": "string",
							"enum": [
								"user_public_key", "matched_public_key",
								"native_asset", "amount_stroops",
								"latitude", "longitude",
								"system_generated", "manual"
							]
						}
					},
					"required": ["name", "mapped_from"],
					"additionalProperties": false
				}
			},
			"return_type": {"type": "string"},
			"auto_execute": {"type": "boolean"},
			"requires_confirmation": {"type": "boolean"}
		},
		"required": ["auto_execute", "requires_confirmation"],
		"additionalProperties": false
	}
}`

var mappingsSchema = jsonschema.MustCompileString("mappings.schema.json", mappingsSchemaJSON)

// DecodeMappings validates a raw mappings document against the schema and
// decodes it into domain types.
func DecodeMappings(raw json.RawMessage) (map[string]contracts.Mapping, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("registry: mappings document is not JSON: %w", err)
	}
	if err := mappingsSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("registry: mappings document invalid: %w", err)
	}

	var mappings map[string]contracts.Mapping
	if err := json.Unmarshal(raw, &mappings); err != nil {
		return nil, fmt.Errorf("registry: decoding mappings: %w", err)
	}
	return mappings, nil
}

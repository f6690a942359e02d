package hubclient

import (
	"encoding/json"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const hubFrameSchema = `{
  "type": "object",
  "required": ["type"],
  "properties": {
    "type": { "type": "integer", "minimum": 1, "maximum": 7 },
    "target": { "type": "string", "minLength": 1 },
    "arguments": { "type": "array" },
    "invocationId": { "type": "string" },
    "error": { "type": "string" },
    "allowReconnect": { "type": "boolean" }
  },
  "allOf": [
    {
      "if": { "properties": { "type": { "const": 1 } } },
      "then": { "required": ["target"] }
    },
    {
      "if": { "properties": { "type": { "const": 3 } } },
      "then": { "required": ["invocationId"] }
    }
  ]
}`

type frameSchemaRegistry struct {
	once    sync.Once
	initErr error
	frame   *jsonschema.Schema
}

var frameSchemas frameSchemaRegistry

func initFrameSchema() error {
	frameSchemas.once.Do(func() {
		frameSchemas.frame, frameSchemas.initErr = jsonschema.CompileString("hub_frame", hubFrameSchema)
	})
	return frameSchemas.initErr
}

// decodeFrame validates a raw record against the hub frame schema and
// unmarshals it.
func decodeFrame(raw []byte) (*hubFrame, error) {
	if err := initFrameSchema(); err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if err := frameSchemas.frame.Validate(doc); err != nil {
		return nil, err
	}
	var frame hubFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, err
	}
	return &frame, nil
}

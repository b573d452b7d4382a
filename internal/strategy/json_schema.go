package strategy

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/invopop/jsonschema"
)

// ToJSONSchema reflects a Go struct into a JSON schema document, for
// surfacing a strategy's expected params shape to operators without
// requiring them to read the Go source. Grounded on
// pkg/strategy/json_schema.go's reflector setup.
func ToJSONSchema[T any](t T) (string, error) {
	//nolint:exhaustruct // third-party struct with many optional fields
	r := &jsonschema.Reflector{
		DoNotReference: true,
		Mapper: func(rt reflect.Type) *jsonschema.Schema {
			if strings.Contains(rt.String(), "time.Time") {
				//nolint:exhaustruct // third-party struct with many optional fields
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}

			return nil
		},
	}

	schema := r.Reflect(t)

	out, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(out), nil
}

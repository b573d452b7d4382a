// Command schema prints the JSON schema for pipeline.Params, the run
// request shape cmd/backtest's flags assemble, so operators and strategy
// authors can validate a run request blob without reading the Go source.
// Grounded on pkg/strategy/json_schema.go's reflector usage.
package main

import (
	"fmt"
	"log"

	"github.com/quantforge/backtest-core/internal/pipeline"
	"github.com/quantforge/backtest-core/internal/strategy"
)

func main() {
	out, err := strategy.ToJSONSchema(pipeline.Params{})
	if err != nil {
		log.Fatal(err)
	}

	fmt.Println(out)
}

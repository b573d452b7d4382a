// Command paperadapter is a small standalone smoke-test CLI: it POSTs one
// sample order intent against a configured endpoint and prints the
// classified outcome, used by the idempotence scenario in spec §8
// scenario 6. Grounded on cmd/market/main.go's urfave/cli/v3 shape.
package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/quantforge/backtest-core/internal/paperadapter"
	"github.com/urfave/cli/v3"
)

func sendAction(ctx context.Context, cmd *cli.Command) error {
	adapter := paperadapter.New(cmd.String("endpoint"), &http.Client{Timeout: 10 * time.Second})

	req := paperadapter.SignalRequest{
		Symbol:    cmd.String("symbol"),
		Side:      paperadapter.Side(cmd.String("side")),
		Timestamp: time.Now().UTC(),
		Source:    "cmd/paperadapter smoke test",
		OrderType: paperadapter.OrderType(cmd.String("order-type")),
		Quantity:  cmd.Float("quantity"),
		ClientTag: cmd.String("client-tag"),
	}

	if cmd.IsSet("price") {
		price := cmd.Float("price")
		req.Price = &price
	}

	result := adapter.Send(ctx, req)

	fmt.Printf("outcome=%s idempotency_key=%s status_code=%d message=%q\n",
		result.Outcome, result.IdempotencyKey, result.StatusCode, result.Message)

	if result.Outcome == paperadapter.OutcomeError {
		os.Exit(1)
	}

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "paperadapter",
		Usage: "Send one sample order intent to a paper-trading order-intent endpoint",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "endpoint", Required: true, Usage: "Base URL of the order-intent endpoint"},
			&cli.StringFlag{Name: "symbol", Value: "AAPL"},
			&cli.StringFlag{Name: "side", Value: string(paperadapter.SideBuy)},
			&cli.StringFlag{Name: "order-type", Value: string(paperadapter.OrderTypeMarket)},
			&cli.FloatFlag{Name: "quantity", Value: 1},
			&cli.FloatFlag{Name: "price"},
			&cli.StringFlag{Name: "client-tag", Value: "smoke-test"},
		},
		Action: sendAction,
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

package flows

import (
	"context"
	"fmt"
	"time"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/store"
)

// ElicitationConfig tunes the ELICITATION flow.
type ElicitationConfig struct {
	// MaxAttempts bounds the number of elicitation round trips. Zero
	// uses the default of 5.
	MaxAttempts int
	// URLMode sends mode:"url" in the elicitation request and a
	// notifications/elicitation/complete notification on success,
	// instead of relying solely on the client's structured response.
	URLMode bool
	// Heartbeat is the progress-notification cadence while awaiting a
	// single elicitation response. Zero uses the default of 3s.
	Heartbeat time.Duration
}

func (c ElicitationConfig) withDefaults() ElicitationConfig {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = 3 * time.Second
	}
	return c
}

const (
	jsonrpcRequestTimeout   = -32001
	jsonrpcMethodNotFound   = -32601
)

// Elicitation implements spec §4.5.2: the server sends elicitation/create
// requests back to the client to interactively obtain confirmation while
// polling provider status in a bounded loop.
func Elicitation(cfg ElicitationConfig) Wrapper {
	cfg = cfg.withDefaults()
	return func(handler Handler, deps Deps) Handler {
		return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
			if extra.SendRequest == nil {
				return Result{}, fmt.Errorf("%w: elicitation requires a sendRequest callback", paymcp.ErrUnsupportedFlow)
			}

			created, err := deps.Provider.CreatePayment(ctx, deps.Price.Amount, deps.Price.Currency, deps.ToolName)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
			}
			if deps.Store != nil {
				_ = deps.Store.Set(ctx, paymentKey(created.PaymentID), storeArgs(args, nil), store.Options{})
			}

			elicitationID := created.PaymentID
			for attempt := 0; attempt < cfg.MaxAttempts; attempt++ {
				params := map[string]any{
					"message":       fmt.Sprintf("Payment required for %s. Please confirm.", deps.ToolName),
					"elicitationId": elicitationID,
					"paymentId":     created.PaymentID,
					"paymentUrl":    created.PaymentURL,
				}
				if cfg.URLMode {
					params["mode"] = "url"
				}

				resp, rpcErr := elicitRespond(ctx, extra, params, cfg.Heartbeat)
				if rpcErr != nil {
					switch rpcErr.Code {
					case jsonrpcRequestTimeout:
						continue // treated as pending; try again
					case jsonrpcMethodNotFound:
						return Result{Data: map[string]any{"status": "error", "action": "unsupported"}}, nil
					default:
						return Result{}, rpcErr
					}
				}

				action, _ := resp["action"].(string)
				if action == "cancel" || action == "decline" {
					return Result{Data: map[string]any{
						"status":      "canceled",
						"payment_id":  created.PaymentID,
						"payment_url": created.PaymentURL,
					}}, nil
				}

				raw, err := deps.Provider.GetPaymentStatus(ctx, created.PaymentID)
				if err != nil {
					deps.logger().Warn("elicitation: status fetch failed", "payment_id", created.PaymentID, "error", err)
					continue
				}
				switch paymcp.Normalize(raw) {
				case paymcp.StatusPaid:
					if cfg.URLMode && extra.SendNotification != nil {
						_ = extra.SendNotification(ctx, "notifications/elicitation/complete", map[string]any{"elicitationId": elicitationID})
					}
					result, err := handler(ctx, args, extra)
					if err != nil {
						return Result{}, err
					}
					if deps.Store != nil {
						if delErr := deps.Store.Delete(ctx, paymentKey(created.PaymentID)); delErr != nil {
							deps.logger().Warn("elicitation: failed to delete consumed payment state", "payment_id", created.PaymentID, "error", delErr)
						}
					}
					return result, nil
				case paymcp.StatusCanceled:
					return Result{Data: map[string]any{
						"status":      "canceled",
						"payment_id":  created.PaymentID,
						"payment_url": created.PaymentURL,
					}}, nil
				}
			}
			return Result{Data: map[string]any{"status": "pending", "payment_id": created.PaymentID, "payment_url": created.PaymentURL}}, nil
		}
	}
}

// RPCError lets an Extra.SendRequest adapter surface a JSON-RPC error
// code (e.g. -32001 request timeout, -32601 method not found) to flows
// that handle specific codes specially, without coupling flows to any
// particular transport's error type.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string { return e.Message }

type rpcError = RPCError

// elicitRespond sends the elicitation/create request and awaits the
// response, racing against ctx and emitting a progress heartbeat every
// heartbeat interval while it waits.
func elicitRespond(ctx context.Context, extra Extra, params map[string]any, heartbeat time.Duration) (map[string]any, *rpcError) {
	type outcome struct {
		resp map[string]any
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		resp, err := extra.SendRequest(ctx, "elicitation/create", params)
		done <- outcome{resp, err}
	}()

	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil, &rpcError{Code: jsonrpcRequestTimeout, Message: "elicitation request canceled"}
		case <-ticker.C:
			emitProgress(ctx, extra, 0, 0, "Waiting for client confirmation")
		case out := <-done:
			if out.err != nil {
				if re, ok := out.err.(*rpcError); ok {
					return nil, re
				}
				return nil, &rpcError{Code: 0, Message: out.err.Error()}
			}
			return out.resp, nil
		}
	}
}

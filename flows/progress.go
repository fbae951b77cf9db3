package flows

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/paymcp/paymcp-go"
	"github.com/paymcp/paymcp-go/store"
)

// ProgressConfig tunes the PROGRESS flow's polling cadence.
type ProgressConfig struct {
	// PollInterval between provider status checks. Zero uses the default.
	PollInterval time.Duration
	// Ceiling bounds total wall time before the flow gives up. Zero uses
	// the default.
	Ceiling time.Duration
}

var defaultProgressConfig = ProgressConfig{PollInterval: 3 * time.Second, Ceiling: 15 * time.Minute}

func (c ProgressConfig) withDefaults() ProgressConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultProgressConfig.PollInterval
	}
	if c.Ceiling <= 0 {
		c.Ceiling = defaultProgressConfig.Ceiling
	}
	return c
}

// Progress implements spec §4.5.3: create a payment, report progress
// periodically while polling provider status, and invoke the original
// handler once the status normalizes to paid.
func Progress(cfg ProgressConfig) Wrapper {
	cfg = cfg.withDefaults()
	return func(handler Handler, deps Deps) Handler {
		return func(ctx context.Context, args map[string]any, extra Extra) (Result, error) {
			created, err := deps.Provider.CreatePayment(ctx, deps.Price.Amount, deps.Price.Currency, deps.ToolName)
			if err != nil {
				return Result{}, fmt.Errorf("%w: %v", paymcp.ErrProvider, err)
			}
			if deps.Store != nil {
				_ = deps.Store.Set(ctx, paymentKey(created.PaymentID), storeArgs(args, nil), store.Options{})
			}

			start := time.Now()
			emitProgress(ctx, extra, 0, 100, "Waiting for payment")

			ticker := time.NewTicker(cfg.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return Result{Data: map[string]any{"status": "pending", "message": "Payment aborted. Call the tool again to continue."}}, nil
				case <-ticker.C:
					elapsed := time.Since(start)
					if elapsed >= cfg.Ceiling {
						return Result{Data: map[string]any{"status": "error", "reason": "timeout"}}, nil
					}
					pct := math.Min(99, 100*float64(elapsed)/float64(cfg.Ceiling))
					emitProgress(ctx, extra, pct, 100, "Waiting for payment")

					raw, err := deps.Provider.GetPaymentStatus(ctx, created.PaymentID)
					if err != nil {
						deps.logger().Warn("progress: status fetch failed", "payment_id", created.PaymentID, "error", err)
						continue
					}
					switch paymcp.Normalize(raw) {
					case paymcp.StatusPaid:
						emitProgress(ctx, extra, 100, 100, "Payment confirmed")
						result, err := handler(ctx, args, extra)
						if err != nil {
							return Result{}, err
						}
						if deps.Store != nil {
							if delErr := deps.Store.Delete(ctx, paymentKey(created.PaymentID)); delErr != nil {
								deps.logger().Warn("progress: failed to delete consumed payment state", "payment_id", created.PaymentID, "error", delErr)
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
			}
		}
	}
}

func emitProgress(ctx context.Context, extra Extra, progress, total float64, message string) {
	if extra.ReportProgress == nil {
		return
	}
	if err := extra.ReportProgress(ctx, progress, total, message); err != nil {
		// Best-effort: a client that stopped listening for progress
		// notifications should not fail the payment wait itself.
		_ = err
	}
}

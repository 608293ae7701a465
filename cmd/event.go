package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/frahmantamala/counseling-booking/internal/booking"
	"github.com/frahmantamala/counseling-booking/internal/core/events"
	"github.com/frahmantamala/counseling-booking/pkg/logger"
	"github.com/spf13/cobra"
)

var eventCmd = &cobra.Command{
	Use:   "event",
	Short: "Event bus debugging commands",
	Long:  `Publish sample booking events through the in-process bus with the real handlers subscribed, to inspect handler behavior without a checkout.`,
}

var publishEventCmd = &cobra.Command{
	Use:   "publish [event-type]",
	Short: "Publish a sample booking event",
	Long: `Publish a sample event of the given type through the notification handlers.

Supported types: booking.confirmed, payment.failed, settlement.stuck`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return publishSampleEvent(args[0])
	},
}

var eventIntentID string

func publishSampleEvent(eventType string) error {
	lg := logger.LoggerWrapper()

	eventBus := events.NewEventBus(lg)
	booking.NewEventHandler(nil, lg).RegisterEventHandlers(eventBus)

	var event events.Event
	switch eventType {
	case events.EventTypeBookingConfirmed:
		event = events.NewBookingConfirmedEvent(1, 1, 7, eventIntentID, 80000, "HKD")
	case events.EventTypePaymentFailed:
		event = events.NewPaymentFailedEvent(eventIntentID, 1, 80000, "card_declined")
	case events.EventTypeSettlementStuck:
		event = events.NewSettlementStuckEvent(eventIntentID, 1, 80000, "persistence failure after settlement")
	default:
		return fmt.Errorf("unknown event type %q (supported: %s, %s, %s)",
			eventType,
			events.EventTypeBookingConfirmed,
			events.EventTypePaymentFailed,
			events.EventTypeSettlementStuck)
	}

	lg.Info("publishing sample event", "event_type", eventType, "event_id", event.EventID())

	if err := eventBus.Publish(context.Background(), event); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	// Handlers run async; give them a beat before the process exits.
	time.Sleep(100 * time.Millisecond)
	return nil
}

func init() {
	publishEventCmd.Flags().StringVar(&eventIntentID, "intent-id", "pi_sample_1", "Payment intent id to stamp on the sample event")

	eventCmd.AddCommand(publishEventCmd)

	rootCmd.AddCommand(eventCmd)
}

// Package runner holds the demo tasks run once at startup.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/tendril/di"
	"github.com/jacentio/tendril/model"
)

// Runner is a named startup task.
type Runner struct {
	Name string
	Run  func(ctx context.Context) error
}

// RunAll runs each runner in order and stops at the first failure.
func RunAll(ctx context.Context, logger *slog.Logger, runners ...Runner) error {
	for _, r := range runners {
		logger.InfoContext(ctx, strings.ToUpper(r.Name)+":")
		if err := r.Run(ctx); err != nil {
			return fmt.Errorf("runner %s: %w", r.Name, err)
		}
	}
	return nil
}

// Demo seeds an order and exercises messaging and caching against it.
type Demo struct {
	c   *di.Container
	log *slog.Logger
	now func() time.Time

	// orderID is the order seeded by Repositories; Caching reads it.
	orderID string
}

// NewDemo creates the demo runners for c.
func NewDemo(c *di.Container) *Demo {
	return &Demo{c: c, log: c.Logger, now: time.Now, orderID: "1"}
}

// Runners returns the enabled runners. Nothing runs unless create.enabled
// is set; publish/subscribe needs a backend with pub/sub.
func (d *Demo) Runners() []Runner {
	if !d.c.Config.Create.Enabled {
		return nil
	}
	runners := []Runner{{Name: "repositories", Run: d.Repositories}}
	if d.c.Publisher != nil {
		runners = append(runners, Runner{Name: "publish/subscribe", Run: d.PublishSubscribe})
	}
	return append(runners, Runner{Name: "caching", Run: d.Caching})
}

// OrderID returns the ID of the seeded order.
func (d *Demo) OrderID() string {
	return d.orderID
}

// Repositories saves three line items and an order, then finds the order by
// its timestamp.
func (d *Demo) Repositories(ctx context.Context) error {
	orderID := uuid.NewString()
	items := []*model.LineItem{
		{OrderID: orderID, Description: "iPhone 11"},
		{OrderID: orderID, Description: "MacBook Air"},
		{OrderID: orderID, Description: "iPad"},
	}
	for _, li := range items {
		if err := d.c.LineItems.Save(ctx, li); err != nil {
			return err
		}
		d.log.InfoContext(ctx, li.String())
	}

	order := &model.Order{ID: orderID, When: d.now(), LineItems: items}
	if err := d.c.Orders.Save(ctx, order); err != nil {
		return err
	}
	d.orderID = order.ID

	orders, err := d.c.Orders.FindByWhen(ctx, order.When)
	if err != nil {
		return err
	}
	for _, o := range orders {
		d.log.InfoContext(ctx, "Order: "+o.String())
	}
	return nil
}

// PublishSubscribe sends a greeting to the chat channel.
func (d *Demo) PublishSubscribe(ctx context.Context) error {
	return d.c.Publisher.Publish(ctx, "Hello world @"+d.now().UTC().Format(time.RFC3339Nano))
}

// Caching times three reads of the seeded order; only the first should
// reach the store.
func (d *Demo) Caching(ctx context.Context) error {
	for _, label := range []string{"first", "two", "three"} {
		start := time.Now()
		if _, _, err := d.c.OrderService.ByID(ctx, d.orderID); err != nil {
			return err
		}
		d.log.InfoContext(ctx, fmt.Sprintf("%s: %d", label, time.Since(start).Milliseconds()),
			"elapsed", time.Since(start),
		)
	}
	return nil
}

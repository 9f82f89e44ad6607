package execution

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"

	"github.com/google/uuid"

	"fxtrader/internal/indicator"
	"fxtrader/internal/logger"
	"fxtrader/internal/model"
	"fxtrader/internal/notification"
	"fxtrader/internal/portfolio"
	"fxtrader/internal/strategy"
)

// open sizes, gates and sends a trailing entry order, then records the fill.
// A failed or timed-out order leaves the table untouched.
func (c *Coordinator) open(ctx context.Context, inst model.Instrument, snap indicator.Snapshot, d strategy.Decision, fx float64) error {
	bal := c.Balance.Snapshot()
	offset := inst.TrailOffset
	units := portfolio.SizeUnits(inst, bal, offset, fx, c.cfg.StopLimitPercent)

	if ok, reason := c.Gate.CanOpen(inst, snap.LastCandle, units, bal); !ok {
		log.Printf("[coordinator] %s %s %s refused: %s", inst.Symbol, d.Tag, d.Kind, reason)
		if c.Metrics != nil {
			c.Metrics.RiskRejects.WithLabelValues(string(d.Tag)).Inc()
		}
		return nil
	}

	order := model.Order{
		Instrument:    inst.Symbol,
		Side:          d.Side(),
		Units:         units,
		Type:          model.OrderTrail,
		Price:         offset,
		ClientOrderID: uuid.NewString(),
	}
	trade, err := c.Broker.SendOrder(ctx, order)
	if c.Metrics != nil {
		c.Metrics.OrdersTotal.WithLabelValues(string(d.Tag), orderResult(err)).Inc()
	}
	if err != nil {
		c.brokerError("send_order")
		if errors.Is(err, model.ErrOrderUnresolved) {
			slog.Error("entry order left working", append(logger.LogWithTrace(ctx),
				"instrument", inst.Symbol, "tag", d.Tag, "client_order_id", order.ClientOrderID, "error", err)...)
			c.alert(ctx, notification.Alert{
				Level:      notification.AlertCritical,
				Title:      "Entry order not cancelled",
				Message:    fmt.Sprintf("%s %s %g units (client id %s) may still fill untracked: %v", d.Tag, order.Side, units, order.ClientOrderID, err),
				Instrument: inst.Symbol,
			})
		}
		return fmt.Errorf("coordinator: open %s/%s: %w", inst.Symbol, d.Tag, err)
	}

	filled := trade.Units
	if filled <= 0 {
		filled = units
	}
	pos := model.Position{
		Instrument:         inst.Symbol,
		Side:               order.Side,
		Units:              filled,
		EntryPrice:         trade.Price,
		RequiredCollateral: portfolio.Collateral(inst, filled, trade.Price, fx),
		Tag:                d.Tag,
		StopLoss:           d.StopLoss,
		TradeID:            trade.TradeID,
		OpenedAt:           c.now(),
	}

	var stopErr error
	if pos.HasStop() && c.cfg.PlaceStopOrders {
		stop, err := c.Broker.SendStopOrder(ctx, c.stopOrder(pos, pos.StopLoss))
		if err != nil {
			c.brokerError("send_stop_order")
			stopErr = fmt.Errorf("coordinator: initial stop %s/%s: %w", inst.Symbol, d.Tag, err)
			c.alert(ctx, notification.Alert{
				Level:      notification.AlertWarning,
				Title:      "Stop order not placed",
				Message:    fmt.Sprintf("%s trade %s has no resting stop at %g: %v", d.Tag, pos.TradeID, pos.StopLoss, err),
				Instrument: inst.Symbol,
			})
		} else {
			pos.StopOrderID = stop.TradeID
		}
	}

	if err := c.Table.RecordOpen(pos); err != nil {
		c.alert(ctx, notification.Alert{
			Level:      notification.AlertCritical,
			Title:      "Fill not recorded",
			Message:    fmt.Sprintf("trade %s filled but the %s slot is taken: %v", pos.TradeID, d.Tag, err),
			Instrument: inst.Symbol,
		})
		return err
	}
	c.Balance.AddCollateral(pos.RequiredCollateral)

	slog.Info("position opened", append(logger.LogWithTrace(ctx),
		"instrument", inst.Symbol, "tag", d.Tag, "side", pos.Side, "units", pos.Units,
		"price", pos.EntryPrice, "stop_loss", pos.StopLoss, "trade_id", pos.TradeID)...)
	c.record(ctx, TradeEvent{
		Kind: EventOpen, Instrument: inst.Symbol, Tag: d.Tag, Side: pos.Side,
		Units: pos.Units, Price: pos.EntryPrice, StopLoss: pos.StopLoss,
		TradeID: pos.TradeID, OrderID: pos.StopOrderID, Reason: d.Reason,
	})
	c.alert(ctx, notification.Alert{
		Level:      notification.AlertInfo,
		Title:      fmt.Sprintf("%s %s opened", d.Tag, pos.Side),
		Message:    fmt.Sprintf("%g units @ %g (%s)", pos.Units, pos.EntryPrice, d.Reason),
		Instrument: inst.Symbol,
	})
	return stopErr
}

// closeAll closes every trade in the slice. The slice is cleared only when
// all closes succeed. A trade the broker no longer knows, e.g. one its
// resting stop already closed, is dropped as reconcile would.
func (c *Coordinator) closeAll(ctx context.Context, inst model.Instrument, d strategy.Decision, held []model.Position, fx float64) error {
	var firstErr error
	for _, p := range held {
		if p.StopOrderID != "" && !c.Broker.CancelStopOrder(ctx, inst.Symbol, p.StopOrderID) {
			log.Printf("[coordinator] %s %s: cancel stop %s before close failed", inst.Symbol, d.Tag, p.StopOrderID)
		}
		tr, err := c.Broker.CloseTrade(ctx, p.TradeID)
		if errors.Is(err, model.ErrNotFound) {
			if c.Table.RemoveTrade(inst.Symbol, d.Tag, p.TradeID) {
				c.Balance.AddCollateral(-p.RequiredCollateral)
				c.dropped(ctx, p, "unknown to broker on close")
			}
			continue
		}
		if err != nil {
			c.brokerError("close_trade")
			if firstErr == nil {
				firstErr = fmt.Errorf("coordinator: close %s/%s trade %s: %w", inst.Symbol, d.Tag, p.TradeID, err)
			}
			continue
		}
		ct := c.PnL.RecordClose(p, tr.Price, fx, c.now())
		c.Balance.AddCollateral(-p.RequiredCollateral)

		slog.Info("position closed", append(logger.LogWithTrace(ctx),
			"instrument", inst.Symbol, "tag", d.Tag, "trade_id", p.TradeID,
			"exit_price", tr.Price, "pnl", ct.PnL)...)
		c.record(ctx, TradeEvent{
			Kind: EventClose, Instrument: inst.Symbol, Tag: d.Tag, Side: p.Side,
			Units: p.Units, Price: tr.Price, TradeID: p.TradeID, PnL: ct.PnL, Reason: d.Reason,
		})
		c.alert(ctx, notification.Alert{
			Level:      notification.AlertInfo,
			Title:      fmt.Sprintf("%s %s closed", d.Tag, p.Side),
			Message:    fmt.Sprintf("%g units @ %g pnl=%.2f (%s)", p.Units, tr.Price, ct.PnL, d.Reason),
			Instrument: inst.Symbol,
		})
	}
	if firstErr != nil {
		return firstErr
	}
	c.Table.RecordClose(inst.Symbol, d.Tag)
	return nil
}

// replaceStop moves the stop to d.StopLoss: cancel the resting order first,
// then place the new one. A failed cancel keeps the old stop and alerts.
func (c *Coordinator) replaceStop(ctx context.Context, inst model.Instrument, d strategy.Decision, p model.Position) error {
	if !c.cfg.PlaceStopOrders {
		c.Table.UpdateStopLoss(inst.Symbol, d.Tag, d.StopLoss, "")
		c.recordStop(ctx, inst, d, p, "")
		return nil
	}

	if p.StopOrderID != "" && !c.Broker.CancelStopOrder(ctx, inst.Symbol, p.StopOrderID) {
		if c.Metrics != nil {
			c.Metrics.StopCancelFailures.Inc()
		}
		slog.Warn("stop cancel failed", append(logger.LogWithTrace(ctx),
			"instrument", inst.Symbol, "tag", d.Tag, "order_id", p.StopOrderID,
			"old_stop", p.StopLoss, "new_stop", d.StopLoss)...)
		c.alert(ctx, notification.Alert{
			Level:      notification.AlertWarning,
			Title:      "Stop cancel failed",
			Message:    fmt.Sprintf("%s keeps stop %g (order %s); wanted %g", d.Tag, p.StopLoss, p.StopOrderID, d.StopLoss),
			Instrument: inst.Symbol,
		})
		return nil
	}

	stop, err := c.Broker.SendStopOrder(ctx, c.stopOrder(p, d.StopLoss))
	if err != nil {
		c.brokerError("send_stop_order")
		// The old order is gone; keep the old level so the next cycle re-places it.
		c.Table.UpdateStopLoss(inst.Symbol, d.Tag, p.StopLoss, "")
		c.alert(ctx, notification.Alert{
			Level:      notification.AlertCritical,
			Title:      "Position without resting stop",
			Message:    fmt.Sprintf("%s trade %s: replacement stop at %g failed: %v", d.Tag, p.TradeID, d.StopLoss, err),
			Instrument: inst.Symbol,
		})
		return fmt.Errorf("coordinator: replace stop %s/%s: %w", inst.Symbol, d.Tag, err)
	}

	c.Table.UpdateStopLoss(inst.Symbol, d.Tag, d.StopLoss, stop.TradeID)
	if c.Metrics != nil {
		c.Metrics.StopReplacements.Inc()
	}
	c.recordStop(ctx, inst, d, p, stop.TradeID)
	return nil
}

func (c *Coordinator) recordStop(ctx context.Context, inst model.Instrument, d strategy.Decision, p model.Position, orderID string) {
	log.Printf("[coordinator] %s %s stop %g -> %g", inst.Symbol, d.Tag, p.StopLoss, d.StopLoss)
	c.record(ctx, TradeEvent{
		Kind: EventStopReplace, Instrument: inst.Symbol, Tag: d.Tag, Side: p.Side,
		Units: p.Units, Price: d.Price, StopLoss: d.StopLoss, TradeID: p.TradeID,
		OrderID: orderID, Reason: d.Reason,
	})
}

func (c *Coordinator) stopOrder(p model.Position, price float64) model.Order {
	return model.Order{
		Instrument:    p.Instrument,
		Side:          p.Side.Opposite(),
		Units:         p.Units,
		Type:          model.OrderStop,
		Price:         price,
		ClientOrderID: uuid.NewString(),
	}
}

func (c *Coordinator) publishDecision(ctx context.Context, instrument string, d strategy.Decision) {
	if c.Decisions == nil {
		return
	}
	payload, err := json.Marshal(struct {
		strategy.Decision
		Instrument string `json:"instrument"`
		Kind       string `json:"kind"`
		TraceID    string `json:"trace_id"`
	}{d, instrument, d.Kind.String(), logger.TraceID(ctx)})
	if err != nil {
		return
	}
	if err := c.Decisions.PublishDecision(ctx, instrument, payload); err != nil {
		log.Printf("[coordinator] publish decision %s: %v", instrument, err)
	}
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/austindbirch/payhook/internal/device"
	"github.com/austindbirch/payhook/internal/order"
)

// seedFile is the SEED_FILE fixture format, loaded into either store driver.
type seedFile struct {
	Orders []struct {
		ID         string `json:"id"`
		CustomerID string `json:"customerId"`
		VendorID   string `json:"vendorId"`
		Status     string `json:"status"`
		Amount     int64  `json:"amount"`
		Currency   string `json:"currency"`
	} `json:"orders"`
	Devices []struct {
		OwnerID string `json:"ownerId"`
		Token   string `json:"token"`
	} `json:"devices"`
}

func loadSeed(ctx context.Context, path string, orders order.Seeder, registry device.Registrar) (int, int, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read seed file: %w", err)
	}
	var seed seedFile
	if err := json.Unmarshal(raw, &seed); err != nil {
		return 0, 0, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	for _, o := range seed.Orders {
		if o.ID == "" {
			return 0, 0, fmt.Errorf("seed order without id")
		}
		status := order.Status(o.Status)
		if status == "" {
			status = order.StatusPendingPayment
		}
		err := orders.Seed(ctx, order.Order{
			ID:            o.ID,
			CustomerID:    o.CustomerID,
			VendorID:      o.VendorID,
			Status:        status,
			PaymentStatus: order.PaymentPending,
			Amount:        o.Amount,
			Currency:      o.Currency,
		})
		if err != nil {
			return 0, 0, err
		}
	}
	for _, d := range seed.Devices {
		if d.OwnerID == "" || d.Token == "" {
			return 0, 0, fmt.Errorf("seed device needs ownerId and token")
		}
		if err := registry.Register(ctx, d.OwnerID, d.Token); err != nil {
			return 0, 0, err
		}
	}
	return len(seed.Orders), len(seed.Devices), nil
}

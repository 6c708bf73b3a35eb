package main

import (
	"context"
	"math/rand"
	"os"
	"time"

	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/storage"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Seeds the Firestore emulator with a dev user, chargers, a vehicle and
// policies so the API has something to return when developing locally.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	now := time.Now().UTC()

	user := types.User{
		ID:        "dev",
		Email:     "dev@localhost",
		CreatedAt: now.Add(-30 * 24 * time.Hour),
	}
	if err := s.CreateUser(ctx, user); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed user", "error", err)
		os.Exit(1)
	}

	chargers := []types.Charger{
		{
			ID:              "EH123456",
			Brand:           types.ChargerBrandEasee,
			Name:            "Garage",
			VendorChargerID: "EH123456",
			CreatedAt:       now.Add(-20 * 24 * time.Hour),
			UpdatedAt:       now,
		},
		{
			ID:              "EH654321",
			Brand:           types.ChargerBrandEasee,
			Name:            "Driveway",
			VendorChargerID: "EH654321",
			CreatedAt:       now.Add(-5 * 24 * time.Hour),
			UpdatedAt:       now,
		},
	}
	for _, ch := range chargers {
		if err := s.SetCharger(ctx, user.ID, ch); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed charger", "error", err)
			os.Exit(1)
		}
	}

	// one enabled policy with a mid-range threshold, one disabled
	policies := []types.ChargingPolicy{
		{
			ID:        "EH123456",
			ChargerID: "EH123456",
			MaxPrice:  0.20 + rng.Float64()*0.10,
			Enabled:   true,
			CreatedAt: now.Add(-20 * 24 * time.Hour),
			UpdatedAt: now,
		},
		{
			ID:        "EH654321",
			ChargerID: "EH654321",
			MaxPrice:  0.15,
			Enabled:   false,
			CreatedAt: now.Add(-5 * 24 * time.Hour),
			UpdatedAt: now,
		},
	}
	for _, p := range policies {
		if err := s.SetPolicy(ctx, user.ID, p); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed policy", "error", err)
			os.Exit(1)
		}
	}

	vehicle := types.Vehicle{
		ID:        "L6T0000000DEV0001",
		Brand:     types.VehicleBrandZeekr,
		VIN:       "L6T0000000DEV0001",
		Model:     "Zeekr X",
		Nickname:  "Daily driver",
		CreatedAt: now.Add(-20 * 24 * time.Hour),
	}
	if err := s.SetVehicle(ctx, user.ID, vehicle); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed vehicle", "error", err)
		os.Exit(1)
	}

	if err := s.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeded mock data",
		"chargers", len(chargers),
		"policies", len(policies),
	)
}

package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/levenlabs/go-lflag"
)

var (
	ErrUserNotFound    = errors.New("user not found")
	ErrChargerNotFound = errors.New("charger not found")
	ErrVehicleNotFound = errors.New("vehicle not found")
	ErrPolicyNotFound  = errors.New("policy not found")
	// ErrNotConnected is returned when the user has no stored price
	// provider connection.
	ErrNotConnected = errors.New("price provider not connected")
	ErrNoAutomation = errors.New("automation not configured")
)

// Database defines the interface for persisting users, their connected
// devices and their charging policies. All device and policy reads are
// scoped by the owning user.
type Database interface {
	// Users
	GetUser(ctx context.Context, userID string) (types.User, error)
	CreateUser(ctx context.Context, user types.User) error
	UpdateUser(ctx context.Context, user types.User) error

	// Chargers
	GetCharger(ctx context.Context, userID, chargerID string) (types.Charger, error)
	ListChargers(ctx context.Context, userID string) ([]types.Charger, error)
	SetCharger(ctx context.Context, userID string, charger types.Charger) error
	// DeleteCharger removes the charger and cascades deletion of its
	// policy so no orphaned policy can keep commanding a gone charger.
	DeleteCharger(ctx context.Context, userID, chargerID string) error

	// Vehicles
	GetVehicle(ctx context.Context, userID, vehicleID string) (types.Vehicle, error)
	ListVehicles(ctx context.Context, userID string) ([]types.Vehicle, error)
	SetVehicle(ctx context.Context, userID string, vehicle types.Vehicle) error
	DeleteVehicle(ctx context.Context, userID, vehicleID string) error

	// Policies. The policy document ID is the charger ID, which enforces
	// at most one policy per (user, charger) pair.
	GetPolicy(ctx context.Context, userID, policyID string) (types.ChargingPolicy, error)
	ListPolicies(ctx context.Context, userID string) ([]types.ChargingPolicy, error)
	SetPolicy(ctx context.Context, userID string, policy types.ChargingPolicy) error
	DeletePolicy(ctx context.Context, userID, policyID string) error

	// Price provider connection
	GetTibberConnection(ctx context.Context, userID string) (types.TibberConnection, error)
	SetTibberConnection(ctx context.Context, userID string, conn types.TibberConnection) error
	DeleteTibberConnection(ctx context.Context, userID string) error

	// Automation
	GetAutomation(ctx context.Context, userID string) (types.AutomationSettings, error)
	SetAutomation(ctx context.Context, userID string, settings types.AutomationSettings) error
	DeleteAutomation(ctx context.Context, userID string) error
	// Cron key lookup maps a hashed API key back to the owning user so
	// the scheduled function can authenticate without a session.
	GetUserIDForCronKey(ctx context.Context, keyHash string) (string, error)
	SetCronKey(ctx context.Context, userID, keyHash string) error
	DeleteCronKey(ctx context.Context, keyHash string) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}

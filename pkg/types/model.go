package types

import "time"

// User represents a user of the system. The ID is the OIDC subject of the
// identity provider the user logged in with.
type User struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"createdAt"`
}

// ChargerBrand identifies the vendor integration used for a charger.
type ChargerBrand string

const (
	ChargerBrandEasee ChargerBrand = "easee"
)

// VehicleBrand identifies the vendor integration used for a vehicle.
type VehicleBrand string

const (
	VehicleBrandZeekr VehicleBrand = "zeekr"
)

// Charger represents a connected home charger. The vendor API tokens are
// encrypted at rest and only decrypted inside the server for the duration of
// a call.
type Charger struct {
	ID        string       `json:"id"`
	Brand     ChargerBrand `json:"brand"`
	Name      string       `json:"name"`
	// VendorChargerID is the charger's identifier in the vendor cloud
	// (e.g. the Easee charger serial).
	VendorChargerID       string    `json:"vendorChargerID"`
	EncryptedAccessToken  []byte    `json:"-"`
	EncryptedRefreshToken []byte    `json:"-"`
	CreatedAt             time.Time `json:"createdAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// Vehicle represents a connected EV used for read-only status display.
type Vehicle struct {
	ID             string       `json:"id"`
	Brand          VehicleBrand `json:"brand"`
	VIN            string       `json:"vin"`
	Model          string       `json:"model"`
	Nickname       string       `json:"nickname,omitempty"`
	EncryptedToken []byte       `json:"-"`
	CreatedAt      time.Time    `json:"createdAt"`
}

// ChargingPolicy is the user-configured maximum acceptable price for one
// charger. There is exactly one policy per (user, charger) pair.
type ChargingPolicy struct {
	ID        string    `json:"id"`
	ChargerID string    `json:"chargerID"`
	// MaxPrice is the inclusive threshold: charging is wanted whenever the
	// current total price is at or below it. Must be > 0.
	MaxPrice  float64   `json:"maxPrice"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// OperatingMode is the charger hardware's reported state. The values match
// the Easee chargerOpMode field.
type OperatingMode int

const (
	OperatingModeDisconnected  OperatingMode = 1
	OperatingModeAwaitingStart OperatingMode = 2
	OperatingModeCharging      OperatingMode = 3
	OperatingModeCompleted     OperatingMode = 4
	OperatingModeError         OperatingMode = 5
	OperatingModeReadyToCharge OperatingMode = 6
)

// String returns the human readable name for the mode.
func (m OperatingMode) String() string {
	switch m {
	case OperatingModeDisconnected:
		return "Disconnected"
	case OperatingModeAwaitingStart:
		return "Awaiting Start"
	case OperatingModeCharging:
		return "Charging"
	case OperatingModeCompleted:
		return "Completed"
	case OperatingModeError:
		return "Error"
	case OperatingModeReadyToCharge:
		return "Ready to Charge"
	}
	return "Unknown"
}

// ChargerState is the live state of a charger, fetched fresh before every
// decision. It is never persisted and may be stale by up to the poll
// interval.
type ChargerState struct {
	OperatingMode OperatingMode `json:"operatingMode"`
	IsOnline      bool          `json:"isOnline"`
	TotalPowerKW  float64       `json:"totalPowerKW"`
	SessionEnergy float64       `json:"sessionEnergyKWH"`
	OutputCurrent float64       `json:"outputCurrent"`
	Voltage       float64       `json:"voltage"`
	LatestPulse   time.Time     `json:"latestPulse"`
}

// ChargeAction is the action the evaluator decided on for a policy.
type ChargeAction string

const (
	ActionStart ChargeAction = "start"
	ActionPause ChargeAction = "pause"
	ActionNone  ChargeAction = "none"
)

// ActionOutcome classifies how applying a decision went. Skipped covers
// expected steady states (already charging, no car plugged in) and is never
// conflated with an error.
type ActionOutcome string

const (
	OutcomeSuccess ActionOutcome = "success"
	OutcomeError   ActionOutcome = "error"
	OutcomeSkipped ActionOutcome = "skipped"
)

// DecisionResult is the outcome of evaluating and applying one policy in an
// apply-cycle. It is ephemeral: surfaced in the response and logged, never
// persisted.
type DecisionResult struct {
	PolicyID     string        `json:"policyID"`
	ChargerName  string        `json:"chargerName"`
	ChargerID    string        `json:"chargerID"`
	CurrentPrice float64       `json:"currentPrice"`
	MaxPrice     float64       `json:"maxPrice"`
	ShouldCharge bool          `json:"shouldCharge"`
	Action       ChargeAction  `json:"action"`
	Outcome      ActionOutcome `json:"outcome"`
	Message      string        `json:"message"`
}

// ScheduleSlot is one priced interval of a projected schedule.
type ScheduleSlot struct {
	StartsAt time.Time  `json:"startsAt"`
	Price    float64    `json:"price"`
	Level    PriceLevel `json:"level"`
	Active   bool       `json:"active"`
}

// ScheduleSummary aggregates a projected schedule.
type ScheduleSummary struct {
	ActiveSlots        int     `json:"activeSlots"`
	TotalSlots         int     `json:"totalSlots"`
	CheapestPrice      float64 `json:"cheapestPrice"`
	MostExpensivePrice float64 `json:"mostExpensivePrice"`
}

// Schedule is the forward-looking projection of one policy across the whole
// known price timeline. Display only; computing it never touches the charger.
type Schedule struct {
	PolicyID    string          `json:"policyID"`
	ChargerID   string          `json:"chargerID"`
	ChargerName string          `json:"chargerName"`
	MaxPrice    float64         `json:"maxPrice"`
	Enabled     bool            `json:"enabled"`
	Slots       []ScheduleSlot  `json:"slots"`
	Summary     ScheduleSummary `json:"summary"`
}

// TibberConnection holds the user's price-provider OAuth tokens, encrypted
// at rest.
type TibberConnection struct {
	EncryptedAccessToken  []byte    `json:"-"`
	EncryptedRefreshToken []byte    `json:"-"`
	ExpiresAt             time.Time `json:"expiresAt"`
	UpdatedAt             time.Time `json:"updatedAt"`
}

// AutomationSettings describes the deployed cron automation for a user.
type AutomationSettings struct {
	// CronKeyHash is the SHA-256 hex of the API key the deployed function
	// authenticates with. The plaintext key is only returned once at setup.
	CronKeyHash    string    `json:"-"`
	NamespaceID    string    `json:"namespaceID"`
	APIHost        string    `json:"apiHost"`
	EncryptedDOKey []byte    `json:"-"`
	FunctionName   string    `json:"functionName"`
	TriggerName    string    `json:"triggerName"`
	Active         bool      `json:"active"`
	UpdatedAt      time.Time `json:"updatedAt"`
}

// VendorCharger is a charger as listed by the vendor cloud, used when
// connecting an account to pick which charger to control.
type VendorCharger struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// VehicleStatus is the live read-only state of a connected vehicle.
type VehicleStatus struct {
	BatteryLevel  float64   `json:"batteryLevel"`
	RangeKM       float64   `json:"rangeKM"`
	IsCharging    bool      `json:"isCharging"`
	IsPluggedIn   bool      `json:"isPluggedIn"`
	ChargingPower float64   `json:"chargingPowerKW"`
	ChargeLimit   float64   `json:"chargeLimit"`
	IsLocked      bool      `json:"isLocked"`
	OdometerKM    float64   `json:"odometerKM"`
	LastUpdated   time.Time `json:"lastUpdated"`
}

// ChargerCredentials are the decrypted vendor tokens for one charger.
type ChargerCredentials struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

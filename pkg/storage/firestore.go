package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/firestore"
	"github.com/jwpriem/ev-easee/pkg/log"
	"github.com/jwpriem/ev-easee/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Documents are stored as JSON blobs under per-user
// subcollections so reads are always scoped to one user.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) userCollection(userID, name string) (*firestore.CollectionRef, error) {
	if userID == "" {
		return nil, fmt.Errorf("userID cannot be empty")
	}
	return f.client.Collection("users").Doc(userID).Collection(name), nil
}

// docJSON extracts the "json" field stored on a document.
func docJSON(doc *firestore.DocumentSnapshot) (string, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return "", fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("document %s 'json' field is not a string", doc.Ref.ID)
	}
	return jsonStr, nil
}

func setJSONDoc(ctx context.Context, doc *firestore.DocumentRef, v interface{}) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", doc.ID, err)
	}
	_, err = doc.Set(ctx, map[string]interface{}{
		"json": string(jsonBytes),
	})
	if err != nil {
		return fmt.Errorf("failed to save %s: %w", doc.ID, err)
	}
	return nil
}

// The Encrypted* fields on the domain types are excluded from JSON so they
// never leak through API responses. Storage needs them, so these wrappers
// re-expose them at the top level of the stored blob.

type storedCharger struct {
	types.Charger
	EncryptedAccessToken  []byte `json:"encryptedAccessToken,omitempty"`
	EncryptedRefreshToken []byte `json:"encryptedRefreshToken,omitempty"`
}

func (sc storedCharger) unwrap() types.Charger {
	c := sc.Charger
	c.EncryptedAccessToken = sc.EncryptedAccessToken
	c.EncryptedRefreshToken = sc.EncryptedRefreshToken
	return c
}

type storedVehicle struct {
	types.Vehicle
	EncryptedToken []byte `json:"encryptedToken,omitempty"`
}

func (sv storedVehicle) unwrap() types.Vehicle {
	v := sv.Vehicle
	v.EncryptedToken = sv.EncryptedToken
	return v
}

type storedTibberConnection struct {
	types.TibberConnection
	EncryptedAccessToken  []byte `json:"encryptedAccessToken,omitempty"`
	EncryptedRefreshToken []byte `json:"encryptedRefreshToken,omitempty"`
}

func (st storedTibberConnection) unwrap() types.TibberConnection {
	c := st.TibberConnection
	c.EncryptedAccessToken = st.EncryptedAccessToken
	c.EncryptedRefreshToken = st.EncryptedRefreshToken
	return c
}

type storedAutomation struct {
	types.AutomationSettings
	CronKeyHash    string `json:"cronKeyHash,omitempty"`
	EncryptedDOKey []byte `json:"encryptedDOKey,omitempty"`
}

func (sa storedAutomation) unwrap() types.AutomationSettings {
	a := sa.AutomationSettings
	a.CronKeyHash = sa.CronKeyHash
	a.EncryptedDOKey = sa.EncryptedDOKey
	return a
}

// GetUser retrieves a user from the "users" collection.
func (f *FirestoreProvider) GetUser(ctx context.Context, userID string) (types.User, error) {
	doc, err := f.client.Collection("users").Doc(userID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.User{}, fmt.Errorf("%w: %s", ErrUserNotFound, userID)
		}
		return types.User{}, fmt.Errorf("failed to get user %s: %w", userID, err)
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "user doc malformed", slog.String("userID", userID), slog.Any("err", err))
		return types.User{}, err
	}

	var user types.User
	if err := json.Unmarshal([]byte(jsonStr), &user); err != nil {
		return types.User{}, fmt.Errorf("failed to unmarshal user %s: %w", userID, err)
	}
	return user, nil
}

// CreateUser creates a new user document in the "users" collection.
func (f *FirestoreProvider) CreateUser(ctx context.Context, user types.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = f.client.Collection("users").Doc(user.ID).Create(ctx, map[string]interface{}{
		"json": string(userJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to create user %s: %w", user.ID, err)
	}
	return nil
}

// UpdateUser updates an existing user document in the "users" collection.
func (f *FirestoreProvider) UpdateUser(ctx context.Context, user types.User) error {
	userJSON, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user %s: %w", user.ID, err)
	}
	_, err = f.client.Collection("users").Doc(user.ID).Set(ctx, map[string]interface{}{
		"json": string(userJSON),
	}, firestore.MergeAll)
	if err != nil {
		return fmt.Errorf("failed to update user %s: %w", user.ID, err)
	}
	return nil
}

// GetCharger retrieves one of the user's chargers.
func (f *FirestoreProvider) GetCharger(ctx context.Context, userID, chargerID string) (types.Charger, error) {
	coll, err := f.userCollection(userID, "chargers")
	if err != nil {
		return types.Charger{}, err
	}
	doc, err := coll.Doc(chargerID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Charger{}, fmt.Errorf("%w: %s", ErrChargerNotFound, chargerID)
		}
		return types.Charger{}, fmt.Errorf("failed to get charger %s: %w", chargerID, err)
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "charger doc malformed", slog.String("chargerID", chargerID), slog.String("userID", userID), slog.Any("err", err))
		return types.Charger{}, err
	}

	var sc storedCharger
	if err := json.Unmarshal([]byte(jsonStr), &sc); err != nil {
		return types.Charger{}, fmt.Errorf("failed to unmarshal charger %s: %w", chargerID, err)
	}
	return sc.unwrap(), nil
}

// ListChargers retrieves all of the user's chargers ordered by document ID.
func (f *FirestoreProvider) ListChargers(ctx context.Context, userID string) ([]types.Charger, error) {
	coll, err := f.userCollection(userID, "chargers")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var chargers []types.Charger
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating chargers: %w", err)
		}

		jsonStr, err := docJSON(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "charger doc malformed", slog.String("chargerID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			// Skip malformed documents
			continue
		}

		var sc storedCharger
		if err := json.Unmarshal([]byte(jsonStr), &sc); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal charger", slog.String("chargerID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			continue
		}
		chargers = append(chargers, sc.unwrap())
	}
	return chargers, nil
}

// SetCharger creates or updates one of the user's chargers.
func (f *FirestoreProvider) SetCharger(ctx context.Context, userID string, charger types.Charger) error {
	if charger.ID == "" {
		return fmt.Errorf("charger ID cannot be empty")
	}
	coll, err := f.userCollection(userID, "chargers")
	if err != nil {
		return err
	}
	return setJSONDoc(ctx, coll.Doc(charger.ID), storedCharger{
		Charger:               charger,
		EncryptedAccessToken:  charger.EncryptedAccessToken,
		EncryptedRefreshToken: charger.EncryptedRefreshToken,
	})
}

// DeleteCharger removes the charger and its policy.
func (f *FirestoreProvider) DeleteCharger(ctx context.Context, userID, chargerID string) error {
	coll, err := f.userCollection(userID, "chargers")
	if err != nil {
		return err
	}
	if _, err := coll.Doc(chargerID).Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrChargerNotFound, chargerID)
		}
		return fmt.Errorf("failed to get charger %s: %w", chargerID, err)
	}
	if _, err := coll.Doc(chargerID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete charger %s: %w", chargerID, err)
	}

	// cascade the policy, if any
	policies, err := f.userCollection(userID, "policies")
	if err != nil {
		return err
	}
	if _, err := policies.Doc(chargerID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete policy for charger %s: %w", chargerID, err)
	}
	return nil
}

// GetVehicle retrieves one of the user's vehicles.
func (f *FirestoreProvider) GetVehicle(ctx context.Context, userID, vehicleID string) (types.Vehicle, error) {
	coll, err := f.userCollection(userID, "vehicles")
	if err != nil {
		return types.Vehicle{}, err
	}
	doc, err := coll.Doc(vehicleID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Vehicle{}, fmt.Errorf("%w: %s", ErrVehicleNotFound, vehicleID)
		}
		return types.Vehicle{}, fmt.Errorf("failed to get vehicle %s: %w", vehicleID, err)
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "vehicle doc malformed", slog.String("vehicleID", vehicleID), slog.String("userID", userID), slog.Any("err", err))
		return types.Vehicle{}, err
	}

	var sv storedVehicle
	if err := json.Unmarshal([]byte(jsonStr), &sv); err != nil {
		return types.Vehicle{}, fmt.Errorf("failed to unmarshal vehicle %s: %w", vehicleID, err)
	}
	return sv.unwrap(), nil
}

// ListVehicles retrieves all of the user's vehicles ordered by document ID.
func (f *FirestoreProvider) ListVehicles(ctx context.Context, userID string) ([]types.Vehicle, error) {
	coll, err := f.userCollection(userID, "vehicles")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var vehicles []types.Vehicle
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating vehicles: %w", err)
		}

		jsonStr, err := docJSON(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "vehicle doc malformed", slog.String("vehicleID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			continue
		}

		var sv storedVehicle
		if err := json.Unmarshal([]byte(jsonStr), &sv); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal vehicle", slog.String("vehicleID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			continue
		}
		vehicles = append(vehicles, sv.unwrap())
	}
	return vehicles, nil
}

// SetVehicle creates or updates one of the user's vehicles.
func (f *FirestoreProvider) SetVehicle(ctx context.Context, userID string, vehicle types.Vehicle) error {
	if vehicle.ID == "" {
		return fmt.Errorf("vehicle ID cannot be empty")
	}
	coll, err := f.userCollection(userID, "vehicles")
	if err != nil {
		return err
	}
	return setJSONDoc(ctx, coll.Doc(vehicle.ID), storedVehicle{
		Vehicle:        vehicle,
		EncryptedToken: vehicle.EncryptedToken,
	})
}

// DeleteVehicle removes one of the user's vehicles.
func (f *FirestoreProvider) DeleteVehicle(ctx context.Context, userID, vehicleID string) error {
	coll, err := f.userCollection(userID, "vehicles")
	if err != nil {
		return err
	}
	if _, err := coll.Doc(vehicleID).Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrVehicleNotFound, vehicleID)
		}
		return fmt.Errorf("failed to get vehicle %s: %w", vehicleID, err)
	}
	if _, err := coll.Doc(vehicleID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete vehicle %s: %w", vehicleID, err)
	}
	return nil
}

// GetPolicy retrieves one of the user's charging policies.
func (f *FirestoreProvider) GetPolicy(ctx context.Context, userID, policyID string) (types.ChargingPolicy, error) {
	coll, err := f.userCollection(userID, "policies")
	if err != nil {
		return types.ChargingPolicy{}, err
	}
	doc, err := coll.Doc(policyID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ChargingPolicy{}, fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
		}
		return types.ChargingPolicy{}, fmt.Errorf("failed to get policy %s: %w", policyID, err)
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "policy doc malformed", slog.String("policyID", policyID), slog.String("userID", userID), slog.Any("err", err))
		return types.ChargingPolicy{}, err
	}

	var p types.ChargingPolicy
	if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
		return types.ChargingPolicy{}, fmt.Errorf("failed to unmarshal policy %s: %w", policyID, err)
	}
	return p, nil
}

// ListPolicies retrieves all of the user's charging policies ordered by
// document ID, which is the order apply-cycles process them in.
func (f *FirestoreProvider) ListPolicies(ctx context.Context, userID string) ([]types.ChargingPolicy, error) {
	coll, err := f.userCollection(userID, "policies")
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx)
	defer iter.Stop()

	var policies []types.ChargingPolicy
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating policies: %w", err)
		}

		jsonStr, err := docJSON(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "policy doc malformed", slog.String("policyID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			continue
		}

		var p types.ChargingPolicy
		if err := json.Unmarshal([]byte(jsonStr), &p); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal policy", slog.String("policyID", doc.Ref.ID), slog.String("userID", userID), slog.Any("err", err))
			continue
		}
		policies = append(policies, p)
	}
	return policies, nil
}

// SetPolicy creates or updates a charging policy. The document ID is the
// charger ID so a second policy for the same charger overwrites the first.
func (f *FirestoreProvider) SetPolicy(ctx context.Context, userID string, policy types.ChargingPolicy) error {
	if policy.ChargerID == "" {
		return fmt.Errorf("policy chargerID cannot be empty")
	}
	coll, err := f.userCollection(userID, "policies")
	if err != nil {
		return err
	}
	return setJSONDoc(ctx, coll.Doc(policy.ChargerID), policy)
}

// DeletePolicy removes one of the user's charging policies.
func (f *FirestoreProvider) DeletePolicy(ctx context.Context, userID, policyID string) error {
	coll, err := f.userCollection(userID, "policies")
	if err != nil {
		return err
	}
	if _, err := coll.Doc(policyID).Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrPolicyNotFound, policyID)
		}
		return fmt.Errorf("failed to get policy %s: %w", policyID, err)
	}
	if _, err := coll.Doc(policyID).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete policy %s: %w", policyID, err)
	}
	return nil
}

// GetTibberConnection retrieves the user's price provider connection from
// the "config/tibber" document.
func (f *FirestoreProvider) GetTibberConnection(ctx context.Context, userID string) (types.TibberConnection, error) {
	coll, err := f.userCollection(userID, "config")
	if err != nil {
		return types.TibberConnection{}, err
	}
	doc, err := coll.Doc("tibber").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.TibberConnection{}, ErrNotConnected
		}
		return types.TibberConnection{}, fmt.Errorf("failed to fetch tibber connection: %w", err)
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "tibber connection doc malformed", slog.String("userID", userID), slog.Any("err", err))
		return types.TibberConnection{}, err
	}

	var st storedTibberConnection
	if err := json.Unmarshal([]byte(jsonStr), &st); err != nil {
		return types.TibberConnection{}, fmt.Errorf("failed to unmarshal tibber connection: %w", err)
	}
	return st.unwrap(), nil
}

// SetTibberConnection saves the user's price provider connection.
func (f *FirestoreProvider) SetTibberConnection(ctx context.Context, userID string, conn types.TibberConnection) error {
	coll, err := f.userCollection(userID, "config")
	if err != nil {
		return err
	}
	return setJSONDoc(ctx, coll.Doc("tibber"), storedTibberConnection{
		TibberConnection:      conn,
		EncryptedAccessToken:  conn.EncryptedAccessToken,
		EncryptedRefreshToken: conn.EncryptedRefreshToken,
	})
}

// DeleteTibberConnection removes the user's price provider connection.
func (f *FirestoreProvider) DeleteTibberConnection(ctx context.Context, userID string) error {
	coll, err := f.userCollection(userID, "config")
	if err != nil {
		return err
	}
	if _, err := coll.Doc("tibber").Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete tibber connection: %w", err)
	}
	return nil
}

// GetAutomation retrieves the user's automation settings from the
// "config/automation" document.
func (f *FirestoreProvider) GetAutomation(ctx context.Context, userID string) (types.AutomationSettings, error) {
	coll, err := f.userCollection(userID, "config")
	if err != nil {
		return types.AutomationSettings{}, err
	}
	doc, err := coll.Doc("automation").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.AutomationSettings{}, ErrNoAutomation
		}
		return types.AutomationSettings{}, fmt.Errorf("failed to fetch automation settings: %w", err)
	}

	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "automation doc malformed", slog.String("userID", userID), slog.Any("err", err))
		return types.AutomationSettings{}, err
	}

	var sa storedAutomation
	if err := json.Unmarshal([]byte(jsonStr), &sa); err != nil {
		return types.AutomationSettings{}, fmt.Errorf("failed to unmarshal automation settings: %w", err)
	}
	return sa.unwrap(), nil
}

// SetAutomation saves the user's automation settings.
func (f *FirestoreProvider) SetAutomation(ctx context.Context, userID string, settings types.AutomationSettings) error {
	coll, err := f.userCollection(userID, "config")
	if err != nil {
		return err
	}
	return setJSONDoc(ctx, coll.Doc("automation"), storedAutomation{
		AutomationSettings: settings,
		CronKeyHash:        settings.CronKeyHash,
		EncryptedDOKey:     settings.EncryptedDOKey,
	})
}

// DeleteAutomation removes the user's automation settings.
func (f *FirestoreProvider) DeleteAutomation(ctx context.Context, userID string) error {
	coll, err := f.userCollection(userID, "config")
	if err != nil {
		return err
	}
	if _, err := coll.Doc("automation").Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete automation settings: %w", err)
	}
	return nil
}

// GetUserIDForCronKey looks up the owning user for a hashed cron API key in
// the top-level "cron_keys" collection.
func (f *FirestoreProvider) GetUserIDForCronKey(ctx context.Context, keyHash string) (string, error) {
	if keyHash == "" {
		return "", fmt.Errorf("keyHash cannot be empty")
	}
	doc, err := f.client.Collection("cron_keys").Doc(keyHash).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("failed to look up cron key: %w", err)
	}

	val, err := doc.DataAt("userID")
	if err != nil {
		return "", fmt.Errorf("cron key doc missing userID: %w", err)
	}
	userID, ok := val.(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("cron key doc userID is not a string")
	}
	return userID, nil
}

// SetCronKey stores the hashed cron API key for the user.
func (f *FirestoreProvider) SetCronKey(ctx context.Context, userID, keyHash string) error {
	if keyHash == "" {
		return fmt.Errorf("keyHash cannot be empty")
	}
	_, err := f.client.Collection("cron_keys").Doc(keyHash).Set(ctx, map[string]interface{}{
		"userID": userID,
	})
	if err != nil {
		return fmt.Errorf("failed to store cron key: %w", err)
	}
	return nil
}

// DeleteCronKey removes a hashed cron API key.
func (f *FirestoreProvider) DeleteCronKey(ctx context.Context, keyHash string) error {
	if keyHash == "" {
		return fmt.Errorf("keyHash cannot be empty")
	}
	if _, err := f.client.Collection("cron_keys").Doc(keyHash).Delete(ctx); err != nil {
		return fmt.Errorf("failed to delete cron key: %w", err)
	}
	return nil
}

package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/solarautopilot/solarautopilot/pkg/log"
	"github.com/solarautopilot/solarautopilot/pkg/types"
)

const (
	collConfig        = "config"
	collEnergyHistory = "energy_history"
	collPriceHistory  = "price_history"
	collPredictions   = "predictions"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Every record is stored as a JSON blob next to the indexed
// timestamp and version fields.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	// prefix is prepended to every top-level collection name.
	prefix string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	prefix := lflag.String("firestore-collection-prefix", "", "Prefix for every Firestore collection")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.prefix = *prefix

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.projectID == "" && os.Getenv("FIRESTORE_EMULATOR_HOST") != "" {
		return fmt.Errorf("firestore-project-id is required when using the emulator")
	}
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

func (f *FirestoreProvider) collection(name string) *firestore.CollectionRef {
	return f.client.Collection(f.prefix + name)
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	// version is optional, default 0
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}

// decodeDoc unmarshals the json field of doc into a T.
func decodeDoc[T any](ctx context.Context, doc *firestore.DocumentSnapshot, kind string) (T, error) {
	var v T
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, kind+" doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return v, fmt.Errorf("%s document %s missing 'json' field: %w", kind, doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, kind+" doc json not string", slog.String("docID", doc.Ref.ID))
		return v, fmt.Errorf("%s document %s 'json' field is not string", kind, doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), &v); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal "+kind, slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return v, fmt.Errorf("failed to unmarshal %s (id=%s): %w", kind, doc.Ref.ID, err)
	}
	return v, nil
}

// setDoc stores v as a JSON blob along with the extra indexed fields.
func setDoc(ctx context.Context, ref *firestore.DocumentRef, v any, fields map[string]any) error {
	jsonBytes, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", ref.ID, err)
	}
	data := map[string]any{"json": string(jsonBytes)}
	for k, fv := range fields {
		data[k] = fv
	}
	if _, err := ref.Set(ctx, data); err != nil {
		return fmt.Errorf("failed to set %s/%s: %w", ref.Parent.ID, ref.ID, err)
	}
	return nil
}

// rangeDocs returns every record of the collection whose RFC3339 document ID
// falls in [start, end).
func rangeDocs[T any](ctx context.Context, coll *firestore.CollectionRef, start, end time.Time, kind string) ([]T, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []T
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating %s: %w", kind, err)
		}
		v, err := decodeDoc[T](ctx, doc, kind)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

// latestDoc returns the document with the greatest timestamp or nil if the
// collection is empty.
func latestDoc(ctx context.Context, coll *firestore.CollectionRef) (*firestore.DocumentSnapshot, error) {
	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func latestTime(ctx context.Context, coll *firestore.CollectionRef, kind string) (time.Time, int, error) {
	doc, err := latestDoc(ctx, coll)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("failed to get latest %s doc: %w", kind, err)
	}
	if doc == nil {
		return time.Time{}, 0, nil
	}
	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, 0, fmt.Errorf("invalid %s doc id %s: %w", kind, doc.Ref.ID, err)
	}
	return ts, docVersion(doc), nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.collection(collConfig).Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}
	s, err := decodeDoc[types.Settings](ctx, doc, "settings")
	if err != nil {
		return types.Settings{}, 0, err
	}
	return s, docVersion(doc), nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	return setDoc(ctx, f.collection(collConfig).Doc("settings"), settings, map[string]any{
		"version": version,
	})
}

// UpsertEnergyHistory adds or updates an energy history record. The document
// ID is the RFC3339 timestamp of TSHourStart.
func (f *FirestoreProvider) UpsertEnergyHistory(ctx context.Context, stats types.EnergyStats, version int) error {
	if stats.TSHourStart.IsZero() {
		return fmt.Errorf("energy stats missing tsHourStart")
	}
	docID := stats.TSHourStart.UTC().Format(time.RFC3339)
	return setDoc(ctx, f.collection(collEnergyHistory).Doc(docID), stats, map[string]any{
		"timestamp": stats.TSHourStart,
		"version":   version,
	})
}

// GetEnergyHistory retrieves energy history records within the specified time range.
func (f *FirestoreProvider) GetEnergyHistory(ctx context.Context, start, end time.Time) ([]types.EnergyStats, error) {
	return rangeDocs[types.EnergyStats](ctx, f.collection(collEnergyHistory), start.Truncate(time.Hour), end.Truncate(time.Hour), "energy stats")
}

// GetLatestEnergyHistoryTime retrieves the timestamp of the last stored energy history record.
func (f *FirestoreProvider) GetLatestEnergyHistoryTime(ctx context.Context) (time.Time, int, error) {
	return latestTime(ctx, f.collection(collEnergyHistory), "energy history")
}

// UpsertPrice adds or updates a price record. The document ID is the RFC3339
// timestamp of TSStart.
func (f *FirestoreProvider) UpsertPrice(ctx context.Context, price types.Price, version int) error {
	if price.TSStart.IsZero() {
		return fmt.Errorf("price missing tsStart")
	}
	docID := price.TSStart.UTC().Format(time.RFC3339)
	return setDoc(ctx, f.collection(collPriceHistory).Doc(docID), price, map[string]any{
		"timestamp": price.TSStart,
		"version":   version,
	})
}

// GetPriceHistory retrieves price records within the specified time range.
func (f *FirestoreProvider) GetPriceHistory(ctx context.Context, start, end time.Time) ([]types.Price, error) {
	return rangeDocs[types.Price](ctx, f.collection(collPriceHistory), start, end, "price")
}

// GetLatestPriceHistoryTime retrieves the timestamp of the last stored price record.
func (f *FirestoreProvider) GetLatestPriceHistoryTime(ctx context.Context) (time.Time, int, error) {
	return latestTime(ctx, f.collection(collPriceHistory), "price")
}

// InsertPrediction stores a prediction under its ID.
func (f *FirestoreProvider) InsertPrediction(ctx context.Context, pred types.Prediction) error {
	if pred.ID == "" {
		return fmt.Errorf("prediction missing id")
	}
	return setDoc(ctx, f.collection(collPredictions).Doc(pred.ID), pred, map[string]any{
		"timestamp":  pred.Timestamp,
		"confidence": pred.Confidence,
		"learning":   pred.Learning,
	})
}

// GetLatestPrediction returns the most recent stored prediction.
func (f *FirestoreProvider) GetLatestPrediction(ctx context.Context) (types.Prediction, error) {
	doc, err := latestDoc(ctx, f.collection(collPredictions))
	if err != nil {
		return types.Prediction{}, fmt.Errorf("failed to get latest prediction doc: %w", err)
	}
	if doc == nil {
		return types.Prediction{}, fmt.Errorf("latest prediction: %w", ErrNotFound)
	}
	return decodeDoc[types.Prediction](ctx, doc, "prediction")
}

// UpdateESSSimState saves the simulated battery state to the "config/ess_sim"
// document.
func (f *FirestoreProvider) UpdateESSSimState(ctx context.Context, state types.ESSSimState) error {
	return setDoc(ctx, f.collection(collConfig).Doc("ess_sim"), state, map[string]any{
		"timestamp": state.Timestamp,
	})
}

// GetESSSimState returns the simulated battery state or a zero state if none
// was saved yet.
func (f *FirestoreProvider) GetESSSimState(ctx context.Context) (types.ESSSimState, error) {
	doc, err := f.collection(collConfig).Doc("ess_sim").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ESSSimState{}, nil
		}
		return types.ESSSimState{}, fmt.Errorf("failed to fetch ess sim doc: %w", err)
	}
	return decodeDoc[types.ESSSimState](ctx, doc, "ess sim state")
}

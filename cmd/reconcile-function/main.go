package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/GoogleCloudPlatform/functions-framework-go/functions"
	cloudevents "github.com/cloudevents/sdk-go/v2"

	"github.com/Lllllllleong/guidereconciler/internal/models"
	"github.com/Lllllllleong/guidereconciler/internal/services"
)

var (
	reconcilerInstance *services.ReconcilerFunction
	once               sync.Once
	initErr            error
)

func init() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// One function is deployed per bucket (guides and receipts), both with
	// this entry point.
	functions.CloudEvent("ReconcilePair", reconcilePair)
}

// main is required by the Go Functions Framework.
func main() {}

// reconcilePair is the Cloud Function entry point.
func reconcilePair(ctx context.Context, e cloudevents.Event) error {
	once.Do(func() {
		reconcilerInstance, initErr = services.NewReconciler(context.Background())
	})
	if initErr != nil {
		slog.Error("Critical error during function initialization", "error", initErr)
		return initErr
	}

	gcsEvent, err := decodeGCSEvent(e)
	if err != nil {
		slog.Error("Failed to unmarshal event data", "error", err, "data", string(e.Data()))
		return err
	}

	// Errors are already logged with context inside Process. Returning one
	// marks the invocation as failed so it can be retried.
	return reconcilerInstance.Process(ctx, gcsEvent)
}

func decodeGCSEvent(e cloudevents.Event) (models.GCSEvent, error) {
	var gcsEvent models.GCSEvent
	if err := json.Unmarshal(e.Data(), &gcsEvent); err != nil {
		return gcsEvent, fmt.Errorf("json.Unmarshal: %w", err)
	}
	if gcsEvent.Bucket == "" || gcsEvent.Name == "" {
		return gcsEvent, fmt.Errorf("event data is missing bucket or name")
	}
	return gcsEvent, nil
}

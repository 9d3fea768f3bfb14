package gcp

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"

	"github.com/Lllllllleong/guidereconciler/internal/models"
)

// NewFirestoreClient creates and returns a new Firestore client for the given project ID.
func NewFirestoreClient(ctx context.Context, projectID string) (*firestore.Client, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}

	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}

	return client, nil
}

// Ledger stores reconciliation records in one Firestore collection.
type Ledger struct {
	client     *firestore.Client
	collection string
}

func NewLedger(ctx context.Context, projectID, collection string) (*Ledger, error) {
	client, err := NewFirestoreClient(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return &Ledger{client: client, collection: collection}, nil
}

// Add appends a record and returns its document ID.
func (l *Ledger) Add(ctx context.Context, rec models.Reconciliation) (string, error) {
	docRef, _, err := l.client.Collection(l.collection).Add(ctx, rec)
	if err != nil {
		return "", fmt.Errorf("failed to add reconciliation record: %w", err)
	}
	return docRef.ID, nil
}

// UpdateStatus sets the status of record id, plus optional extra fields.
func (l *Ledger) UpdateStatus(ctx context.Context, id, status, errDetails string, fields map[string]any) error {
	_, err := l.client.Collection(l.collection).Doc(id).Update(ctx, statusUpdates(status, errDetails, fields))
	return err
}

// SetFields updates fields of record id without touching its status.
func (l *Ledger) SetFields(ctx context.Context, id string, fields map[string]any) error {
	_, err := l.client.Collection(l.collection).Doc(id).Update(ctx, fieldUpdates(fields))
	return err
}

func (l *Ledger) Close() error {
	return l.client.Close()
}

func statusUpdates(status, errDetails string, fields map[string]any) []firestore.Update {
	updates := []firestore.Update{
		{Path: "status", Value: status},
	}
	if errDetails != "" {
		updates = append(updates, firestore.Update{Path: "errorDetails", Value: errDetails})
	}
	return append(updates, fieldUpdates(fields)...)
}

func fieldUpdates(fields map[string]any) []firestore.Update {
	paths := make([]string, 0, len(fields))
	for p := range fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	updates := make([]firestore.Update, 0, len(paths))
	for _, p := range paths {
		updates = append(updates, firestore.Update{Path: p, Value: fields[p]})
	}
	return updates
}

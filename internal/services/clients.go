package services

import (
	"context"
	"errors"
	"io"

	"github.com/Lllllllleong/guidereconciler/internal/gcp"
	"github.com/Lllllllleong/guidereconciler/internal/models"
)

// objectStore is the slice of Cloud Storage the services use.
type objectStore interface {
	Stat(ctx context.Context, bucket, object string) (gcp.ObjectInfo, bool, error)
	Download(ctx context.Context, bucket, object, destPath string) error
	Upload(ctx context.Context, bucket, localPath, object string, metadata map[string]string) error
	io.Closer
}

// ledger records reconciliation outcomes.
type ledger interface {
	Add(ctx context.Context, rec models.Reconciliation) (string, error)
	UpdateStatus(ctx context.Context, id, status, errDetails string, fields map[string]any) error
	SetFields(ctx context.Context, id string, fields map[string]any) error
	io.Closer
}

type workflowLauncher interface {
	Trigger(ctx context.Context, payload any) (string, error)
	io.Closer
}

// clientOpeners creates the backing clients. Tests swap in fakes.
type clientOpeners struct {
	store    func(ctx context.Context) (objectStore, error)
	ledger   func(ctx context.Context, projectID, collection string) (ledger, error)
	launcher func(ctx context.Context, parent string) (workflowLauncher, error)
}

var gcpOpeners = clientOpeners{
	store: func(ctx context.Context) (objectStore, error) {
		s, err := gcp.NewObjectStore(ctx)
		if err != nil {
			return nil, err
		}
		return s, nil
	},
	ledger: func(ctx context.Context, projectID, collection string) (ledger, error) {
		l, err := gcp.NewLedger(ctx, projectID, collection)
		if err != nil {
			return nil, err
		}
		return l, nil
	},
	launcher: func(ctx context.Context, parent string) (workflowLauncher, error) {
		w, err := gcp.NewWorkflowLauncher(ctx, parent)
		if err != nil {
			return nil, err
		}
		return w, nil
	},
}

// closeAll closes every non-nil closer and joins the errors.
func closeAll(closers ...io.Closer) error {
	var errs []error
	for _, c := range closers {
		if c != nil {
			errs = append(errs, c.Close())
		}
	}
	return errors.Join(errs...)
}

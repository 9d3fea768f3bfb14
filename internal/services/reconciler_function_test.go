package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/guidereconciler/internal/models"
	"github.com/Lllllllleong/guidereconciler/internal/reconcile"
	"github.com/Lllllllleong/guidereconciler/internal/testutil"
)

var testConfig = ReconcilerConfig{
	ProjectID:      "p",
	GuidesBucket:   "guias",
	ReceiptsBucket: "comprovantes",
	MergedBucket:   "pb",
	CollectionName: "reconciliations",
}

const (
	guideObject   = "2024/03/Nfe_1_Guia.pdf"
	receiptObject = "2024/03/Nfe_1_Comprovante.pdf"
	mergedObject  = "2024/03/Nfe_1_PB.pdf"
)

var (
	guideEvent   = models.GCSEvent{Bucket: "guias", Name: guideObject}
	receiptEvent = models.GCSEvent{Bucket: "comprovantes", Name: receiptObject}
)

func newTestFunction(store *fakeStore, records *fakeLedger, launcher workflowLauncher) *ReconcilerFunction {
	return &ReconcilerFunction{store: store, ledger: records, launcher: launcher, config: testConfig}
}

func TestProcess(t *testing.T) {
	gcsDown := errors.New("gcs down")

	tests := []struct {
		name           string
		guide          []int
		receipt        []int
		corruptReceipt bool
		event          models.GCSEvent
		uploadErr      error
		statErr        error
		wantErr        error
		wantHistory    []string
		wantMerged     []int
	}{
		{
			name:  "counterpart missing waits",
			guide: []int{200},
			event: guideEvent,
		},
		{
			name:    "unrelated object is ignored",
			guide:   []int{200},
			receipt: []int{300},
			event:   models.GCSEvent{Bucket: "guias", Name: "Random.pdf"},
		},
		{
			name:    "counterpart lookup failure",
			guide:   []int{200},
			receipt: []int{300},
			event:   guideEvent,
			statErr: gcsDown,
			wantErr: gcsDown,
		},
		{
			name:        "receipt completes the pair",
			guide:       []int{200, 201},
			receipt:     []int{300},
			event:       receiptEvent,
			wantHistory: []string{"MERGING", "MERGED"},
			wantMerged:  []int{200, 201, 300},
		},
		{
			name:           "unreadable receipt",
			guide:          []int{200},
			corruptReceipt: true,
			event:          guideEvent,
			wantErr:        reconcile.ErrLoad,
			wantHistory:    []string{"MERGING", "FAILED_LOAD"},
		},
		{
			name:        "upload failure",
			guide:       []int{200},
			receipt:     []int{300},
			event:       guideEvent,
			uploadErr:   gcsDown,
			wantErr:     gcsDown,
			wantHistory: []string{"MERGING", "FAILED_WRITE"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			records := newFakeLedger()
			if tt.guide != nil {
				store.put("guias", guideObject, testutil.PDF(t, tt.guide...), nil)
			}
			if tt.receipt != nil {
				store.put("comprovantes", receiptObject, testutil.PDF(t, tt.receipt...), nil)
			}
			if tt.corruptReceipt {
				store.put("comprovantes", receiptObject, []byte("not a pdf"), nil)
			}
			store.uploadErr = tt.uploadErr
			store.statErr = tt.statErr

			err := newTestFunction(store, records, nil).Process(context.Background(), tt.event)
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			if tt.wantHistory == nil {
				assert.Empty(t, records.all())
			} else {
				require.Len(t, records.order, 1)
				assert.Equal(t, tt.wantHistory, records.history[records.order[0]])
			}

			merged, ok := store.get("pb", mergedObject)
			if tt.wantMerged == nil {
				assert.False(t, ok, "no merged output expected")
				return
			}
			require.True(t, ok)
			assert.Equal(t, tt.wantMerged, pdfWidths(t, merged.data))
		})
	}
}

func TestProcessRecordsLedgerEntry(t *testing.T) {
	store := newFakeStore()
	records := newFakeLedger()
	guide := testutil.PDF(t, 200, 201)
	store.put("guias", guideObject, guide, nil)
	store.put("comprovantes", receiptObject, testutil.PDF(t, 300), nil)

	require.NoError(t, newTestFunction(store, records, nil).Process(context.Background(), guideEvent))

	all := records.all()
	require.Len(t, all, 1)
	rec := all[0]
	sum := sha256.Sum256(guide)
	assert.Equal(t, "Nfe_1", rec.PairingKey)
	assert.Equal(t, "Nfe_1_Guia.pdf", rec.GuideFilename)
	assert.Equal(t, "Nfe_1_Comprovante.pdf", rec.ReceiptFilename)
	assert.Equal(t, "Nfe_1_PB.pdf", rec.OutputFilename)
	assert.Equal(t, hex.EncodeToString(sum[:]), rec.GuideHash)
	assert.Equal(t, "MERGED", rec.Status)
	assert.Equal(t, 2, rec.GuidePageCount)
	assert.Equal(t, 1, rec.ReceiptPageCount)
	assert.Equal(t, "gs://pb/"+mergedObject, rec.ArchiveURI)
	assert.Equal(t, SourceFunction, rec.Source)
}

func TestProcessSkipsEventForCurrentMerge(t *testing.T) {
	store := newFakeStore()
	records := newFakeLedger()
	store.put("guias", guideObject, testutil.PDF(t, 200), nil)
	store.put("comprovantes", receiptObject, testutil.PDF(t, 300), nil)
	f := newTestFunction(store, records, nil)

	require.NoError(t, f.Process(context.Background(), guideEvent))
	require.NoError(t, f.Process(context.Background(), receiptEvent))

	assert.Len(t, store.uploads, 1)
	assert.Len(t, records.all(), 1)

	guide, _ := store.get("guias", guideObject)
	receipt, _ := store.get("comprovantes", receiptObject)
	merged, ok := store.get("pb", mergedObject)
	require.True(t, ok)
	assert.Equal(t, map[string]string{
		"guide-generation":   strconv.FormatInt(guide.info.Generation, 10),
		"receipt-generation": strconv.FormatInt(receipt.info.Generation, 10),
	}, merged.info.Metadata)
}

func TestProcessReplacesMergeAfterReupload(t *testing.T) {
	store := newFakeStore()
	records := newFakeLedger()
	store.put("guias", guideObject, testutil.PDF(t, 200), nil)
	store.put("comprovantes", receiptObject, testutil.PDF(t, 300), nil)
	f := newTestFunction(store, records, nil)

	require.NoError(t, f.Process(context.Background(), receiptEvent))
	merged, _ := store.get("pb", mergedObject)
	require.Equal(t, []int{200, 300}, pdfWidths(t, merged.data))

	// A corrected receipt replaces the earlier one.
	store.put("comprovantes", receiptObject, testutil.PDF(t, 400, 401), nil)
	require.NoError(t, f.Process(context.Background(), receiptEvent))

	assert.Len(t, store.uploads, 2)
	merged, _ = store.get("pb", mergedObject)
	assert.Equal(t, []int{200, 400, 401}, pdfWidths(t, merged.data))

	all := records.all()
	require.Len(t, all, 2)
	for _, rec := range all {
		assert.Equal(t, "MERGED", rec.Status)
	}
}

func TestProcessTriggersWorkflow(t *testing.T) {
	store := newFakeStore()
	records := newFakeLedger()
	store.put("guias", guideObject, testutil.PDF(t, 200, 201), nil)
	store.put("comprovantes", receiptObject, testutil.PDF(t, 300), nil)

	t.Run("payload", func(t *testing.T) {
		launcher := &fakeLauncher{}
		require.NoError(t, newTestFunction(store, records, launcher).Process(context.Background(), guideEvent))
		require.Len(t, launcher.payloads, 1)
		assert.Equal(t, models.MergedWorkflowPayload{
			ReconciliationID: records.order[0],
			PairingKey:       "Nfe_1",
			MergedGCSUri:     "gs://pb/" + mergedObject,
			PageCount:        3,
		}, launcher.payloads[0])
	})

	t.Run("failure marks the record", func(t *testing.T) {
		// A new guide generation forces another merge.
		store.put("guias", guideObject, testutil.PDF(t, 210), nil)
		boom := errors.New("quota exceeded")
		launcher := &fakeLauncher{triggerErr: boom}
		err := newTestFunction(store, records, launcher).Process(context.Background(), guideEvent)
		require.ErrorIs(t, err, boom)

		id := records.order[len(records.order)-1]
		assert.Equal(t, []string{"MERGING", "MERGED", "FAILED"}, records.history[id])
		assert.Contains(t, records.records[id].ErrorDetails, "quota exceeded")
	})
}

func TestNewReconcilerFunctionClosesClients(t *testing.T) {
	openErr := errors.New("no credentials")
	withWorkflow := testConfig
	withWorkflow.WorkflowID = "notify"
	withWorkflow.WorkflowLocation = "us-central1"

	tests := []struct {
		name        string
		config      ReconcilerConfig
		storeErr    error
		launcherErr error
		wantLedger  bool
		wantStore   bool
	}{
		{name: "storage fails", config: withWorkflow, storeErr: openErr, wantLedger: true},
		{name: "workflows fails", config: withWorkflow, launcherErr: openErr, wantLedger: true, wantStore: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, records, launcher := newFakeStore(), newFakeLedger(), &fakeLauncher{}
			var parent string
			open := clientOpeners{
				ledger: func(context.Context, string, string) (ledger, error) { return records, nil },
				store: func(context.Context) (objectStore, error) {
					if tt.storeErr != nil {
						return nil, tt.storeErr
					}
					return store, nil
				},
				launcher: func(_ context.Context, p string) (workflowLauncher, error) {
					parent = p
					if tt.launcherErr != nil {
						return nil, tt.launcherErr
					}
					return launcher, nil
				},
			}

			f, err := newReconcilerFunction(context.Background(), tt.config, open)
			require.ErrorIs(t, err, openErr)
			assert.Nil(t, f)
			assert.Equal(t, tt.wantLedger, records.closed, "ledger closed")
			assert.Equal(t, tt.wantStore, store.closed, "store closed")
			assert.False(t, launcher.closed, "launcher closed")
			if tt.launcherErr != nil {
				assert.Equal(t, "projects/p/locations/us-central1/workflows/notify", parent)
			}
		})
	}

	t.Run("success keeps clients open until Close", func(t *testing.T) {
		store, records := newFakeStore(), newFakeLedger()
		open := clientOpeners{
			ledger: func(context.Context, string, string) (ledger, error) { return records, nil },
			store:  func(context.Context) (objectStore, error) { return store, nil },
			launcher: func(context.Context, string) (workflowLauncher, error) {
				t.Fatal("launcher opened without WORKFLOW_ID")
				return nil, nil
			},
		}
		f, err := newReconcilerFunction(context.Background(), testConfig, open)
		require.NoError(t, err)
		assert.False(t, records.closed)
		assert.False(t, store.closed)

		require.NoError(t, f.Close())
		assert.True(t, records.closed)
		assert.True(t, store.closed)
	})
}

func TestReconcilerConfigFromEnv(t *testing.T) {
	t.Setenv("PROJECT_ID", "p")
	t.Setenv("GUIDES_BUCKET", "guias")
	t.Setenv("RECEIPTS_BUCKET", "comprovantes")
	t.Setenv("MERGED_BUCKET", "")

	_, err := reconcilerConfigFromEnv()
	assert.Error(t, err)

	t.Setenv("MERGED_BUCKET", "pb")
	config, err := reconcilerConfigFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "reconciliations", config.CollectionName)
	assert.Equal(t, "us-central1", config.WorkflowLocation)
	assert.Empty(t, config.WorkflowID)
}

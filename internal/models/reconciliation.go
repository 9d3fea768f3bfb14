package models

import "time"

// Reconciliation is the Firestore ledger record for one guide in a run.
type Reconciliation struct {
	RunID            string    `firestore:"runId,omitempty"`
	PairingKey       string    `firestore:"pairingKey,omitempty"`
	GuideFilename    string    `firestore:"guideFilename,omitempty"`
	ReceiptFilename  string    `firestore:"receiptFilename,omitempty"`
	OutputFilename   string    `firestore:"outputFilename,omitempty"`
	GuideHash        string    `firestore:"guideHash,omitempty"`
	Status           string    `firestore:"status,omitempty"`
	ErrorDetails     string    `firestore:"errorDetails,omitempty"`
	GuidePageCount   int       `firestore:"guidePageCount,omitempty"`
	ReceiptPageCount int       `firestore:"receiptPageCount,omitempty"`
	ArchiveURI       string    `firestore:"archiveUri,omitempty"`
	Source           string    `firestore:"source,omitempty"` // "cli" or "function"
	CreatedAt        time.Time `firestore:"createdAt,omitempty"`
}

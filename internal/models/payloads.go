package models

// GCSEvent is the data payload of a Cloud Storage object-finalized CloudEvent.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

// MergedWorkflowPayload is the argument handed to the downstream workflow
// once a pair has been merged and uploaded.
type MergedWorkflowPayload struct {
	ReconciliationID string `json:"reconciliationId"`
	PairingKey       string `json:"pairingKey"`
	MergedGCSUri     string `json:"mergedGcsUri"`
	PageCount        int    `json:"pageCount"`
}

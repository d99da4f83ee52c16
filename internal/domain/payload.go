package domain

// Reference is one recording submitted on a ROOT job, in request order
type Reference struct {
	ReferenceID        string `json:"reference_id"`
	UploadID           string `json:"upload_id,omitempty"`
	SourceLocation     string `json:"source_location"`
	TranscriptLocation string `json:"transcript_location,omitempty"`
}

// RootPayload is the input of a ROOT job
type RootPayload struct {
	References []Reference `json:"references"`
}

// TranscribePayload is the input of a LEAF_TRANSCRIBE job
type TranscribePayload struct {
	ReferenceID    string `json:"reference_id"`
	UploadID       string `json:"upload_id,omitempty"`
	SourceLocation string `json:"source_location"`
	ReferenceIndex int    `json:"reference_index"`
}

// TranscribeResult is written when the transcript artifact shows up
type TranscribeResult struct {
	TranscriptLocation string `json:"transcript_location"`
}

// AggregatePayload is the input of a LEAF_AGGREGATE job
type AggregatePayload struct {
	RootJobID string `json:"root_job_id"`
}

// SoapNote is the structured clinical note produced by aggregation
type SoapNote struct {
	Subjective string `json:"subjective"`
	Objective  string `json:"objective"`
	Assessment string `json:"assessment"`
	Plan       string `json:"plan"`
}

// RootResult is copied onto the ROOT job when aggregation succeeds
type RootResult struct {
	TranscriptionText string   `json:"transcription_text"`
	SoapData          SoapNote `json:"soap_data"`
}

// ChildManifest describes one reference in the creation response
type ChildManifest struct {
	JobID       string `json:"job_id,omitempty"`
	ReferenceID string `json:"reference_id"`
	UploadID    string `json:"upload_id,omitempty"`
	Status      string `json:"status"`
}

package objectstore

import (
	"testing"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreatedTranscriptKeys(t *testing.T) {
	body := []byte(`{
		"EventName": "s3:ObjectCreated:Put",
		"Key": "voice2soap/voice/transcripts/upload-1/job-1/transcript.json",
		"Records": [
			{
				"eventName": "s3:ObjectCreated:Put",
				"s3": {"bucket": {"name": "voice2soap"}, "object": {"key": "voice%2Ftranscripts%2Fupload-1%2Fjob-1%2Ftranscript.json", "size": 812}}
			},
			{
				"eventName": "s3:ObjectCreated:Put",
				"s3": {"bucket": {"name": "voice2soap"}, "object": {"key": "voice%2Fuploads%2Fupload-1.wav"}}
			},
			{
				"eventName": "s3:ObjectRemoved:Delete",
				"s3": {"bucket": {"name": "voice2soap"}, "object": {"key": "voice%2Ftranscripts%2Fupload-2%2Fjob-2%2Ftranscript.json"}}
			}
		]
	}`)

	keys, err := CreatedTranscriptKeys(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"voice/transcripts/upload-1/job-1/transcript.json"}, keys)
}

func TestCreatedTranscriptKeys_Malformed(t *testing.T) {
	_, err := CreatedTranscriptKeys([]byte(`{"Records": [`))
	var validationErr *domain.ValidationError
	assert.ErrorAs(t, err, &validationErr)
}

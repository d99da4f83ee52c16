package objectstore

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/minio/minio-go/v7/pkg/notification"
)

// CreatedTranscriptKeys extracts the transcript keys announced by a bucket
// notification. Events for other prefixes or other event types are ignored.
func CreatedTranscriptKeys(body []byte) ([]string, error) {
	var info notification.Info
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, domain.NewValidationError("malformed storage event", err)
	}

	var keys []string
	for _, record := range info.Records {
		if !strings.HasPrefix(string(record.EventName), "s3:ObjectCreated:") {
			continue
		}
		key, err := url.QueryUnescape(record.S3.Object.Key)
		if err != nil {
			return nil, domain.NewValidationError(fmt.Sprintf("undecodable object key %q", record.S3.Object.Key), err)
		}
		if strings.HasPrefix(key, TranscriptPrefix) && strings.HasSuffix(key, "/"+TranscriptFilename) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

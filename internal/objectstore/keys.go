package objectstore

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"regexp"
	"strings"

	"github.com/cuongbtq/voice2soap/internal/domain"
	"github.com/google/uuid"
)

// Object key layout
const (
	SourcePrefix       = "voice/uploads/"
	TranscriptPrefix   = "voice/transcripts/"
	TranscriptFilename = "transcript.json"

	uploadIDPrefix = "upload-"

	// voice/transcripts/<reference_id>/<job_id>/transcript.json
	transcriptKeySegments = 5
	transcriptJobSegment  = 3
	transcriptRefSegment  = 2
)

var uploadIDPattern = regexp.MustCompile(`^upload-[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

// AllowedAudioTypes maps accepted upload extensions to their content type
var AllowedAudioTypes = map[string]string{
	".mp3":  "audio/mpeg",
	".mp4":  "audio/mp4",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".flac": "audio/flac",
	".amr":  "audio/amr",
	".ogg":  "audio/ogg",
	".webm": "audio/webm",
}

// NewUploadID returns a fresh upload identifier
func NewUploadID() string {
	return uploadIDPrefix + uuid.NewString()
}

// IsUploadID reports whether s has the upload identifier shape
func IsUploadID(s string) bool {
	return uploadIDPattern.MatchString(s)
}

// UploadKey is where a client PUTs a new recording
func UploadKey(uploadID, filename string) (string, error) {
	ext := strings.ToLower(path.Ext(filename))
	if _, ok := AllowedAudioTypes[ext]; !ok {
		return "", domain.NewValidationError(fmt.Sprintf("unsupported audio extension %q", ext), nil)
	}
	return SourcePrefix + uploadID + ext, nil
}

// ContentTypeFor returns the audio content type of a key, if known
func ContentTypeFor(key string) string {
	return AllowedAudioTypes[strings.ToLower(path.Ext(key))]
}

// ReferenceID derives the dedup identity of a source recording.
// Upload keys keep their upload id; other locations are hashed.
func ReferenceID(location string) string {
	base := path.Base(location)
	base = strings.TrimSuffix(base, path.Ext(base))
	if IsUploadID(base) {
		return base
	}
	sum := sha256.Sum256([]byte(location))
	return "src-" + hex.EncodeToString(sum[:])[:16]
}

// TranscriptDir is the prefix holding every transcript of a reference
func TranscriptDir(referenceID string) string {
	return TranscriptPrefix + referenceID + "/"
}

// TranscriptKey is the output location the transcription provider writes for a job
func TranscriptKey(referenceID, jobID string) string {
	return TranscriptDir(referenceID) + jobID + "/" + TranscriptFilename
}

// ParseTranscriptKey extracts the reference and originating job id from a
// transcript location. Locations with the wrong shape are a ValidationError.
func ParseTranscriptKey(key string) (referenceID, jobID string, err error) {
	key = strings.TrimPrefix(key, "/")
	segments := strings.Split(key, "/")
	if len(segments) != transcriptKeySegments {
		return "", "", domain.NewValidationError(
			fmt.Sprintf("invalid transcript location %q: expected %d path segments, got %d", key, transcriptKeySegments, len(segments)), nil)
	}
	if !strings.HasPrefix(key, TranscriptPrefix) || segments[transcriptKeySegments-1] != TranscriptFilename {
		return "", "", domain.NewValidationError(fmt.Sprintf("invalid transcript location %q", key), nil)
	}

	referenceID = segments[transcriptRefSegment]
	jobID = segments[transcriptJobSegment]
	if referenceID == "" || jobID == "" {
		return "", "", domain.NewValidationError(fmt.Sprintf("invalid transcript location %q: empty segment", key), nil)
	}
	return referenceID, jobID, nil
}

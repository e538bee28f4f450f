package simpleimage

import (
	"io"
	"time"
)

// OwnerMetadataKey is the blob metadata key carrying the uploading subject id
const OwnerMetadataKey = "userId"

// MaxLabels is the number of ranked labels kept on a record
const MaxLabels = 4

// Label is a single label-detection result
type Label struct {
	Description string  `json:"description" firestore:"description"`
	Score       float64 `json:"score" firestore:"score"`
	Topicality  float64 `json:"topicality" firestore:"topicality"`
}

// ImageRecord is the metadata document stored for one object.
// The JSON and Firestore keys match the documents written by earlier
// deployments, so existing collections stay readable.
type ImageRecord struct {
	ID          string     `json:"id" firestore:"-"`
	Container   string     `json:"bucket" firestore:"bucket"`
	Path        string     `json:"fileName" firestore:"fileName"`
	URI         string     `json:"imageUri" firestore:"imageUri"`
	OwnerID     string     `json:"userId,omitempty" firestore:"userId,omitempty"`
	ContentType string     `json:"contentType,omitempty" firestore:"contentType,omitempty"`
	SizeBytes   int64      `json:"size" firestore:"size"`
	Labels      []Label    `json:"labels,omitempty" firestore:"labels,omitempty"`
	OCRText     *string    `json:"ocrText,omitempty" firestore:"ocrText,omitempty"`
	CreatedAt   *time.Time `json:"timeCreated,omitempty" firestore:"timeCreated,omitempty"`
	UpdatedAt   *time.Time `json:"updated,omitempty" firestore:"updated,omitempty"`
	UploadedAt  *time.Time `json:"uploadedTimestamp,omitempty" firestore:"uploadedTimestamp,omitempty"`
	ProcessedAt *time.Time `json:"processedTimestamp,omitempty" firestore:"processedTimestamp,omitempty"`
	VisionError string     `json:"visionApiError,omitempty" firestore:"visionApiError,omitempty"`
}

// Complete reports whether the record locates its backing object
func (r *ImageRecord) Complete() bool {
	return r.Container != "" && r.Path != ""
}

// Clone returns a deep copy of the record
func (r *ImageRecord) Clone() *ImageRecord {
	c := *r
	if r.Labels != nil {
		c.Labels = append([]Label{}, r.Labels...)
	}
	c.OCRText = clonePtr(r.OCRText)
	c.CreatedAt = clonePtr(r.CreatedAt)
	c.UpdatedAt = clonePtr(r.UpdatedAt)
	c.UploadedAt = clonePtr(r.UploadedAt)
	c.ProcessedAt = clonePtr(r.ProcessedAt)
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// ImagePatch is the merge unit for metadata writes. Nil fields are left
// untouched on the stored document.
type ImagePatch struct {
	Container   *string
	Path        *string
	URI         *string
	OwnerID     *string
	ContentType *string
	SizeBytes   *int64
	Labels      *[]Label
	OCRText     *string
	CreatedAt   *time.Time
	UpdatedAt   *time.Time
	UploadedAt  *time.Time
	ProcessedAt *time.Time
	VisionError *string
}

// Fields returns the set fields keyed by their persisted names
func (p *ImagePatch) Fields() map[string]interface{} {
	fields := make(map[string]interface{})
	if p.Container != nil {
		fields["bucket"] = *p.Container
	}
	if p.Path != nil {
		fields["fileName"] = *p.Path
	}
	if p.URI != nil {
		fields["imageUri"] = *p.URI
	}
	if p.OwnerID != nil {
		fields["userId"] = *p.OwnerID
	}
	if p.ContentType != nil {
		fields["contentType"] = *p.ContentType
	}
	if p.SizeBytes != nil {
		fields["size"] = *p.SizeBytes
	}
	if p.Labels != nil {
		labels := *p.Labels
		if labels == nil {
			labels = []Label{}
		}
		fields["labels"] = labels
	}
	if p.OCRText != nil {
		fields["ocrText"] = *p.OCRText
	}
	if p.CreatedAt != nil {
		fields["timeCreated"] = *p.CreatedAt
	}
	if p.UpdatedAt != nil {
		fields["updated"] = *p.UpdatedAt
	}
	if p.UploadedAt != nil {
		fields["uploadedTimestamp"] = *p.UploadedAt
	}
	if p.ProcessedAt != nil {
		fields["processedTimestamp"] = *p.ProcessedAt
	}
	if p.VisionError != nil {
		fields["visionApiError"] = *p.VisionError
	}
	return fields
}

// Apply merges the set fields of the patch into rec
func (p *ImagePatch) Apply(rec *ImageRecord) {
	if p.Container != nil {
		rec.Container = *p.Container
	}
	if p.Path != nil {
		rec.Path = *p.Path
	}
	if p.URI != nil {
		rec.URI = *p.URI
	}
	if p.OwnerID != nil {
		rec.OwnerID = *p.OwnerID
	}
	if p.ContentType != nil {
		rec.ContentType = *p.ContentType
	}
	if p.SizeBytes != nil {
		rec.SizeBytes = *p.SizeBytes
	}
	if p.Labels != nil {
		rec.Labels = append([]Label{}, (*p.Labels)...)
	}
	if p.OCRText != nil {
		text := *p.OCRText
		rec.OCRText = &text
	}
	if p.CreatedAt != nil {
		t := *p.CreatedAt
		rec.CreatedAt = &t
	}
	if p.UpdatedAt != nil {
		t := *p.UpdatedAt
		rec.UpdatedAt = &t
	}
	if p.UploadedAt != nil {
		t := *p.UploadedAt
		rec.UploadedAt = &t
	}
	if p.ProcessedAt != nil {
		t := *p.ProcessedAt
		rec.ProcessedAt = &t
	}
	if p.VisionError != nil {
		rec.VisionError = *p.VisionError
	}
}

// IsEmpty reports whether the patch carries no fields
func (p *ImagePatch) IsEmpty() bool {
	return len(p.Fields()) == 0
}

// PutObject describes an object write
type PutObject struct {
	Container   string
	Path        string
	Body        io.Reader
	Size        int64 // -1 or 0 when unknown
	ContentType string
	Metadata    map[string]string
}

// ObjectAttrs is the subset of object attributes the services read
type ObjectAttrs struct {
	Container   string
	Path        string
	Size        int64
	ContentType string
	Metadata    map[string]string
	Created     time.Time
	Updated     time.Time
}

// ImageSource references an image for annotation. Content takes precedence
// over URI when set.
type ImageSource struct {
	URI     string
	Content []byte
}

// Vertex is a point of a bounding polygon in pixel coordinates
type Vertex struct {
	X int32 `json:"x"`
	Y int32 `json:"y"`
}

// TextAnnotation is one text-detection result. The first annotation of a
// response holds the full text, the rest are individual words.
type TextAnnotation struct {
	Description string   `json:"description"`
	Vertices    []Vertex `json:"vertices"`
}

// TextBox is a detected word with its axis-aligned box
type TextBox struct {
	Text   string `json:"text"`
	X      int32  `json:"x"`
	Y      int32  `json:"y"`
	Width  int32  `json:"width"`
	Height int32  `json:"height"`
}

// FinalizeEvent is an object finalized/updated notification
type FinalizeEvent struct {
	ID             string
	Type           string
	Bucket         string
	Name           string
	Metageneration string
	Size           int64
	ContentType    string
	TimeCreated    string
	Updated        string
	Metadata       map[string]string
}

// DeleteEvent is an object deleted notification
type DeleteEvent struct {
	ID     string
	Type   string
	Bucket string
	Name   string
}

// Outcome describes how an event was handled
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"
	OutcomeMalformed Outcome = "malformed"
	OutcomeEnriched  Outcome = "enriched"
	OutcomeDeleted   Outcome = "deleted"
	OutcomeAbsent    Outcome = "absent"
	OutcomeFailed    Outcome = "failed"

	// OutcomeStale marks a delete notification for an object that exists
	// again, i.e. one overtaken by a later write of the same path
	OutcomeStale Outcome = "stale"
)

// Trigger names used for logging and metrics
const (
	TriggerFinalize = "finalize"
	TriggerDelete   = "delete"
)

// UploadRequest is the input of UploadService.Upload
type UploadRequest struct {
	Credential string
	File       io.Reader
	FileName   string
	MimeType   string
	Size       int64
}

// UploadResult describes a stored upload
type UploadResult struct {
	Container string `json:"bucket"`
	Path      string `json:"fileName"`
	DocID     string `json:"docId"`
	FileName  string `json:"originalFileName"`
}

// ImageSummary is one entry of an owner listing
type ImageSummary struct {
	ID          string     `json:"id"`
	FileName    string     `json:"fileName"`
	Labels      []Label    `json:"labels"`
	OCRText     *string    `json:"ocrText,omitempty"`
	SignedURL   *string    `json:"signedUrl"`
	ProcessedAt *time.Time `json:"processedTimestamp"`
	CreatedAt   *time.Time `json:"timeCreated"`
	Size        int64      `json:"size"`
}

// ImageDetail is a full record with a freshly minted signed URL
type ImageDetail struct {
	ImageRecord
	SignedURL *string `json:"signedUrl"`
}

// DeleteResult describes the outcome of QueryService.DeleteOne
type DeleteResult struct {
	DocID         string
	Path          string
	ObjectDeleted bool
}

// OCRRequest is the input of OCRService.ExtractBoxes
type OCRRequest struct {
	Credential string
	File       io.Reader
	MimeType   string
}

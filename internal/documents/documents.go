// Package documents issues short-lived S3 URLs for patient documents such as
// lab results and referrals. Objects live under {org}/{patient}/.
package documents

import (
	"context"
	"errors"
	"fmt"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-portal/internal/compliance"
	"github.com/wolfman30/clinic-portal/internal/tenancy"
	"github.com/wolfman30/clinic-portal/pkg/logging"
)

const (
	DefaultExpiry   = 15 * time.Minute
	maxFilenameLen  = 128
	maxListedObject = 200
)

var (
	ErrDisabled        = errors.New("documents: storage not configured")
	ErrForbidden       = errors.New("documents: forbidden")
	ErrInvalidKey      = errors.New("documents: invalid key")
	ErrInvalidRequest  = errors.New("documents: invalid request")
	ErrUnsupportedType = errors.New("documents: unsupported content type")
)

var unsafeFilenameChars = regexp.MustCompile(`[^A-Za-z0-9._-]+`)

var allowedContentTypes = map[string]bool{
	"application/pdf": true,
	"image/jpeg":      true,
	"image/png":       true,
	"image/heic":      true,
	"text/plain":      true,
}

// Presigner is the subset of s3.PresignClient used here.
type Presigner interface {
	PresignPutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// Lister is the subset of the S3 client used to list a patient's documents.
type Lister interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type auditor interface {
	LogDocumentAccess(ctx context.Context, actor compliance.Actor, key, patientID string, upload bool) error
}

// PresignedURL is returned to clients.
type PresignedURL struct {
	Key       string            `json:"key"`
	URL       string            `json:"url"`
	Method    string            `json:"method"`
	Headers   map[string]string `json:"headers,omitempty"`
	ExpiresAt time.Time         `json:"expires_at"`
}

// Object describes one stored document.
type Object struct {
	Key          string    `json:"key"`
	Filename     string    `json:"filename"`
	Size         int64     `json:"size"`
	LastModified time.Time `json:"last_modified"`
}

// Store issues presigned URLs scoped to the caller's organization.
type Store struct {
	bucket    string
	presigner Presigner
	lister    Lister
	audit     auditor
	expiry    time.Duration
	logger    *logging.Logger
	now       func() time.Time
}

// NewStore creates a document store. An empty bucket disables it.
func NewStore(presigner Presigner, bucket string, logger *logging.Logger) *Store {
	if logger == nil {
		logger = logging.Default()
	}
	return &Store{
		bucket:    bucket,
		presigner: presigner,
		expiry:    DefaultExpiry,
		logger:    logger.Named("documents"),
		now:       time.Now,
	}
}

func (s *Store) WithLister(l Lister) *Store {
	s.lister = l
	return s
}

func (s *Store) WithAuditor(a auditor) *Store {
	s.audit = a
	return s
}

func (s *Store) WithExpiry(d time.Duration) *Store {
	if d > 0 {
		s.expiry = d
	}
	return s
}

// Enabled returns true if a bucket and presigner are configured.
func (s *Store) Enabled() bool {
	return s != nil && s.bucket != "" && s.presigner != nil
}

type UploadRequest struct {
	PatientID   string `json:"patient_id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// UploadURL issues a presigned PUT for a new object under the patient's
// prefix. Patients may only upload for themselves.
func (s *Store) UploadURL(ctx context.Context, p tenancy.Principal, req UploadRequest) (*PresignedURL, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	patientID := strings.TrimSpace(req.PatientID)
	if p.Role == tenancy.RolePatient {
		if patientID == "" {
			patientID = p.UserID
		}
		if patientID != p.UserID {
			return nil, ErrForbidden
		}
	}
	if patientID == "" || strings.Contains(patientID, "/") {
		return nil, fmt.Errorf("%w: patient_id required", ErrInvalidRequest)
	}
	filename := SanitizeFilename(req.Filename)
	if filename == "" {
		return nil, fmt.Errorf("%w: filename required", ErrInvalidRequest)
	}
	contentType := strings.ToLower(strings.TrimSpace(req.ContentType))
	if !allowedContentTypes[contentType] {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, req.ContentType)
	}

	key := fmt.Sprintf("%s/%s/%s-%s", p.OrgID, patientID, uuid.NewString(), filename)
	signed, err := s.presigner.PresignPutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(contentType),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("documents: presign put %s: %w", key, err)
	}
	s.record(ctx, p, key, patientID, true)
	return s.result(key, signed), nil
}

// DownloadURL issues a presigned GET for key after checking it belongs to
// the caller's organization and, for patients, to the caller.
func (s *Store) DownloadURL(ctx context.Context, p tenancy.Principal, key string) (*PresignedURL, error) {
	if !s.Enabled() {
		return nil, ErrDisabled
	}
	patientID, err := s.authorize(p, key)
	if err != nil {
		return nil, err
	}
	signed, err := s.presigner.PresignGetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	}, s3.WithPresignExpires(s.expiry))
	if err != nil {
		return nil, fmt.Errorf("documents: presign get %s: %w", key, err)
	}
	s.record(ctx, p, key, patientID, false)
	return s.result(key, signed), nil
}

// List returns the documents stored for a patient.
func (s *Store) List(ctx context.Context, p tenancy.Principal, patientID string) ([]Object, error) {
	if !s.Enabled() || s.lister == nil {
		return nil, ErrDisabled
	}
	if p.Role == tenancy.RolePatient {
		patientID = p.UserID
	}
	if patientID == "" || strings.Contains(patientID, "/") {
		return nil, fmt.Errorf("%w: patient_id required", ErrInvalidRequest)
	}
	prefix := p.OrgID + "/" + patientID + "/"
	out, err := s.lister.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(s.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(maxListedObject),
	})
	if err != nil {
		return nil, fmt.Errorf("documents: list %s: %w", prefix, err)
	}
	objects := make([]Object, 0, len(out.Contents))
	for _, obj := range out.Contents {
		key := aws.ToString(obj.Key)
		objects = append(objects, Object{
			Key:          key,
			Filename:     displayName(key),
			Size:         aws.ToInt64(obj.Size),
			LastModified: aws.ToTime(obj.LastModified),
		})
	}
	return objects, nil
}

// authorize validates key and returns the patient segment.
func (s *Store) authorize(p tenancy.Principal, key string) (string, error) {
	if key == "" || strings.Contains(key, "..") || strings.HasPrefix(key, "/") {
		return "", ErrInvalidKey
	}
	parts := strings.SplitN(key, "/", 3)
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || parts[2] == "" {
		return "", ErrInvalidKey
	}
	if parts[0] != p.OrgID {
		return "", ErrForbidden
	}
	if p.Role == tenancy.RolePatient && parts[1] != p.UserID {
		return "", ErrForbidden
	}
	return parts[1], nil
}

func (s *Store) record(ctx context.Context, p tenancy.Principal, key, patientID string, upload bool) {
	s.logger.Info("document url issued", "org_id", p.OrgID, "key", key, "upload", upload, "by", p.UserID)
	if s.audit == nil {
		return
	}
	actor := compliance.Actor{OrgID: p.OrgID, UserID: p.UserID, Role: string(p.Role)}
	if err := s.audit.LogDocumentAccess(ctx, actor, key, patientID, upload); err != nil {
		s.logger.Error("failed to audit document access", "error", err, "key", key)
	}
}

func (s *Store) result(key string, signed *v4.PresignedHTTPRequest) *PresignedURL {
	res := &PresignedURL{
		Key:       key,
		URL:       signed.URL,
		Method:    signed.Method,
		ExpiresAt: s.now().Add(s.expiry).UTC(),
	}
	for name, values := range signed.SignedHeader {
		if strings.EqualFold(name, "host") || len(values) == 0 {
			continue
		}
		if res.Headers == nil {
			res.Headers = map[string]string{}
		}
		res.Headers[name] = values[0]
	}
	return res
}

// SanitizeFilename keeps the base name and replaces anything outside
// [A-Za-z0-9._-] with underscores.
func SanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(strings.TrimSpace(name), "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	name = strings.Trim(unsafeFilenameChars.ReplaceAllString(name, "_"), "_.")
	if len(name) > maxFilenameLen {
		name = name[len(name)-maxFilenameLen:]
	}
	return name
}

// displayName strips the {uuid}- prefix from the last key segment.
func displayName(key string) string {
	base := path.Base(key)
	if len(base) > 37 && base[36] == '-' {
		if _, err := uuid.Parse(base[:36]); err == nil {
			return base[37:]
		}
	}
	return base
}

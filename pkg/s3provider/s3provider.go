// Package s3provider provides a document provider using AWS S3 or compatible
// servers.
//
// A tree is a key prefix inside a bucket and is identified by URIs like
// s3://bucket/some/prefix. The entries of a tree are the objects directly
// below the prefix, using "/" as delimiter. Common prefixes are reported as
// directories, which the bridge skips.
//
// # Configuration
//
// The user accessing the bucket must have at least the following AWS IAM
// policy permissions for the bucket and all of its subresources:
//
//	s3:ListBucket
//	s3:GetObject
//	s3:PutObject
//	s3:DeleteObject
//
// # Considerations
//
// S3 has no notion of creating an empty file and writing into it later. Create
// stores an empty object right away, while the content passed to a writer is
// buffered in memory and uploaded in a single PutObject request once the
// writer is closed.
package s3provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tus/doctree/pkg/bridge"
)

// Scheme is the URI scheme of trees served by this provider.
const Scheme = "s3"

// S3API contains the methods of the S3 client used by the provider. It is
// implemented by *s3.Client.
type S3API interface {
	HeadBucket(ctx context.Context, input *s3.HeadBucketInput, opt ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	ListObjectsV2(ctx context.Context, input *s3.ListObjectsV2Input, opt ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	HeadObject(ctx context.Context, input *s3.HeadObjectInput, opt ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opt ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opt ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opt ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Provider opens key prefixes in S3 buckets as trees.
type S3Provider struct {
	// Service specifies an interface used to communicate with the S3 backend.
	// Usually, this is an instance of github.com/aws/aws-sdk-go-v2/service/s3.Client.
	Service S3API

	requestDurationMetric *prometheus.SummaryVec

	mutex       sync.Mutex
	permissions map[string]bridge.PermissionFlags
}

// New constructs a new provider using the supplied service object.
func New(service S3API) *S3Provider {
	requestDurationMetric := prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Name:       "doctree_s3_request_duration_ms",
		Help:       "Duration of requests sent to S3 in milliseconds per operation",
		Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
	}, []string{"operation"})

	return &S3Provider{
		Service:               service,
		requestDurationMetric: requestDurationMetric,
		permissions:           make(map[string]bridge.PermissionFlags),
	}
}

// UseIn sets this provider as the document provider in the passed composer.
func (provider *S3Provider) UseIn(composer *bridge.Composer) {
	composer.UseProvider(provider)
}

func (provider *S3Provider) RegisterMetrics(registry prometheus.Registerer) {
	registry.MustRegister(provider.requestDurationMetric)
}

func (provider *S3Provider) observeRequestDuration(start time.Time, label string) {
	elapsed := time.Since(start)
	ms := float64(elapsed.Nanoseconds() / int64(time.Millisecond))

	provider.requestDurationMetric.WithLabelValues(label).Observe(ms)
}

// ParseTreeURI splits a tree URI into the bucket and the key prefix. A non-empty
// prefix always ends with a slash.
func ParseTreeURI(treeURI string) (bucket string, prefix string, err error) {
	u, err := url.Parse(treeURI)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != Scheme {
		return "", "", fmt.Errorf("s3provider: unsupported scheme in %q", treeURI)
	}
	if u.Host == "" {
		return "", "", fmt.Errorf("s3provider: missing bucket in %q", treeURI)
	}

	prefix = strings.Trim(u.Path, "/")
	if prefix != "" {
		prefix += "/"
	}
	return u.Host, prefix, nil
}

func (provider *S3Provider) TakePersistablePermission(ctx context.Context, treeURI string, flags bridge.PermissionFlags) error {
	if _, _, err := ParseTreeURI(treeURI); err != nil {
		return err
	}

	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	provider.permissions[treeURI] = flags
	return nil
}

// permissionFlags returns the flags taken for the tree. Trees without a
// permission taken in this process, e.g. grants restored after a restart, are
// fully accessible.
func (provider *S3Provider) permissionFlags(treeURI string) bridge.PermissionFlags {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	if flags, ok := provider.permissions[treeURI]; ok {
		return flags
	}
	return bridge.PermissionReadWrite
}

// PersistedPermissions returns the tree URIs with persisted permissions.
func (provider *S3Provider) PersistedPermissions() map[string]bridge.PermissionFlags {
	provider.mutex.Lock()
	defer provider.mutex.Unlock()

	res := make(map[string]bridge.PermissionFlags, len(provider.permissions))
	for uri, flags := range provider.permissions {
		res[uri] = flags
	}
	return res
}

func (provider *S3Provider) OpenTree(ctx context.Context, treeURI string) (bridge.Tree, error) {
	bucket, prefix, err := ParseTreeURI(treeURI)
	if err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}

	t := time.Now()
	_, err = provider.Service.HeadBucket(ctx, &s3.HeadBucketInput{
		Bucket: aws.String(bucket),
	})
	provider.observeRequestDuration(t, "head_bucket")
	if err != nil {
		return nil, bridge.ErrTreeUnavailable.WithCause(err)
	}

	return &s3Tree{
		provider: provider,
		uri:      treeURI,
		bucket:   bucket,
		prefix:   prefix,
		flags:    provider.permissionFlags(treeURI),
	}, nil
}

type s3Tree struct {
	provider *S3Provider
	uri      string
	bucket   string
	prefix   string
	flags    bridge.PermissionFlags
}

func (tree *s3Tree) URI() string {
	return tree.uri
}

func (tree *s3Tree) List(ctx context.Context) ([]bridge.Document, error) {
	paginator := s3.NewListObjectsV2Paginator(tree.provider.Service, &s3.ListObjectsV2Input{
		Bucket:    aws.String(tree.bucket),
		Prefix:    aws.String(tree.prefix),
		Delimiter: aws.String("/"),
	})

	docs := make([]bridge.Document, 0)
	for paginator.HasMorePages() {
		t := time.Now()
		page, err := paginator.NextPage(ctx)
		tree.provider.observeRequestDuration(t, "list_objects")
		if err != nil {
			if isAwsError[*types.NoSuchBucket](err) {
				return nil, bridge.ErrTreeUnavailable.WithCause(err)
			}
			return nil, err
		}

		for _, obj := range page.Contents {
			name := strings.TrimPrefix(aws.ToString(obj.Key), tree.prefix)
			// Skip markers for the prefix itself.
			if name == "" {
				continue
			}
			docs = append(docs, &s3Document{
				tree: tree,
				name: name,
				size: aws.ToInt64(obj.Size),
				file: true,
			})
		}

		for _, common := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(common.Prefix), tree.prefix), "/")
			docs = append(docs, &s3Document{
				tree: tree,
				name: name,
			})
		}
	}

	return docs, nil
}

func (tree *s3Tree) Find(ctx context.Context, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
	}

	t := time.Now()
	res, err := tree.provider.Service.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(tree.bucket),
		Key:    aws.String(tree.key(name)),
	})
	tree.provider.observeRequestDuration(t, "head_object")
	if err != nil {
		if isNotFound(err) {
			return nil, &fs.PathError{Op: "find", Path: name, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	return &s3Document{
		tree:     tree,
		name:     name,
		size:     aws.ToInt64(res.ContentLength),
		mimeType: aws.ToString(res.ContentType),
		file:     true,
	}, nil
}

func (tree *s3Tree) Create(ctx context.Context, mimeType string, name string) (bridge.Document, error) {
	if !validName(name) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrInvalid}
	}
	if !tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "create", Path: name, Err: fs.ErrPermission}
	}

	doc := &s3Document{
		tree:     tree,
		name:     name,
		mimeType: mimeType,
		file:     true,
	}
	if err := doc.put(ctx, nil); err != nil {
		return nil, err
	}

	return doc, nil
}

func (tree *s3Tree) key(name string) string {
	return tree.prefix + name
}

// validName reports whether name addresses an object directly below the
// prefix.
func validName(name string) bool {
	return name != "" && !strings.Contains(name, "/")
}

type s3Document struct {
	tree *s3Tree

	name     string
	size     int64
	mimeType string
	file     bool
}

func (doc *s3Document) Name() string {
	return doc.name
}

func (doc *s3Document) URI() string {
	return (&url.URL{
		Scheme: Scheme,
		Host:   doc.tree.bucket,
		Path:   "/" + doc.tree.key(doc.name),
	}).String()
}

func (doc *s3Document) Type() string {
	return doc.mimeType
}

func (doc *s3Document) Size() int64 {
	return doc.size
}

func (doc *s3Document) IsFile() bool {
	return doc.file
}

func (doc *s3Document) OpenReader(ctx context.Context) (io.ReadCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionRead) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}

	t := time.Now()
	res, err := doc.tree.provider.Service.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(doc.tree.bucket),
		Key:    aws.String(doc.tree.key(doc.name)),
	})
	doc.tree.provider.observeRequestDuration(t, "get_object")
	if err != nil {
		if isNotFound(err) {
			return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrNotExist}
		}
		return nil, err
	}

	return res.Body, nil
}

func (doc *s3Document) OpenWriter(ctx context.Context) (io.WriteCloser, error) {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return nil, &fs.PathError{Op: "open", Path: doc.name, Err: fs.ErrPermission}
	}
	return &s3Writer{ctx: ctx, doc: doc}, nil
}

func (doc *s3Document) Delete(ctx context.Context) error {
	if !doc.tree.flags.Has(bridge.PermissionWrite) {
		return &fs.PathError{Op: "remove", Path: doc.name, Err: fs.ErrPermission}
	}

	// DeleteObject succeeds for missing keys, so their absence has to be
	// checked upfront.
	if _, err := doc.tree.Find(ctx, doc.name); err != nil {
		return err
	}

	t := time.Now()
	_, err := doc.tree.provider.Service.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(doc.tree.bucket),
		Key:    aws.String(doc.tree.key(doc.name)),
	})
	doc.tree.provider.observeRequestDuration(t, "delete_object")
	return err
}

func (doc *s3Document) put(ctx context.Context, content []byte) error {
	input := &s3.PutObjectInput{
		Bucket:        aws.String(doc.tree.bucket),
		Key:           aws.String(doc.tree.key(doc.name)),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	}
	if doc.mimeType != "" {
		input.ContentType = aws.String(doc.mimeType)
	}

	t := time.Now()
	_, err := doc.tree.provider.Service.PutObject(ctx, input)
	doc.tree.provider.observeRequestDuration(t, "put_object")
	if err != nil {
		return err
	}

	doc.size = int64(len(content))
	return nil
}

// s3Writer buffers the content until it is closed.
type s3Writer struct {
	ctx    context.Context
	doc    *s3Document
	buf    bytes.Buffer
	closed bool
}

func (w *s3Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *s3Writer) Close() error {
	if w.closed {
		return fs.ErrClosed
	}
	w.closed = true

	return w.doc.put(w.ctx, w.buf.Bytes())
}

func isNotFound(err error) bool {
	return isAwsError[*types.NoSuchKey](err) || isAwsError[*types.NotFound](err) || isAwsErrorCode(err, "NotFound")
}

// isAwsError tests whether an error object is an instance of the AWS error
// specified by its code.
func isAwsError[T error](err error) bool {
	var awsErr T
	return errors.As(err, &awsErr)
}

func isAwsErrorCode(err error, code string) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode() == code
	}
	return false
}

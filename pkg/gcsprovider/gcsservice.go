package gcsprovider

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

type GCSObjectParams struct {
	// Bucket specifies the GCS bucket that the object resides in.
	Bucket string

	// ID specifies the ID of the GCS object.
	ID string
}

type GCSFilterParams struct {
	// Bucket specifies the GCS bucket of which the objects you want to filter reside in.
	Bucket string

	// Prefix specifies the prefix of which you want to filter object names with.
	Prefix string

	// Delimiter groups object names after the prefix. Groups are returned as
	// attributes which only have the Prefix field set.
	Delimiter string
}

// GCSReader implements cloud.google.com/go/storage.Reader.
// It is used to read Google Cloud storage objects.
type GCSReader interface {
	Close() error
	ContentType() string
	Read(p []byte) (int, error)
	Remain() int64
	Size() int64
}

// GCSAPI is an interface composed of all the necessary GCS operations that are
// required to serve trees from Google's cloud storage. Missing objects are
// reported with storage.ErrObjectNotExist and missing buckets with
// storage.ErrBucketNotExist.
type GCSAPI interface {
	GetBucketAttrs(ctx context.Context, bucket string) (*storage.BucketAttrs, error)
	GetObjectAttrs(ctx context.Context, params GCSObjectParams) (*storage.ObjectAttrs, error)
	ReadObject(ctx context.Context, params GCSObjectParams) (GCSReader, error)
	WriteObject(ctx context.Context, params GCSObjectParams, contentType string, r io.Reader) (int64, error)
	DeleteObject(ctx context.Context, params GCSObjectParams) error
	FilterObjects(ctx context.Context, params GCSFilterParams) ([]*storage.ObjectAttrs, error)
}

// GCSService holds the cloud.google.com/go/storage client.
// The methods are minimal wrappers around the Google Cloud Storage API, since
// the Storage API cannot be mocked.
type GCSService struct {
	Client *storage.Client
}

// NewGCSService returns a GCSService object. Without options, the default
// credentials of the environment are used.
func NewGCSService(ctx context.Context, opts ...option.ClientOption) (*GCSService, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, err
	}

	return &GCSService{
		Client: client,
	}, nil
}

// NewGCSServiceFromFile returns a GCSService object given a GCloud service
// account file path.
func NewGCSServiceFromFile(ctx context.Context, filename string) (*GCSService, error) {
	return NewGCSService(ctx, option.WithCredentialsFile(filename))
}

// GetBucketAttrs returns the attributes of the bucket. See: https://godoc.org/cloud.google.com/go/storage#BucketAttrs
func (service *GCSService) GetBucketAttrs(ctx context.Context, bucket string) (*storage.BucketAttrs, error) {
	return service.Client.Bucket(bucket).Attrs(ctx)
}

// GetObjectAttrs returns the associated attributes of a GCS object. See: https://godoc.org/cloud.google.com/go/storage#ObjectAttrs
func (service *GCSService) GetObjectAttrs(ctx context.Context, params GCSObjectParams) (*storage.ObjectAttrs, error) {
	obj := service.Client.Bucket(params.Bucket).Object(params.ID)

	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, err
	}

	return attrs, nil
}

// ReadObject reads a GCSObjectParams, returning a GCSReader object if successful, and an error otherwise
func (service *GCSService) ReadObject(ctx context.Context, params GCSObjectParams) (GCSReader, error) {
	r, err := service.Client.Bucket(params.Bucket).Object(params.ID).NewReader(ctx)
	if err != nil {
		return nil, err
	}

	return r, nil
}

// DeleteObject deletes the object defined by GCSObjectParams
func (service *GCSService) DeleteObject(ctx context.Context, params GCSObjectParams) error {
	return service.Client.Bucket(params.Bucket).Object(params.ID).Delete(ctx)
}

// WriteObject writes the content of r into the object, replacing any previous
// content.
func (service *GCSService) WriteObject(ctx context.Context, params GCSObjectParams, contentType string, r io.Reader) (int64, error) {
	obj := service.Client.Bucket(params.Bucket).Object(params.ID)

	w := obj.NewWriter(ctx)
	w.ContentType = contentType

	n, err := io.Copy(w, r)
	if err != nil {
		w.Close()
		return 0, err
	}

	err = w.Close()
	if err != nil {
		var gErr *googleapi.Error
		if errors.As(err, &gErr) && gErr.Code == 404 {
			return 0, fmt.Errorf("gcsprovider: the bucket %s could not be found while trying to write an object: %w", params.Bucket, storage.ErrBucketNotExist)
		}
		return 0, err
	}

	return n, nil
}

// FilterObjects returns the attributes of all objects matching the filter.
func (service *GCSService) FilterObjects(ctx context.Context, params GCSFilterParams) ([]*storage.ObjectAttrs, error) {
	bkt := service.Client.Bucket(params.Bucket)
	q := storage.Query{
		Prefix:    params.Prefix,
		Delimiter: params.Delimiter,
		Versions:  false,
	}

	it := bkt.Objects(ctx, &q)
	objects := make([]*storage.ObjectAttrs, 0)
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, err
		}

		objects = append(objects, attrs)
	}

	return objects, nil
}

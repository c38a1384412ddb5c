package azureprovider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
)

// ErrContainerNotFound is returned by an AzService if the container does not
// exist.
var ErrContainerNotFound = errors.New("azureprovider: container not found")

// AzBlobInfo describes a blob or, if IsPrefix is set, a virtual directory.
type AzBlobInfo struct {
	Name        string
	Size        int64
	ContentType string
	IsPrefix    bool
}

// AzService contains the blob operations used by the provider. Missing blobs
// are reported with errors wrapping fs.ErrNotExist, missing containers with
// ErrContainerNotFound.
type AzService interface {
	ContainerExists(ctx context.Context, containerName string) error
	// ListBlobs returns the blobs and virtual directories directly below the
	// prefix, using "/" as delimiter.
	ListBlobs(ctx context.Context, containerName, prefix string) ([]AzBlobInfo, error)
	GetProperties(ctx context.Context, containerName, name string) (AzBlobInfo, error)
	Download(ctx context.Context, containerName, name string) (io.ReadCloser, error)
	Upload(ctx context.Context, containerName, name, contentType string, body io.ReadSeeker) error
	Delete(ctx context.Context, containerName, name string) error
}

type AzConfig struct {
	AccountName string
	// AccountKey is used for shared key authentication. If it is empty, the
	// default Azure credential chain (environment, managed identity, CLI) is
	// used instead.
	AccountKey     string
	BlobAccessTier string
	// Endpoint defaults to https://<AccountName>.blob.core.windows.net.
	Endpoint string
}

type azService struct {
	Client         *azblob.Client
	BlobAccessTier *blob.AccessTier
}

// NewAzureService creates a service for communication with the Azure Blob
// Storage API.
func NewAzureService(config *AzConfig) (AzService, error) {
	endpoint := config.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", config.AccountName)
	}

	retryOpts := policy.RetryOptions{
		MaxRetries:    5,
		RetryDelay:    100,  // Retry after 100ms initially
		MaxRetryDelay: 5000, // Max retry delay 5 seconds
	}
	options := &azblob.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: retryOpts,
		},
	}

	var client *azblob.Client
	if config.AccountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(config.AccountName, config.AccountKey)
		if err != nil {
			return nil, err
		}
		client, err = azblob.NewClientWithSharedKeyCredential(endpoint, cred, options)
		if err != nil {
			return nil, err
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, err
		}
		client, err = azblob.NewClient(endpoint, cred, options)
		if err != nil {
			return nil, err
		}
	}

	// Does not support the premium access tiers yet.
	var blobAccessTier *blob.AccessTier
	switch config.BlobAccessTier {
	case "archive":
		blobAccessTier = to.Ptr(blob.AccessTierArchive)
	case "cool":
		blobAccessTier = to.Ptr(blob.AccessTierCool)
	case "hot":
		blobAccessTier = to.Ptr(blob.AccessTierHot)
	}

	return &azService{
		Client:         client,
		BlobAccessTier: blobAccessTier,
	}, nil
}

func (service *azService) containerClient(containerName string) *container.Client {
	return service.Client.ServiceClient().NewContainerClient(containerName)
}

func (service *azService) blobClient(containerName, name string) *blockblob.Client {
	return service.containerClient(containerName).NewBlockBlobClient(name)
}

func (service *azService) ContainerExists(ctx context.Context, containerName string) error {
	_, err := service.containerClient(containerName).GetProperties(ctx, nil)
	return checkForNotFoundError(err, containerName)
}

func (service *azService) ListBlobs(ctx context.Context, containerName, prefix string) ([]AzBlobInfo, error) {
	pager := service.containerClient(containerName).NewListBlobsHierarchyPager("/", &container.ListBlobsHierarchyOptions{
		Prefix: to.Ptr(prefix),
	})

	blobs := make([]AzBlobInfo, 0)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, checkForNotFoundError(err, containerName)
		}

		for _, item := range resp.Segment.BlobItems {
			info := AzBlobInfo{Name: deref(item.Name)}
			if item.Properties != nil {
				info.Size = deref(item.Properties.ContentLength)
				info.ContentType = deref(item.Properties.ContentType)
			}
			blobs = append(blobs, info)
		}
		for _, prefix := range resp.Segment.BlobPrefixes {
			blobs = append(blobs, AzBlobInfo{Name: deref(prefix.Name), IsPrefix: true})
		}
	}

	return blobs, nil
}

func (service *azService) GetProperties(ctx context.Context, containerName, name string) (AzBlobInfo, error) {
	props, err := service.blobClient(containerName, name).GetProperties(ctx, nil)
	if err != nil {
		return AzBlobInfo{}, checkForNotFoundError(err, name)
	}

	return AzBlobInfo{
		Name:        name,
		Size:        deref(props.ContentLength),
		ContentType: deref(props.ContentType),
	}, nil
}

func (service *azService) Download(ctx context.Context, containerName, name string) (io.ReadCloser, error) {
	resp, err := service.blobClient(containerName, name).DownloadStream(ctx, nil)
	if err != nil {
		return nil, checkForNotFoundError(err, name)
	}
	return resp.Body, nil
}

// Upload replaces the content of the blob. Because entries are presumed to be
// smaller than blockblob.MaxUploadBlobBytes (5000MiB), they are uploaded in one
// request.
func (service *azService) Upload(ctx context.Context, containerName, name, contentType string, body io.ReadSeeker) error {
	options := &blockblob.UploadOptions{
		Tier: service.BlobAccessTier,
	}
	if contentType != "" {
		options.HTTPHeaders = &blob.HTTPHeaders{BlobContentType: to.Ptr(contentType)}
	}

	_, err := service.blobClient(containerName, name).Upload(ctx, readSeekCloser{body}, options)
	return checkForNotFoundError(err, name)
}

func (service *azService) Delete(ctx context.Context, containerName, name string) error {
	// Specify that you want to delete both the blob and its snapshots
	deleteOptions := &blob.DeleteOptions{
		DeleteSnapshots: to.Ptr(blob.DeleteSnapshotsOptionTypeInclude),
	}
	_, err := service.blobClient(containerName, name).Delete(ctx, deleteOptions)
	return checkForNotFoundError(err, name)
}

// readSeekCloser is a wrapper that adds a no-op Close method to an io.ReadSeeker.
type readSeekCloser struct {
	io.ReadSeeker
}

// Close implements io.Closer for readSeekCloser.
func (rsc readSeekCloser) Close() error {
	return nil
}

// checkForNotFoundError translates the errors for missing blobs and containers.
func checkForNotFoundError(err error, name string) error {
	if err == nil {
		return nil
	}

	if bloberror.HasCode(err, bloberror.ContainerNotFound) {
		return fmt.Errorf("%w: %w", ErrContainerNotFound, err)
	}

	var azureError *azcore.ResponseError
	if errors.As(err, &azureError) {
		code := bloberror.Code(azureError.ErrorCode)
		if code == bloberror.BlobNotFound || azureError.StatusCode == 404 {
			return &fs.PathError{Op: "azblob", Path: name, Err: fs.ErrNotExist}
		}
	}

	if strings.Contains(err.Error(), string(bloberror.ContainerNotFound)) {
		return fmt.Errorf("%w: %w", ErrContainerNotFound, err)
	}
	return err
}

func deref[T any](p *T) T {
	var zero T
	if p == nil {
		return zero
	}
	return *p
}

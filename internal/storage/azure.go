package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"gocloud.dev/blob/azureblob"
)

// OpenAzure opens an Azure Blob Storage container.
//
// With a non-empty accountKey the container is accessed with a shared key
// credential, which is how storage accounts are usually provisioned for
// batch jobs. Otherwise the default Azure credential chain (environment,
// workload identity, managed identity, az CLI) is used.
//
// endpoint overrides the service URL, e.g. http://127.0.0.1:10000/devstoreaccount1
// for Azurite.
func OpenAzure(ctx context.Context, accountName, accountKey, containerName, endpoint string) (*BucketContainer, error) {
	containerURL := azureContainerURL(accountName, containerName, endpoint)

	var client *container.Client
	if accountKey != "" {
		cred, err := azblob.NewSharedKeyCredential(accountName, accountKey)
		if err != nil {
			return nil, fmt.Errorf("create shared key credential for %s: %w", accountName, err)
		}
		client, err = container.NewClientWithSharedKeyCredential(containerURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("create container client for %s: %w", containerURL, err)
		}
	} else {
		cred, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("create default azure credential: %w", err)
		}
		client, err = container.NewClient(containerURL, cred, nil)
		if err != nil {
			return nil, fmt.Errorf("create container client for %s: %w", containerURL, err)
		}
	}

	bucket, err := azureblob.OpenBucket(ctx, client, nil)
	if err != nil {
		return nil, fmt.Errorf("open azure container %s: %w", containerName, err)
	}

	return NewBucketContainer(bucket, fmt.Sprintf("azblob://%s/", containerName)), nil
}

func azureContainerURL(accountName, containerName, endpoint string) string {
	if endpoint != "" {
		return strings.TrimSuffix(endpoint, "/") + "/" + containerName
	}
	return fmt.Sprintf("https://%s.blob.core.windows.net/%s", accountName, containerName)
}

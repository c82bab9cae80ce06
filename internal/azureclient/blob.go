// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package azureclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/sas"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	"go.opentelemetry.io/otel/trace"
)

// BlobClient is one storage account's blob endpoint.
type BlobClient struct {
	Client   *azblob.Client
	Endpoint string
	Tracer   trace.Tracer
}

// Blob returns the cached client for account. An empty endpoint means the
// public cloud endpoint of the account.
func (m *Manager) Blob(_ context.Context, account, endpoint string) (*BlobClient, error) {
	if account == "" && endpoint == "" {
		return nil, fmt.Errorf("storage account or endpoint is required")
	}
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net/", account)
	}
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.blobs[endpoint]; ok {
		return c, nil
	}
	client, err := azblob.NewClient(endpoint, m.cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	c := &BlobClient{Client: client, Endpoint: endpoint, Tracer: m.tracer}
	m.blobs[endpoint] = c
	return c, nil
}

// UploadURL returns a URL that lets its holder create or overwrite one blob
// until expiry. It is signed with a user delegation key, so the credential
// needs the Storage Blob Delegator role. Callers must send
// "x-ms-blob-type: BlockBlob" with the PUT.
func (c *BlobClient) UploadURL(ctx context.Context, container, name string, expiry time.Duration) (string, error) {
	start := time.Now().UTC().Add(-5 * time.Minute)
	end := time.Now().UTC().Add(expiry)

	udc, err := c.Client.ServiceClient().GetUserDelegationCredential(ctx, service.KeyInfo{
		Start:  to.Ptr(start.Format(sas.TimeFormat)),
		Expiry: to.Ptr(end.Format(sas.TimeFormat)),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("get user delegation key: %w", err)
	}

	perms := sas.BlobPermissions{Create: true, Write: true}
	qp, err := sas.BlobSignatureValues{
		Protocol:      sas.ProtocolHTTPS,
		StartTime:     start,
		ExpiryTime:    end,
		Permissions:   perms.String(),
		ContainerName: container,
		BlobName:      name,
	}.SignWithUserDelegation(udc)
	if err != nil {
		return "", fmt.Errorf("sign upload url: %w", err)
	}

	blobURL := c.Client.ServiceClient().NewContainerClient(container).NewBlobClient(name).URL()
	return blobURL + "?" + qp.Encode(), nil
}

package objstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestObjectKey(t *testing.T) {
	day := time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC)

	key := ObjectKey(day, "0f8fad5b-d9cb-469f-a165-70867728950e", "output", "result.md")
	require.Equal(t, "2025-03-14/0f8fad5b-d9cb-469f-a165-70867728950e/output/result.md", key)

	// No prefix collapses to <date>/<request-id>/<name>.
	key = ObjectKey(day, "0f8fad5b-d9cb-469f-a165-70867728950e", "", "input.pdf")
	require.Equal(t, "2025-03-14/0f8fad5b-d9cb-469f-a165-70867728950e/input.pdf", key)
}

func TestEndpointURL(t *testing.T) {
	require.Equal(t, "http://minio:9000", endpointURL("minio:9000", false))
	require.Equal(t, "https://minio:9000", endpointURL("minio:9000", true))
	require.Equal(t, "http://minio:9000", endpointURL("http://minio:9000", true))
	require.Equal(t, "https://s3.amazonaws.com", endpointURL("https://s3.amazonaws.com", false))
}

// Package storage defines where parquet-backed problem datasets live. The
// catalog's object_path column names a dataset object; the provisioner
// fetches it and authoring pipelines upload it.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
)

var ErrObjectNotFound = errors.New("dataset object not found")

// ParquetContentType is the content type dataset objects are uploaded with.
const ParquetContentType = "application/vnd.apache.parquet"

// ObjectStore is the slice of an object store the platform needs: upload a
// dataset once, fetch it at every provisioning.
type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
}

// DatasetKey builds the canonical object key for one problem table's parquet
// dataset. Keys produced here are what belongs in the catalog's object_path
// column.
func DatasetKey(problemID int, tableName string) (string, error) {
	table := strings.TrimSpace(tableName)
	if problemID <= 0 {
		return "", fmt.Errorf("invalid problem id %d", problemID)
	}
	if table == "" || strings.ContainsAny(table, "/\\") || strings.Contains(table, "..") {
		return "", fmt.Errorf("invalid dataset table name %q", tableName)
	}
	return fmt.Sprintf("datasets/%d/%s.parquet", problemID, table), nil
}

package blob

import (
	"context"
	"fmt"
	"os"
)

// Open selects a blob.Store implementation for Config.BlobStore using
// environment variables.
//
//	IDXFORM_BLOB_DRIVER: fs|memory (default fs)
//	IDXFORM_BLOB_FS_ROOT: directory root when driver=fs (default ./blobdata)
func Open(_ context.Context) (Store, error) {
	driver := os.Getenv("IDXFORM_BLOB_DRIVER")
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	switch Driver(driver) {
	case DriverFilesystem:
		root := os.Getenv("IDXFORM_BLOB_FS_ROOT")
		return NewFilesystem(root)
	case DriverMemory:
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}

package clone

import (
	"bytes"
	"context"
	"fmt"

	"idxform/internal/blob"
	"idxform/pkg/xid"
)

// GeometryArchiver writes oversized geometry-stream blobs out to a
// blob.Store instead of inlining them in the target row, per SPEC_FULL.md
// §4.5's supplemental archival feature. It is opt-in: the Orchestrator
// only consults it when Config.ArchiveOversizedGeometry is true.
type GeometryArchiver struct {
	store     blob.Store
	threshold int
	databaseID string
}

// NewGeometryArchiver constructs an archiver writing into store, keyed
// under databaseID, archiving any stream at or above thresholdBytes.
func NewGeometryArchiver(store blob.Store, databaseID string, thresholdBytes int) *GeometryArchiver {
	return &GeometryArchiver{store: store, threshold: thresholdBytes, databaseID: databaseID}
}

// archiveRef is the small reference record bound in place of an archived
// geometry stream; it round-trips through JSON so it can be embedded in a
// property that would otherwise hold the raw blob.
type archiveRef struct {
	ArchivedKey string `json:"archivedBlobKey"`
	Size        int    `json:"size"`
}

// Archive writes geom to the store if it meets the archival threshold and
// returns the bytes that should be bound in its place: either geom
// unchanged, or a small marshaled archiveRef.
func (a *GeometryArchiver) Archive(ctx context.Context, sourceElementID xid.Id, geom []byte) ([]byte, error) {
	if a == nil || a.store == nil || len(geom) < a.threshold {
		return geom, nil
	}
	key := fmt.Sprintf("%s/%s.geom", a.databaseID, sourceElementID)
	if _, err := a.store.Put(ctx, key, bytes.NewReader(geom), blob.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		return nil, fmt.Errorf("clone: archive geometry stream for %s: %w", sourceElementID, err)
	}
	return marshalArchiveRef(archiveRef{ArchivedKey: key, Size: len(geom)})
}

func marshalArchiveRef(ref archiveRef) ([]byte, error) {
	return []byte(fmt.Sprintf(`{"archivedBlobKey":%q,"size":%d}`, ref.ArchivedKey, ref.Size)), nil
}

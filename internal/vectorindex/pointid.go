package vectorindex

import (
	"crypto/md5"

	"github.com/google/uuid"
)

// PointID derives the deterministic point id for a product: the MD5
// digest of category immediately followed by the external id, with the
// 16 digest bytes used verbatim as a UUID (no version or variant bits
// forced). The mapping is a pure function, so re-upserting the same
// logical product always replaces the same point, and any
// reimplementation hashing the same way interoperates with an existing
// index. MD5 is fine here: this is content addressing at catalog scale,
// not cryptography.
func PointID(category string, externalID string) uuid.UUID {
	return uuid.UUID(md5.Sum([]byte(category + externalID)))
}

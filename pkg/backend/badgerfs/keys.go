package badgerfs

import (
	"github.com/google/uuid"
)

// Key Namespace Design
// ====================
//
// BadgerDB is a flat key-value store, so the filesystem is laid out in
// prefixed namespaces:
//
// Data Type        Prefix  Key Format                Value
// =====================================================================
// Node record      "n:"    n:<uuid>                  nodeRecord (JSON)
// Children map     "c:"    c:<parentUUID>:<name>     child uuid (bytes)
// File content     "b:"    b:<uuid>                  raw bytes
// Root pointer     "root"  root                      root uuid (bytes)
//
// Nodes are identified by random UUIDs, so an identity survives renames
// and the children namespace scans in name order under a parent prefix,
// which is what the cursor readdir protocol needs.

func nodeKey(id uuid.UUID) []byte {
	return []byte("n:" + id.String())
}

func childKey(parent uuid.UUID, name string) []byte {
	return []byte("c:" + parent.String() + ":" + name)
}

func childPrefix(parent uuid.UUID) []byte {
	return []byte("c:" + parent.String() + ":")
}

func contentKey(id uuid.UUID) []byte {
	return []byte("b:" + id.String())
}

var rootKey = []byte("root")

package types

import "github.com/hearth-engine/hearth/internal/shared/id"

// PatchKind discriminates what a patch mutates.
type PatchKind string

const (
	KindEntity    PatchKind = "entity"
	KindComponent PatchKind = "component"
	KindLayer     PatchKind = "layer"
)

// PatchOp is the operation a patch performs on its target.
type PatchOp string

const (
	OpCreate  PatchOp = "create"
	OpUpdate  PatchOp = "update"
	OpDestroy PatchOp = "destroy"
)

// Ref is an explicit {namespace, local_id} reference pair carried by
// entity and component ops. The processor rejects any patch whose Ref
// namespace differs from the submitting namespace.
type Ref struct {
	Namespace id.NamespaceID `json:"namespace"`
	LocalID   uint64         `json:"local_id"`
}

// Patch is a single declarative mutation request.
// Data is an opaque payload interpreted per Kind/Op; the kernel never
// inspects it beyond decoding the fields the op requires.
type Patch struct {
	Namespace id.NamespaceID `json:"namespace"`
	Kind      PatchKind      `json:"kind"`
	Op        PatchOp        `json:"op"`
	Ref       *Ref           `json:"ref,omitempty"`
	Data      []byte         `json:"data,omitempty"`
}

// Transaction is an ordered batch of patches submitted atomically by
// one namespace. All patches must share the submitting namespace.
type Transaction struct {
	Namespace id.NamespaceID `json:"namespace"`
	Patches   []Patch        `json:"patches"`
}

// RejectReason classifies why a patch was not applied.
type RejectReason string

const (
	RejectNamespaceMismatch RejectReason = "namespace_mismatch"
	RejectCapabilityDenied  RejectReason = "capability_denied"
	RejectQuotaExceeded     RejectReason = "quota_exceeded"
	RejectNotFound          RejectReason = "not_found"
	RejectTooManyLayers     RejectReason = "too_many_layers"
	RejectMalformed         RejectReason = "malformed"
)

// PatchStatus is the outcome of one patch within a transaction.
type PatchStatus string

const (
	PatchApplied  PatchStatus = "applied"
	PatchRejected PatchStatus = "rejected"
	// PatchSkipped marks patches after the first failure in a
	// transaction; they were never evaluated.
	PatchSkipped PatchStatus = "skipped"
)

// PatchResult reports the outcome of a single patch.
type PatchResult struct {
	Index  int          `json:"index"`
	Status PatchStatus  `json:"status"`
	Reason RejectReason `json:"reason,omitempty"`
	// Created holds the ID allocated by a successful create op.
	Created uint64 `json:"created,omitempty"`
}

// TransactionResult reports per-patch outcomes for one transaction.
type TransactionResult struct {
	Namespace id.NamespaceID `json:"namespace"`
	Results   []PatchResult  `json:"results"`
	Applied   int            `json:"applied"`
	Rejected  int            `json:"rejected"`
}

// OK reports whether every patch in the transaction applied.
func (r TransactionResult) OK() bool {
	return r.Rejected == 0 && r.Applied == len(r.Results)
}

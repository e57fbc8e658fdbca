package patch

import (
	"encoding/json"

	"github.com/bytedance/sonic"

	"github.com/hearth-engine/hearth/internal/capability"
	"github.com/hearth-engine/hearth/internal/layer"
	"github.com/hearth-engine/hearth/internal/shared/id"
	"github.com/hearth-engine/hearth/internal/shared/types"
	"github.com/hearth-engine/hearth/internal/world"
	"go.uber.org/zap"
)

// componentPayload is the wire shape of component set/remove ops.
type componentPayload struct {
	Name  string          `json:"name"`
	Value json.RawMessage `json:"value,omitempty"`
}

// layerCreatePayload is the wire shape of layer create ops.
type layerCreatePayload struct {
	Name   string        `json:"name"`
	Config *layer.Config `json:"config,omitempty"`
}

// layerUpdatePayload is the wire shape of layer update ops. Nil fields
// are left unchanged.
type layerUpdatePayload struct {
	Visible  *bool `json:"visible,omitempty"`
	Priority *int  `json:"priority,omitempty"`
}

// Processor validates queued transactions and applies accepted patches
// to the shared world. Failure is always a result value: no malformed
// transaction, including one targeting another namespace's data, may
// panic the processor.
type Processor struct {
	checker *capability.Checker
	layers  *layer.Manager
	log     *zap.Logger
}

// NewProcessor wires the processor to its collaborators.
func NewProcessor(checker *capability.Checker, layers *layer.Manager, log *zap.Logger) *Processor {
	if log == nil {
		log = zap.NewNop()
	}
	return &Processor{checker: checker, layers: layers, log: log}
}

// Process applies each transaction in order, producing per-patch
// results. Within a transaction, patches after the first failure are
// skipped; earlier applied patches stay applied (no rollback).
func (p *Processor) Process(w *world.World, txs []types.Transaction) []types.TransactionResult {
	results := make([]types.TransactionResult, 0, len(txs))
	for _, tx := range txs {
		results = append(results, p.processTx(w, tx))
	}
	return results
}

func (p *Processor) processTx(w *world.World, tx types.Transaction) (res types.TransactionResult) {
	res.Namespace = tx.Namespace
	res.Results = make([]types.PatchResult, len(tx.Patches))

	// A panic while decoding or applying a hostile payload must surface
	// as a per-patch rejection, never escape to the kernel.
	current := 0
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("panic applying patch",
				zap.Uint64("namespace", tx.Namespace.Uint64()),
				zap.Int("patch", current),
				zap.Any("panic", r))
			res.Results[current] = types.PatchResult{
				Index:  current,
				Status: types.PatchRejected,
				Reason: types.RejectMalformed,
			}
			res.Rejected++
			p.skipFrom(&res, current+1)
		}
	}()

	for i := range tx.Patches {
		current = i
		pr := p.applyPatch(w, tx.Namespace, i, tx.Patches[i])
		res.Results[i] = pr

		if pr.Status == types.PatchApplied {
			res.Applied++
			continue
		}
		res.Rejected++
		p.skipFrom(&res, i+1)
		break
	}
	return res
}

// skipFrom marks the remaining patches of a transaction as skipped.
func (p *Processor) skipFrom(res *types.TransactionResult, from int) {
	for j := from; j < len(res.Results); j++ {
		res.Results[j] = types.PatchResult{Index: j, Status: types.PatchSkipped}
	}
}

func (p *Processor) applyPatch(w *world.World, ns id.NamespaceID, index int, pa types.Patch) types.PatchResult {
	reject := func(reason types.RejectReason) types.PatchResult {
		return types.PatchResult{Index: index, Status: types.PatchRejected, Reason: reason}
	}

	// Tenancy first: the patch and its embedded reference must both
	// belong to the submitting namespace. No patch is ever applied
	// against wrong-namespace data.
	if pa.Namespace != ns {
		return reject(types.RejectNamespaceMismatch)
	}
	if pa.Ref != nil && pa.Ref.Namespace != ns {
		return reject(types.RejectNamespaceMismatch)
	}

	kind, ok := requiredCapability(pa.Kind, pa.Op)
	if !ok {
		return reject(types.RejectMalformed)
	}

	switch p.checker.Authorize(ns, kind) {
	case capability.DeniedCapability:
		return reject(types.RejectCapabilityDenied)
	case capability.DeniedQuota:
		return reject(types.RejectQuotaExceeded)
	}

	switch pa.Kind {
	case types.KindEntity:
		return p.applyEntity(w, ns, index, pa, reject)
	case types.KindComponent:
		return p.applyComponent(w, ns, index, pa, reject)
	case types.KindLayer:
		return p.applyLayer(ns, index, pa, reject)
	}
	return reject(types.RejectMalformed)
}

func (p *Processor) applyEntity(w *world.World, ns id.NamespaceID, index int, pa types.Patch, reject func(types.RejectReason) types.PatchResult) types.PatchResult {
	switch pa.Op {
	case types.OpCreate:
		eid := w.CreateEntity(ns)
		return types.PatchResult{Index: index, Status: types.PatchApplied, Created: eid.Uint64()}
	case types.OpDestroy:
		if pa.Ref == nil {
			return reject(types.RejectMalformed)
		}
		if err := w.DestroyEntity(ns, id.EntityID(pa.Ref.LocalID)); err != nil {
			return reject(worldReason(err))
		}
		p.checker.ReleaseEntity(ns)
		return types.PatchResult{Index: index, Status: types.PatchApplied}
	}
	return reject(types.RejectMalformed)
}

func (p *Processor) applyComponent(w *world.World, ns id.NamespaceID, index int, pa types.Patch, reject func(types.RejectReason) types.PatchResult) types.PatchResult {
	if pa.Ref == nil {
		return reject(types.RejectMalformed)
	}
	var payload componentPayload
	if err := sonic.Unmarshal(pa.Data, &payload); err != nil || payload.Name == "" {
		return reject(types.RejectMalformed)
	}

	eid := id.EntityID(pa.Ref.LocalID)
	var err error
	switch pa.Op {
	case types.OpCreate, types.OpUpdate:
		err = w.SetComponent(ns, eid, payload.Name, payload.Value)
	case types.OpDestroy:
		err = w.RemoveComponent(ns, eid, payload.Name)
	default:
		return reject(types.RejectMalformed)
	}
	if err != nil {
		return reject(worldReason(err))
	}
	return types.PatchResult{Index: index, Status: types.PatchApplied}
}

func (p *Processor) applyLayer(ns id.NamespaceID, index int, pa types.Patch, reject func(types.RejectReason) types.PatchResult) types.PatchResult {
	switch pa.Op {
	case types.OpCreate:
		var payload layerCreatePayload
		if err := sonic.Unmarshal(pa.Data, &payload); err != nil || payload.Name == "" {
			p.checker.ReleaseLayer(ns)
			return reject(types.RejectMalformed)
		}
		cfg := layer.DefaultConfig()
		if payload.Config != nil {
			cfg = *payload.Config
		}
		lid, err := p.layers.Create(payload.Name, ns, cfg)
		if err != nil {
			// The per-namespace slot consumed by Authorize is handed
			// back when global capacity wins.
			p.checker.ReleaseLayer(ns)
			return reject(types.RejectTooManyLayers)
		}
		return types.PatchResult{Index: index, Status: types.PatchApplied, Created: lid.Uint64()}

	case types.OpUpdate:
		if pa.Ref == nil {
			return reject(types.RejectMalformed)
		}
		var payload layerUpdatePayload
		if err := sonic.Unmarshal(pa.Data, &payload); err != nil {
			return reject(types.RejectMalformed)
		}
		lid := id.LayerID(pa.Ref.LocalID)
		if payload.Visible != nil {
			if err := p.layers.SetVisible(ns, lid, *payload.Visible); err != nil {
				return reject(layerReason(err))
			}
		}
		if payload.Priority != nil {
			if err := p.layers.SetPriority(ns, lid, *payload.Priority); err != nil {
				return reject(layerReason(err))
			}
		}
		return types.PatchResult{Index: index, Status: types.PatchApplied}

	case types.OpDestroy:
		if pa.Ref == nil {
			return reject(types.RejectMalformed)
		}
		if err := p.layers.Destroy(ns, id.LayerID(pa.Ref.LocalID)); err != nil {
			return reject(layerReason(err))
		}
		p.checker.ReleaseLayer(ns)
		return types.PatchResult{Index: index, Status: types.PatchApplied}
	}
	return reject(types.RejectMalformed)
}

// requiredCapability maps a patch's kind/op to the capability class the
// namespace must hold.
func requiredCapability(kind types.PatchKind, op types.PatchOp) (capability.Kind, bool) {
	switch kind {
	case types.KindEntity:
		switch op {
		case types.OpCreate:
			return capability.CreateEntity, true
		case types.OpDestroy:
			return capability.DestroyEntity, true
		}
	case types.KindComponent:
		switch op {
		case types.OpCreate, types.OpUpdate, types.OpDestroy:
			return capability.UpdateComponent, true
		}
	case types.KindLayer:
		switch op {
		case types.OpCreate:
			return capability.CreateLayer, true
		case types.OpUpdate:
			return capability.UpdateLayer, true
		case types.OpDestroy:
			return capability.DestroyLayer, true
		}
	}
	return "", false
}

func worldReason(err error) types.RejectReason {
	switch err {
	case world.ErrWrongNamespace:
		return types.RejectNamespaceMismatch
	case world.ErrNotFound:
		return types.RejectNotFound
	default:
		return types.RejectMalformed
	}
}

func layerReason(err error) types.RejectReason {
	switch err {
	case layer.ErrPermissionDenied:
		return types.RejectNamespaceMismatch
	case layer.ErrNotFound:
		return types.RejectNotFound
	case layer.ErrTooManyLayers:
		return types.RejectTooManyLayers
	default:
		return types.RejectMalformed
	}
}

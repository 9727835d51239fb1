// Package deposit holds the deposit record schema, its status enumeration,
// and the pure transition functions that advance a record through the
// relayer's two-phase L1 ceremony (spec.md §3, §4.3 state machine table).
package deposit

// Status is the deposit's lifecycle stage. The numeric values must match the
// on-chain L1BitcoinDepositor.deposits(id) return value (spec.md §6).
type Status int

const (
	Queued Status = iota
	Initialized
	Finalized
)

func (s Status) String() string {
	switch s {
	case Queued:
		return "QUEUED"
	case Initialized:
		return "INITIALIZED"
	case Finalized:
		return "FINALIZED"
	default:
		return "UNKNOWN"
	}
}

// StatusFromOnChain maps the raw numeric status returned by
// L1BitcoinDepositor.deposits(id) to a Status. ok is false for any value the
// relayer does not recognize, which callers treat as "absent" (spec.md §4.3,
// checkDepositStatus).
func StatusFromOnChain(n uint8) (Status, bool) {
	switch n {
	case 0:
		return Queued, true
	case 1:
		return Initialized, true
	case 2:
		return Finalized, true
	default:
		return 0, false
	}
}

// Receipt carries the opaque Bitcoin-side reveal parameters exactly as
// emitted by the L2 DepositInitialized event (spec.md §3). All byte fields
// are treated as opaque by the relayer; only fundingTxHash/outputIndex feed
// the id derivation.
type Receipt struct {
	Depositor        string `json:"depositor"`
	BlindingFactor   string `json:"blindingFactor"`
	WalletPubKeyHash string `json:"walletPublicKeyHash"`
	RefundPubKeyHash string `json:"refundPublicKeyHash"`
	RefundLocktime   string `json:"refundLocktime"`
	ExtraData        string `json:"extraData"`
}

// FundingTx is the Bitcoin funding transaction tuple as carried by the reveal
// (spec.md §3, L1OutputEvent.fundingTx).
type FundingTx struct {
	Version      string `json:"version"`
	InputVector  string `json:"inputVector"`
	OutputVector string `json:"outputVector"`
	Locktime     string `json:"locktime"`
}

// L1OutputEvent is the raw reveal tuple recorded alongside the derived
// record, kept verbatim for the on-chain initialize call (spec.md §3).
type L1OutputEvent struct {
	FundingTx      FundingTx `json:"fundingTx"`
	OutputIndex    uint32    `json:"outputIndex"`
	Receipt        Receipt   `json:"receipt"`
	L2DepositOwner string    `json:"l2DepositOwner"`
	L2Sender       string    `json:"l2Sender"`
}

// Hashes holds the L1 transaction hashes recorded as the ceremony advances.
// Both are nullable: unset means "no transaction sent/observed yet".
type Hashes struct {
	InitializeTxHash *string `json:"initializeTxHash"`
	FinalizeTxHash   *string `json:"finalizeTxHash"`
}

// Dates holds the epoch-millisecond timestamps tracked on a record.
// InitializationAt/FinalizationAt are nullable (spec.md §3).
type Dates struct {
	CreatedAt        int64  `json:"createdAt"`
	InitializationAt *int64 `json:"initializationAt"`
	FinalizationAt   *int64 `json:"finalizationAt"`
	LastActivityAt   int64  `json:"lastActivityAt"`
}

// Record is the deposit record persisted one-per-file in the Store
// (spec.md §3, §4.1). Id, FundingTxHash, OutputIndex, Receipt, L1OutputEvent
// and Owner are immutable once created; Status, Hashes, Dates and Error are
// mutated only by reconciler loops and event handlers (spec.md §3,
// Lifecycle).
type Record struct {
	ID            string        `json:"id"`
	FundingTxHash string        `json:"fundingTxHash"`
	OutputIndex   uint32        `json:"outputIndex"`
	Receipt       Receipt       `json:"receipt"`
	L1OutputEvent L1OutputEvent `json:"l1OutputEvent"`
	Owner         string        `json:"owner"`

	Status Status  `json:"status"`
	Hashes Hashes  `json:"hashes"`
	Dates  Dates   `json:"dates"`
	Error  *string `json:"error"`
}

// Clone returns a deep-enough copy safe to mutate without aliasing the
// caller's record; Receipt/L1OutputEvent are immutable value types so a
// shallow struct copy already isolates them.
func (r Record) Clone() Record {
	cp := r
	if r.Hashes.InitializeTxHash != nil {
		v := *r.Hashes.InitializeTxHash
		cp.Hashes.InitializeTxHash = &v
	}
	if r.Hashes.FinalizeTxHash != nil {
		v := *r.Hashes.FinalizeTxHash
		cp.Hashes.FinalizeTxHash = &v
	}
	if r.Dates.InitializationAt != nil {
		v := *r.Dates.InitializationAt
		cp.Dates.InitializationAt = &v
	}
	if r.Dates.FinalizationAt != nil {
		v := *r.Dates.FinalizationAt
		cp.Dates.FinalizationAt = &v
	}
	if r.Error != nil {
		v := *r.Error
		cp.Error = &v
	}
	return cp
}

// NewQueued constructs a fresh record in status QUEUED from an observed L2
// DepositInitialized event (spec.md §3, Lifecycle). now is epoch
// milliseconds, passed in rather than read from the clock so callers stay
// testable.
func NewQueued(id, fundingTxHash string, outputIndex uint32, receipt Receipt, l1 L1OutputEvent, owner string, now int64) Record {
	return Record{
		ID:            id,
		FundingTxHash: fundingTxHash,
		OutputIndex:   outputIndex,
		Receipt:       receipt,
		L1OutputEvent: l1,
		Owner:         owner,
		Status:        Queued,
		Dates: Dates{
			CreatedAt:      now,
			LastActivityAt: now,
		},
	}
}

// WithError returns a copy of r with lastActivityAt bumped and error set,
// status unchanged (spec.md §4.3: pre-flight revert → error, lastActivityAt,
// same status; §8 invariant 3: lastActivityAt never decreases).
func (r Record) WithError(reason string, now int64) Record {
	cp := r.Clone()
	cp.Error = &reason
	cp.Dates.LastActivityAt = bumpedActivity(cp.Dates.LastActivityAt, now)
	return cp
}

// Touch bumps lastActivityAt without otherwise changing the record, used for
// no-op reconciliation passes (spec.md §3 invariants).
func (r Record) Touch(now int64) Record {
	cp := r.Clone()
	cp.Dates.LastActivityAt = bumpedActivity(cp.Dates.LastActivityAt, now)
	return cp
}

// AdvanceToInitialized moves a QUEUED record to INITIALIZED. txHash is
// nullable: a nil txHash models the "on-chain says already initialized"
// source-drift case from spec.md §9 (the updateToInitializedDeposit string
// argument), where the relayer records the remote fact without ever having
// sent the transaction itself, and error is cleared.
func (r Record) AdvanceToInitialized(txHash *string, now int64) Record {
	cp := r.Clone()
	cp.Status = Initialized
	cp.Hashes.InitializeTxHash = txHash
	at := now
	cp.Dates.InitializationAt = &at
	cp.Dates.LastActivityAt = bumpedActivity(cp.Dates.LastActivityAt, now)
	cp.Error = nil
	return cp
}

// AdvanceToFinalized moves a QUEUED or INITIALIZED record to FINALIZED.
// txHash is nullable for the same remote-fact-discovery reason as
// AdvanceToInitialized (spec.md §4.3 processInitializeDeposits/
// processFinalizeDeposits "else" branches that fast-forward on remote state).
func (r Record) AdvanceToFinalized(txHash *string, now int64) Record {
	cp := r.Clone()
	cp.Status = Finalized
	cp.Hashes.FinalizeTxHash = txHash
	at := now
	cp.Dates.FinalizationAt = &at
	cp.Dates.LastActivityAt = bumpedActivity(cp.Dates.LastActivityAt, now)
	cp.Error = nil
	return cp
}

func bumpedActivity(current, now int64) int64 {
	if now > current {
		return now
	}
	return current
}

// ReadyForRetry reports whether at least minIntervalMillis has elapsed since
// the record's lastActivityAt, the activity throttle reconcile loops use to
// avoid hammering a record that keeps reverting (spec.md §5, TIME_TO_RETRY).
func (r Record) ReadyForRetry(now, minIntervalMillis int64) bool {
	return now-r.Dates.LastActivityAt >= minIntervalMillis
}

// Package mempool maintains the set of validated transactions waiting to be
// included in a block.
package mempool

import (
	"cmp"
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/currency"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/database"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/mempool/selector"
	"github.com/ConcealNetwork/conceal-core-sub000/foundation/blockchain/validator"
)

// Set of errors produced by the pool.
var (
	ErrKeyImageInPool = errors.New("key image already spent by a pool transaction")
	ErrMultisigInPool = errors.New("multisignature output already spent by a pool transaction")
	ErrFeeTooSmall    = errors.New("fee too small")
)

// EventHandler defines a function that is called when events occur in the
// processing of pool transactions.
type EventHandler func(v string, args ...any)

// Checker is the view of the main chain pool transactions are checked
// against.
type Checker interface {
	HaveTransaction(hash database.Hash) bool
	CheckTransactionInputs(tx database.Transaction) (uint32, error)
}

// =============================================================================

// entry is a pool transaction along with what was derived when it arrived.
type entry struct {
	tx            database.Transaction
	hash          database.Hash
	blobSize      uint64
	fee           uint64
	receiveTime   time.Time
	keptByBlock   bool
	sequence      uint64
	maxUsedHeight uint32
}

func (e *entry) candidate() selector.Candidate {
	return selector.Candidate{
		Hash:        e.hash,
		BlobSize:    e.blobSize,
		Fee:         e.fee,
		ReceiveTime: e.receiveTime,
		Sequence:    e.sequence,
		KeptByBlock: e.keptByBlock,
	}
}

// multisigRef identifies a multisignature output spent by a pool
// transaction.
type multisigRef struct {
	amount uint64
	index  uint32
}

// TxDetails describes a pool transaction.
type TxDetails struct {
	Hash        database.Hash `json:"hash"`
	BlobSize    uint64        `json:"blob_size"`
	Fee         uint64        `json:"fee"`
	ReceiveTime int64         `json:"receive_time"`
	KeptByBlock bool          `json:"kept_by_block"`
}

// =============================================================================

// Config represents the configuration required to construct the pool.
type Config struct {
	Currency       *currency.Currency
	Validator      *validator.Validator
	Checker        Checker
	SelectStrategy string
	Now            func() time.Time
	EvHandler      EventHandler
}

// Mempool represents the cache of transactions waiting for a block, indexed
// by hash with secondary indices on key images, payment ids and receive
// time.
type Mempool struct {
	mu        sync.RWMutex
	currency  *currency.Currency
	validator *validator.Validator
	checker   Checker
	selectFn  selector.Func
	now       func() time.Time
	evHandler EventHandler

	txs        map[database.Hash]*entry
	keyImages  map[database.KeyImage]map[database.Hash]struct{}
	multisigs  map[multisigRef]map[database.Hash]struct{}
	paymentIDs map[database.Hash][]database.Hash
	deleted    map[database.Hash]time.Time
	sequence   uint64
}

// New constructs a pool with the specified select strategy.
func New(cfg Config) (*Mempool, error) {
	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyFee
	}

	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	mp := Mempool{
		currency:   cfg.Currency,
		validator:  cfg.Validator,
		checker:    cfg.Checker,
		selectFn:   selectFn,
		now:        now,
		evHandler:  ev,
		txs:        make(map[database.Hash]*entry),
		keyImages:  make(map[database.KeyImage]map[database.Hash]struct{}),
		multisigs:  make(map[multisigRef]map[database.Hash]struct{}),
		paymentIDs: make(map[database.Hash][]database.Hash),
		deleted:    make(map[database.Hash]time.Time),
	}

	return &mp, nil
}

// =============================================================================

// Add validates the transaction and admits it to the pool. Transactions
// kept by a block skip the fee bar and key image conflicts and are admitted
// even when their inputs can't be checked, the block they arrived with is
// what decides their fate.
func (mp *Mempool) Add(tx database.Transaction, hash database.Hash, blobSize uint64, keptByBlock bool, heightHint uint32) validator.TxVerification {
	if mp.Have(hash) || mp.checker.HaveTransaction(hash) {
		mp.evHandler("mempool: Add: tx[%s]: already known", hash)
		return validator.TxVerification{}
	}

	if !keptByBlock && mp.recentlyDeleted(hash) {
		mp.evHandler("mempool: Add: tx[%s]: recently evicted, ignored", hash)
		return validator.TxVerification{}
	}

	if _, err := mp.validator.CheckSemantics(tx, keptByBlock, heightHint); err != nil {
		mp.evHandler("mempool: Add: tx[%s]: ERROR: %s", hash, err)
		return validator.Rejected(err)
	}

	fee, ok := mp.currency.TransactionFee(tx, heightHint)
	if !ok {
		return validator.Rejected(validator.ErrInputsBelowOutputs)
	}

	if !keptByBlock && fee < mp.currency.MinimumFee && !mp.currency.IsFusionTransaction(tx, blobSize) {
		mp.evHandler("mempool: Add: tx[%s]: WARNING: fee %d below %d", hash, fee, mp.currency.MinimumFee)
		return validator.TxVerification{FeeTooSmall: true, Reason: fmt.Errorf("%w: %d, minimum %d", ErrFeeTooSmall, fee, mp.currency.MinimumFee)}
	}

	maxUsedHeight, err := mp.checker.CheckTransactionInputs(tx)
	if err != nil && !keptByBlock {
		mp.evHandler("mempool: Add: tx[%s]: ERROR: %s", hash, err)
		return validator.Rejected(err)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.txs[hash]; exists {
		return validator.TxVerification{}
	}

	if !keptByBlock {
		if err := mp.checkConflicts(tx); err != nil {
			mp.evHandler("mempool: Add: tx[%s]: ERROR: %s", hash, err)
			return validator.Rejected(err)
		}
	}

	mp.insert(&entry{
		tx:            tx,
		hash:          hash,
		blobSize:      blobSize,
		fee:           fee,
		receiveTime:   mp.now(),
		keptByBlock:   keptByBlock,
		maxUsedHeight: maxUsedHeight,
	})

	mp.evHandler("mempool: Add: tx[%s]: fee[%d]: size[%d]: kept[%t]: added", hash, fee, blobSize, keptByBlock)

	return validator.TxVerification{
		AddedToPool:     true,
		ShouldBeRelayed: !keptByBlock,
	}
}

// AddKept returns a transaction of a block leaving the main chain to the
// pool without checking it against the chain.
func (mp *Mempool) AddKept(tx database.Transaction) bool {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	hash := tx.Hash()
	if _, exists := mp.txs[hash]; exists {
		return true
	}

	fee, ok := mp.currency.TransactionFee(tx, 0)
	if !ok {
		return false
	}

	mp.insert(&entry{
		tx:          tx,
		hash:        hash,
		blobSize:    tx.BlobSize(),
		fee:         fee,
		receiveTime: mp.now(),
		keptByBlock: true,
	})

	return true
}

// RemoveInvalid rechecks every pool transaction after the main chain lost
// blocks. Transactions failing the check are removed, and so are those
// spending an input already spent by an earlier pool transaction. It returns
// the removed hashes.
func (mp *Mempool) RemoveInvalid(check func(tx database.Transaction) error) []database.Hash {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	images := make(map[database.KeyImage]struct{})
	multisigs := make(map[multisigRef]struct{})

	var removed []database.Hash
	for _, e := range mp.ordered() {
		err := check(e.tx)
		if err == nil {
			err = claimInputs(e.tx, images, multisigs)
		}
		if err != nil {
			mp.remove(e)
			removed = append(removed, e.hash)
			mp.evHandler("mempool: RemoveInvalid: tx[%s]: %s", e.hash, err)
		}
	}

	return removed
}

// claimInputs records the inputs of the transaction in the sets, failing
// when one is already there.
func claimInputs(tx database.Transaction, images map[database.KeyImage]struct{}, multisigs map[multisigRef]struct{}) error {
	for _, in := range tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			if _, exists := images[in.Key.KeyImage]; exists {
				return fmt.Errorf("%w: %s", ErrKeyImageInPool, in.Key.KeyImage)
			}
		case database.InputMultisig:
			ref := multisigRef{amount: in.Multisig.Amount, index: in.Multisig.OutputIndex}
			if _, exists := multisigs[ref]; exists {
				return fmt.Errorf("%w: amount %d index %d", ErrMultisigInPool, ref.amount, ref.index)
			}
		}
	}

	for _, in := range tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			images[in.Key.KeyImage] = struct{}{}
		case database.InputMultisig:
			multisigs[multisigRef{amount: in.Multisig.Amount, index: in.Multisig.OutputIndex}] = struct{}{}
		}
	}

	return nil
}

// checkConflicts reports inputs already spent by pool transactions.
func (mp *Mempool) checkConflicts(tx database.Transaction) error {
	for _, in := range tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			if len(mp.keyImages[in.Key.KeyImage]) > 0 {
				return fmt.Errorf("%w: %s", ErrKeyImageInPool, in.Key.KeyImage)
			}
		case database.InputMultisig:
			ref := multisigRef{amount: in.Multisig.Amount, index: in.Multisig.OutputIndex}
			if len(mp.multisigs[ref]) > 0 {
				return fmt.Errorf("%w: amount %d index %d", ErrMultisigInPool, ref.amount, ref.index)
			}
		}
	}
	return nil
}

// insert adds the entry to every index.
func (mp *Mempool) insert(e *entry) {
	mp.sequence++
	e.sequence = mp.sequence
	mp.txs[e.hash] = e

	for _, in := range e.tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			set, exists := mp.keyImages[in.Key.KeyImage]
			if !exists {
				set = make(map[database.Hash]struct{})
				mp.keyImages[in.Key.KeyImage] = set
			}
			set[e.hash] = struct{}{}
		case database.InputMultisig:
			ref := multisigRef{amount: in.Multisig.Amount, index: in.Multisig.OutputIndex}
			set, exists := mp.multisigs[ref]
			if !exists {
				set = make(map[database.Hash]struct{})
				mp.multisigs[ref] = set
			}
			set[e.hash] = struct{}{}
		}
	}

	if id, ok := e.tx.PaymentID(); ok {
		mp.paymentIDs[id] = append(mp.paymentIDs[id], e.hash)
	}

	delete(mp.deleted, e.hash)
}

// remove drops the entry from every index.
func (mp *Mempool) remove(e *entry) {
	delete(mp.txs, e.hash)

	for _, in := range e.tx.Inputs {
		switch in.Kind() {
		case database.InputKey:
			delete(mp.keyImages[in.Key.KeyImage], e.hash)
			if len(mp.keyImages[in.Key.KeyImage]) == 0 {
				delete(mp.keyImages, in.Key.KeyImage)
			}
		case database.InputMultisig:
			ref := multisigRef{amount: in.Multisig.Amount, index: in.Multisig.OutputIndex}
			delete(mp.multisigs[ref], e.hash)
			if len(mp.multisigs[ref]) == 0 {
				delete(mp.multisigs, ref)
			}
		}
	}

	if id, ok := e.tx.PaymentID(); ok {
		hashes := mp.paymentIDs[id]
		if i := slices.Index(hashes, e.hash); i >= 0 {
			hashes = slices.Delete(hashes, i, i+1)
		}
		if len(hashes) == 0 {
			delete(mp.paymentIDs, id)
		} else {
			mp.paymentIDs[id] = hashes
		}
	}
}

// =============================================================================

// Take removes the transaction from the pool and returns it.
func (mp *Mempool) Take(hash database.Hash) (database.Transaction, bool) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	e, exists := mp.txs[hash]
	if !exists {
		return database.Transaction{}, false
	}

	mp.remove(e)
	return e.tx, true
}

// Get returns the transaction without removing it.
func (mp *Mempool) Get(hash database.Hash) (database.Transaction, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	e, exists := mp.txs[hash]
	if !exists {
		return database.Transaction{}, false
	}
	return e.tx, true
}

// Have reports if the transaction is in the pool.
func (mp *Mempool) Have(hash database.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.txs[hash]
	return exists
}

// HaveKeyImage reports if a pool transaction spends the key image.
func (mp *Mempool) HaveKeyImage(image database.KeyImage) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.keyImages[image]) > 0
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.txs)
}

// Hashes returns the hashes of the pool transactions in the order they were
// received.
func (mp *Mempool) Hashes() []database.Hash {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entries := mp.ordered()
	hashes := make([]database.Hash, len(entries))
	for i, e := range entries {
		hashes[i] = e.hash
	}
	return hashes
}

// Transactions returns the pool transactions in the order they were
// received.
func (mp *Mempool) Transactions() []database.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entries := mp.ordered()
	txs := make([]database.Transaction, len(entries))
	for i, e := range entries {
		txs[i] = e.tx
	}
	return txs
}

// Details describes the pool transactions in the order they were received.
func (mp *Mempool) Details() []TxDetails {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	entries := mp.ordered()
	details := make([]TxDetails, len(entries))
	for i, e := range entries {
		details[i] = TxDetails{
			Hash:        e.hash,
			BlobSize:    e.blobSize,
			Fee:         e.fee,
			ReceiveTime: e.receiveTime.Unix(),
			KeptByBlock: e.keptByBlock,
		}
	}
	return details
}

func (mp *Mempool) ordered() []*entry {
	entries := slices.Collect(maps.Values(mp.txs))
	slices.SortFunc(entries, func(a, b *entry) int {
		return cmp.Compare(a.sequence, b.sequence)
	})
	return entries
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.txs = make(map[database.Hash]*entry)
	mp.keyImages = make(map[database.KeyImage]map[database.Hash]struct{})
	mp.multisigs = make(map[multisigRef]map[database.Hash]struct{})
	mp.paymentIDs = make(map[database.Hash][]database.Hash)
}

// =============================================================================

// FillBlockTemplate selects pool transactions for a block at the height
// using the configured strategy. Transactions larger than maxTxSize, those
// that would take the total above maxCumulativeSize and those whose inputs
// no longer check against the chain are skipped.
func (mp *Mempool) FillBlockTemplate(maxCumulativeSize uint64, maxTxSize uint64, height uint32) ([]database.Transaction, uint64, uint64) {
	mp.mu.RLock()
	candidates := make([]selector.Candidate, 0, len(mp.txs))
	entries := make(map[database.Hash]*entry, len(mp.txs))
	for hash, e := range mp.txs {
		candidates = append(candidates, e.candidate())
		entries[hash] = e
	}
	mp.mu.RUnlock()

	var txs []database.Transaction
	var totalSize, totalFee uint64
	images := make(map[database.KeyImage]struct{})

next:
	for _, cand := range mp.selectFn(candidates) {
		e := entries[cand.Hash]

		if e.blobSize > maxTxSize || totalSize+e.blobSize > maxCumulativeSize {
			continue
		}

		txImages := e.tx.KeyImages()
		for _, image := range txImages {
			if _, used := images[image]; used {
				continue next
			}
		}

		if _, err := mp.checker.CheckTransactionInputs(e.tx); err != nil {
			continue
		}

		fee, ok := mp.currency.TransactionFee(e.tx, height)
		if !ok {
			continue
		}

		for _, image := range txImages {
			images[image] = struct{}{}
		}
		txs = append(txs, e.tx)
		totalSize += e.blobSize
		totalFee += fee
	}

	return txs, totalSize, totalFee
}

// GetDifference compares the pool with the transactions a peer believes are
// pooled. It returns the pool transactions the peer is missing and the
// known ones the pool doesn't hold anymore.
func (mp *Mempool) GetDifference(known []database.Hash) ([]database.Hash, []database.Hash) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	knownSet := make(map[database.Hash]struct{}, len(known))
	var deleted []database.Hash
	for _, hash := range known {
		knownSet[hash] = struct{}{}
		if _, exists := mp.txs[hash]; !exists {
			deleted = append(deleted, hash)
		}
	}

	var added []database.Hash
	for _, e := range mp.ordered() {
		if _, exists := knownSet[e.hash]; !exists {
			added = append(added, e.hash)
		}
	}

	return added, deleted
}

// PoolChanges is GetDifference returning the added transactions in full.
func (mp *Mempool) PoolChanges(known []database.Hash) ([]database.Transaction, []database.Hash) {
	added, deleted := mp.GetDifference(known)

	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.Transaction, 0, len(added))
	for _, hash := range added {
		if e, exists := mp.txs[hash]; exists {
			txs = append(txs, e.tx)
		}
	}

	return txs, deleted
}

// TransactionIDsByTimestamp returns the pool transactions received in
// [begin, end) seconds, up to limit entries, along with the number of
// transactions in the range.
func (mp *Mempool) TransactionIDsByTimestamp(begin uint64, end uint64, limit int) ([]database.Hash, int) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	var ids []database.Hash
	var total int
	for _, e := range mp.ordered() {
		ts := uint64(e.receiveTime.Unix())
		if ts < begin || ts >= end {
			continue
		}
		total++
		if len(ids) < limit {
			ids = append(ids, e.hash)
		}
	}

	return ids, total
}

// TransactionIDsByPaymentID returns the pool transactions carrying the
// payment id.
func (mp *Mempool) TransactionIDsByPaymentID(id database.Hash) []database.Hash {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return slices.Clone(mp.paymentIDs[id])
}

// =============================================================================

// OnIdle evicts the transactions that stayed in the pool longer than their
// time to live and forgets old evictions. It returns the evicted hashes.
func (mp *Mempool) OnIdle() []database.Hash {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	now := mp.now()
	liveTime := time.Duration(mp.currency.MempoolTxLiveTime) * time.Second
	altLiveTime := time.Duration(mp.currency.MempoolTxFromAltBlockLiveTime) * time.Second

	var evicted []database.Hash
	for _, e := range mp.ordered() {
		ttl := liveTime
		if e.keptByBlock {
			ttl = altLiveTime
		}
		if now.Sub(e.receiveTime) <= ttl {
			continue
		}

		mp.remove(e)
		mp.deleted[e.hash] = now
		evicted = append(evicted, e.hash)
		mp.evHandler("mempool: OnIdle: tx[%s]: evicted after %s", e.hash, now.Sub(e.receiveTime))
	}

	forget := liveTime * time.Duration(max(mp.currency.ForgetDeletedPeriods, 1))
	for hash, at := range mp.deleted {
		if now.Sub(at) > forget {
			delete(mp.deleted, hash)
		}
	}

	return evicted
}

// recentlyDeleted reports if the transaction was evicted not long ago.
func (mp *Mempool) recentlyDeleted(hash database.Hash) bool {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	_, exists := mp.deleted[hash]
	return exists
}

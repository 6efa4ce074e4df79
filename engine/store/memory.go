// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/participation-engine/engine"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	users     map[engine.UserID]engine.User
	events    map[engine.EventID]engine.Event
	tags      map[engine.TagID]engine.Tag
	eventTags map[engine.EventID][]engine.TagID
	whitelist map[tagUser]bool
	roles     map[tagUser]bool

	// Slices keep insertion order, which doubles as chronological order
	// for listings and tie-breaks.
	transactions []engine.Transaction
	attendance   []engine.AttendanceRecord
	waitlist     []engine.WaitlistEntry
}

type tagUser struct {
	TagID  engine.TagID
	UserID engine.UserID
}

func NewMemory() *Memory {
	return &Memory{
		users:     make(map[engine.UserID]engine.User),
		events:    make(map[engine.EventID]engine.Event),
		tags:      make(map[engine.TagID]engine.Tag),
		eventTags: make(map[engine.EventID][]engine.TagID),
		whitelist: make(map[tagUser]bool),
		roles:     make(map[tagUser]bool),
	}
}

var _ engine.Store = (*Memory)(nil)

// Reset drops all state. Tests and scenario loading use this.
func (m *Memory) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users = make(map[engine.UserID]engine.User)
	m.events = make(map[engine.EventID]engine.Event)
	m.tags = make(map[engine.TagID]engine.Tag)
	m.eventTags = make(map[engine.EventID][]engine.TagID)
	m.whitelist = make(map[tagUser]bool)
	m.roles = make(map[tagUser]bool)
	m.transactions = nil
	m.attendance = nil
	m.waitlist = nil
	return nil
}

// =============================================================================
// USERS
// =============================================================================

func (m *Memory) SaveUser(_ context.Context, u engine.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUserLocked(u)
}

func (m *Memory) saveUserLocked(u engine.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id engine.UserID) (*engine.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id engine.UserID) (*engine.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]engine.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsersLocked()
}

func (m *Memory) listUsersLocked() ([]engine.User, error) {
	users := make([]engine.User, 0, len(m.users))
	for _, u := range m.users {
		users = append(users, u)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].Name < users[j].Name })
	return users, nil
}

func (m *Memory) AdjustFreeSessions(_ context.Context, id engine.UserID, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.adjustFreeSessionsLocked(id, delta)
}

func (m *Memory) adjustFreeSessionsLocked(id engine.UserID, delta int) error {
	u, ok := m.users[id]
	if !ok {
		return &engine.NotFoundError{Kind: "user", ID: string(id)}
	}
	u.FreeSessions += delta
	m.users[id] = u
	return nil
}

// =============================================================================
// EVENTS AND TAGS
// =============================================================================

func (m *Memory) SaveEvent(_ context.Context, e engine.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveEventLocked(e)
}

func (m *Memory) saveEventLocked(e engine.Event) error {
	e.Tags = nil // tag links live in eventTags
	m.events[e.ID] = e
	return nil
}

func (m *Memory) GetEvent(_ context.Context, id engine.EventID) (*engine.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEventLocked(id)
}

func (m *Memory) getEventLocked(id engine.EventID) (*engine.Event, error) {
	e, ok := m.events[id]
	if !ok {
		return nil, nil
	}
	for _, tagID := range m.eventTags[id] {
		if tag, ok := m.tags[tagID]; ok {
			e.Tags = append(e.Tags, tag)
		}
	}
	return &e, nil
}

func (m *Memory) ListEvents(_ context.Context) ([]engine.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listEventsLocked()
}

func (m *Memory) listEventsLocked() ([]engine.Event, error) {
	events := make([]engine.Event, 0, len(m.events))
	for id := range m.events {
		e, _ := m.getEventLocked(id)
		events = append(events, *e)
	}
	sort.Slice(events, func(i, j int) bool { return events[i].Start.Before(events[j].Start) })
	return events, nil
}

func (m *Memory) SetEventCanceled(_ context.Context, id engine.EventID, canceled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setEventCanceledLocked(id, canceled)
}

func (m *Memory) setEventCanceledLocked(id engine.EventID, canceled bool) error {
	e, ok := m.events[id]
	if !ok {
		return &engine.NotFoundError{Kind: "event", ID: string(id)}
	}
	e.Canceled = canceled
	m.events[id] = e
	return nil
}

func (m *Memory) SaveTag(_ context.Context, t engine.Tag) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTagLocked(t)
}

func (m *Memory) saveTagLocked(t engine.Tag) error {
	m.tags[t.ID] = t
	return nil
}

func (m *Memory) GetTag(_ context.Context, id engine.TagID) (*engine.Tag, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTagLocked(id)
}

func (m *Memory) getTagLocked(id engine.TagID) (*engine.Tag, error) {
	t, ok := m.tags[id]
	if !ok {
		return nil, nil
	}
	return &t, nil
}

func (m *Memory) LinkTag(_ context.Context, eventID engine.EventID, tagID engine.TagID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.linkTagLocked(eventID, tagID)
}

func (m *Memory) linkTagLocked(eventID engine.EventID, tagID engine.TagID) error {
	for _, linked := range m.eventTags[eventID] {
		if linked == tagID {
			return nil
		}
	}
	m.eventTags[eventID] = append(m.eventTags[eventID], tagID)
	return nil
}

func (m *Memory) AddToWhitelist(_ context.Context, tagID engine.TagID, userID engine.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.whitelist[tagUser{tagID, userID}] = true
	return nil
}

func (m *Memory) IsWhitelisted(_ context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.whitelist[tagUser{tagID, userID}], nil
}

func (m *Memory) GrantTagRole(_ context.Context, tagID engine.TagID, userID engine.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roles[tagUser{tagID, userID}] = true
	return nil
}

func (m *Memory) HasTagRole(_ context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.roles[tagUser{tagID, userID}], nil
}

// =============================================================================
// LEDGER
// =============================================================================

func (m *Memory) AppendTransaction(_ context.Context, tx engine.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendTransactionLocked(tx)
}

func (m *Memory) appendTransactionLocked(tx engine.Transaction) error {
	m.transactions = append(m.transactions, tx)
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id engine.TransactionID) (*engine.Transaction, error) {
	for i := range m.transactions {
		if m.transactions[i].ID == id {
			tx := m.transactions[i]
			return &tx, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateTransaction(_ context.Context, id engine.TransactionID, amount decimal.Decimal, description string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateTransactionLocked(id, amount, description)
}

func (m *Memory) updateTransactionLocked(id engine.TransactionID, amount decimal.Decimal, description string) error {
	for i := range m.transactions {
		if m.transactions[i].ID == id {
			m.transactions[i].Amount = amount
			m.transactions[i].Description = description
			return nil
		}
	}
	return &engine.NotFoundError{Kind: "transaction", ID: string(id)}
}

func (m *Memory) DeleteTransaction(_ context.Context, id engine.TransactionID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.deleteTransactionLocked(id)
}

func (m *Memory) deleteTransactionLocked(id engine.TransactionID) error {
	for i := range m.transactions {
		if m.transactions[i].ID == id {
			m.transactions = append(m.transactions[:i], m.transactions[i+1:]...)
			// Mirror the SQL schema's ON DELETE SET NULL on the
			// attendance payment link.
			for j := range m.attendance {
				if m.attendance[j].PaymentTransactionID != nil && *m.attendance[j].PaymentTransactionID == id {
					m.attendance[j].PaymentTransactionID = nil
				}
			}
			return nil
		}
	}
	return &engine.NotFoundError{Kind: "transaction", ID: string(id)}
}

func (m *Memory) TransactionsForUser(_ context.Context, userID engine.UserID) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionsForUserLocked(userID)
}

func (m *Memory) transactionsForUserLocked(userID engine.UserID) ([]engine.Transaction, error) {
	var txs []engine.Transaction
	for _, tx := range m.transactions {
		if tx.UserID == userID {
			txs = append(txs, tx)
		}
	}
	return txs, nil
}

func (m *Memory) Balance(_ context.Context, userID engine.UserID) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.balanceLocked(userID)
}

func (m *Memory) balanceLocked(userID engine.UserID) (decimal.Decimal, error) {
	sum := decimal.Zero
	for _, tx := range m.transactions {
		if tx.UserID == userID {
			sum = sum.Add(tx.Amount)
		}
	}
	return sum, nil
}

func (m *Memory) TransactionForEvent(_ context.Context, eventID engine.EventID, userID engine.UserID) (*engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.transactionForEventLocked(eventID, userID)
}

func (m *Memory) transactionForEventLocked(eventID engine.EventID, userID engine.UserID) (*engine.Transaction, error) {
	var found *engine.Transaction
	for i := range m.transactions {
		tx := m.transactions[i]
		if tx.UserID == userID && tx.EventID != nil && *tx.EventID == eventID {
			found = &tx
		}
	}
	return found, nil
}

func (m *Memory) HeldCharges(_ context.Context, eventID engine.EventID) ([]engine.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.heldChargesLocked(eventID)
}

func (m *Memory) heldChargesLocked(eventID engine.EventID) ([]engine.Transaction, error) {
	var held []engine.Transaction
	for _, tx := range m.transactions {
		if tx.EventID == nil || *tx.EventID != eventID {
			continue
		}
		if m.hasActiveAttendanceLocked(eventID, tx.UserID) {
			continue
		}
		held = append(held, tx)
	}
	return held, nil
}

// =============================================================================
// ATTENDANCE
// =============================================================================

func (m *Memory) hasActiveAttendanceLocked(eventID engine.EventID, userID engine.UserID) bool {
	for _, rec := range m.attendance {
		if rec.EventID == eventID && rec.UserID == userID && rec.IsAttending {
			return true
		}
	}
	return false
}

func (m *Memory) InsertAttendance(_ context.Context, r engine.AttendanceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.insertAttendanceLocked(r)
}

func (m *Memory) insertAttendanceLocked(r engine.AttendanceRecord) error {
	if r.IsAttending && m.hasActiveAttendanceLocked(r.EventID, r.UserID) {
		return &engine.ConflictError{Op: "attend", EventID: r.EventID, UserID: r.UserID}
	}
	m.attendance = append(m.attendance, r)
	return nil
}

func (m *Memory) ActiveAttendance(_ context.Context, eventID engine.EventID, userID engine.UserID) (*engine.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeAttendanceLocked(eventID, userID)
}

func (m *Memory) activeAttendanceLocked(eventID engine.EventID, userID engine.UserID) (*engine.AttendanceRecord, error) {
	for i := range m.attendance {
		rec := m.attendance[i]
		if rec.EventID == eventID && rec.UserID == userID && rec.IsAttending {
			return &rec, nil
		}
	}
	return nil, nil
}

func (m *Memory) CloseAttendance(_ context.Context, id engine.RecordID, leftAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeAttendanceLocked(id, leftAt)
}

func (m *Memory) closeAttendanceLocked(id engine.RecordID, leftAt time.Time) error {
	for i := range m.attendance {
		if m.attendance[i].ID == id {
			left := leftAt
			m.attendance[i].IsAttending = false
			m.attendance[i].LeftAt = &left
			return nil
		}
	}
	return &engine.NotFoundError{Kind: "attendance record", ID: string(id)}
}

func (m *Memory) ActiveCount(_ context.Context, eventID engine.EventID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeCountLocked(eventID)
}

func (m *Memory) activeCountLocked(eventID engine.EventID) (int, error) {
	n := 0
	for _, rec := range m.attendance {
		if rec.EventID == eventID && rec.IsAttending {
			n++
		}
	}
	return n, nil
}

func (m *Memory) InstructorActiveCount(_ context.Context, eventID engine.EventID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.instructorActiveCountLocked(eventID)
}

func (m *Memory) instructorActiveCountLocked(eventID engine.EventID) (int, error) {
	n := 0
	for _, rec := range m.attendance {
		if rec.EventID == eventID && rec.IsAttending && m.users[rec.UserID].Instructor {
			n++
		}
	}
	return n, nil
}

func (m *Memory) ActiveAttendees(_ context.Context, eventID engine.EventID) ([]engine.RosterEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.activeAttendeesLocked(eventID)
}

func (m *Memory) activeAttendeesLocked(eventID engine.EventID) ([]engine.RosterEntry, error) {
	var roster []engine.RosterEntry
	for _, rec := range m.attendance {
		if rec.EventID != eventID || !rec.IsAttending {
			continue
		}
		u := m.users[rec.UserID]
		roster = append(roster, engine.RosterEntry{
			UserID:     rec.UserID,
			Name:       u.Name,
			Instructor: u.Instructor,
			JoinedAt:   rec.JoinedAt,
		})
	}
	sort.Slice(roster, func(i, j int) bool { return roster[i].Name < roster[j].Name })
	return roster, nil
}

func (m *Memory) AttendanceRecords(_ context.Context, eventID engine.EventID) ([]engine.AttendanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.attendanceRecordsLocked(eventID)
}

func (m *Memory) attendanceRecordsLocked(eventID engine.EventID) ([]engine.AttendanceRecord, error) {
	var records []engine.AttendanceRecord
	for _, rec := range m.attendance {
		if rec.EventID == eventID {
			records = append(records, rec)
		}
	}
	sort.SliceStable(records, func(i, j int) bool { return records[i].JoinedAt.Before(records[j].JoinedAt) })
	return records, nil
}

func (m *Memory) HasPaidRecord(_ context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.hasPaidRecordLocked(eventID, userID)
}

func (m *Memory) hasPaidRecordLocked(eventID engine.EventID, userID engine.UserID) (bool, error) {
	for _, rec := range m.attendance {
		if rec.EventID == eventID && rec.UserID == userID && rec.PaymentTransactionID != nil {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// WAITLIST
// =============================================================================

func (m *Memory) AddWaitlistEntry(_ context.Context, e engine.WaitlistEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addWaitlistEntryLocked(e)
}

func (m *Memory) addWaitlistEntryLocked(e engine.WaitlistEntry) error {
	for _, entry := range m.waitlist {
		if entry.EventID == e.EventID && entry.UserID == e.UserID {
			return &engine.ConflictError{Op: "waitlist_join", EventID: e.EventID, UserID: e.UserID}
		}
	}
	m.waitlist = append(m.waitlist, e)
	return nil
}

func (m *Memory) RemoveWaitlistEntry(_ context.Context, eventID engine.EventID, userID engine.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeWaitlistEntryLocked(eventID, userID)
}

func (m *Memory) removeWaitlistEntryLocked(eventID engine.EventID, userID engine.UserID) error {
	for i, entry := range m.waitlist {
		if entry.EventID == eventID && entry.UserID == userID {
			m.waitlist = append(m.waitlist[:i], m.waitlist[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *Memory) IsOnWaitlist(_ context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isOnWaitlistLocked(eventID, userID)
}

func (m *Memory) isOnWaitlistLocked(eventID engine.EventID, userID engine.UserID) (bool, error) {
	for _, entry := range m.waitlist {
		if entry.EventID == eventID && entry.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) NextWaitlisted(_ context.Context, eventID engine.EventID) (*engine.WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.nextWaitlistedLocked(eventID)
}

func (m *Memory) nextWaitlistedLocked(eventID engine.EventID) (*engine.WaitlistEntry, error) {
	var head *engine.WaitlistEntry
	for i := range m.waitlist {
		entry := m.waitlist[i]
		if entry.EventID != eventID {
			continue
		}
		if head == nil || entry.JoinedAt.Before(head.JoinedAt) {
			e := entry
			head = &e
		}
	}
	return head, nil
}

func (m *Memory) WaitlistPosition(_ context.Context, eventID engine.EventID, userID engine.UserID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.waitlistPositionLocked(eventID, userID)
}

func (m *Memory) waitlistPositionLocked(eventID engine.EventID, userID engine.UserID) (int, error) {
	var own *engine.WaitlistEntry
	for i := range m.waitlist {
		if m.waitlist[i].EventID == eventID && m.waitlist[i].UserID == userID {
			own = &m.waitlist[i]
			break
		}
	}
	if own == nil {
		return 0, &engine.NotFoundError{Kind: "waitlist entry", ID: string(userID)}
	}
	earlier := 0
	for _, entry := range m.waitlist {
		if entry.EventID == eventID && entry.JoinedAt.Before(own.JoinedAt) {
			earlier++
		}
	}
	return earlier + 1, nil
}

func (m *Memory) ListWaitlist(_ context.Context, eventID engine.EventID) ([]engine.WaitlistEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listWaitlistLocked(eventID)
}

func (m *Memory) listWaitlistLocked(eventID engine.EventID) ([]engine.WaitlistEntry, error) {
	var entries []engine.WaitlistEntry
	for _, entry := range m.waitlist {
		if entry.EventID == eventID {
			entries = append(entries, entry)
		}
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].JoinedAt.Before(entries[j].JoinedAt) })
	return entries, nil
}

func (m *Memory) WaitlistCount(_ context.Context, eventID engine.EventID) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.waitlistCountLocked(eventID)
}

func (m *Memory) waitlistCountLocked(eventID engine.EventID) (int, error) {
	n := 0
	for _, entry := range m.waitlist {
		if entry.EventID == eventID {
			n++
		}
	}
	return n, nil
}

func (m *Memory) EventsWithWaitlisted(_ context.Context) ([]engine.EventID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eventsWithWaitlistedLocked()
}

func (m *Memory) eventsWithWaitlistedLocked() ([]engine.EventID, error) {
	seen := make(map[engine.EventID]bool)
	var ids []engine.EventID
	for _, entry := range m.waitlist {
		if !seen[entry.EventID] {
			seen[entry.EventID] = true
			ids = append(ids, entry.EventID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// WithSavepoint on the plain store is a one-off atomic scope backed by
// the same snapshot mechanism as WithTx. Inside an open transaction the
// view's variant applies instead.
func (m *Memory) WithSavepoint(_ context.Context, fn func(engine.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txMemoryView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

var _ engine.TxStore = (*TxMemory)(nil)

// WithTx executes fn within a transaction.
// For the memory store this is simulated with a snapshot + rollback on
// error. The store lock is held for the whole function, which also
// serializes concurrent workflows the way the SQL store's immediate
// transactions do.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(engine.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	view := &txMemoryView{parent: tm.Memory}
	if err := fn(view); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

func (m *Memory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:     make(map[engine.UserID]engine.User, len(m.users)),
		events:    make(map[engine.EventID]engine.Event, len(m.events)),
		tags:      make(map[engine.TagID]engine.Tag, len(m.tags)),
		eventTags: make(map[engine.EventID][]engine.TagID, len(m.eventTags)),
		whitelist: make(map[tagUser]bool, len(m.whitelist)),
		roles:     make(map[tagUser]bool, len(m.roles)),
	}
	for k, v := range m.users {
		s.users[k] = v
	}
	for k, v := range m.events {
		s.events[k] = v
	}
	for k, v := range m.tags {
		s.tags[k] = v
	}
	for k, v := range m.eventTags {
		s.eventTags[k] = append([]engine.TagID{}, v...)
	}
	for k, v := range m.whitelist {
		s.whitelist[k] = v
	}
	for k, v := range m.roles {
		s.roles[k] = v
	}
	s.transactions = append([]engine.Transaction{}, m.transactions...)
	s.attendance = append([]engine.AttendanceRecord{}, m.attendance...)
	s.waitlist = append([]engine.WaitlistEntry{}, m.waitlist...)
	return s
}

func (m *Memory) restore(s memorySnapshot) {
	m.users = s.users
	m.events = s.events
	m.tags = s.tags
	m.eventTags = s.eventTags
	m.whitelist = s.whitelist
	m.roles = s.roles
	m.transactions = s.transactions
	m.attendance = s.attendance
	m.waitlist = s.waitlist
}

type memorySnapshot struct {
	users     map[engine.UserID]engine.User
	events    map[engine.EventID]engine.Event
	tags      map[engine.TagID]engine.Tag
	eventTags map[engine.EventID][]engine.TagID
	whitelist map[tagUser]bool
	roles     map[tagUser]bool

	transactions []engine.Transaction
	attendance   []engine.AttendanceRecord
	waitlist     []engine.WaitlistEntry
}

// txMemoryView runs against the parent's data without taking its lock;
// WithTx already holds it.
type txMemoryView struct {
	parent *Memory
}

var _ engine.Store = (*txMemoryView)(nil)

func (tv *txMemoryView) SaveUser(_ context.Context, u engine.User) error {
	return tv.parent.saveUserLocked(u)
}

func (tv *txMemoryView) GetUser(_ context.Context, id engine.UserID) (*engine.User, error) {
	return tv.parent.getUserLocked(id)
}

func (tv *txMemoryView) ListUsers(_ context.Context) ([]engine.User, error) {
	return tv.parent.listUsersLocked()
}

func (tv *txMemoryView) AdjustFreeSessions(_ context.Context, id engine.UserID, delta int) error {
	return tv.parent.adjustFreeSessionsLocked(id, delta)
}

func (tv *txMemoryView) SaveEvent(_ context.Context, e engine.Event) error {
	return tv.parent.saveEventLocked(e)
}

func (tv *txMemoryView) GetEvent(_ context.Context, id engine.EventID) (*engine.Event, error) {
	return tv.parent.getEventLocked(id)
}

func (tv *txMemoryView) ListEvents(_ context.Context) ([]engine.Event, error) {
	return tv.parent.listEventsLocked()
}

func (tv *txMemoryView) SetEventCanceled(_ context.Context, id engine.EventID, canceled bool) error {
	return tv.parent.setEventCanceledLocked(id, canceled)
}

func (tv *txMemoryView) SaveTag(_ context.Context, t engine.Tag) error {
	return tv.parent.saveTagLocked(t)
}

func (tv *txMemoryView) GetTag(_ context.Context, id engine.TagID) (*engine.Tag, error) {
	return tv.parent.getTagLocked(id)
}

func (tv *txMemoryView) LinkTag(_ context.Context, eventID engine.EventID, tagID engine.TagID) error {
	return tv.parent.linkTagLocked(eventID, tagID)
}

func (tv *txMemoryView) AddToWhitelist(_ context.Context, tagID engine.TagID, userID engine.UserID) error {
	tv.parent.whitelist[tagUser{tagID, userID}] = true
	return nil
}

func (tv *txMemoryView) IsWhitelisted(_ context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	return tv.parent.whitelist[tagUser{tagID, userID}], nil
}

func (tv *txMemoryView) GrantTagRole(_ context.Context, tagID engine.TagID, userID engine.UserID) error {
	tv.parent.roles[tagUser{tagID, userID}] = true
	return nil
}

func (tv *txMemoryView) HasTagRole(_ context.Context, tagID engine.TagID, userID engine.UserID) (bool, error) {
	return tv.parent.roles[tagUser{tagID, userID}], nil
}

func (tv *txMemoryView) AppendTransaction(_ context.Context, tx engine.Transaction) error {
	return tv.parent.appendTransactionLocked(tx)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id engine.TransactionID) (*engine.Transaction, error) {
	return tv.parent.getTransactionLocked(id)
}

func (tv *txMemoryView) UpdateTransaction(_ context.Context, id engine.TransactionID, amount decimal.Decimal, description string) error {
	return tv.parent.updateTransactionLocked(id, amount, description)
}

func (tv *txMemoryView) DeleteTransaction(_ context.Context, id engine.TransactionID) error {
	return tv.parent.deleteTransactionLocked(id)
}

func (tv *txMemoryView) TransactionsForUser(_ context.Context, userID engine.UserID) ([]engine.Transaction, error) {
	return tv.parent.transactionsForUserLocked(userID)
}

func (tv *txMemoryView) Balance(_ context.Context, userID engine.UserID) (decimal.Decimal, error) {
	return tv.parent.balanceLocked(userID)
}

func (tv *txMemoryView) TransactionForEvent(_ context.Context, eventID engine.EventID, userID engine.UserID) (*engine.Transaction, error) {
	return tv.parent.transactionForEventLocked(eventID, userID)
}

func (tv *txMemoryView) HeldCharges(_ context.Context, eventID engine.EventID) ([]engine.Transaction, error) {
	return tv.parent.heldChargesLocked(eventID)
}

func (tv *txMemoryView) InsertAttendance(_ context.Context, r engine.AttendanceRecord) error {
	return tv.parent.insertAttendanceLocked(r)
}

func (tv *txMemoryView) ActiveAttendance(_ context.Context, eventID engine.EventID, userID engine.UserID) (*engine.AttendanceRecord, error) {
	return tv.parent.activeAttendanceLocked(eventID, userID)
}

func (tv *txMemoryView) CloseAttendance(_ context.Context, id engine.RecordID, leftAt time.Time) error {
	return tv.parent.closeAttendanceLocked(id, leftAt)
}

func (tv *txMemoryView) ActiveCount(_ context.Context, eventID engine.EventID) (int, error) {
	return tv.parent.activeCountLocked(eventID)
}

func (tv *txMemoryView) InstructorActiveCount(_ context.Context, eventID engine.EventID) (int, error) {
	return tv.parent.instructorActiveCountLocked(eventID)
}

func (tv *txMemoryView) ActiveAttendees(_ context.Context, eventID engine.EventID) ([]engine.RosterEntry, error) {
	return tv.parent.activeAttendeesLocked(eventID)
}

func (tv *txMemoryView) AttendanceRecords(_ context.Context, eventID engine.EventID) ([]engine.AttendanceRecord, error) {
	return tv.parent.attendanceRecordsLocked(eventID)
}

func (tv *txMemoryView) HasPaidRecord(_ context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	return tv.parent.hasPaidRecordLocked(eventID, userID)
}

func (tv *txMemoryView) AddWaitlistEntry(_ context.Context, e engine.WaitlistEntry) error {
	return tv.parent.addWaitlistEntryLocked(e)
}

func (tv *txMemoryView) RemoveWaitlistEntry(_ context.Context, eventID engine.EventID, userID engine.UserID) error {
	return tv.parent.removeWaitlistEntryLocked(eventID, userID)
}

func (tv *txMemoryView) IsOnWaitlist(_ context.Context, eventID engine.EventID, userID engine.UserID) (bool, error) {
	return tv.parent.isOnWaitlistLocked(eventID, userID)
}

func (tv *txMemoryView) NextWaitlisted(_ context.Context, eventID engine.EventID) (*engine.WaitlistEntry, error) {
	return tv.parent.nextWaitlistedLocked(eventID)
}

func (tv *txMemoryView) WaitlistPosition(_ context.Context, eventID engine.EventID, userID engine.UserID) (int, error) {
	return tv.parent.waitlistPositionLocked(eventID, userID)
}

func (tv *txMemoryView) ListWaitlist(_ context.Context, eventID engine.EventID) ([]engine.WaitlistEntry, error) {
	return tv.parent.listWaitlistLocked(eventID)
}

func (tv *txMemoryView) WaitlistCount(_ context.Context, eventID engine.EventID) (int, error) {
	return tv.parent.waitlistCountLocked(eventID)
}

func (tv *txMemoryView) EventsWithWaitlisted(_ context.Context) ([]engine.EventID, error) {
	return tv.parent.eventsWithWaitlistedLocked()
}

// WithSavepoint nests inside the open transaction: a fresh snapshot marks
// the savepoint, and restoring it on error rewinds fn's writes while the
// transaction's earlier writes stand. The outer snapshot taken by WithTx
// is untouched, so a later full rollback still works.
func (tv *txMemoryView) WithSavepoint(_ context.Context, fn func(engine.Store) error) error {
	snapshot := tv.parent.snapshot()
	if err := fn(tv); err != nil {
		tv.parent.restore(snapshot)
		return err
	}
	return nil
}

// Package crud implements the generic create/update/delete workflow shared
// by every entity editor: draft-id bookkeeping, remote-call sequencing, and
// error-to-notification mapping. State changes only after the backend
// confirms; there are no optimistic updates and no automatic retries.
package crud

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/crewdeck/crewdeck/notify"
	"github.com/crewdeck/crewdeck/state"
)

// ErrSaveInFlight is returned when a save is attempted while another one is
// still outstanding. Saves are serialized, never queued.
var ErrSaveInFlight = errors.New("save already in flight")

// API is the remote surface a Manager drives. Exactly one of these calls is
// made per HandleSave invocation.
type API[T any] struct {
	Create func(ctx context.Context, item T) (T, error)
	Update func(ctx context.Context, id string, item T) (T, error)
	Delete func(ctx context.Context, id string) error
}

// Config parameterizes a Manager for one entity type.
type Config[T any] struct {
	// EntityName is the human-readable kind used in notifications ("agent",
	// "task", "flow").
	EntityName string

	API      API[T]
	Dispatch func(state.Action)
	Notifier notify.Notifier

	// Action constructors for confirmed results.
	MakeAdd    func(T) state.Action
	MakeUpdate func(T) state.Action
	MakeDelete func(id string) state.Action

	// IsDraft reports whether an id belongs to an unsaved local draft.
	IsDraft func(id string) bool
	// GenerateID derives the final persisted id for a new entity.
	GenerateID func(T) string
	// Promote, when set, is told that a draft id has been superseded by a
	// persisted one.
	Promote func(draftID string)

	GetID       func(T) string
	SetID       func(T, string) T
	DisplayName func(T) string
}

// Manager runs the CRUD workflow for one entity type. All mutation routes
// through Dispatch; the Manager itself only holds transient editing state.
type Manager[T any] struct {
	cfg Config[T]

	mu              sync.Mutex
	editingID       string
	editing         bool
	pendingDeleteID string
	modalOpen       bool
	saving          bool
	deleting        bool
}

// NewManager creates a Manager. Dispatch and the action constructors are
// required wiring; a nil one is a programming error and panics on use.
func NewManager[T any](cfg Config[T]) *Manager[T] {
	if cfg.Dispatch == nil {
		panic("crud: Config.Dispatch is required")
	}
	if cfg.Notifier == nil {
		cfg.Notifier = notify.Log{}
	}
	return &Manager[T]{cfg: cfg}
}

// HandleCreate marks a fresh draft as the item being edited. Purely local.
func (m *Manager[T]) HandleCreate(item T) {
	m.setEditing(m.cfg.GetID(item))
}

// HandleEdit marks an existing item as being edited. Purely local.
func (m *Manager[T]) HandleEdit(item T) {
	m.setEditing(m.cfg.GetID(item))
}

func (m *Manager[T]) setEditing(id string) {
	m.mu.Lock()
	m.editingID = id
	m.editing = true
	m.mu.Unlock()
}

// EditingID returns the id of the item being edited, if any.
func (m *Manager[T]) EditingID() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.editingID, m.editing
}

// HandleSave persists the edited item: a draft id means create (under the
// generated final id), anything else means update. On success the confirmed
// entity is dispatched and the editing pointer cleared; on failure the error
// is surfaced as a notification and editing state is left untouched.
func (m *Manager[T]) HandleSave(ctx context.Context, data T) error {
	m.mu.Lock()
	if m.saving {
		m.mu.Unlock()
		return ErrSaveInFlight
	}
	m.saving = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.saving = false
		m.mu.Unlock()
	}()

	m.cfg.Dispatch(state.SetLoading{Loading: true})
	defer m.cfg.Dispatch(state.SetLoading{Loading: false})

	id := m.cfg.GetID(data)
	if m.cfg.IsDraft(id) {
		finalID := m.cfg.GenerateID(data)
		created, err := m.cfg.API.Create(ctx, m.cfg.SetID(data, finalID))
		if err != nil {
			m.notifyFailure("create", data, err)
			return err
		}
		if m.cfg.Promote != nil {
			m.cfg.Promote(id)
		}
		m.cfg.Dispatch(m.cfg.MakeAdd(created))
		m.clearEditing()
		return nil
	}

	updated, err := m.cfg.API.Update(ctx, id, data)
	if err != nil {
		m.notifyFailure("update", data, err)
		return err
	}
	m.cfg.Dispatch(m.cfg.MakeUpdate(updated))
	m.clearEditing()
	return nil
}

// ConfirmDelete opens the confirmation gate for id. No mutation happens
// until HandleDelete.
func (m *Manager[T]) ConfirmDelete(id string) {
	m.mu.Lock()
	m.pendingDeleteID = id
	m.modalOpen = true
	m.mu.Unlock()
}

// DeleteModalOpen reports whether the confirmation gate is open.
func (m *Manager[T]) DeleteModalOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.modalOpen
}

// HandleDelete completes a confirmed delete. Deleting an unsaved draft never
// hits the network: local editing state is simply discarded. A failed remote
// delete is surfaced and abandoned, and the modal still closes.
func (m *Manager[T]) HandleDelete(ctx context.Context) error {
	m.mu.Lock()
	if m.deleting || m.pendingDeleteID == "" {
		m.mu.Unlock()
		return nil
	}
	id := m.pendingDeleteID
	m.deleting = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.deleting = false
		m.mu.Unlock()
	}()

	if m.cfg.IsDraft(id) {
		m.closeModal(id, true)
		return nil
	}

	m.cfg.Dispatch(state.SetLoading{Loading: true})
	defer m.cfg.Dispatch(state.SetLoading{Loading: false})

	if err := m.cfg.API.Delete(ctx, id); err != nil {
		m.cfg.Notifier.Notify(notify.SeverityError,
			fmt.Sprintf("Failed to delete %s", m.cfg.EntityName), errMessage(err))
		m.closeModal(id, false)
		return err
	}

	m.cfg.Dispatch(m.cfg.MakeDelete(id))
	m.closeModal(id, true)
	return nil
}

// closeModal clears the pending delete and, when clearEditing is set, drops
// the editing pointer if it pointed at the deleted id.
func (m *Manager[T]) closeModal(id string, clearEditing bool) {
	m.mu.Lock()
	m.pendingDeleteID = ""
	m.modalOpen = false
	if clearEditing && m.editing && m.editingID == id {
		m.editingID = ""
		m.editing = false
	}
	m.mu.Unlock()
}

func (m *Manager[T]) clearEditing() {
	m.mu.Lock()
	m.editingID = ""
	m.editing = false
	m.mu.Unlock()
}

func (m *Manager[T]) notifyFailure(op string, data T, err error) {
	name := m.cfg.EntityName
	if m.cfg.DisplayName != nil {
		if d := m.cfg.DisplayName(data); d != "" {
			name = fmt.Sprintf("%s %q", m.cfg.EntityName, d)
		}
	}
	m.cfg.Notifier.Notify(notify.SeverityError,
		fmt.Sprintf("Failed to %s %s", op, name), errMessage(err))
}

func errMessage(err error) string {
	if err == nil || err.Error() == "" {
		return "network error"
	}
	return err.Error()
}

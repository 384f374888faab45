package service

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"multichat-backend/internal/model"
	"multichat-backend/internal/storage"
	"multichat-backend/pkg/logger"
)

// ErrInvalidSelection rejects selecting a result slot that does not exist.
var ErrInvalidSelection = errors.New("invalid result selection")

// marker remembers which assistant message collects the batch of an
// in-flight concurrent turn.
type marker struct {
	messageID     string
	userMessageID string
}

// Reconciler applies gateway responses to the conversation store. It owns
// the per-conversation markers and serialises every batch mutation.
type Reconciler struct {
	store   storage.Storage
	newID   func() string
	now     func() time.Time
	mu      sync.Mutex
	markers map[string]marker
}

func NewReconciler(store storage.Storage, newID func() string, now func() time.Time) *Reconciler {
	return &Reconciler{
		store:   store,
		newID:   newID,
		now:     now,
		markers: make(map[string]marker),
	}
}

// FailureContent is what a failed slot shows when it is on display.
func FailureContent(errText string) string {
	return "Request failed: " + errText
}

// displayContent mirrors the selected result into the message body.
func displayContent(b *model.Batch) (string, *model.Usage) {
	r := b.SelectedResult()
	switch {
	case r == nil:
		return "", nil
	case r.Succeeded():
		return r.Content, r.Usage
	case r.Failed():
		return FailureContent(r.Error), nil
	}
	return "", nil
}

func (r *Reconciler) syncMessage(m *model.Message) {
	m.Content, m.Usage = displayContent(m.Batch)
}

// Apply records resp for conversationID and returns the assistant message
// it produced or updated. It returns nil, nil for a partial snapshot that
// has nothing to show yet.
func (r *Reconciler) Apply(conversationID string, resp *model.GatewayResponse) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !resp.IsBatch() {
		return r.appendSingle(conversationID, resp)
	}
	return r.applyBatch(conversationID, resp)
}

func (r *Reconciler) appendSingle(conversationID string, resp *model.GatewayResponse) (*model.Message, error) {
	msg := model.Message{
		ID:            r.newID(),
		Role:          model.RoleAssistant,
		Content:       resp.Content,
		Timestamp:     r.now(),
		Usage:         resp.Usage,
		UserMessageID: resp.UserMessageID,
	}
	if len(resp.ConcurrentResults) == 1 {
		res := resp.ConcurrentResults[0].ToResult()
		msg.Content, msg.Usage = res.Content, res.Usage
		if res.Failed() {
			msg.Content = FailureContent(res.Error)
			msg.IsError = true
		}
	}
	if err := r.store.AppendMessage(conversationID, msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *Reconciler) applyBatch(conversationID string, resp *model.GatewayResponse) (*model.Message, error) {
	results := model.ResultsFromWire(resp.ConcurrentResults)
	final := resp.IsFinalResult || !resp.IsPartialResult
	log := logger.WithFields(logger.Fields{
		"conversation_id": conversationID,
		"user_message_id": resp.UserMessageID,
	})

	targetID, settled, err := r.target(conversationID, resp.UserMessageID)
	if err != nil {
		return nil, err
	}
	if settled != nil {
		log.WithField("message_id", settled.ID).Debug("ignoring snapshot for a finalized batch")
		return settled, nil
	}

	if targetID == "" {
		batch := &model.Batch{Phase: model.PhasePartial, Results: results}
		if !final && batch.CountSucceeded() == 0 {
			return nil, nil
		}
		if final {
			batch.Phase = model.PhaseFinal
		}
		batch.Selected = batch.FirstSuccess()
		if batch.Selected < 0 {
			batch.Selected = 0
		}
		batch.SuccessCount = batch.CountSucceeded()
		batch.TotalCount = len(results)

		msg := model.Message{
			ID:            r.newID(),
			Role:          model.RoleAssistant,
			Timestamp:     r.now(),
			UserMessageID: resp.UserMessageID,
			Batch:         batch,
		}
		r.syncMessage(&msg)
		if err := r.store.AppendMessage(conversationID, msg); err != nil {
			return nil, err
		}
		if !final {
			r.markers[conversationID] = marker{messageID: msg.ID, userMessageID: resp.UserMessageID}
		}
		log.WithField("message_id", msg.ID).Debugf("batch message created (%d/%d succeeded)", batch.SuccessCount, batch.TotalCount)
		return &msg, nil
	}

	updated, err := r.store.UpdateMessage(conversationID, targetID, func(m *model.Message) error {
		if m.Batch == nil {
			return fmt.Errorf("%w: message %s has no batch", storage.ErrInvalidData, m.ID)
		}
		absorb(m.Batch, results, final)
		r.syncMessage(m)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if final {
		delete(r.markers, conversationID)
		log.WithField("message_id", targetID).Debugf("batch finalized (%d/%d succeeded)", updated.Batch.SuccessCount, updated.Batch.TotalCount)
	}
	return updated, nil
}

// absorb merges a snapshot into b, auto-advancing a pending selection to a
// newly succeeded slot and revalidating the selection when final.
func absorb(b *model.Batch, results []model.Result, final bool) {
	before := make([]bool, len(b.Results))
	for i, res := range b.Results {
		before[i] = res.Succeeded()
	}
	b.Absorb(results)

	if sel := b.SelectedResult(); sel == nil || sel.Pending() {
		for i, res := range b.Results {
			if res.Succeeded() && (i >= len(before) || !before[i]) {
				b.Selected = i
				break
			}
		}
	}

	b.SuccessCount = b.CountSucceeded()
	b.TotalCount = len(b.Results)
	if !final {
		return
	}
	b.Phase = model.PhaseFinal
	if sel := b.SelectedResult(); sel == nil || !sel.Succeeded() {
		if first := b.FirstSuccess(); first >= 0 {
			b.Selected = first
		} else if b.SelectedResult() == nil {
			b.Selected = 0
		}
	}
}

// target resolves the message collecting the batch of userMessageID. A
// marker that no longer matches the conversation is discarded. Without a
// marker a partial batch message for the same user message is reused; a
// finalized one is returned as settled and must not be touched.
func (r *Reconciler) target(conversationID, userMessageID string) (string, *model.Message, error) {
	conv, err := r.store.GetConversation(conversationID)
	if err != nil {
		return "", nil, err
	}

	if mk, ok := r.markers[conversationID]; ok {
		m := conv.Find(mk.messageID)
		if m != nil && mk.userMessageID == userMessageID && m.IsPartial() {
			return mk.messageID, nil, nil
		}
		logger.WithFields(logger.Fields{
			"conversation_id": conversationID,
			"message_id":      mk.messageID,
		}).Debugf("discarding stale batch marker")
		delete(r.markers, conversationID)
	}

	var settled *model.Message
	for i := range conv.Messages {
		m := &conv.Messages[i]
		if !m.IsAssistant() || m.Batch == nil || m.UserMessageID != userMessageID {
			continue
		}
		if m.IsPartial() {
			return m.ID, nil, nil
		}
		if settled == nil {
			settled = m
		}
	}
	return "", settled, nil
}

// Abandon settles a batch left partial by a failed call: every pending
// slot fails with errText and the batch becomes final.
func (r *Reconciler) Abandon(conversationID, userMessageID, errText string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	mk, ok := r.markers[conversationID]
	delete(r.markers, conversationID)
	if !ok || mk.userMessageID != userMessageID {
		return
	}
	_, err := r.store.UpdateMessage(conversationID, mk.messageID, func(m *model.Message) error {
		if m.Batch == nil {
			return nil
		}
		failed := make([]model.Result, len(m.Batch.Results))
		for i := range failed {
			failed[i] = model.FailedResult(errText)
		}
		absorb(m.Batch, failed, true)
		r.syncMessage(m)
		return nil
	})
	if err != nil && !errors.Is(err, storage.ErrMessageNotFound) {
		logger.Warnf("failed to settle abandoned batch %s: %v", mk.messageID, err)
	}
}

// ClearMarker forgets any in-flight batch target for the conversation.
func (r *Reconciler) ClearMarker(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.markers, conversationID)
}

// MarkerFor reports the message currently collecting a batch, if any.
func (r *Reconciler) MarkerFor(conversationID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	mk, ok := r.markers[conversationID]
	return mk.messageID, ok
}

// Select puts result index of a batch message on display. It changes
// neither the phase nor any result.
func (r *Reconciler) Select(conversationID, messageID string, index int) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.UpdateMessage(conversationID, messageID, func(m *model.Message) error {
		if m.Batch == nil {
			return fmt.Errorf("%w: message %s has a single result", ErrInvalidSelection, m.ID)
		}
		if index < 0 || index >= len(m.Batch.Results) {
			return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidSelection, index, len(m.Batch.Results))
		}
		m.Batch.Selected = index
		r.syncMessage(m)
		return nil
	})
}

func (r *Reconciler) SetMergeVersions(conversationID, messageID string, enabled bool) (*model.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.store.UpdateMessage(conversationID, messageID, func(m *model.Message) error {
		if !m.IsAssistant() {
			return fmt.Errorf("%w: merge versions applies to assistant messages", storage.ErrInvalidData)
		}
		m.MergeVersions = enabled
		return nil
	})
}

package engine

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/scrypster/chatkeep/internal/embedding"
	"github.com/scrypster/chatkeep/internal/jobs"
	"github.com/scrypster/chatkeep/internal/storage"
	"github.com/scrypster/chatkeep/pkg/types"
)

// Domain errors surfaced to callers as structured tool failures rather than
// protocol errors.
var (
	// ErrQuotaExceeded is returned when an owner has reached their record quota.
	ErrQuotaExceeded = errors.New("engine: record quota exceeded")

	// ErrDeferredUnavailable is returned for deferred saves when no job
	// queue is configured.
	ErrDeferredUnavailable = errors.New("engine: deferred saves unavailable (no job queue configured)")
)

// ChatEngine orchestrates saves and retrieval over the chat store. Saves are
// idempotent: a duplicate of an existing record returns that record instead
// of creating a second one.
type ChatEngine struct {
	store    storage.ChatStore
	embedder embedding.Generator
	parser   TranscriptParser
	queue    jobs.Queue

	// maxRecordsPerOwner caps each owner's stored records; zero disables
	// quota enforcement.
	maxRecordsPerOwner int

	// defaultPageSize and maxPageSize shape retrieval pagination; zero
	// falls back to the storage package constants.
	defaultPageSize int
	maxPageSize     int

	// onRecordSaved, when set, fires after a record is newly committed.
	onRecordSaved func(record *types.ChatRecord)
}

// Option configures a ChatEngine.
type Option func(*ChatEngine)

// WithParser overrides the default structural parser for manual saves.
func WithParser(p TranscriptParser) Option {
	return func(e *ChatEngine) { e.parser = p }
}

// WithJobQueue enables deferred saves through the given queue.
func WithJobQueue(q jobs.Queue) Option {
	return func(e *ChatEngine) { e.queue = q }
}

// WithQuota caps the number of records each owner may store.
func WithQuota(max int) Option {
	return func(e *ChatEngine) { e.maxRecordsPerOwner = max }
}

// WithPageSizes sets the default and maximum page size for retrieval.
// Non-positive values keep the storage package defaults.
func WithPageSizes(defaultSize, maxSize int) Option {
	return func(e *ChatEngine) {
		e.defaultPageSize = defaultSize
		e.maxPageSize = maxSize
	}
}

// WithSaveCallback registers a hook fired after each newly committed record.
func WithSaveCallback(fn func(record *types.ChatRecord)) Option {
	return func(e *ChatEngine) { e.onRecordSaved = fn }
}

// NewChatEngine creates the engine over the given store and embedder.
func NewChatEngine(store storage.ChatStore, embedder embedding.Generator, opts ...Option) (*ChatEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("engine: chat store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("engine: embedding generator is required")
	}

	e := &ChatEngine{
		store:    store,
		embedder: embedder,
		parser:   NewSpeakerLabelParser(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// SaveInput is a structured conversation save request.
type SaveInput struct {
	OwnerID string
	Title   string
	Turns   []types.Turn
	Source  string
}

// SaveResult reports the outcome of a save.
type SaveResult struct {
	Record     *types.ChatRecord
	NewlySaved bool
}

// Save runs the idempotent save pipeline for a structured conversation:
// validate, signature pre-check, embed, insert. The pre-check runs before
// the embedding call so retried or double-submitted requests never pay for
// duplicate embedding work.
func (e *ChatEngine) Save(ctx context.Context, input SaveInput) (*SaveResult, error) {
	if err := validateSave(input); err != nil {
		return nil, err
	}

	signature := ComputeSignature(input.OwnerID, input.Title, types.KindChat, input.Turns, "")

	if existing, err := e.store.FindBySignature(ctx, input.OwnerID, signature); err == nil {
		return &SaveResult{Record: existing, NewlySaved: false}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("engine: signature lookup failed: %w", err)
	}

	if err := e.checkQuota(ctx, input.OwnerID); err != nil {
		return nil, err
	}

	document := combineTurns(input.Turns)
	vector, err := e.embedder.Embed(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("engine: embedding failed: %w", err)
	}

	record := &types.ChatRecord{
		ID:                 uuid.New().String(),
		OwnerID:            input.OwnerID,
		Title:              input.Title,
		Kind:               types.KindChat,
		Turns:              input.Turns,
		Embedding:          vector,
		EmbeddingModel:     e.embedder.Model(),
		EmbeddingDimension: len(vector),
		Signature:          signature,
		Source:             input.Source,
	}

	return e.commit(ctx, record)
}

// ManualSaveInput is a free-text save of raw pasted content.
type ManualSaveInput struct {
	OwnerID string
	Title   string // optional; derived from content when empty
	Content string
	Source  string
}

// ManualSaveResult reports the outcome of a manual save, including whether
// the content parsed into structured turns or degraded to a note.
type ManualSaveResult struct {
	Record      *types.ChatRecord
	NewlySaved  bool
	TurnCount   int
	SavedAsNote bool
}

// SaveManual attempts a structural parse of pasted content. Text that yields
// at least one turn is saved as a chat; anything else is saved as a note.
// Parsing failure is never fatal.
func (e *ChatEngine) SaveManual(ctx context.Context, input ManualSaveInput) (*ManualSaveResult, error) {
	if input.OwnerID == "" {
		return nil, fmt.Errorf("%w: owner is required", storage.ErrInvalidInput)
	}
	if strings.TrimSpace(input.Content) == "" {
		return nil, fmt.Errorf("%w: content is required", storage.ErrInvalidInput)
	}

	title := input.Title
	if title == "" {
		title = deriveTitle(input.Content)
	}
	if len(title) > types.MaxTitleLength {
		title = trimToRuneBoundary(title, types.MaxTitleLength)
	}

	turns, parsed := e.parser.Parse(input.Content)
	if parsed {
		result, err := e.Save(ctx, SaveInput{
			OwnerID: input.OwnerID,
			Title:   title,
			Turns:   turns,
			Source:  input.Source,
		})
		if err != nil {
			return nil, err
		}
		return &ManualSaveResult{
			Record:     result.Record,
			NewlySaved: result.NewlySaved,
			TurnCount:  len(turns),
		}, nil
	}

	// No detectable structure: degrade to a note.
	signature := ComputeSignature(input.OwnerID, title, types.KindNote, nil, input.Content)

	if existing, err := e.store.FindBySignature(ctx, input.OwnerID, signature); err == nil {
		return &ManualSaveResult{Record: existing, NewlySaved: false, SavedAsNote: true}, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("engine: signature lookup failed: %w", err)
	}

	if err := e.checkQuota(ctx, input.OwnerID); err != nil {
		return nil, err
	}

	vector, err := e.embedder.Embed(ctx, input.Content)
	if err != nil {
		return nil, fmt.Errorf("engine: embedding failed: %w", err)
	}

	record := &types.ChatRecord{
		ID:                 uuid.New().String(),
		OwnerID:            input.OwnerID,
		Title:              title,
		Kind:               types.KindNote,
		Content:            input.Content,
		Embedding:          vector,
		EmbeddingModel:     e.embedder.Model(),
		EmbeddingDimension: len(vector),
		Signature:          signature,
		Source:             input.Source,
	}

	saved, err := e.commit(ctx, record)
	if err != nil {
		return nil, err
	}
	return &ManualSaveResult{
		Record:      saved.Record,
		NewlySaved:  saved.NewlySaved,
		SavedAsNote: true,
	}, nil
}

// SaveDeferred enqueues the save instead of running it synchronously and
// returns the pending job ID. Callers poll job status separately.
func (e *ChatEngine) SaveDeferred(ctx context.Context, input SaveInput) (string, error) {
	if e.queue == nil {
		return "", ErrDeferredUnavailable
	}
	if err := validateSave(input); err != nil {
		return "", err
	}

	jobID, err := e.queue.Enqueue(ctx, types.JobPayload{
		OwnerID: input.OwnerID,
		Title:   input.Title,
		Kind:    types.KindChat,
		Turns:   input.Turns,
		Source:  input.Source,
	})
	if err != nil {
		return "", fmt.Errorf("engine: failed to enqueue save: %w", err)
	}
	return jobID, nil
}

// JobStatus returns the state of a deferred save.
func (e *ChatEngine) JobStatus(ctx context.Context, jobID string) (*types.Job, error) {
	if e.queue == nil {
		return nil, ErrDeferredUnavailable
	}
	return e.queue.GetStatus(ctx, jobID)
}

// SaveFromJob runs the synchronous pipeline on a deferred payload. It is the
// jobs.Saver implementation the queue worker drives.
func (e *ChatEngine) SaveFromJob(ctx context.Context, payload types.JobPayload) (string, error) {
	if payload.Kind == types.KindNote {
		result, err := e.SaveManual(ctx, ManualSaveInput{
			OwnerID: payload.OwnerID,
			Title:   payload.Title,
			Content: payload.Content,
			Source:  payload.Source,
		})
		if err != nil {
			return "", err
		}
		return result.Record.ID, nil
	}

	result, err := e.Save(ctx, SaveInput{
		OwnerID: payload.OwnerID,
		Title:   payload.Title,
		Turns:   payload.Turns,
		Source:  payload.Source,
	})
	if err != nil {
		return "", err
	}
	return result.Record.ID, nil
}

// UpdateTitle renames a record in place. The record keeps its identity and
// creation timestamp.
func (e *ChatEngine) UpdateTitle(ctx context.Context, ownerID, id, title string) error {
	return e.store.UpdateTitle(ctx, ownerID, id, title)
}

// UpdateTurns replaces a record's turns in place, regenerating the embedding
// and signature. The record keeps its identity and creation timestamp.
func (e *ChatEngine) UpdateTurns(ctx context.Context, ownerID, id string, turns []types.Turn) (*types.ChatRecord, error) {
	if err := validateTurns(turns); err != nil {
		return nil, err
	}

	record, err := e.store.Get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	document := combineTurns(turns)
	vector, err := e.embedder.Embed(ctx, document)
	if err != nil {
		return nil, fmt.Errorf("engine: embedding failed: %w", err)
	}

	record.Kind = types.KindChat
	record.Turns = turns
	record.Content = ""
	record.Embedding = vector
	record.EmbeddingModel = e.embedder.Model()
	record.EmbeddingDimension = len(vector)
	record.Signature = ComputeSignature(ownerID, record.Title, types.KindChat, turns, "")

	if err := e.store.UpdateContent(ctx, record); err != nil {
		return nil, err
	}
	return record, nil
}

// Delete removes a record permanently.
func (e *ChatEngine) Delete(ctx context.Context, ownerID, id string) error {
	return e.store.Delete(ctx, ownerID, id)
}

// commit inserts the record, folding a uniqueness-constraint collision into
// a lookup of the winning record. This closes the pre-check race: two
// simultaneous saves of the same content cannot both create a record.
func (e *ChatEngine) commit(ctx context.Context, record *types.ChatRecord) (*SaveResult, error) {
	err := e.store.Insert(ctx, record)
	if err == nil {
		if e.onRecordSaved != nil {
			e.onRecordSaved(record)
		}
		return &SaveResult{Record: record, NewlySaved: true}, nil
	}

	if errors.Is(err, storage.ErrDuplicate) {
		existing, findErr := e.store.FindBySignature(ctx, record.OwnerID, record.Signature)
		if findErr != nil {
			return nil, fmt.Errorf("engine: duplicate detected but lookup failed: %w", findErr)
		}
		log.Printf("engine: concurrent duplicate save folded into record %s", existing.ID)
		return &SaveResult{Record: existing, NewlySaved: false}, nil
	}

	return nil, fmt.Errorf("engine: failed to insert record: %w", err)
}

// checkQuota enforces the per-owner record cap before an insert.
func (e *ChatEngine) checkQuota(ctx context.Context, ownerID string) error {
	if e.maxRecordsPerOwner <= 0 {
		return nil
	}
	count, err := e.store.CountByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("engine: quota check failed: %w", err)
	}
	if count >= e.maxRecordsPerOwner {
		return ErrQuotaExceeded
	}
	return nil
}

// validateSave checks a structured save request.
func validateSave(input SaveInput) error {
	if input.OwnerID == "" {
		return fmt.Errorf("%w: owner is required", storage.ErrInvalidInput)
	}
	if input.Title == "" {
		return fmt.Errorf("%w: title is required", storage.ErrInvalidInput)
	}
	if len(input.Title) > types.MaxTitleLength {
		return fmt.Errorf("%w: title exceeds %d characters", storage.ErrInvalidInput, types.MaxTitleLength)
	}
	return validateTurns(input.Turns)
}

// validateTurns checks that a chat carries at least one turn, each with a
// non-empty prompt.
func validateTurns(turns []types.Turn) error {
	if len(turns) == 0 {
		return fmt.Errorf("%w: at least one turn is required", storage.ErrInvalidInput)
	}
	for i, t := range turns {
		if strings.TrimSpace(t.Prompt) == "" {
			return fmt.Errorf("%w: turn %d has an empty prompt", storage.ErrInvalidInput, i)
		}
	}
	return nil
}

// deriveTitle builds a display title from the first non-empty line of
// pasted content, truncated to a reasonable length.
func deriveTitle(content string) string {
	const maxDerived = 80

	for _, line := range strings.Split(content, "\n") {
		line = speakerLabelPattern.ReplaceAllString(line, "")
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if len(line) > maxDerived {
			return trimToRuneBoundary(line, maxDerived)
		}
		return line
	}
	return "Saved chat"
}

// trimToRuneBoundary shortens s to at most max bytes without splitting a
// multi-byte rune.
func trimToRuneBoundary(s string, max int) string {
	if len(s) <= max {
		return s
	}
	for max > 0 && !utf8.RuneStart(s[max]) {
		max--
	}
	return s[:max]
}

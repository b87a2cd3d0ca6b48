package media

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/cobbzilla/mediagoblin/internal/postgres"
	"github.com/cobbzilla/mediagoblin/internal/storage"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	entriesTable = "media_entries"

	idColumn                  = "id"
	actorIDColumn             = "actor_id"
	titleColumn               = "title"
	mediaTypeColumn           = "media_type"
	stateColumn               = "state"
	failErrorColumn           = "fail_error"
	failMetadataColumn        = "fail_metadata"
	createdAtColumn           = "created_at"
	queuedMediaFileColumn     = "queued_media_file"
	mediaFilesColumn          = "media_files"
	fileMetadataColumn        = "file_metadata"
	mediaDataColumn           = "media_data"
	callbackURLColumn         = "callback_url"
	priorStateColumn          = "prior_state"
	processingStartedAtColumn = "processing_started_at"
)

var entryColumns = []string{
	idColumn,
	actorIDColumn,
	titleColumn,
	mediaTypeColumn,
	stateColumn,
	failErrorColumn,
	failMetadataColumn,
	createdAtColumn,
	queuedMediaFileColumn,
	mediaFilesColumn,
	fileMetadataColumn,
	mediaDataColumn,
	callbackURLColumn,
	priorStateColumn,
	processingStartedAtColumn,
}

var _ Repository = (*PostgresRepository)(nil)

type PostgresRepository struct {
	*postgres.Postgres
}

func NewPostgresRepository(pg *postgres.Postgres) *PostgresRepository {
	return &PostgresRepository{pg}
}

func (r *PostgresRepository) Create(ctx context.Context, e *Entry) error {
	mediaFiles, err := json.Marshal(nonNilPaths(e.MediaFiles))
	if err != nil {
		return fmt.Errorf("PostgresRepository - Create - json.Marshal: %w", err)
	}
	fileMetadata, err := json.Marshal(nonNilMetadata(e.FileMetadata))
	if err != nil {
		return fmt.Errorf("PostgresRepository - Create - json.Marshal: %w", err)
	}
	mediaData, err := json.Marshal(nonNilData(e.MediaData))
	if err != nil {
		return fmt.Errorf("PostgresRepository - Create - json.Marshal: %w", err)
	}

	sql, args, err := r.Builder.
		Insert(entriesTable).
		Columns(
			idColumn,
			actorIDColumn,
			titleColumn,
			mediaTypeColumn,
			stateColumn,
			createdAtColumn,
			queuedMediaFileColumn,
			mediaFilesColumn,
			fileMetadataColumn,
			mediaDataColumn,
			callbackURLColumn,
		).
		Values(
			e.ID,
			e.ActorID,
			e.Title,
			e.MediaType,
			string(e.State),
			e.CreatedAt,
			[]string(e.QueuedMediaFile),
			string(mediaFiles),
			string(fileMetadata),
			string(mediaData),
			e.CallbackURL,
		).ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - Create - r.Builder.ToSql: %w", err)
	}

	if _, err := r.GetExecutor(ctx).Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("PostgresRepository - Create - executor.Exec: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	sql, args, err := r.Builder.
		Select(entryColumns...).
		From(entriesTable).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("PostgresRepository - Get - r.Builder.ToSql: %w", err)
	}

	e, err := scanEntry(r.GetExecutor(ctx).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("PostgresRepository - Get: %w", ErrNotFound)
		}
		return nil, fmt.Errorf("PostgresRepository - Get - executor.QueryRow.Scan: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id uuid.UUID) error {
	sql, args, err := r.Builder.
		Delete(entriesTable).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - Delete - r.Builder.ToSql: %w", err)
	}
	return r.execOne(ctx, "Delete", sql, args, ErrNotFound)
}

func (r *PostgresRepository) DeleteInState(ctx context.Context, id uuid.UUID, state State) error {
	sql, args, err := r.Builder.
		Delete(entriesTable).
		Where(squirrel.Eq{idColumn: id, stateColumn: string(state)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - DeleteInState - r.Builder.ToSql: %w", err)
	}
	return r.execOne(ctx, "DeleteInState", sql, args, ErrStateConflict)
}

func (r *PostgresRepository) BeginProcessing(ctx context.Context, id uuid.UUID, from State, at time.Time) error {
	if !CanTransition(from, StateProcessing) {
		return ErrInvalidTransition
	}
	sql, args, err := r.Builder.
		Update(entriesTable).
		Set(stateColumn, string(StateProcessing)).
		Set(priorStateColumn, string(from)).
		Set(processingStartedAtColumn, at).
		Where(squirrel.Eq{idColumn: id, stateColumn: string(from)}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - BeginProcessing - r.Builder.ToSql: %w", err)
	}
	return r.execOne(ctx, "BeginProcessing", sql, args, ErrStateConflict)
}

func (r *PostgresRepository) Finish(ctx context.Context, id uuid.UUID, to State, failure *Failure) error {
	if !CanTransition(StateProcessing, to) {
		return ErrInvalidTransition
	}
	q := r.Builder.
		Update(entriesTable).
		Set(stateColumn, string(to)).
		Set(processingStartedAtColumn, nil).
		Where(squirrel.Eq{idColumn: id, stateColumn: string(StateProcessing)})
	if failure == nil {
		q = q.Set(failErrorColumn, "").Set(failMetadataColumn, nil)
	} else {
		md, err := json.Marshal(failure.Metadata)
		if err != nil {
			return fmt.Errorf("PostgresRepository - Finish - json.Marshal: %w", err)
		}
		q = q.Set(failErrorColumn, failure.Classifier).Set(failMetadataColumn, string(md))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - Finish - r.Builder.ToSql: %w", err)
	}
	return r.execOne(ctx, "Finish", sql, args, ErrStateConflict)
}

func (r *PostgresRepository) MarkFailed(ctx context.Context, id uuid.UUID, failure Failure) error {
	md, err := json.Marshal(failure.Metadata)
	if err != nil {
		return fmt.Errorf("PostgresRepository - MarkFailed - json.Marshal: %w", err)
	}
	sql, args, err := r.Builder.
		Update(entriesTable).
		Set(stateColumn, string(StateFailed)).
		Set(failErrorColumn, failure.Classifier).
		Set(failMetadataColumn, string(md)).
		Set(processingStartedAtColumn, nil).
		Where(squirrel.And{
			squirrel.Eq{idColumn: id},
			squirrel.NotEq{stateColumn: []string{string(StateProcessed), string(StateProcessing)}},
		}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - MarkFailed - r.Builder.ToSql: %w", err)
	}
	return r.execOne(ctx, "MarkFailed", sql, args, ErrStateConflict)
}

func (r *PostgresRepository) SetMediaFile(ctx context.Context, id uuid.UUID, slot string, path storage.Path) error {
	value, err := json.Marshal([]string(path))
	if err != nil {
		return fmt.Errorf("PostgresRepository - SetMediaFile - json.Marshal: %w", err)
	}
	return r.setJSONKey(ctx, "SetMediaFile", mediaFilesColumn, id, slot, value)
}

func (r *PostgresRepository) DeleteMediaFile(ctx context.Context, id uuid.UUID, slot string) error {
	sql, args, err := r.Builder.
		Update(entriesTable).
		Set(mediaFilesColumn, squirrel.Expr(mediaFilesColumn+" - ?::text", slot)).
		Set(fileMetadataColumn, squirrel.Expr(fileMetadataColumn+" - ?::text", slot)).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - DeleteMediaFile - r.Builder.ToSql: %w", err)
	}
	return r.execOne(ctx, "DeleteMediaFile", sql, args, ErrNotFound)
}

func (r *PostgresRepository) SetFileMetadata(ctx context.Context, id uuid.UUID, slot string, md FileMetadata) error {
	value, err := json.Marshal(md)
	if err != nil {
		return fmt.Errorf("PostgresRepository - SetFileMetadata - json.Marshal: %w", err)
	}
	return r.setJSONKey(ctx, "SetFileMetadata", fileMetadataColumn, id, slot, value)
}

func (r *PostgresRepository) SetMediaData(ctx context.Context, id uuid.UUID, key string, v any) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("PostgresRepository - SetMediaData - json.Marshal: %w", err)
	}
	return r.setJSONKey(ctx, "SetMediaData", mediaDataColumn, id, key, value)
}

func (r *PostgresRepository) ClearQueuedMediaFile(ctx context.Context, id uuid.UUID) error {
	sql, args, err := r.Builder.
		Update(entriesTable).
		Set(queuedMediaFileColumn, nil).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - ClearQueuedMediaFile - r.Builder.ToSql: %w", err)
	}
	return r.execOne(ctx, "ClearQueuedMediaFile", sql, args, ErrNotFound)
}

func (r *PostgresRepository) ListByStateBefore(ctx context.Context, state State, before time.Time, limit int) ([]*Entry, error) {
	ref := createdAtColumn
	if state == StateProcessing {
		ref = "COALESCE(" + processingStartedAtColumn + ", " + createdAtColumn + ")"
	}
	q := r.Builder.
		Select(entryColumns...).
		From(entriesTable).
		Where(squirrel.Eq{stateColumn: string(state)}).
		Where(squirrel.Expr(ref+" < ?", before)).
		OrderBy(createdAtColumn)
	if limit > 0 {
		q = q.Limit(uint64(limit))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("PostgresRepository - ListByStateBefore - r.Builder.ToSql: %w", err)
	}

	rows, err := r.GetExecutor(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("PostgresRepository - ListByStateBefore - executor.Query: %w", err)
	}
	defer rows.Close()

	var out []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("PostgresRepository - ListByStateBefore - rows.Scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("PostgresRepository - ListByStateBefore - rows.Err: %w", err)
	}
	return out, nil
}

// setJSONKey writes one key of a jsonb column in place so concurrent
// writers of different keys never overwrite each other.
func (r *PostgresRepository) setJSONKey(ctx context.Context, op, column string, id uuid.UUID, key string, value []byte) error {
	sql, args, err := r.Builder.
		Update(entriesTable).
		Set(column, squirrel.Expr(
			"jsonb_set(COALESCE("+column+", '{}'::jsonb), ?::text[], ?::jsonb, true)",
			[]string{key}, string(value),
		)).
		Where(squirrel.Eq{idColumn: id}).
		ToSql()
	if err != nil {
		return fmt.Errorf("PostgresRepository - %s - r.Builder.ToSql: %w", op, err)
	}
	return r.execOne(ctx, op, sql, args, ErrNotFound)
}

func (r *PostgresRepository) execOne(ctx context.Context, op, sql string, args []any, notAffected error) error {
	tag, err := r.GetExecutor(ctx).Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("PostgresRepository - %s - executor.Exec: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("PostgresRepository - %s: %w", op, notAffected)
	}
	return nil
}

func scanEntry(row pgx.Row) (*Entry, error) {
	var (
		e            Entry
		state        string
		priorState   string
		queued       []string
		failMetadata map[string]any
		mediaFiles   map[string][]string
		fileMetadata map[string]map[string]any
		mediaData    map[string]any
	)
	err := row.Scan(
		&e.ID,
		&e.ActorID,
		&e.Title,
		&e.MediaType,
		&state,
		&e.FailError,
		&failMetadata,
		&e.CreatedAt,
		&queued,
		&mediaFiles,
		&fileMetadata,
		&mediaData,
		&e.CallbackURL,
		&priorState,
		&e.ProcessingStartedAt,
	)
	if err != nil {
		return nil, err
	}

	e.State = State(state)
	e.PriorState = State(priorState)
	e.FailMetadata = failMetadata
	e.QueuedMediaFile = storage.Path(queued)
	e.MediaFiles = make(map[string]storage.Path, len(mediaFiles))
	for k, v := range mediaFiles {
		e.MediaFiles[k] = storage.Path(v)
	}
	e.FileMetadata = make(map[string]FileMetadata, len(fileMetadata))
	for k, v := range fileMetadata {
		e.FileMetadata[k] = FileMetadata(v)
	}
	e.MediaData = mediaData
	if e.MediaData == nil {
		e.MediaData = make(map[string]any)
	}
	return &e, nil
}

func nonNilPaths(m map[string]storage.Path) map[string]storage.Path {
	if m == nil {
		return map[string]storage.Path{}
	}
	return m
}

func nonNilMetadata(m map[string]FileMetadata) map[string]FileMetadata {
	if m == nil {
		return map[string]FileMetadata{}
	}
	return m
}

func nonNilData(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

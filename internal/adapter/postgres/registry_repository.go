package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/plyoox/notificator/internal/adapter/postgres/sqlcgen"
	"github.com/plyoox/notificator/internal/domain"
)

type RegistryRepo struct {
	pool *pgxpool.Pool
	q    *sqlcgen.Queries
}

func NewRegistryRepo(pool *pgxpool.Pool) *RegistryRepo {
	return &RegistryRepo{
		pool: pool,
		q:    sqlcgen.New(pool),
	}
}

func toDomainBroadcaster(row sqlcgen.Broadcaster) *domain.Broadcaster {
	return &domain.Broadcaster{
		ID:                  row.ID,
		DisplayName:         row.DisplayName,
		AvatarURL:           row.AvatarUrl,
		EventSubscriptionID: row.EventSubscriptionID.String,
		CreatedAt:           row.CreatedAt,
		UpdatedAt:           row.UpdatedAt,
	}
}

func nullableText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func (r *RegistryRepo) GetBroadcaster(ctx context.Context, broadcasterID string) (*domain.Broadcaster, error) {
	row, err := r.q.GetBroadcaster(ctx, broadcasterID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrBroadcasterNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get broadcaster: %w", err)
	}
	return toDomainBroadcaster(row), nil
}

func (r *RegistryRepo) ListBroadcasters(ctx context.Context) ([]domain.Broadcaster, error) {
	rows, err := r.q.ListBroadcasters(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list broadcasters: %w", err)
	}
	broadcasters := make([]domain.Broadcaster, len(rows))
	for i, row := range rows {
		broadcasters[i] = *toDomainBroadcaster(row)
	}
	return broadcasters, nil
}

func (r *RegistryRepo) CreateRegistration(ctx context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	reg, err := insertRegistration(ctx, r.q.WithTx(tx), broadcaster, guildID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return reg, nil
}

// AttachRegistration is CreateRegistration for a subscription id read from
// the broadcaster row earlier. The row is locked first; if a concurrent
// release deleted it or the subscription id changed, nothing is written and
// ErrSubscriptionStale is returned.
func (r *RegistryRepo) AttachRegistration(ctx context.Context, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := r.q.WithTx(tx)
	current, err := qtx.LockBroadcasterSubscription(ctx, broadcaster.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrSubscriptionStale
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock broadcaster: %w", err)
	}
	if current.String != broadcaster.EventSubscriptionID {
		return nil, domain.ErrSubscriptionStale
	}

	reg, err := insertRegistration(ctx, qtx, broadcaster, guildID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return reg, nil
}

func insertRegistration(ctx context.Context, qtx *sqlcgen.Queries, broadcaster domain.Broadcaster, guildID int64) (*domain.Registration, error) {
	_, err := qtx.UpsertBroadcaster(ctx, sqlcgen.UpsertBroadcasterParams{
		ID:                  broadcaster.ID,
		DisplayName:         broadcaster.DisplayName,
		AvatarUrl:           broadcaster.AvatarURL,
		EventSubscriptionID: nullableText(broadcaster.EventSubscriptionID),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upsert broadcaster: %w", err)
	}

	row, err := qtx.InsertRegistration(ctx, sqlcgen.InsertRegistrationParams{
		GuildID:       guildID,
		BroadcasterID: broadcaster.ID,
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRegistrationExists
	}
	if err != nil {
		return nil, fmt.Errorf("failed to insert registration: %w", err)
	}

	return &domain.Registration{
		ID:            row.ID,
		GuildID:       row.GuildID,
		BroadcasterID: row.BroadcasterID,
		CreatedAt:     row.CreatedAt,
	}, nil
}

func (r *RegistryRepo) DeleteRegistration(ctx context.Context, registrationID int64) (*domain.ReleasedBroadcaster, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := r.q.WithTx(tx)
	broadcasterID, err := qtx.DeleteRegistration(ctx, registrationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrRegistrationNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to delete registration: %w", err)
	}

	released, err := releaseUnreferenced(ctx, qtx, []string{broadcasterID})
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit registration delete: %w", err)
	}

	if len(released) == 0 {
		return nil, nil
	}
	return &released[0], nil
}

func (r *RegistryRepo) DeleteGuild(ctx context.Context, guildID int64) ([]domain.ReleasedBroadcaster, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := r.q.WithTx(tx)
	broadcasterIDs, err := qtx.DeleteGuildRegistrations(ctx, guildID)
	if err != nil {
		return nil, fmt.Errorf("failed to delete guild registrations: %w", err)
	}

	var released []domain.ReleasedBroadcaster
	if len(broadcasterIDs) > 0 {
		slices.Sort(broadcasterIDs)
		released, err = releaseUnreferenced(ctx, qtx, slices.Compact(broadcasterIDs))
		if err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit guild delete: %w", err)
	}
	return released, nil
}

// releaseUnreferenced deletes the given broadcasters that no registration
// references any more. The rows are locked first so a concurrent
// CreateRegistration either commits before the reference check or waits for
// the delete.
func releaseUnreferenced(ctx context.Context, qtx *sqlcgen.Queries, broadcasterIDs []string) ([]domain.ReleasedBroadcaster, error) {
	if _, err := qtx.LockBroadcasters(ctx, broadcasterIDs); err != nil {
		return nil, fmt.Errorf("failed to lock broadcasters: %w", err)
	}

	rows, err := qtx.DeleteUnreferencedBroadcasters(ctx, broadcasterIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to delete unreferenced broadcasters: %w", err)
	}

	released := make([]domain.ReleasedBroadcaster, len(rows))
	for i, row := range rows {
		released[i] = domain.ReleasedBroadcaster{
			BroadcasterID:       row.ID,
			EventSubscriptionID: row.EventSubscriptionID.String,
		}
	}
	return released, nil
}

func (r *RegistryRepo) DeleteRevokedBroadcaster(ctx context.Context, broadcasterID, subscriptionID string) (int64, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qtx := r.q.WithTx(tx)
	if _, err := qtx.LockBroadcasters(ctx, []string{broadcasterID}); err != nil {
		return 0, fmt.Errorf("failed to lock broadcaster: %w", err)
	}

	dropped, err := qtx.CountRegistrations(ctx, broadcasterID)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}

	deleted, err := qtx.DeleteBroadcasterBySubscription(ctx, sqlcgen.DeleteBroadcasterBySubscriptionParams{
		ID:                  broadcasterID,
		EventSubscriptionID: nullableText(subscriptionID),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete revoked broadcaster: %w", err)
	}
	if deleted == 0 {
		return 0, domain.ErrBroadcasterNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit revocation: %w", err)
	}
	return dropped, nil
}

func (r *RegistryRepo) ReplaceSubscription(ctx context.Context, broadcasterID, oldID, newID string) error {
	updated, err := r.q.ReplaceSubscription(ctx, sqlcgen.ReplaceSubscriptionParams{
		ID:    broadcasterID,
		NewID: nullableText(newID),
		OldID: nullableText(oldID),
	})
	if err != nil {
		return fmt.Errorf("failed to replace subscription: %w", err)
	}
	if updated == 0 {
		return domain.ErrBroadcasterNotFound
	}
	return nil
}

func (r *RegistryRepo) CountRegistrations(ctx context.Context, broadcasterID string) (int64, error) {
	count, err := r.q.CountRegistrations(ctx, broadcasterID)
	if err != nil {
		return 0, fmt.Errorf("failed to count registrations: %w", err)
	}
	return count, nil
}

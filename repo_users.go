package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type usersRepo struct {
	repository.Repository[*User]
	db *bun.DB
}

var _ Users = (*usersRepo)(nil)

// NewUsersRepository wires the durable account store on Bun.
func NewUsersRepository(db *bun.DB) Users {
	repo := repository.NewRepository[*User](db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	return &usersRepo{
		Repository: repo,
		db:         db,
	}
}

func (r *usersRepo) FindByEmail(ctx context.Context, email string) (*User, error) {
	record := &User{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, recordNotFound(map[string]any{"email": NormalizeEmail(email)})
		}
		return nil, err
	}

	return record, nil
}

func (r *usersRepo) FindByID(ctx context.Context, id string) (*User, error) {
	record := &User{}
	err := r.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, recordNotFound(map[string]any{"id": id})
		}
		return nil, err
	}

	return record, nil
}

func (r *usersRepo) Create(ctx context.Context, record *User) (*User, error) {
	prepareUserDefaults(record)
	return r.Repository.CreateTx(ctx, r.db, record)
}

func (r *usersRepo) Update(ctx context.Context, record *User) (*User, error) {
	return r.Repository.UpdateTx(ctx, r.db, record, repository.UpdateByID(record.ID.String()))
}

func (r *usersRepo) ListActive(ctx context.Context) ([]*User, error) {
	var records []*User
	err := r.db.NewSelect().
		Model(&records).
		Where("?TableAlias.is_active = ?", true).
		Order("created_at ASC").
		Scan(ctx)

	if err != nil {
		return nil, err
	}
	return records, nil
}

func (r *usersRepo) StoreRefreshToken(ctx context.Context, id string, token *string) error {
	// NOTE: raw update so a nil token clears the column; the ORM update
	// path drops zero values.
	res, err := r.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"refresh_token" = ?,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, token, time.Now(), id).Exec(ctx)

	return rawUpdateError(res, err, id)
}

func (r *usersRepo) UpdatePassword(ctx context.Context, id string, passwordHash string) error {
	res, err := r.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"password_hash" = ?,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, passwordHash, time.Now(), id).Exec(ctx)

	return rawUpdateError(res, err, id)
}

func (r *usersRepo) UpdateEmail(ctx context.Context, id string, email string) error {
	res, err := r.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"email" = ?,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, NormalizeEmail(email), time.Now(), id).Exec(ctx)

	return rawUpdateError(res, err, id)
}

func (r *usersRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.NewRaw(`
		UPDATE "users" AS "usr"
		SET
			"is_active" = ?,
			"refresh_token" = NULL,
			"updated_at" = ?
		WHERE
			("usr".id = ?)
			AND "usr"."deleted_at" IS NULL;
	`, false, time.Now(), id).Exec(ctx)

	return rawUpdateError(res, err, id)
}

func rawUpdateError(res interface{ RowsAffected() (int64, error) }, err error, id string) error {
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user record")
	}

	if res != nil {
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return recordNotFound(map[string]any{"id": id})
		}
	}

	return nil
}

// recordNotFound builds the categorized not-found error callers test with
// goerrors.IsNotFound.
func recordNotFound(meta map[string]any) error {
	return goerrors.New("record not found", goerrors.CategoryNotFound).
		WithCode(goerrors.CodeNotFound).
		WithMetadata(meta)
}

func prepareUserDefaults(record *User) {
	if record == nil {
		return
	}

	record.Email = NormalizeEmail(record.Email)

	if record.Role == "" {
		record.Role = RoleUser
	}

	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
}

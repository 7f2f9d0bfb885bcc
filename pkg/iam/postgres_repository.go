package iam

import (
	"context"
	goerrors "errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/tendant/realm-idm/pkg/errors"
)

const pgUniqueViolation = "23505"

// PostgresRepository implements Repository using a pgx connection pool
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL-based IAM repository
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

const userColumns = `id, realm_id, name, name_locked, email, display_name,
	first_name, last_name, avatar, cover, active, password_hash,
	created_at, last_modified_at, deleted_at`

func scanUser(row pgx.Row) (User, error) {
	var u User
	err := row.Scan(&u.ID, &u.RealmID, &u.Name, &u.NameLocked, &u.Email,
		&u.DisplayName, &u.FirstName, &u.LastName, &u.Avatar, &u.Cover,
		&u.Active, &u.PasswordHash, &u.CreatedAt, &u.LastModifiedAt, &u.DeletedAt)
	return u, err
}

// FindUserByName finds a user by its unique (name, realm) pair
func (r *PostgresRepository) FindUserByName(ctx context.Context, name string, realmID uuid.UUID) (User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users
		 WHERE lower(name) = lower($1) AND realm_id = $2 AND deleted_at IS NULL`,
		name, realmID)

	user, err := scanUser(row)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return User{}, errors.Newf(errors.ErrCodeNotFound, "user %q not found", name)
		}
		return User{}, err
	}
	return user, nil
}

// FindUserByID finds a user by id
func (r *PostgresRepository) FindUserByID(ctx context.Context, id uuid.UUID) (User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1 AND deleted_at IS NULL`, id)

	user, err := scanUser(row)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return User{}, errors.Newf(errors.ErrCodeNotFound, "user %s not found", id)
		}
		return User{}, err
	}
	return user, nil
}

// CreateUser creates a new user. The unique index on (realm_id, lower(name))
// surfaces as ErrCodeDuplicateName.
func (r *PostgresRepository) CreateUser(ctx context.Context, params CreateUserParams) (User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, realm_id, name, name_locked, email, display_name,
			first_name, last_name, avatar, cover, active, password_hash,
			created_at, last_modified_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		 RETURNING `+userColumns,
		uuid.New(), params.RealmID, params.Name, params.NameLocked, params.Email,
		params.DisplayName, params.FirstName, params.LastName, params.Avatar,
		params.Cover, params.Active, params.PasswordHash)

	user, err := scanUser(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if goerrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return User{}, errors.Wrapf(err, errors.ErrCodeDuplicateName, "user name %q already taken", params.Name)
		}
		return User{}, err
	}
	return user, nil
}

// SaveUserWithAttributes updates a user's fields and upserts its extra attributes
func (r *PostgresRepository) SaveUserWithAttributes(ctx context.Context, user User, extra map[string]string) (User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return User{}, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`UPDATE users SET email = $2, display_name = $3, first_name = $4,
			last_name = $5, avatar = $6, cover = $7, active = $8,
			password_hash = $9, last_modified_at = now()
		 WHERE id = $1 AND deleted_at IS NULL
		 RETURNING `+userColumns,
		user.ID, user.Email, user.DisplayName, user.FirstName, user.LastName,
		user.Avatar, user.Cover, user.Active, user.PasswordHash)

	saved, err := scanUser(row)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return User{}, errors.Newf(errors.ErrCodeNotFound, "user %s not found", user.ID)
		}
		return User{}, err
	}

	for name, value := range extra {
		if _, err := tx.Exec(ctx,
			`INSERT INTO user_attributes (user_id, name, value)
			 VALUES ($1, $2, $3)
			 ON CONFLICT (user_id, name) DO UPDATE SET value = EXCLUDED.value`,
			user.ID, name, value); err != nil {
			return User{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return User{}, err
	}
	return saved, nil
}

// FindUserExtraAttributes returns the free-form attributes stored for a user
func (r *PostgresRepository) FindUserExtraAttributes(ctx context.Context, userID uuid.UUID) (map[string]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT name, value FROM user_attributes WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attrs := make(map[string]string)
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, err
		}
		attrs[name] = value
	}
	return attrs, rows.Err()
}

// FindRobotByID finds a robot by id
func (r *PostgresRepository) FindRobotByID(ctx context.Context, id uuid.UUID) (Robot, error) {
	var robot Robot
	err := r.pool.QueryRow(ctx,
		`SELECT id, realm_id, name, active, secret_hash, created_at
		 FROM robots WHERE id = $1`, id).
		Scan(&robot.ID, &robot.RealmID, &robot.Name, &robot.Active,
			&robot.SecretHash, &robot.CreatedAt)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return Robot{}, errors.Newf(errors.ErrCodeNotFound, "robot %s not found", id)
		}
		return Robot{}, err
	}
	return robot, nil
}

// CreateRobot creates a new robot
func (r *PostgresRepository) CreateRobot(ctx context.Context, params CreateRobotParams) (Robot, error) {
	var robot Robot
	err := r.pool.QueryRow(ctx,
		`INSERT INTO robots (id, realm_id, name, active, secret_hash, created_at)
		 VALUES ($1, $2, $3, $4, $5, now())
		 RETURNING id, realm_id, name, active, secret_hash, created_at`,
		uuid.New(), params.RealmID, params.Name, params.Active, params.SecretHash).
		Scan(&robot.ID, &robot.RealmID, &robot.Name, &robot.Active,
			&robot.SecretHash, &robot.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if goerrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Robot{}, errors.Wrapf(err, errors.ErrCodeDuplicateName, "robot name %q already taken", params.Name)
		}
		return Robot{}, err
	}
	return robot, nil
}

// FindRealmByID finds a realm by id
func (r *PostgresRepository) FindRealmByID(ctx context.Context, id uuid.UUID) (Realm, error) {
	var realm Realm
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, master, created_at FROM realms WHERE id = $1`, id).
		Scan(&realm.ID, &realm.Name, &realm.Master, &realm.CreatedAt)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return Realm{}, errors.Newf(errors.ErrCodeNotFound, "realm %s not found", id)
		}
		return Realm{}, err
	}
	return realm, nil
}

// FindMasterRealm returns the distinguished master realm
func (r *PostgresRepository) FindMasterRealm(ctx context.Context) (Realm, error) {
	var realm Realm
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, master, created_at FROM realms WHERE master LIMIT 1`).
		Scan(&realm.ID, &realm.Name, &realm.Master, &realm.CreatedAt)
	if err != nil {
		if goerrors.Is(err, pgx.ErrNoRows) {
			return Realm{}, errors.New(errors.ErrCodeNotFound, "master realm not found")
		}
		return Realm{}, err
	}
	return realm, nil
}

// CreateRealm creates a new realm
func (r *PostgresRepository) CreateRealm(ctx context.Context, name string, master bool) (Realm, error) {
	var realm Realm
	err := r.pool.QueryRow(ctx,
		`INSERT INTO realms (id, name, master, created_at)
		 VALUES ($1, $2, $3, now())
		 RETURNING id, name, master, created_at`,
		uuid.New(), name, master).
		Scan(&realm.ID, &realm.Name, &realm.Master, &realm.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if goerrors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return Realm{}, errors.Wrapf(err, errors.ErrCodeDuplicateName, "realm name %q already taken", name)
		}
		return Realm{}, err
	}
	return realm, nil
}

// Package iam manages the principals of the authorization core: users,
// robots and the realms that scope them.
//
// # Overview
//
// The iam package provides:
//   - User and robot records with realm-scoped unique names
//   - Realm management, including the distinguished master realm
//   - Repository pattern for storage abstraction
//   - In-memory and PostgreSQL repository implementations
//   - bcrypt hashing for passwords and robot secrets
//
// # Basic Usage
//
//	repo := iam.NewInMemoryRepository()
//
//	realm, err := repo.CreateRealm(ctx, "master", true)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	hash, _ := iam.HashSecret("s3cret")
//	user, err := repo.CreateUser(ctx, iam.CreateUserParams{
//		RealmID:      realm.ID,
//		Name:         "jdoe",
//		Active:       true,
//		PasswordHash: hash,
//	})
//
// For PostgreSQL, construct the repository from a pgx pool instead:
//
//	pool, _ := pgxpool.New(ctx, databaseURL)
//	repo := iam.NewPostgresRepository(pool)
//
// # Uniqueness
//
// A user name is unique within its realm, compared case-insensitively.
// CreateUser fails with errors.ErrCodeDuplicateName when the pair is taken;
// callers provisioning users from external identities rely on that error to
// fall back to another candidate name.
//
// # Extra Attributes
//
// Recognized profile fields (first name, last name, display name, avatar,
// cover) live on the user record. Everything else an identity provider maps
// onto a user is stored as free-form attributes next to the record, saved
// atomically with it through SaveUserWithAttributes.
//
// # Related Packages
//
//   - pkg/rbac - Roles, permissions and realm scoping
//   - pkg/federation - Just-in-time provisioning from external identities
//   - pkg/grant - Token grants for users and robots
package iam

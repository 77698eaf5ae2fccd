package database

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	mpostgres "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type PgUserRepository struct {
	conn *sql.DB
}

func NewPgUserRepository(dsn string) (*PgUserRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	repo := &PgUserRepository{conn: db}
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return repo, nil
}

func (db *PgUserRepository) migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return err
	}

	driver, err := mpostgres.WithInstance(db.conn, &mpostgres.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (db *PgUserRepository) Ping() error {
	return db.conn.Ping()
}

func (db *PgUserRepository) Close() error {
	if db.conn != nil {
		return db.conn.Close()
	}
	return nil
}

func (db *PgUserRepository) CreateUser(user UserRecord) (UserRecord, error) {
	res := db.conn.QueryRow(
		"INSERT INTO users (id, name, hashed_key, receive_items, receive_colonists, receive_animals, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $7) RETURNING id, name, hashed_key",
		user.ID,
		user.Name,
		user.HashedKey,
		user.Preferences.ReceiveItems,
		user.Preferences.ReceiveColonists,
		user.Preferences.ReceiveAnimals,
		time.Now().UTC(),
	)

	var u UserRecord
	err := res.Scan(
		&u.ID,
		&u.Name,
		&u.HashedKey,
	)
	u.Preferences = user.Preferences

	return u, err
}

func (db *PgUserRepository) UpdateUser(user UserRecord) error {
	_, err := db.conn.Exec(
		"UPDATE users SET name = $2, receive_items = $3, receive_colonists = $4, receive_animals = $5, updated_at = $6 "+
			"WHERE id = $1",
		user.ID,
		user.Name,
		user.Preferences.ReceiveItems,
		user.Preferences.ReceiveColonists,
		user.Preferences.ReceiveAnimals,
		time.Now().UTC(),
	)
	return err
}

func (db *PgUserRepository) GetUserByKey(hashedKey string) (UserRecord, error) {
	row := db.conn.QueryRow(
		"SELECT id, name, hashed_key, receive_items, receive_colonists, receive_animals, created_at, updated_at FROM users "+
			"WHERE hashed_key = $1 LIMIT 1",
		hashedKey,
	)

	var u UserRecord
	err := row.Scan(
		&u.ID,
		&u.Name,
		&u.HashedKey,
		&u.Preferences.ReceiveItems,
		&u.Preferences.ReceiveColonists,
		&u.Preferences.ReceiveAnimals,
		&u.CreatedAt,
		&u.UpdatedAt,
	)

	return u, err
}

func (db *PgUserRepository) ListUsers() ([]UserRecord, error) {
	rows, err := db.conn.Query(
		"SELECT id, name, hashed_key, receive_items, receive_colonists, receive_animals, created_at, updated_at FROM users " +
			"ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []UserRecord
	for rows.Next() {
		var u UserRecord
		if err := rows.Scan(
			&u.ID,
			&u.Name,
			&u.HashedKey,
			&u.Preferences.ReceiveItems,
			&u.Preferences.ReceiveColonists,
			&u.Preferences.ReceiveAnimals,
			&u.CreatedAt,
			&u.UpdatedAt,
		); err != nil {
			return nil, err
		}
		users = append(users, u)
	}

	return users, rows.Err()
}

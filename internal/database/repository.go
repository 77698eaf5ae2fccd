package database

type UserRepository interface {
	Ping() error
	CreateUser(user UserRecord) (UserRecord, error)
	UpdateUser(user UserRecord) error
	GetUserByKey(hashedKey string) (UserRecord, error)
	ListUsers() ([]UserRecord, error)
	Close() error
}

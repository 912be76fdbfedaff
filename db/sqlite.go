package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateEmail = errors.New("email already registered")
	ErrInvalidRole    = errors.New("invalid user type")
	errNotInitialized = errors.New("database not initialized")
)

var database *sql.DB

// InitDB opens (creating if needed) the SQLite database at path.
func InitDB(path string) error {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return fmt.Errorf("create database dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return err
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY between them
	conn.SetMaxOpenConns(1)

	query := `
    CREATE TABLE IF NOT EXISTS users (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        name VARCHAR(100) NOT NULL,
        email VARCHAR(254) NOT NULL UNIQUE,
        password TEXT NOT NULL,
        usertype VARCHAR(20) NOT NULL,
        class_name VARCHAR(50),
        roll_no VARCHAR(50),
        subject VARCHAR(100),
        department VARCHAR(100),
        created_at DATETIME NOT NULL
    );
    CREATE INDEX IF NOT EXISTS idx_users_usertype ON users(usertype);
    CREATE TABLE IF NOT EXISTS feedback (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
        name VARCHAR(100),
        email VARCHAR(254),
        subject VARCHAR(100),
        message TEXT,
        created_at DATETIME NOT NULL
    );
    CREATE TABLE IF NOT EXISTS training_log (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        model_id VARCHAR(64) NOT NULL,
        run_id VARCHAR(36) NOT NULL,
        features TEXT NOT NULL,
        target VARCHAR(100) NOT NULL,
        r2 REAL,
        filename VARCHAR(255),
        trained_at DATETIME NOT NULL,
        data_points INTEGER
    );
    `
	if _, err := conn.Exec(query); err != nil {
		conn.Close()
		return err
	}
	if database != nil {
		database.Close()
	}
	database = conn
	return nil
}

// Close releases the database handle.
func Close() error {
	if database == nil {
		return nil
	}
	err := database.Close()
	database = nil
	return err
}

type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole normalizes a user type, rejecting unknown ones.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleTeacher, RoleStudent:
		return r, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
}

// User is a row of the users table. Class and roll number apply to
// students; subject and department to teachers.
type User struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Role       Role      `json:"usertype"`
	ClassName  string    `json:"class_name,omitempty"`
	RollNo     string    `json:"roll_no,omitempty"`
	Subject    string    `json:"subject,omitempty"`
	Department string    `json:"department,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

const userColumns = `id, name, email, usertype, class_name, roll_no, subject, department, created_at`

// CreateUser stores u with a bcrypt hash of password and sets u.ID.
func CreateUser(u *User, password string) error {
	if database == nil {
		return errNotInitialized
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := database.Exec(`
        INSERT INTO users (name, email, password, usertype, class_name, roll_no, subject, department, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		u.Name, u.Email, string(hash), string(u.Role),
		nullString(u.ClassName), nullString(u.RollNo), nullString(u.Subject), nullString(u.Department),
		u.CreatedAt)
	if err != nil {
		return mapConstraint(err)
	}
	u.ID, err = res.LastInsertId()
	return err
}

// GetUser returns the user with id and role.
func GetUser(id int64, role Role) (*User, error) {
	if database == nil {
		return nil, errNotInitialized
	}
	row := database.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ? AND usertype = ?`, id, string(role))
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// GetUserByID returns the user with id regardless of role.
func GetUserByID(id int64) (*User, error) {
	if database == nil {
		return nil, errNotInitialized
	}
	u, err := scanUser(database.QueryRow(`SELECT `+userColumns+` FROM users WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return u, err
}

// ListUsers returns all users with role ordered by id.
func ListUsers(role Role) ([]User, error) {
	if database == nil {
		return nil, errNotInitialized
	}
	rows, err := database.Query(`SELECT `+userColumns+` FROM users WHERE usertype = ? ORDER BY id`, string(role))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	users := make([]User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, *u)
	}
	return users, rows.Err()
}

// UpdateUser rewrites the editable fields of u. An empty password keeps the
// stored hash.
func UpdateUser(u *User, password string) error {
	if database == nil {
		return errNotInitialized
	}
	var (
		res sql.Result
		err error
	)
	if password == "" {
		res, err = database.Exec(`
            UPDATE users SET name = ?, email = ?, class_name = ?, roll_no = ?, subject = ?, department = ?
            WHERE id = ? AND usertype = ?`,
			u.Name, u.Email, nullString(u.ClassName), nullString(u.RollNo), nullString(u.Subject), nullString(u.Department),
			u.ID, string(u.Role))
	} else {
		hash, herr := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if herr != nil {
			return herr
		}
		res, err = database.Exec(`
            UPDATE users SET name = ?, email = ?, password = ?, class_name = ?, roll_no = ?, subject = ?, department = ?
            WHERE id = ? AND usertype = ?`,
			u.Name, u.Email, string(hash), nullString(u.ClassName), nullString(u.RollNo), nullString(u.Subject), nullString(u.Department),
			u.ID, string(u.Role))
	}
	if err != nil {
		return mapConstraint(err)
	}
	return requireAffected(res)
}

// DeleteUser removes the user with id and role.
func DeleteUser(id int64, role Role) error {
	if database == nil {
		return errNotInitialized
	}
	res, err := database.Exec(`DELETE FROM users WHERE id = ? AND usertype = ?`, id, string(role))
	if err != nil {
		return err
	}
	return requireAffected(res)
}

// CountByRole counts users whose type matches role case-insensitively.
func CountByRole(role Role) (int, error) {
	if database == nil {
		return 0, errNotInitialized
	}
	var n int
	err := database.QueryRow(`SELECT COUNT(*) FROM users WHERE LOWER(usertype) = LOWER(?)`, string(role)).Scan(&n)
	return n, err
}

// DefaultUsers are created at startup when absent.
var DefaultUsers = []struct {
	User     User
	Password string
}{
	{User{Name: "System Admin", Email: "admin@edupredict.com", Role: RoleAdmin}, "admin123"},
	{User{Name: "John Teacher", Email: "teacher@edupredict.com", Role: RoleTeacher}, "teach123"},
	{User{Name: "Alice Student", Email: "student@edupredict.com", Role: RoleStudent}, "study123"},
}

// SeedDefaultUsers creates any missing default account and returns the
// emails it created.
func SeedDefaultUsers() ([]string, error) {
	var created []string
	for _, d := range DefaultUsers {
		u := d.User
		err := CreateUser(&u, d.Password)
		switch {
		case errors.Is(err, ErrDuplicateEmail):
			continue
		case err != nil:
			return created, err
		}
		created = append(created, u.Email)
	}
	return created, nil
}

type Feedback struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Subject   string    `json:"subject"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// SaveFeedback stores f for an existing user.
func SaveFeedback(f *Feedback) error {
	if database == nil {
		return errNotInitialized
	}
	if _, err := GetUserByID(f.UserID); err != nil {
		return err
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	res, err := database.Exec(`
        INSERT INTO feedback (user_id, name, email, subject, message, created_at)
        VALUES (?, ?, ?, ?, ?, ?)`,
		f.UserID, f.Name, f.Email, f.Subject, f.Message, f.CreatedAt)
	if err != nil {
		return err
	}
	f.ID, err = res.LastInsertId()
	return err
}

type TrainingLog struct {
	ModelID    string    `json:"model_id"`
	RunID      string    `json:"run_id"`
	Features   []string  `json:"features"`
	Target     string    `json:"target"`
	R2         float64   `json:"r2"`
	Filename   string    `json:"filename"`
	TrainedAt  time.Time `json:"trained_at"`
	DataPoints int       `json:"data_points"`
}

// SaveTrainingLog appends one training run.
func SaveTrainingLog(entry TrainingLog) error {
	if database == nil {
		return errNotInitialized
	}
	features, err := json.Marshal(entry.Features)
	if err != nil {
		return err
	}
	_, err = database.Exec(`
        INSERT INTO training_log (model_id, run_id, features, target, r2, filename, trained_at, data_points)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ModelID, entry.RunID, string(features), entry.Target, entry.R2, entry.Filename, entry.TrainedAt, entry.DataPoints)
	return err
}

// LoadTrainingLog returns training runs, newest first.
func LoadTrainingLog(limit int) ([]TrainingLog, error) {
	if database == nil {
		return nil, errNotInitialized
	}
	if limit <= 0 {
		limit = -1
	}
	rows, err := database.Query(`
        SELECT model_id, run_id, features, target, r2, filename, trained_at, data_points
        FROM training_log
        ORDER BY trained_at DESC, id DESC
        LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]TrainingLog, 0)
	for rows.Next() {
		var log TrainingLog
		var features string
		var filename sql.NullString
		if err := rows.Scan(&log.ModelID, &log.RunID, &features, &log.Target, &log.R2, &filename, &log.TrainedAt, &log.DataPoints); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(features), &log.Features); err != nil {
			return nil, fmt.Errorf("decode features of run %s: %w", log.RunID, err)
		}
		log.Filename = filename.String
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	var u User
	var role string
	var className, rollNo, subject, department sql.NullString
	if err := s.Scan(&u.ID, &u.Name, &u.Email, &role, &className, &rollNo, &subject, &department, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	u.ClassName = className.String
	u.RollNo = rollNo.String
	u.Subject = subject.String
	u.Department = department.String
	return &u, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func mapConstraint(err error) error {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicateEmail
	}
	return err
}

package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "chatd/errors"
	"chatd/models"

	"github.com/mattn/go-sqlite3"
	"golang.org/x/crypto/bcrypt"
)

type DB struct {
	conn *sql.DB
}

// sentAtLayout keeps every stored timestamp the same width so sent_at orders
// correctly as text.
const sentAtLayout = "2006-01-02T15:04:05.000000000Z07:00"

// New opens the SQLite database at dsn and creates the schema when missing.
func New(dsn string) (*DB, error) {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	conn, err := sql.Open("sqlite3", dsn+sep+"_foreign_keys=1&_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, err
	}

	db := &DB{conn: conn}
	if err := db.init(); err != nil {
		conn.Close()
		return nil, err
	}

	return db, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT UNIQUE NOT NULL,
			password TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			author_id INTEGER NOT NULL REFERENCES users(id),
			destination_kind INTEGER NOT NULL,
			destination_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			sent_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS chat_groups (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			creator_id INTEGER NOT NULL REFERENCES users(id)
		)`,
		`CREATE TABLE IF NOT EXISTS group_members (
			group_id INTEGER NOT NULL REFERENCES chat_groups(id) ON DELETE CASCADE,
			user_id INTEGER NOT NULL REFERENCES users(id),
			PRIMARY KEY (group_id, user_id)
		)`,
		`CREATE TABLE IF NOT EXISTS invitations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			inviter_id INTEGER NOT NULL REFERENCES users(id),
			invited_id INTEGER NOT NULL REFERENCES users(id),
			group_id INTEGER REFERENCES chat_groups(id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS friendships (
			user_id INTEGER NOT NULL REFERENCES users(id),
			friend_id INTEGER NOT NULL REFERENCES users(id),
			PRIMARY KEY (user_id, friend_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_destination ON messages(destination_kind, destination_id, sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_invitations_invited ON invitations(invited_id)`,
	}

	for _, query := range queries {
		if _, err := db.conn.Exec(query); err != nil {
			return err
		}
	}
	return nil
}

func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) &&
		(se.ExtendedCode == sqlite3.ErrConstraintUnique || se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
}

// mustAffect turns an update that matched nothing into ErrNotFound.
func mustAffect(result sql.Result, what string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%s: %w", what, apperrors.ErrNotFound)
	}
	return nil
}

// User methods

func (db *DB) CreateUser(name, password string) (models.User, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, err
	}

	result, err := db.conn.Exec("INSERT INTO users (name, password) VALUES (?, ?)", name, string(hashed))
	if isUniqueViolation(err) {
		return models.User{}, fmt.Errorf("%s: %w", name, apperrors.ErrUserExists)
	}
	if err != nil {
		return models.User{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.User{}, err
	}
	return models.User{ID: id, Name: name}, nil
}

func (db *DB) FindUserByName(name string) (models.User, error) {
	var u models.User
	err := db.conn.QueryRow("SELECT id, name FROM users WHERE name = ?", name).Scan(&u.ID, &u.Name)
	if err != nil {
		return models.User{}, notFound(err, "user "+name)
	}
	return u, nil
}

func (db *DB) FindUserByID(id int64) (models.User, error) {
	var u models.User
	err := db.conn.QueryRow("SELECT id, name FROM users WHERE id = ?", id).Scan(&u.ID, &u.Name)
	if err != nil {
		return models.User{}, notFound(err, fmt.Sprintf("user %d", id))
	}
	return u, nil
}

func (db *DB) AuthenticateUser(name, password string) (bool, error) {
	var hashedPassword string
	err := db.conn.QueryRow("SELECT password FROM users WHERE name = ?", name).Scan(&hashedPassword)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	err = bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(password))
	return err == nil, nil
}

func (db *DB) UpdateUserPassword(id int64, password string) error {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	result, err := db.conn.Exec("UPDATE users SET password = ? WHERE id = ?", string(hashed), id)
	if err != nil {
		return err
	}
	return mustAffect(result, fmt.Sprintf("user %d", id))
}

// Message methods

func (db *DB) CreateMessage(msg models.Message) (models.Message, error) {
	if msg.SentAt.IsZero() {
		msg.SentAt = time.Now().UTC()
	}
	result, err := db.conn.Exec(
		"INSERT INTO messages (author_id, destination_kind, destination_id, content, sent_at) VALUES (?, ?, ?, ?, ?)",
		msg.AuthorID, int(msg.DestinationKind), msg.DestinationID, msg.Content, msg.SentAt.UTC().Format(sentAtLayout),
	)
	if err != nil {
		return models.Message{}, err
	}
	msg.ID, err = result.LastInsertId()
	return msg, err
}

func (db *DB) ListMessagesForUser(userID int64, limit int) ([]models.Message, error) {
	return db.listMessages(models.DestinationUser, userID, limit)
}

func (db *DB) ListMessagesForGroup(groupID int64, limit int) ([]models.Message, error) {
	return db.listMessages(models.DestinationGroup, groupID, limit)
}

// listMessages returns the newest messages first.
func (db *DB) listMessages(kind models.DestinationKind, destinationID int64, limit int) ([]models.Message, error) {
	rows, err := db.conn.Query(`
		SELECT id, author_id, destination_kind, destination_id, content, sent_at
		FROM messages
		WHERE destination_kind = ? AND destination_id = ?
		ORDER BY sent_at DESC, id DESC
		LIMIT ?`,
		int(kind), destinationID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []models.Message
	for rows.Next() {
		var m models.Message
		var sentAt string
		if err := rows.Scan(&m.ID, &m.AuthorID, &m.DestinationKind, &m.DestinationID, &m.Content, &sentAt); err != nil {
			return nil, err
		}
		m.SentAt, err = time.Parse(time.RFC3339Nano, sentAt)
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// Group methods

func (db *DB) CreateGroup(name string, creatorID int64) (models.Group, error) {
	result, err := db.conn.Exec("INSERT INTO chat_groups (name, creator_id) VALUES (?, ?)", name, creatorID)
	if err != nil {
		return models.Group{}, err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return models.Group{}, err
	}
	return models.Group{ID: id, Name: name}, nil
}

func (db *DB) FindGroupByID(id int64) (models.Group, error) {
	g := models.Group{ID: id}
	if err := db.conn.QueryRow("SELECT name FROM chat_groups WHERE id = ?", id).Scan(&g.Name); err != nil {
		return models.Group{}, notFound(err, fmt.Sprintf("group %d", id))
	}
	members, err := db.ListGroupMembers(id)
	if err != nil {
		return models.Group{}, err
	}
	g.Members = members
	return g, nil
}

func (db *DB) DeleteGroup(id int64) error {
	result, err := db.conn.Exec("DELETE FROM chat_groups WHERE id = ?", id)
	if err != nil {
		return err
	}
	return mustAffect(result, fmt.Sprintf("group %d", id))
}

func (db *DB) ListGroupsForUser(userID int64) ([]models.Group, error) {
	rows, err := db.conn.Query(`
		SELECT g.id FROM chat_groups g
		JOIN group_members m ON m.group_id = g.id
		WHERE m.user_id = ?
		ORDER BY g.id`, userID)
	if err != nil {
		return nil, err
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := make([]models.Group, 0, len(ids))
	for _, id := range ids {
		g, err := db.FindGroupByID(id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (db *DB) AddGroupMember(groupID, userID int64) error {
	_, err := db.conn.Exec("INSERT OR IGNORE INTO group_members (group_id, user_id) VALUES (?, ?)", groupID, userID)
	return err
}

func (db *DB) RemoveGroupMember(groupID, userID int64) error {
	result, err := db.conn.Exec("DELETE FROM group_members WHERE group_id = ? AND user_id = ?", groupID, userID)
	if err != nil {
		return err
	}
	return mustAffect(result, fmt.Sprintf("member %d of group %d", userID, groupID))
}

func (db *DB) ListGroupMembers(groupID int64) ([]int64, error) {
	rows, err := db.conn.Query("SELECT user_id FROM group_members WHERE group_id = ? ORDER BY user_id", groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var members []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		members = append(members, id)
	}
	return members, rows.Err()
}

// Invitation methods

func (db *DB) CreateInvitation(inv models.Invitation) (models.Invitation, error) {
	result, err := db.conn.Exec(
		"INSERT INTO invitations (inviter_id, invited_id, group_id) VALUES (?, ?, ?)",
		inv.InviterID, inv.InvitedID, inv.GroupID,
	)
	if err != nil {
		return models.Invitation{}, err
	}
	inv.ID, err = result.LastInsertId()
	return inv, err
}

func (db *DB) FindInvitationByID(id int64) (models.Invitation, error) {
	inv, err := scanInvitation(db.conn.QueryRow("SELECT id, inviter_id, invited_id, group_id FROM invitations WHERE id = ?", id))
	if err != nil {
		return models.Invitation{}, notFound(err, fmt.Sprintf("invitation %d", id))
	}
	return inv, nil
}

func (db *DB) ListInvitationsForUser(userID int64) ([]models.Invitation, error) {
	rows, err := db.conn.Query("SELECT id, inviter_id, invited_id, group_id FROM invitations WHERE invited_id = ? ORDER BY id", userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invitations []models.Invitation
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, err
		}
		invitations = append(invitations, inv)
	}
	return invitations, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvitation(row scanner) (models.Invitation, error) {
	var inv models.Invitation
	var groupID sql.NullInt64
	if err := row.Scan(&inv.ID, &inv.InviterID, &inv.InvitedID, &groupID); err != nil {
		return models.Invitation{}, err
	}
	if groupID.Valid {
		inv.GroupID = &groupID.Int64
	}
	return inv, nil
}

func (db *DB) DeleteInvitation(id int64) error {
	result, err := db.conn.Exec("DELETE FROM invitations WHERE id = ?", id)
	if err != nil {
		return err
	}
	return mustAffect(result, fmt.Sprintf("invitation %d", id))
}

// Friendship methods

// CreateFriendship stores the relation in both directions.
func (db *DB) CreateFriendship(userID, friendID int64) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, pair := range [][2]int64{{userID, friendID}, {friendID, userID}} {
		if _, err := tx.Exec("INSERT OR IGNORE INTO friendships (user_id, friend_id) VALUES (?, ?)", pair[0], pair[1]); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (db *DB) ListFriends(userID int64) ([]models.User, error) {
	rows, err := db.conn.Query(`
		SELECT u.id, u.name FROM friendships f
		JOIN users u ON u.id = f.friend_id
		WHERE f.user_id = ?
		ORDER BY u.id`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var friends []models.User
	for rows.Next() {
		var u models.User
		if err := rows.Scan(&u.ID, &u.Name); err != nil {
			return nil, err
		}
		friends = append(friends, u)
	}
	return friends, rows.Err()
}

package store

import (
	"database/sql"
	"time"
)

// UpsertContact inserts or updates an address-book entry. An empty
// nickname never clobbers an existing one.
func (db *DB) UpsertContact(c *Contact) error {
	now := time.Now().UnixMilli()
	addedAt := c.AddedAt
	if addedAt == 0 {
		addedAt = now
	}
	_, err := db.Exec(`
		INSERT INTO contacts (address, nickname, verified, added_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			nickname = CASE WHEN excluded.nickname != '' THEN excluded.nickname ELSE contacts.nickname END,
			verified = excluded.verified,
			updated_at = excluded.updated_at`,
		c.Address, c.Nickname, c.Verified, addedAt, now)
	return err
}

// GetContact returns a contact by address, nil when absent.
func (db *DB) GetContact(address string) (*Contact, error) {
	var c Contact
	err := db.QueryRow(`SELECT address, nickname, verified, added_at FROM contacts WHERE address = ?`, address).
		Scan(&c.Address, &c.Nickname, &c.Verified, &c.AddedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListContacts returns the address book sorted by nickname then address.
func (db *DB) ListContacts() ([]Contact, error) {
	rows, err := db.Query(`
		SELECT address, nickname, verified, added_at FROM contacts
		ORDER BY CASE WHEN nickname = '' THEN 1 ELSE 0 END, nickname, address`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		var c Contact
		if err := rows.Scan(&c.Address, &c.Nickname, &c.Verified, &c.AddedAt); err != nil {
			return nil, err
		}
		contacts = append(contacts, c)
	}
	return contacts, rows.Err()
}

// DeleteContact removes an address-book entry. Messages are never deleted
// with it.
func (db *DB) DeleteContact(address string) error {
	_, err := db.Exec(`DELETE FROM contacts WHERE address = ?`, address)
	return err
}

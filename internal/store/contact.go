package store

import (
	"database/sql"
	"errors"
	"fmt"
)

const upsertContactSQL = `
	INSERT INTO contacts (jid, phone, name, push_name, business_name, is_business, profile_picture, updated_at)
	VALUES (?1, ?2, ?3, ?4, ?5, COALESCE(?6, 0), ?7, ?8)
	ON CONFLICT(jid) DO UPDATE SET
		phone = COALESCE(NULLIF(?2, ''), contacts.phone),
		name = COALESCE(NULLIF(?3, ''), contacts.name),
		push_name = COALESCE(NULLIF(?4, ''), contacts.push_name),
		business_name = COALESCE(NULLIF(?5, ''), contacts.business_name),
		is_business = COALESCE(?6, contacts.is_business),
		profile_picture = COALESCE(?7, contacts.profile_picture),
		updated_at = ?8`

// UpsertContact merges the present, non-empty fields of c into the contact row.
func (db *DB) UpsertContact(c *ContactUpsert) error {
	if c.JID == "" {
		return fmt.Errorf("upsert contact: empty jid")
	}
	_, err := db.Exec(upsertContactSQL,
		c.JID, c.Phone.Arg(), c.Name.Arg(), c.PushName.Arg(), c.BusinessName.Arg(),
		c.IsBusiness.Arg(), c.ProfilePicture.Arg(), nowMillis())
	if err != nil {
		return fmt.Errorf("upsert contact %q: %w", c.JID, err)
	}
	return nil
}

// BulkUpsertContacts merges each contact independently. A failing row does
// not prevent the others from being written; all failures are joined.
func (db *DB) BulkUpsertContacts(contacts []ContactUpsert) error {
	var errs []error
	for i := range contacts {
		if err := db.UpsertContact(&contacts[i]); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

const contactColumns = `jid, COALESCE(phone, ''), COALESCE(name, ''), COALESCE(push_name, ''),
	COALESCE(business_name, ''), is_business, COALESCE(profile_picture, '')`

func scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	var c Contact
	if err := row.Scan(&c.JID, &c.Phone, &c.Name, &c.PushName, &c.BusinessName, &c.IsBusiness, &c.ProfilePicture); err != nil {
		return nil, err
	}
	return &c, nil
}

// GetContact returns a contact by JID, or nil if it does not exist.
func (db *DB) GetContact(jid string) (*Contact, error) {
	c, err := scanContact(db.QueryRow(`SELECT `+contactColumns+` FROM contacts WHERE jid = ?`, jid))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

// SearchContacts matches query against names, phone and JID.
func (db *DB) SearchContacts(query string, limit, offset int) ([]Contact, error) {
	limit, offset = clampPage(limit, offset, 50)
	like := "%" + query + "%"
	rows, err := db.Query(`SELECT `+contactColumns+` FROM contacts
		WHERE jid LIKE ?1 OR phone LIKE ?1 OR name LIKE ?1 OR push_name LIKE ?1 OR business_name LIKE ?1
		ORDER BY COALESCE(NULLIF(name, ''), NULLIF(push_name, ''), jid)
		LIMIT ?2 OFFSET ?3`, like, limit, offset)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contacts []Contact
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, *c)
	}
	return contacts, rows.Err()
}

// ContactCount returns the total number of contacts.
func (db *DB) ContactCount() (int64, error) {
	var count int64
	err := db.QueryRow(`SELECT COUNT(*) FROM contacts`).Scan(&count)
	return count, err
}

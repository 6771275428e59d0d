package storage

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// LoginTableVersion is the current plaintext schema of the login table.
const LoginTableVersion = 1

// LoginTable is the decrypted content of an account's sealed logins blob
type LoginTable struct {
	Version  int       `json:"version"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
	Logins   []Login   `json:"logins"`
}

// Login is one stored credential
type Login struct {
	ID       string    `json:"id"`
	Site     string    `json:"site"`
	Username string    `json:"username"`
	Password string    `json:"password"`
	Notes    string    `json:"notes,omitempty"`
	Created  time.Time `json:"created"`
	Modified time.Time `json:"modified"`
}

// NewLoginTable creates an empty table
func NewLoginTable() *LoginTable {
	now := time.Now()
	return &LoginTable{
		Version:  LoginTableVersion,
		Created:  now,
		Modified: now,
		Logins:   make([]Login, 0),
	}
}

// Add appends a login, assigning an ID and timestamps. It returns the stored entry.
func (t *LoginTable) Add(l Login) Login {
	now := time.Now()
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if l.Created.IsZero() {
		l.Created = now
	}
	l.Modified = now
	t.Logins = append(t.Logins, l)
	t.Modified = now
	return l
}

// Update replaces the login with the same ID
func (t *LoginTable) Update(l Login) bool {
	for i := range t.Logins {
		if t.Logins[i].ID == l.ID {
			l.Created = t.Logins[i].Created
			l.Modified = time.Now()
			t.Logins[i] = l
			t.Modified = l.Modified
			return true
		}
	}
	return false
}

// Remove deletes a login by ID
func (t *LoginTable) Remove(id string) bool {
	for i, l := range t.Logins {
		if l.ID == id {
			t.Logins = append(t.Logins[:i], t.Logins[i+1:]...)
			t.Modified = time.Now()
			return true
		}
	}
	return false
}

// Find returns the login with the given ID, or one whose ID starts with id when that
// prefix is unambiguous.
func (t *LoginTable) Find(id string) *Login {
	var match *Login
	for i := range t.Logins {
		if t.Logins[i].ID == id {
			return &t.Logins[i]
		}
		if id != "" && strings.HasPrefix(t.Logins[i].ID, id) {
			if match != nil {
				return nil
			}
			match = &t.Logins[i]
		}
	}
	return match
}

// FindBySiteUser returns the login for a site and username, matched case-insensitively
func (t *LoginTable) FindBySiteUser(site, username string) *Login {
	for i := range t.Logins {
		if strings.EqualFold(t.Logins[i].Site, site) && strings.EqualFold(t.Logins[i].Username, username) {
			return &t.Logins[i]
		}
	}
	return nil
}

// Search returns logins whose site or username contains query, sorted by site.
// An empty query matches everything.
func (t *LoginTable) Search(query string) []Login {
	q := strings.ToLower(strings.TrimSpace(query))
	var out []Login
	for _, l := range t.Logins {
		if q == "" || strings.Contains(strings.ToLower(l.Site), q) || strings.Contains(strings.ToLower(l.Username), q) {
			out = append(out, l)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !strings.EqualFold(out[i].Site, out[j].Site) {
			return strings.ToLower(out[i].Site) < strings.ToLower(out[j].Site)
		}
		return strings.ToLower(out[i].Username) < strings.ToLower(out[j].Username)
	})
	return out
}

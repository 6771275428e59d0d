package storage

import "testing"

func TestLoginTable(t *testing.T) {
	table := NewLoginTable()

	gh := table.Add(Login{Site: "github.com", Username: "alice", Password: "pw1"})
	if gh.ID == "" || gh.Created.IsZero() {
		t.Fatalf("Add should assign ID and timestamps: %+v", gh)
	}
	table.Add(Login{Site: "Example.org", Username: "bob", Password: "pw2"})
	table.Add(Login{Site: "gitlab.com", Username: "alice", Password: "pw3"})

	if l := table.FindBySiteUser("GITHUB.COM", "Alice"); l == nil || l.Password != "pw1" {
		t.Errorf("FindBySiteUser should match case-insensitively, got %+v", l)
	}

	results := table.Search("git")
	if len(results) != 2 || results[0].Site != "github.com" {
		t.Errorf("Search returned %+v", results)
	}
	if all := table.Search(""); len(all) != 3 || all[0].Site != "Example.org" {
		t.Errorf("Empty search should return all logins sorted by site, got %+v", all)
	}

	if l := table.Find(gh.ID[:8]); l == nil || l.ID != gh.ID {
		t.Errorf("Find by unique prefix failed: %+v", l)
	}

	updated := gh
	updated.Password = "rotated"
	if !table.Update(updated) {
		t.Fatal("Update should find the login")
	}
	if l := table.Find(gh.ID); l.Password != "rotated" || !l.Created.Equal(gh.Created) {
		t.Errorf("Update should replace fields and keep Created: %+v", l)
	}

	if !table.Remove(gh.ID) {
		t.Fatal("Remove should find the login")
	}
	if table.Remove(gh.ID) {
		t.Error("Second remove should report false")
	}
	if table.Find(gh.ID) != nil {
		t.Error("Removed login should not be found")
	}
}

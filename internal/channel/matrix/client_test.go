package matrix

import (
	"testing"

	"maunium.net/go/mautrix/id"
)

func TestIsAllowed(t *testing.T) {
	c := New(Config{AllowedUsers: []string{"@admin:example.com", "@ops:example.com"}})
	if !c.isAllowed(id.UserID("@admin:example.com")) {
		t.Error("listed user must be allowed")
	}
	if c.isAllowed(id.UserID("@stranger:example.com")) {
		t.Error("unlisted user must be denied")
	}
}

func TestIsAllowedEmptyListDeniesAll(t *testing.T) {
	for name, cfg := range map[string]Config{
		"nil list":    {},
		"empty entry": {AllowedUsers: []string{""}},
	} {
		c := New(cfg)
		if c.isAllowed(id.UserID("@anyone:example.com")) {
			t.Errorf("%s: empty allow-list must deny all senders", name)
		}
	}
}

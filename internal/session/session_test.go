package session

import (
	"testing"
	"time"
)

type cred struct {
	Token string
}

func clockStore(ttl time.Duration) (*Store[cred], *time.Time) {
	s := New[cred](ttl)
	cur := time.Unix(1_700_000_000, 0)
	s.now = func() time.Time { return cur }
	return s, &cur
}

func TestSessionSetGet(t *testing.T) {
	s, _ := clockStore(time.Hour)
	if s.IsValid("panel-a") {
		t.Fatalf("empty store should have no valid session")
	}
	s.Set("panel-a", cred{Token: "abc"})
	if !s.IsValid("panel-a") {
		t.Fatalf("expected valid session")
	}
	c, ok := s.Get("panel-a")
	if !ok || c.Token != "abc" {
		t.Fatalf("Get = %+v, %v", c, ok)
	}
}

func TestSessionExpiry(t *testing.T) {
	s, cur := clockStore(time.Hour)
	s.Set("panel-a", cred{Token: "abc"})

	*cur = cur.Add(59 * time.Minute)
	if !s.IsValid("panel-a") {
		t.Fatalf("expected still valid at 59m")
	}

	*cur = cur.Add(2 * time.Minute)
	if s.IsValid("panel-a") {
		t.Fatalf("expected expired at 61m")
	}
	if _, ok := s.Get("panel-a"); ok {
		t.Fatalf("Get must not return an expired credential")
	}
}

func TestSessionReauthRestartsClock(t *testing.T) {
	s, cur := clockStore(time.Hour)
	s.Set("panel-a", cred{Token: "abc"})

	*cur = cur.Add(50 * time.Minute)
	s.Set("panel-a", cred{Token: "def"})

	*cur = cur.Add(30 * time.Minute)
	c, ok := s.Get("panel-a")
	if !ok || c.Token != "def" {
		t.Fatalf("expected refreshed credential, got %+v, %v", c, ok)
	}
}

func TestSessionInvalidate(t *testing.T) {
	s, _ := clockStore(time.Hour)
	s.Set("panel-a", cred{Token: "abc"})
	s.Set("panel-b", cred{Token: "xyz"})

	s.Invalidate("panel-a")
	if s.IsValid("panel-a") {
		t.Fatalf("expected panel-a invalidated")
	}
	if !s.IsValid("panel-b") {
		t.Fatalf("panel-b must be untouched")
	}
	if s.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", s.Len())
	}
}

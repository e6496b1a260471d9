package auth

import (
	"testing"
	"time"
)

func TestIssueParseRoundTrip(t *testing.T) {
	token, exp, err := Issue("gymkiosk", "secret-key", time.Hour)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if time.Until(exp) < 55*time.Minute {
		t.Errorf("expiry too soon: %v", exp)
	}

	claims, err := Parse(token, "secret-key", "gymkiosk")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Role != "staff" || claims.Subject != "staff" {
		t.Errorf("unexpected claims: %+v", claims)
	}
}

func TestParse_WrongKey(t *testing.T) {
	token, _, err := Issue("gymkiosk", "secret-key", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(token, "other-key", "gymkiosk"); err == nil {
		t.Error("token signed with another key must not parse")
	}
}

func TestParse_IssuerMismatch(t *testing.T) {
	token, _, err := Issue("somebody-else", "secret-key", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(token, "secret-key", "gymkiosk"); err == nil {
		t.Error("foreign issuer must be rejected")
	}
}

func TestParse_Expired(t *testing.T) {
	token, _, err := Issue("gymkiosk", "secret-key", -time.Minute)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Parse(token, "secret-key", "gymkiosk"); err == nil {
		t.Error("expired token must be rejected")
	}
}

func TestParse_Garbage(t *testing.T) {
	if _, err := Parse("not.a.token", "secret-key", "gymkiosk"); err == nil {
		t.Error("garbage must be rejected")
	}
}
